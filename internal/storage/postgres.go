/**
 * PostgreSQL Client for the Drug Identification Worker
 *
 * Serves the drug registry (drugid.drug_products, drugid.drug_aliases) and
 * persists identification job rows (drugid.identification_jobs).
 */

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// ErrJobNotFound is returned by GetJobByID for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents an identification job status update
type JobUpdate struct {
	JobID            string
	Status           string
	MatchType        string
	Confidence       float64
	ProcessingTimeMs int64
	EngineUsed       string
	ImagesProcessed  int
	ErrorCode        string
	ErrorMessage     string
	Result           interface{}
	Metadata         map[string]interface{}
}

var (
	bracketedText = regexp.MustCompile(`[（(][^）)]*[）)]`)
	dosageSuffix  = regexp.MustCompile(`(片|胶囊|颗粒|缓释片|缓释胶囊|分散片|肠溶片|滴丸|口服液|注射液|注射用|软膏|乳膏|凝胶|贴剂|喷雾剂|气雾剂|滴眼液|滴鼻液|栓剂|散剂|丸剂|糖浆|合剂|酊剂|搽剂|洗剂|膏剂|贴膏|橡胶膏)$`)
)

// normalizeName prepares a drug name for registry queries: bracketed text
// and a trailing dosage-form suffix are removed. It returns "" when nothing
// is left.
func normalizeName(s string) string {
	s = strings.TrimSpace(s)
	s = bracketedText.ReplaceAllString(s, "")
	s = dosageSuffix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0,1] so it fits the NUMERIC(5,4) column.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the drugid schema and tables if missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const drugColumns = `
	p.approval_no, p.generic_name,
	COALESCE(p.brand_name, ''), COALESCE(p.dosage_form, ''), COALESCE(p.spec, ''),
	COALESCE(p.enterprise, ''), COALESCE(p.otc_type, ''), COALESCE(p.packing, ''),
	p.ingredients,
	COALESCE(p.indications, ''), COALESCE(p.usage, ''), COALESCE(p.contraindications, ''),
	COALESCE(p.warnings, ''), COALESCE(p.adverse_reactions, ''), COALESCE(p.interactions, ''),
	COALESCE(p.special_population, ''), COALESCE(p.storage, ''), COALESCE(p.validity, ''),
	COALESCE(p.source, ''), p.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDrug(row rowScanner, extra ...interface{}) (*domain.DrugRecord, error) {
	var rec domain.DrugRecord
	var ingredients pq.StringArray
	dest := []interface{}{
		&rec.ApprovalNo, &rec.GenericName,
		&rec.BrandName, &rec.DosageForm, &rec.Spec,
		&rec.Enterprise, &rec.OTCType, &rec.Packing,
		&ingredients,
		&rec.Indications, &rec.Usage, &rec.Contraindications,
		&rec.Warnings, &rec.AdverseReactions, &rec.Interactions,
		&rec.SpecialPopulation, &rec.Storage, &rec.Validity,
		&rec.Source, &rec.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.Ingredients = []string(ingredients)
	return &rec, nil
}

// LookupByApprovalNo returns the product with the canonical approval
// number, or nil when the registry has none.
func (p *PostgresClient) LookupByApprovalNo(ctx context.Context, canonicalID string) (*domain.DrugRecord, error) {
	if canonicalID == "" {
		return nil, nil
	}
	query := `SELECT ` + drugColumns + `
		FROM drugid.drug_products p
		WHERE p.approval_no = $1
		LIMIT 1`

	rec, err := scanDrug(p.db.QueryRowContext(ctx, query, canonicalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up approval number %s: %w", canonicalID, err)
	}
	return rec, nil
}

// LookupByNameAndEnterprise returns a product of the given enterprise whose
// generic or brand name contains the normalized name. Without an enterprise
// there is no match.
func (p *PostgresClient) LookupByNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error) {
	name = normalizeName(name)
	if name == "" || enterprise == nil || strings.TrimSpace(*enterprise) == "" {
		return nil, nil
	}
	query := `SELECT ` + drugColumns + `
		FROM drugid.drug_products p
		WHERE p.enterprise = $2
		  AND (strpos(p.generic_name, $1) > 0 OR strpos(COALESCE(p.brand_name, ''), $1) > 0)
		LIMIT 1`

	rec, err := scanDrug(p.db.QueryRowContext(ctx, query, name, strings.TrimSpace(*enterprise)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s by enterprise: %w", name, err)
	}
	return rec, nil
}

// LookupFuzzy ranks products whose alias, generic name or brand name
// contains the normalized term: 100 for an exact name, 80 for a prefix,
// 60 otherwise. Aliases are searched first; product names only when no
// alias matched.
func (p *PostgresClient) LookupFuzzy(ctx context.Context, term string, limit int) ([]domain.MatchCandidate, error) {
	term = normalizeName(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	aliasQuery := `SELECT * FROM (
			SELECT DISTINCT ON (p.approval_no) ` + drugColumns + `,
				CASE WHEN a.name = $1 THEN 100
				     WHEN strpos(a.name, $1) = 1 THEN 80
				     ELSE 60 END AS score
			FROM drugid.drug_aliases a
			JOIN drugid.drug_products p ON p.approval_no = a.approval_no
			WHERE strpos(a.name, $1) > 0
			ORDER BY p.approval_no, score DESC
		) ranked
		ORDER BY score DESC, generic_name
		LIMIT $2`

	cands, err := p.queryCandidates(ctx, aliasQuery, term, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search aliases for %s: %w", term, err)
	}
	if len(cands) > 0 {
		return cands, nil
	}

	directQuery := `SELECT ` + drugColumns + `,
			CASE WHEN p.generic_name = $1 OR p.brand_name = $1 THEN 100
			     WHEN strpos(p.generic_name, $1) = 1 OR strpos(COALESCE(p.brand_name, ''), $1) = 1 THEN 80
			     ELSE 60 END AS score
		FROM drugid.drug_products p
		WHERE strpos(p.generic_name, $1) > 0 OR strpos(COALESCE(p.brand_name, ''), $1) > 0
		ORDER BY score DESC, p.generic_name
		LIMIT $2`

	cands, err = p.queryCandidates(ctx, directQuery, term, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search products for %s: %w", term, err)
	}
	return cands, nil
}

func (p *PostgresClient) queryCandidates(ctx context.Context, query, term string, limit int) ([]domain.MatchCandidate, error) {
	rows, err := p.db.QueryContext(ctx, query, term, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MatchCandidate
	for rows.Next() {
		var score int
		rec, err := scanDrug(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.MatchCandidate{DrugRecord: *rec, Score: float64(score)})
	}
	return out, rows.Err()
}

// ListDrugNames streams approval number and names of every product, in
// pages, to fn. Used by the reindex command.
func (p *PostgresClient) ListDrugNames(ctx context.Context, pageSize int, fn func([]domain.DrugRecord) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	after := ""
	for {
		rows, err := p.db.QueryContext(ctx, `
			SELECT approval_no, generic_name, COALESCE(brand_name, ''), COALESCE(enterprise, '')
			FROM drugid.drug_products
			WHERE approval_no > $1
			ORDER BY approval_no
			LIMIT $2`, after, pageSize)
		if err != nil {
			return fmt.Errorf("failed to list drug names: %w", err)
		}

		var page []domain.DrugRecord
		for rows.Next() {
			var rec domain.DrugRecord
			if err := rows.Scan(&rec.ApprovalNo, &rec.GenericName, &rec.BrandName, &rec.Enterprise); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan drug name: %w", err)
			}
			page = append(page, rec)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("failed to list drug names: %w", err)
		}

		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		after = page[len(page)-1].ApprovalNo
	}
}

// UpdateJobStatus upserts an identification job row
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	sanitizedConfidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var resultJSON []byte
	if update.Result != nil {
		if resultJSON, err = json.Marshal(update.Result); err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	query := `
		INSERT INTO drugid.identification_jobs (
			id, status, match_type, confidence, processing_time_ms, engine_used,
			images_processed, error_code, error_message, result, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, NULLIF($3, ''), NULLIF($4::NUMERIC(5,4), 0), NULLIF($5, 0),
			NULLIF($6, ''), NULLIF($7, 0), NULLIF($8, ''), NULLIF($9, ''),
			$10::jsonb, COALESCE($11::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			match_type = COALESCE(EXCLUDED.match_type, drugid.identification_jobs.match_type),
			confidence = COALESCE(EXCLUDED.confidence, drugid.identification_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, drugid.identification_jobs.processing_time_ms),
			engine_used = COALESCE(EXCLUDED.engine_used, drugid.identification_jobs.engine_used),
			images_processed = COALESCE(EXCLUDED.images_processed, drugid.identification_jobs.images_processed),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			result = COALESCE(EXCLUDED.result, drugid.identification_jobs.result),
			metadata = drugid.identification_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,             // $1
		update.Status,            // $2
		update.MatchType,         // $3
		sanitizedConfidence,      // $4
		update.ProcessingTimeMs,  // $5
		update.EngineUsed,        // $6
		update.ImagesProcessed,   // $7
		update.ErrorCode,         // $8
		update.ErrorMessage,      // $9
		nullableJSON(resultJSON), // $10
		metadataJSON,             // $11
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, sanitizedConfidence, err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// GetJobByID retrieves an identification job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, status, match_type, confidence, processing_time_ms, engine_used,
			images_processed, error_code, error_message, result, metadata,
			created_at, updated_at
		FROM drugid.identification_jobs
		WHERE id = $1::uuid
	`

	var (
		id, status                        string
		matchType, engineUsed             sql.NullString
		confidence                        sql.NullFloat64
		processingTimeMs, imagesProcessed sql.NullInt64
		errorCode, errorMessage           sql.NullString
		resultJSON, metadataJSON          []byte
		createdAt, updatedAt              time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &status, &matchType, &confidence, &processingTimeMs, &engineUsed,
		&imagesProcessed, &errorCode, &errorMessage, &resultJSON, &metadataJSON,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}
	if matchType.Valid {
		result["matchType"] = matchType.String
	}
	if confidence.Valid {
		result["confidence"] = confidence.Float64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if engineUsed.Valid {
		result["engineUsed"] = engineUsed.String
	}
	if imagesProcessed.Valid {
		result["imagesProcessed"] = imagesProcessed.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}
	if len(resultJSON) > 0 {
		result["result"] = json.RawMessage(resultJSON)
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
