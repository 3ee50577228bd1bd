/**
 * Drug Registry for the Drug Identification Worker
 *
 * Coordinates the registry backends: PostgreSQL (records, aliases, jobs),
 * Redis (read-through cache for exact lookups) and Qdrant (semantic name
 * fallback when SQL fuzzy search finds nothing).
 */

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
)

type fuzzyLookup interface {
	LookupFuzzy(ctx context.Context, term string, limit int) ([]domain.MatchCandidate, error)
}

// Registry coordinates PostgreSQL, Redis and Qdrant lookups
type Registry struct {
	exact    drugLookup
	fuzzy    fuzzyLookup
	semantic *SemanticIndex
	cached   bool

	postgres *PostgresClient
	qdrant   *QdrantClient
	logger   *logging.Logger
}

// RegistryOptions selects the optional backends.
type RegistryOptions struct {
	Redis    *redis.Client // nil disables the cache
	CacheTTL time.Duration

	Qdrant   *QdrantClient // nil (or nil Embedder) disables semantic fallback
	Embedder embedder
}

// NewRegistry creates a registry over an open PostgreSQL client
func NewRegistry(postgres *PostgresClient, opts RegistryOptions) *Registry {
	r := &Registry{
		exact:    postgres,
		fuzzy:    postgres,
		postgres: postgres,
		qdrant:   opts.Qdrant,
		logger:   logging.NewLogger("Registry"),
	}
	if opts.Redis != nil {
		r.exact = NewCachedRegistry(postgres, opts.Redis, opts.CacheTTL)
		r.cached = true
	}
	if opts.Qdrant != nil && opts.Embedder != nil {
		r.semantic = NewSemanticIndex(opts.Embedder, opts.Qdrant, r.exact)
	}
	return r
}

// LookupByApprovalNo finds a product by canonical approval number
func (r *Registry) LookupByApprovalNo(ctx context.Context, canonicalID string) (*domain.DrugRecord, error) {
	return r.exact.LookupByApprovalNo(ctx, canonicalID)
}

// LookupByNameAndEnterprise finds a product by name within an enterprise
func (r *Registry) LookupByNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error) {
	return r.exact.LookupByNameAndEnterprise(ctx, name, enterprise)
}

// LookupFuzzy ranks products by name. SQL errors are returned; semantic
// fallback errors only cost the fallback unless ctx itself is done.
func (r *Registry) LookupFuzzy(ctx context.Context, term string, limit int) ([]domain.MatchCandidate, error) {
	cands, err := r.fuzzy.LookupFuzzy(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	if len(cands) > 0 || r.semantic == nil {
		return cands, nil
	}

	cands, err = r.semantic.Search(ctx, term, limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("Semantic name search failed", "term", term, "error", err)
		return nil, nil
	}
	return cands, nil
}

// Semantic returns the semantic index, or nil when it is not configured.
func (r *Registry) Semantic() *SemanticIndex {
	return r.semantic
}

// UpdateJobStatus updates job status in PostgreSQL
func (r *Registry) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return r.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (r *Registry) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return r.postgres.GetJobByID(ctx, jobID)
}

// Ping checks database connectivity
func (r *Registry) Ping(ctx context.Context) error {
	return r.postgres.Ping(ctx)
}

// GetStats returns statistics from all backends
func (r *Registry) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := r.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
		"cache":    r.cached,
		"semantic": r.semantic != nil,
	}

	if r.qdrant != nil {
		qdrantStats, err := r.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (r *Registry) Close() error {
	var pgErr, qdErr error

	if r.postgres != nil {
		pgErr = r.postgres.Close()
	}

	if r.qdrant != nil {
		qdErr = r.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}
