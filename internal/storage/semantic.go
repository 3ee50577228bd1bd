package storage

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
)

// SemanticScoreScale maps cosine similarity onto the registry score range.
// Kept below the CONTAINS tier so a semantic hit is never auto-accepted.
const SemanticScoreScale = 60.0

type embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type nameIndex interface {
	UpsertNames(ctx context.Context, points []NamePoint) error
	SearchNames(ctx context.Context, queryVector []float32, limit int) ([]NameHit, error)
}

type approvalLookup interface {
	LookupByApprovalNo(ctx context.Context, canonicalID string) (*domain.DrugRecord, error)
}

// SemanticIndex searches registry names by embedding similarity.
type SemanticIndex struct {
	embedder embedder
	index    nameIndex
	records  approvalLookup
}

// NewSemanticIndex combines an embedding client, the Qdrant name index and
// the record store used to resolve hits.
func NewSemanticIndex(e embedder, index nameIndex, records approvalLookup) *SemanticIndex {
	return &SemanticIndex{embedder: e, index: index, records: records}
}

// Search embeds term and returns the registry records behind the nearest
// names, best first, one candidate per approval number.
func (s *SemanticIndex) Search(ctx context.Context, term string, limit int) ([]domain.MatchCandidate, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	vec, err := s.embedder.GenerateEmbedding(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %q: %w", term, err)
	}

	hits, err := s.index.SearchNames(ctx, vec, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(hits))
	out := make([]domain.MatchCandidate, 0, len(hits))
	for _, hit := range hits {
		if seen[hit.ApprovalNo] {
			continue
		}
		seen[hit.ApprovalNo] = true

		rec, err := s.records.LookupByApprovalNo(ctx, hit.ApprovalNo)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue // stale point
		}
		out = append(out, domain.MatchCandidate{
			DrugRecord: *rec,
			Score:      semanticScore(hit.Similarity),
		})
	}
	return out, nil
}

func semanticScore(similarity float64) float64 {
	score := domain.ClampUnit(similarity) * SemanticScoreScale
	return math.Round(score*100) / 100
}

// Index embeds the generic and brand names of recs and upserts them. It
// returns the number of names written.
func (s *SemanticIndex) Index(ctx context.Context, recs []domain.DrugRecord) (int, error) {
	var points []NamePoint
	var texts []string
	for _, rec := range recs {
		for _, name := range indexNames(rec) {
			points = append(points, NamePoint{ApprovalNo: rec.ApprovalNo, Name: name})
			texts = append(texts, name)
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.GenerateEmbeddingBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d names: %w", len(texts), err)
	}
	if len(vectors) != len(points) {
		return 0, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(points), len(vectors))
	}
	for i := range points {
		points[i].Vector = vectors[i]
	}

	if err := s.index.UpsertNames(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// indexNames lists the distinct non-empty names of a record.
func indexNames(rec domain.DrugRecord) []string {
	var names []string
	for _, n := range []string{rec.GenericName, rec.BrandName} {
		n = strings.TrimSpace(n)
		if n == "" || n == "None" {
			continue
		}
		if len(names) > 0 && names[0] == n {
			continue
		}
		names = append(names, n)
	}
	return names
}
