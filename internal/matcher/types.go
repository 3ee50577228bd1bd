package matcher

import (
	"context"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/parser"
)

// Registry is the authoritative drug database. A nil record with a nil
// error means "not found"; any error means the registry could not answer.
type Registry interface {
	LookupByApprovalNo(ctx context.Context, canonicalID string) (*domain.DrugRecord, error)
	LookupByNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error)
	LookupFuzzy(ctx context.Context, term string, limit int) ([]domain.MatchCandidate, error)
}

// MatchType names the cascade step that produced a result.
type MatchType string

const (
	MatchApprovalNo     MatchType = "approval_no"
	MatchNameEnterprise MatchType = "name_enterprise"
	MatchFuzzy          MatchType = "fuzzy"
	MatchNone           MatchType = "none"
)

const (
	SourceOCR    = "ocr"
	SourceMerged = "merged"
)

// MergedInfo is the package information returned to callers: OCR fields,
// overridden by registry values when a drug matched, plus the registry-only
// descriptive fields. RawText keeps the original OCR text.
type MergedInfo struct {
	parser.MergedFields

	Indications       string   `json:"indications,omitempty"`
	Usage             string   `json:"usage,omitempty"`
	Contraindications string   `json:"contraindications,omitempty"`
	Warnings          string   `json:"warnings,omitempty"`
	AdverseReactions  string   `json:"adverse_reactions,omitempty"`
	Interactions      string   `json:"interactions,omitempty"`
	SpecialPopulation string   `json:"special_population,omitempty"`
	Storage           string   `json:"storage,omitempty"`
	Validity          string   `json:"validity,omitempty"`
	Packing           string   `json:"packing,omitempty"`
	Ingredients       []string `json:"ingredients,omitempty"`
	Source            string   `json:"source"`
}

// MatchResult is the outcome of resolving merged fields against the registry.
type MatchResult struct {
	Success     bool                    `json:"success"`
	MatchType   MatchType               `json:"match_type"`
	MatchedDrug *domain.DrugRecord      `json:"matched_drug"`
	Candidates  []domain.MatchCandidate `json:"candidates"`
	MergedInfo  MergedInfo              `json:"merged_info"`
	Confidence  float64                 `json:"confidence"`
	Error       string                  `json:"error,omitempty"`
}
