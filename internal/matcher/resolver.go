/**
 * Match Resolver
 *
 * Resolves merged package fields against the drug registry through a
 * strictly ordered cascade; the first accepted strategy wins:
 *   1. exact approval number            -> approval_no, 0.98
 *   2. generic name + enterprise        -> name_enterprise, 0.90
 *   3. fuzzy search on name terms       -> fuzzy, score/100 when score >= 80
 *   4. fuzzy search on raw line texts   -> fuzzy, score/100 when score >= 70
 *      (only when no generic or brand name was read)
 *
 * Any registry failure ends the cascade at once with success=false and the
 * OCR fields passed through unchanged.
 */

package matcher

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/errors"
	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
	"github.com/adverant/nexus/drugid-worker/internal/parser"
)

const (
	ApprovalNoConfidence     = 0.98
	NameEnterpriseConfidence = 0.90

	// MaxCandidates bounds every candidate list returned to callers.
	MaxCandidates = 10

	nameAcceptScore = 80.0
	textAcceptScore = 70.0

	// fuzzyFetchLimit is what the registry is asked for; the result is
	// always cut to MaxCandidates.
	fuzzyFetchLimit = 20

	textMinRunes = 2
	textMaxRunes = 20

	DefaultRegistryTimeout = 3 * time.Second
)

// nameSuffixes are stripped, first match only, to widen the fuzzy search.
var nameSuffixes = []string{"片", "胶囊", "颗粒", "口服液", "注射液", "软膏", "乳膏"}

// Resolver runs the match cascade. It holds no per-request state.
type Resolver struct {
	registry Registry
	timeout  time.Duration
	logger   *logging.Logger
}

// NewResolver creates a resolver; timeout bounds each registry call.
func NewResolver(registry Registry, timeout time.Duration, logger *logging.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultRegistryTimeout
	}
	if logger == nil {
		logger = logging.NewLogger("Matcher")
	}
	return &Resolver{registry: registry, timeout: timeout, logger: logger}
}

// Match resolves fields against the registry.
func (r *Resolver) Match(ctx context.Context, fields parser.MergedFields) *MatchResult {
	res := &MatchResult{
		MatchType:  MatchNone,
		Candidates: []domain.MatchCandidate{},
		MergedInfo: unmatchedInfo(fields),
	}

	if approval := domain.CanonicalApprovalNo(parser.Value(fields.ApprovalNo)); approval != "" {
		rec, err := r.byApprovalNo(ctx, approval)
		if err != nil {
			return r.unavailable(fields, err)
		}
		if rec != nil {
			return accepted(res, fields, MatchApprovalNo, rec, ApprovalNoConfidence)
		}
	}

	if name := strings.TrimSpace(parser.Value(fields.GenericName)); name != "" {
		rec, err := r.byNameAndEnterprise(ctx, name, fields.Enterprise)
		if err != nil {
			return r.unavailable(fields, err)
		}
		if rec != nil {
			return accepted(res, fields, MatchNameEnterprise, rec, NameEnterpriseConfidence)
		}
	}

	// The first term with any candidates ends the search, even when its top
	// score is below the acceptance threshold.
	for _, term := range searchTerms(fields) {
		cands, err := r.fuzzy(ctx, term)
		if err != nil {
			return r.unavailable(fields, err)
		}
		if len(cands) > 0 {
			return withCandidates(res, fields, cands, nameAcceptScore)
		}
	}

	if fields.GenericName == nil && fields.BrandName == nil {
		for _, text := range fields.AllTexts {
			cleaned := cleanText(text)
			if n := utf8.RuneCountInString(cleaned); n < textMinRunes || n > textMaxRunes {
				continue
			}
			cands, err := r.fuzzy(ctx, cleaned)
			if err != nil {
				return r.unavailable(fields, err)
			}
			if len(cands) > 0 {
				return withCandidates(res, fields, cands, textAcceptScore)
			}
		}
	}

	return res
}

func accepted(res *MatchResult, fields parser.MergedFields, mt MatchType, rec *domain.DrugRecord, conf float64) *MatchResult {
	res.Success = true
	res.MatchType = mt
	res.MatchedDrug = rec
	res.Confidence = conf
	res.MergedInfo = authoritativeMerge(fields, rec)
	return res
}

func withCandidates(res *MatchResult, fields parser.MergedFields, cands []domain.MatchCandidate, threshold float64) *MatchResult {
	if len(cands) > MaxCandidates {
		cands = cands[:MaxCandidates]
	}
	res.MatchType = MatchFuzzy
	res.Candidates = cands
	if top := cands[0]; top.Score >= threshold {
		rec := top.DrugRecord
		res.Success = true
		res.MatchedDrug = &rec
		res.Confidence = top.Confidence()
		res.MergedInfo = authoritativeMerge(fields, &rec)
	}
	return res
}

func (r *Resolver) unavailable(fields parser.MergedFields, err error) *MatchResult {
	r.logger.Warn("Registry unavailable; returning OCR fields only", "error", err)
	return &MatchResult{
		Success:    false,
		MatchType:  MatchNone,
		Candidates: []domain.MatchCandidate{},
		MergedInfo: unmatchedInfo(fields),
		Error:      err.Error(),
	}
}

// searchTerms lists the fuzzy terms in order: generic name, generic name
// without its dosage-form suffix, brand name.
func searchTerms(fields parser.MergedFields) []string {
	var terms []string
	if name := strings.TrimSpace(parser.Value(fields.GenericName)); name != "" {
		terms = append(terms, name)
		for _, suffix := range nameSuffixes {
			if strings.HasSuffix(name, suffix) {
				if stem := strings.TrimSuffix(name, suffix); stem != "" {
					terms = append(terms, stem)
				}
				break
			}
		}
	}
	if brand := strings.TrimSpace(parser.Value(fields.BrandName)); brand != "" {
		terms = append(terms, brand)
	}
	return terms
}

// cleanText keeps CJK ideographs, ASCII letters and digits.
func cleanText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 0x4e00 && r <= 0x9fa5,
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			unicode.IsDigit(r) && r < utf8.RuneSelf:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (r *Resolver) byApprovalNo(ctx context.Context, id string) (*domain.DrugRecord, error) {
	return callRegistry(ctx, r, "lookup_by_approval_no", func(ctx context.Context) (*domain.DrugRecord, error) {
		return r.registry.LookupByApprovalNo(ctx, id)
	})
}

func (r *Resolver) byNameAndEnterprise(ctx context.Context, name string, enterprise *string) (*domain.DrugRecord, error) {
	return callRegistry(ctx, r, "lookup_by_name_and_enterprise", func(ctx context.Context) (*domain.DrugRecord, error) {
		return r.registry.LookupByNameAndEnterprise(ctx, name, enterprise)
	})
}

func (r *Resolver) fuzzy(ctx context.Context, term string) ([]domain.MatchCandidate, error) {
	return callRegistry(ctx, r, "lookup_fuzzy", func(ctx context.Context) ([]domain.MatchCandidate, error) {
		return r.registry.LookupFuzzy(ctx, term, fuzzyFetchLimit)
	})
}

type outcome[T any] struct {
	value T
	err   error
}

// callRegistry runs one registry operation under its own timeout. The
// operation runs in a goroutine so a collaborator that ignores ctx still
// cannot hold the request past the deadline; its late result is discarded.
func callRegistry[T any](ctx context.Context, r *Resolver, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if r.registry == nil {
		return zero, errors.NewRegistryUnavailableError(op, fmt.Errorf("no registry configured"))
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(cctx)
		done <- outcome[T]{value: v, err: err}
	}()

	var out outcome[T]
	select {
	case out = <-done:
	case <-cctx.Done():
		out.err = cctx.Err()
	}

	status := "ok"
	if out.err != nil {
		status = "error"
	}
	metrics.RegistryRequestsTotal.WithLabelValues(op, status).Inc()

	if out.err != nil {
		r.logger.Debug("Registry call failed", "operation", op, "duration", time.Since(start), "error", out.err)
		return zero, errors.NewRegistryUnavailableError(op, out.err)
	}
	return out.value, nil
}
