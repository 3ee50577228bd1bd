/**
 * Field Extractor
 *
 * Rule-based decomposition of recognized package text into product fields.
 * Parse is deterministic and makes no external calls; every field is
 * extracted independently except the drug name, which excludes lines
 * already claimed by the approval number, enterprise and spec.
 */

package parser

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/ocr"
)

// Extractor holds the compiled pattern tables. It is safe for concurrent use.
type Extractor struct {
	approvalNo      []*regexp.Regexp
	spec            []*regexp.Regexp
	otc             []*regexp.Regexp
	enterpriseLabel *regexp.Regexp
	enterpriseShape *regexp.Regexp
	whitespace      *regexp.Regexp
}

// NewExtractor compiles the pattern tables.
func NewExtractor() *Extractor {
	return &Extractor{
		approvalNo:      compileAll(approvalNoPatterns, "(?i)"),
		spec:            compileAll(specPatterns, ""),
		otc:             compileAll(otcPatterns, "(?i)"),
		enterpriseLabel: regexp.MustCompile(enterpriseLabelPattern),
		enterpriseShape: regexp.MustCompile(enterpriseShapePattern),
		whitespace:      regexp.MustCompile(`\s+`),
	}
}

func compileAll(patterns []string, flags string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(flags + p)
	}
	return out
}

// Parse extracts product fields from one OCR result. A nil result parses
// like an empty one.
func (e *Extractor) Parse(r *ocr.Result) ParsedFields {
	var raw string
	var lines []ocr.Line
	if r != nil {
		raw = r.RawText
		lines = r.Lines
	}

	f := ParsedFields{
		ApprovalNo: e.approvalNumber(raw),
		Spec:       e.specification(raw),
		DosageForm: dosageForm(raw),
		OTCType:    e.otcType(raw),
		Enterprise: e.enterprise(raw, lines),
		RawText:    raw,
		AllTexts:   allTexts(lines),
	}
	f.GenericName, f.BrandName = drugNames(lines, f)
	f.Confidence = confidence(f, lines)
	return f
}

func (e *Extractor) approvalNumber(text string) *string {
	for _, re := range e.approvalNo {
		if m := re.FindString(text); m != "" {
			return optional(e.whitespace.ReplaceAllString(m, ""))
		}
	}
	return nil
}

func (e *Extractor) specification(text string) *string {
	for _, re := range e.spec {
		if m := re.FindString(text); m != "" {
			return optional(strings.TrimSpace(m))
		}
	}
	return nil
}

func dosageForm(text string) *string {
	if form, ok := findDosageForm(text); ok {
		return String(form)
	}
	return nil
}

func findDosageForm(text string) (string, bool) {
	for _, form := range DosageForms {
		if strings.Contains(text, form) {
			return form, true
		}
	}
	return "", false
}

func (e *Extractor) otcType(text string) *string {
	for _, re := range e.otc {
		m := re.FindString(text)
		if m == "" {
			continue
		}
		switch {
		case strings.Contains(m, "甲") || strings.Contains(text, "甲类"):
			return String(OTCClassA)
		case strings.Contains(m, "乙") || strings.Contains(text, "乙类"):
			return String(OTCClassB)
		default:
			return String(OTCUnspecified)
		}
	}
	if strings.Contains(text, PrescriptionOnly) && !strings.Contains(strings.ToUpper(text), "OTC") {
		return String(PrescriptionOnly)
	}
	return nil
}

func (e *Extractor) enterprise(text string, lines []ocr.Line) *string {
	for _, l := range lines {
		if !containsAny(l.Text, enterpriseKeywords) {
			continue
		}
		cleaned := e.enterpriseLabel.ReplaceAllString(l.Text, "")
		if utf8.RuneCountInString(cleaned) >= enterpriseMinRunes {
			return optional(strings.TrimSpace(cleaned))
		}
	}
	if m := e.enterpriseShape.FindStringSubmatch(text); m != nil {
		return optional(m[1])
	}
	return nil
}

type nameCandidate struct {
	text          string
	confidence    float64
	hasDosageForm bool
}

// drugNames picks the generic and brand names from lines not claimed by
// other fields. Candidates with a dosage-form keyword rank first, then by
// line confidence; ties keep line order.
func drugNames(lines []ocr.Line, f ParsedFields) (generic, brand *string) {
	approval, enterprise, spec := Value(f.ApprovalNo), Value(f.Enterprise), Value(f.Spec)

	var cands []nameCandidate
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		n := utf8.RuneCountInString(text)
		if n < nameMinRunes || n > nameMaxRunes {
			continue
		}
		if approval != "" && strings.Contains(text, approval) {
			continue
		}
		if enterprise != "" && strings.Contains(enterprise, text) {
			continue
		}
		if spec != "" && strings.Contains(text, spec) {
			continue
		}
		if containsAny(text, nameSkipKeywords) {
			continue
		}
		_, hasForm := findDosageForm(text)
		cands = append(cands, nameCandidate{text: text, confidence: l.Confidence, hasDosageForm: hasForm})
	}
	if len(cands) == 0 {
		return nil, nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].hasDosageForm != cands[j].hasDosageForm {
			return cands[i].hasDosageForm
		}
		return cands[i].confidence > cands[j].confidence
	})

	// Sorting puts any dosage-form candidate first, so the top candidate is
	// the generic name in both cases.
	genericText := cands[0].text
	for _, c := range cands {
		if c.text == genericText || c.hasDosageForm {
			continue
		}
		if n := utf8.RuneCountInString(c.text); n >= nameMinRunes && n <= brandMaxRunes {
			return String(genericText), String(c.text)
		}
	}
	return String(genericText), nil
}

func confidence(f ParsedFields, lines []ocr.Line) float64 {
	var score float64
	for _, w := range []struct {
		present bool
		weight  float64
	}{
		{f.ApprovalNo != nil, weightApprovalNo},
		{f.GenericName != nil, weightGenericName},
		{f.Enterprise != nil, weightEnterprise},
		{f.Spec != nil, weightSpec},
		{f.DosageForm != nil, weightDosageForm},
		{f.OTCType != nil, weightOTCType},
	} {
		if w.present {
			score += w.weight
		}
	}

	if len(lines) > 0 {
		var sum float64
		for _, l := range lines {
			sum += domain.ClampUnit(l.Confidence)
		}
		score = presenceBlend*score + lineBlend*(sum/float64(len(lines)))
	}
	return domain.ClampUnit(math.Round(score*100) / 100)
}

func allTexts(lines []ocr.Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := strings.TrimSpace(l.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
