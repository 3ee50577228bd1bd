package ocr

import (
	"regexp"
	"strings"
)

// Profile is a post-recognition cleanup for one document domain.
type Profile struct {
	Name     string
	replacer *strings.Replacer
	fixups   []fixup
}

type fixup struct {
	pattern *regexp.Regexp
	replace string
}

// DrugBoxProfile fixes glyph confusions common on Chinese drug packaging and
// joins approval numbers split by the recognizer.
var DrugBoxProfile = NewProfile("drug_box",
	map[string]string{
		"囯": "国", "薬": "药", "製": "制", "処": "处", "醫": "医",
		"療": "疗", "號": "号", "準": "准", "許": "许", "証": "证",
		"廠": "厂", "業": "业", "産": "产", "進": "进", "適": "适",
		"應": "应", "劑": "剂", "錠": "片", "膠": "胶",
	},
	map[string]string{
		`[国國]药[准準]字\s*([A-Za-z])\s*(\d+)`: "国药准字$1$2",
	},
)

// NewProfile builds a profile from character replacements and regex fixups.
// Fixups run after the replacements.
func NewProfile(name string, chars map[string]string, patterns map[string]string) *Profile {
	pairs := make([]string, 0, len(chars)*2)
	for from, to := range chars {
		pairs = append(pairs, from, to)
	}
	p := &Profile{Name: name, replacer: strings.NewReplacer(pairs...)}
	for expr, repl := range patterns {
		p.fixups = append(p.fixups, fixup{pattern: regexp.MustCompile(expr), replace: repl})
	}
	return p
}

// Clean applies the profile to one line of text.
func (p *Profile) Clean(text string) string {
	text = p.replacer.Replace(text)
	for _, f := range p.fixups {
		text = f.pattern.ReplaceAllString(text, f.replace)
	}
	return strings.TrimSpace(text)
}

// Apply returns a copy of r with every line cleaned, empty lines dropped and
// RawText rebuilt. A failed result is returned unchanged.
func (p *Profile) Apply(r *Result) *Result {
	if r == nil || len(r.Lines) == 0 {
		return r
	}
	lines := make([]Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		l.Text = p.Clean(l.Text)
		if l.Text == "" {
			continue
		}
		lines = append(lines, l)
	}
	out := NewResult(r.Engine, lines)
	out.Engines = r.Engines
	out.Error = r.Error
	out.Duration = r.Duration
	return out
}
