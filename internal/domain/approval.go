package domain

import (
	"strings"
	"unicode"
)

// CanonicalApprovalNo trims, drops every whitespace rune and upper-cases an
// approval number. It is the only form used as an identity key.
func CanonicalApprovalNo(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
