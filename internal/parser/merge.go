package parser

import (
	"strings"
	"unicode/utf8"
)

// Merge folds the per-image fields of one package into a single record.
// A single input is returned unchanged. With more inputs every field of
// every input is folded in order:
//   - strings are trimmed, "None"/"null" count as absent, and the longer
//     value wins; on equal length the value seen first is kept
//   - Confidence takes the maximum
//   - AllTexts is an ordered union without duplicates
func Merge(infos []ParsedFields) MergedFields {
	switch len(infos) {
	case 0:
		return MergedFields{}
	case 1:
		return MergedFields(infos[0])
	}

	var acc MergedFields
	for i, in := range infos {
		acc.ApprovalNo = mergeOptional(acc.ApprovalNo, in.ApprovalNo)
		acc.GenericName = mergeOptional(acc.GenericName, in.GenericName)
		acc.BrandName = mergeOptional(acc.BrandName, in.BrandName)
		acc.Enterprise = mergeOptional(acc.Enterprise, in.Enterprise)
		acc.Spec = mergeOptional(acc.Spec, in.Spec)
		acc.DosageForm = mergeOptional(acc.DosageForm, in.DosageForm)
		acc.OTCType = mergeOptional(acc.OTCType, in.OTCType)
		acc.RawText = Value(mergeOptional(optional(acc.RawText), optional(in.RawText)))
		acc.AllTexts = union(acc.AllTexts, in.AllTexts)
		if i == 0 || in.Confidence > acc.Confidence {
			acc.Confidence = in.Confidence
		}
	}
	return acc
}

func mergeOptional(acc, v *string) *string {
	if v == nil {
		return acc
	}
	s := strings.TrimSpace(*v)
	if s == "" || s == "None" || s == "null" {
		return acc
	}
	if acc == nil || utf8.RuneCountInString(s) > utf8.RuneCountInString(*acc) {
		return &s
	}
	return acc
}

func union(acc, items []string) []string {
	seen := make(map[string]struct{}, len(acc)+len(items))
	for _, s := range acc {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		acc = append(acc, s)
	}
	return acc
}
