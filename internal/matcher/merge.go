package matcher

import (
	"strings"

	"github.com/adverant/nexus/drugid-worker/internal/domain"
	"github.com/adverant/nexus/drugid-worker/internal/parser"
)

// authoritativeMerge overlays a registry record on the OCR fields. Registry
// values win when they carry content; OCR values fill the gaps.
func authoritativeMerge(ocr parser.MergedFields, rec *domain.DrugRecord) MergedInfo {
	out := MergedInfo{MergedFields: ocr, Source: SourceMerged}

	out.ApprovalNo = prefer(rec.ApprovalNo, ocr.ApprovalNo)
	out.GenericName = prefer(rec.GenericName, ocr.GenericName)
	out.BrandName = prefer(rec.BrandName, ocr.BrandName)
	out.DosageForm = prefer(rec.DosageForm, ocr.DosageForm)
	out.Spec = prefer(rec.Spec, ocr.Spec)
	out.Enterprise = prefer(rec.Enterprise, ocr.Enterprise)
	out.OTCType = prefer(rec.OTCType, ocr.OTCType)

	out.Indications = registryOnly(rec.Indications)
	out.Usage = registryOnly(rec.Usage)
	out.Contraindications = registryOnly(rec.Contraindications)
	out.Warnings = registryOnly(rec.Warnings)
	out.AdverseReactions = registryOnly(rec.AdverseReactions)
	out.Interactions = registryOnly(rec.Interactions)
	out.SpecialPopulation = registryOnly(rec.SpecialPopulation)
	out.Storage = registryOnly(rec.Storage)
	out.Validity = registryOnly(rec.Validity)
	out.Packing = registryOnly(rec.Packing)
	if len(rec.Ingredients) > 0 {
		out.Ingredients = append([]string(nil), rec.Ingredients...)
	}
	return out
}

func prefer(registry string, ocr *string) *string {
	if v := registryOnly(registry); v != "" {
		return &v
	}
	if ocr != nil && strings.TrimSpace(*ocr) != "" {
		v := *ocr
		return &v
	}
	return nil
}

// registryOnly drops empty and "None" placeholders left by registry imports.
func registryOnly(v string) string {
	if strings.TrimSpace(v) == "" || v == "None" {
		return ""
	}
	return v
}

// unmatchedInfo is the pass-through view when no record was accepted.
func unmatchedInfo(fields parser.MergedFields) MergedInfo {
	return MergedInfo{MergedFields: fields, Source: SourceOCR}
}
