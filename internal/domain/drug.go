package domain

import "time"

// DrugRecord is one product entry of the authoritative registry.
// Empty strings mean the registry has no value for the field.
type DrugRecord struct {
	ApprovalNo        string    `json:"approval_no"`
	GenericName       string    `json:"generic_name"`
	BrandName         string    `json:"brand_name,omitempty"`
	DosageForm        string    `json:"dosage_form,omitempty"`
	Spec              string    `json:"spec,omitempty"`
	Enterprise        string    `json:"enterprise,omitempty"`
	OTCType           string    `json:"otc_type,omitempty"`
	Packing           string    `json:"packing,omitempty"`
	Ingredients       []string  `json:"ingredients,omitempty"`
	Indications       string    `json:"indications,omitempty"`
	Usage             string    `json:"usage,omitempty"`
	Contraindications string    `json:"contraindications,omitempty"`
	Warnings          string    `json:"warnings,omitempty"`
	AdverseReactions  string    `json:"adverse_reactions,omitempty"`
	Interactions      string    `json:"interactions,omitempty"`
	SpecialPopulation string    `json:"special_population,omitempty"`
	Storage           string    `json:"storage,omitempty"`
	Validity          string    `json:"validity,omitempty"`
	Source            string    `json:"source,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// MatchCandidate is a registry record ranked by a fuzzy lookup; Score is in [0,100].
type MatchCandidate struct {
	DrugRecord
	Score float64 `json:"score"`
}

// Confidence converts the registry score to [0,1].
func (c MatchCandidate) Confidence() float64 {
	return ClampUnit(c.Score / 100)
}

// ClampUnit clamps v to [0,1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
