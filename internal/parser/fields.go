package parser

// ParsedFields is the structured product information read from one image.
// A nil pointer means the field was not found.
type ParsedFields struct {
	ApprovalNo  *string  `json:"approval_no"`
	GenericName *string  `json:"generic_name"`
	BrandName   *string  `json:"brand_name"`
	Enterprise  *string  `json:"enterprise"`
	Spec        *string  `json:"spec"`
	DosageForm  *string  `json:"dosage_form"`
	OTCType     *string  `json:"otc_type"`
	RawText     string   `json:"raw_text"`
	AllTexts    []string `json:"all_texts"`
	Confidence  float64  `json:"confidence"`
}

// MergedFields is the consolidated view over every image of one package.
type MergedFields ParsedFields

// Value returns the pointed-to string, or "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// optional returns nil for the empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
