package document

import "slices"

// Page is a single page of the source document. Classification is empty
// until the classification stage assigns a label. TextKey and ImageKey
// point at blob storage artifacts produced during ingestion.
type Page struct {
	ID             int    `json:"id"`
	Classification string `json:"classification,omitempty"`
	TextKey        string `json:"text_key,omitempty"`
	ImageKey       string `json:"image_key,omitempty"`
}

// ConfidenceAlert records an extracted attribute whose confidence fell
// below its configured threshold. A section with any alerts requires
// human review.
type ConfidenceAlert struct {
	Attribute  string  `json:"attribute"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// RuleResult is the outcome of one validation rule against a section.
type RuleResult struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ValidationResult aggregates rule outcomes for a section. Nil on a
// section means rule validation has not run.
type ValidationResult struct {
	Passed bool         `json:"passed"`
	Rules  []RuleResult `json:"rules,omitempty"`
}

// Section is a contiguous run of pages sharing one classification, the
// unit of parallel stage processing. ResultKey points at the extraction
// result blob; an empty ResultKey means extraction has not completed for
// this section.
type Section struct {
	ID             string            `json:"id"`
	Classification string            `json:"classification,omitempty"`
	PageIDs        []int             `json:"page_ids"`
	ResultKey      string            `json:"result_key,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Assessed       bool              `json:"assessed,omitempty"`
	Alerts         []ConfidenceAlert `json:"alerts,omitempty"`
	Validation     *ValidationResult `json:"validation,omitempty"`
}

// Extracted reports whether the section carries a completed extraction result.
func (s *Section) Extracted() bool {
	return s.ResultKey != ""
}

// NeedsReview reports whether the section carries active confidence alerts.
func (s *Section) NeedsReview() bool {
	return len(s.Alerts) > 0
}

// Clone returns a deep copy of the section.
func (s *Section) Clone() Section {
	out := Section{
		ID:             s.ID,
		Classification: s.Classification,
		PageIDs:        slices.Clone(s.PageIDs),
		ResultKey:      s.ResultKey,
		Assessed:       s.Assessed,
		Alerts:         slices.Clone(s.Alerts),
	}
	if s.Attributes != nil {
		out.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			out.Attributes[k] = v
		}
	}
	if s.Validation != nil {
		v := ValidationResult{
			Passed: s.Validation.Passed,
			Rules:  slices.Clone(s.Validation.Rules),
		}
		out.Validation = &v
	}
	return out
}
