package stage

import (
	"context"

	"github.com/JaimeStill/conveyor/internal/document"
)

// Stage bodies are the pluggable compute behind each runner. The
// coordination core invokes them but owns none of their internals;
// model-backed implementations plug in behind these interfaces.

// Classifier assigns a classification label to every page in the
// document view. The returned map is keyed by page id.
type Classifier interface {
	ClassifyPages(ctx context.Context, doc *document.Document) (map[int]string, document.Metering, error)
}

// ExtractionResult is the artifact an extractor produces for one section.
// It is persisted to blob storage and referenced by the section's
// ResultKey; Confidences feed the assessment stage.
type ExtractionResult struct {
	Attributes  map[string]string  `json:"attributes"`
	Confidences map[string]float64 `json:"confidences"`
}

// Extractor derives structured attributes from one section.
type Extractor interface {
	ExtractSection(ctx context.Context, view *document.Document, sec *document.Section) (*ExtractionResult, document.Metering, error)
}

// Assessor reviews extraction confidence for one section and returns
// alerts for attributes below threshold.
type Assessor interface {
	AssessSection(ctx context.Context, view *document.Document, sec *document.Section) ([]document.ConfidenceAlert, document.Metering, error)
}

// Validator applies business rules to one section's extracted attributes.
type Validator interface {
	ValidateSection(ctx context.Context, view *document.Document, sec *document.Section) (*document.ValidationResult, document.Metering, error)
}

// Summarizer produces the document-level summary.
type Summarizer interface {
	Summarize(ctx context.Context, doc *document.Document) (string, document.Metering, error)
}

// Evaluator scores the completed document against its expected output.
type Evaluator interface {
	Evaluate(ctx context.Context, doc *document.Document) (string, document.Metering, error)
}
