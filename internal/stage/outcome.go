// Package stage implements the runner contract shared by every pipeline
// stage: load the document, check for pre-existing output, execute the
// stage body against a section-scoped view, and persist the updated slice
// back to the durable store immediately.
package stage

import "github.com/JaimeStill/conveyor/internal/document"

// OutcomeKind tags the four stage results so callers dispatch
// deterministically instead of inspecting error types.
type OutcomeKind int

const (
	// OutcomeOK: the stage executed and produced an updated document.
	OutcomeOK OutcomeKind = iota
	// OutcomeSkip: the section already carried completed output; the
	// document passed through unchanged apart from metering.
	OutcomeSkip
	// OutcomeRetryable: a transient dependency failure survived the local
	// retry limit; the invocation may be retried by the engine.
	OutcomeRetryable
	// OutcomeFatal: the stage failed permanently; the document has been
	// marked FAILED.
	OutcomeFatal
)

// Outcome is the tagged result of one stage invocation.
type Outcome struct {
	Kind     OutcomeKind
	Document *document.Document
	Err      error
}

// Ok wraps an executed stage result.
func Ok(doc *document.Document) Outcome {
	return Outcome{Kind: OutcomeOK, Document: doc}
}

// Skip wraps an idempotent-skip result.
func Skip(doc *document.Document) Outcome {
	return Outcome{Kind: OutcomeSkip, Document: doc}
}

// Retryable wraps a transient failure.
func Retryable(err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err}
}

// Fatal wraps a permanent failure.
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Failed reports whether the outcome is a failure of either kind.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeRetryable || o.Kind == OutcomeFatal
}
