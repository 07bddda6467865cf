// Package rerun provides the recovery controller: selective state resets
// that requeue documents from a chosen pipeline step, and abort of live
// executions. Resets preserve everything upstream of the target step and
// never disturb a concluded human review.
package rerun

import (
	"fmt"
	"time"

	"github.com/JaimeStill/conveyor/internal/document"
)

// Step identifies the pipeline step a rerun restarts from.
type Step string

const (
	// StepClassification discards page labels and sectioning, rerunning
	// the document from the classify stage.
	StepClassification Step = "classification"
	// StepExtraction keeps page labels and section boundaries, rerunning
	// from the extract stage.
	StepExtraction Step = "extraction"
)

// Valid reports whether the step names a supported reset point.
func (s Step) Valid() bool {
	return s == StepClassification || s == StepExtraction
}

// Reset rewinds a document's state to before the given step and requeues
// it. Metering, processing errors, and review audit records are
// append-only and survive every reset; a concluded review status is
// never reopened.
func Reset(doc *document.Document, step Step, queuedAt time.Time) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	switch step {
	case StepClassification:
		for id, page := range doc.Pages {
			page.Classification = ""
			doc.Pages[id] = page
		}
		doc.Sections = []document.Section{{ID: "1"}}

	case StepExtraction:
		for i := range doc.Sections {
			sec := &doc.Sections[i]
			sec.ResultKey = ""
			sec.Attributes = nil
			sec.Assessed = false
			sec.Alerts = nil
			sec.Validation = nil
		}
	}

	doc.Summary = ""
	doc.Evaluation = ""
	doc.Status = document.StatusQueued
	doc.ExecutionID = ""
	doc.QueuedAt = &queuedAt
	doc.StartedAt = nil
	doc.CompletedAt = nil

	// An unresolved review cannot survive a reset: its tokens reference
	// state the reset discards. Concluded reviews stay concluded.
	if doc.HitlStatus == document.HitlPendingReview {
		doc.HitlStatus = document.HitlNone
		doc.HitlSectionsPending = nil
	}

	return nil
}
