// Package reduce consolidates parallel per-section stage outputs back
// into one Document and decides whether human review is required.
package reduce

import (
	"log/slog"
	"slices"

	"github.com/JaimeStill/conveyor/internal/document"
)

// DominantLabel returns the winning label for a limited-classification
// pass that must assign one label across many pages: the most frequent
// label wins, with ties broken by first-seen order in the input. The
// result is deterministic for any input ordering.
func DominantLabel(labels []string) string {
	if len(labels) == 0 {
		return ""
	}

	counts := make(map[string]int, len(labels))
	order := make([]string, 0, len(labels))

	for _, label := range labels {
		if _, seen := counts[label]; !seen {
			order = append(order, label)
		}
		counts[label]++
	}

	winner := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[winner] {
			winner = label
		}
	}
	return winner
}

// Reducer merges fan-out outputs and flags documents for review.
type Reducer struct {
	terminalReview []document.HitlStatus
	logger         *slog.Logger
}

// New creates a Reducer. terminalReview is the allow-list of review
// statuses that reprocessing must never reset; pass nil for the default
// of Completed and Skipped.
func New(terminalReview []document.HitlStatus, logger *slog.Logger) *Reducer {
	if terminalReview == nil {
		terminalReview = []document.HitlStatus{
			document.HitlCompleted,
			document.HitlSkipped,
		}
	}
	return &Reducer{
		terminalReview: terminalReview,
		logger:         logger.With("system", "reduce"),
	}
}

// Reduce merges the per-section outputs into a clone of base and returns
// the consolidated document.
func (r *Reducer) Reduce(base *document.Document, outputs []*document.Document) *document.Document {
	doc := base.Clone()
	r.Apply(doc, outputs)
	return doc
}

// Apply merges outputs into doc in place: section union ordered by the
// original section ordering, additive metering, appended errors, and
// review flagging for any section carrying confidence alerts.
func (r *Reducer) Apply(doc *document.Document, outputs []*document.Document) {
	bySection := make(map[string]document.Section)
	var newSections []document.Section

	for _, out := range outputs {
		for i := range out.Sections {
			sec := out.Sections[i]
			if _, err := doc.Section(sec.ID); err != nil {
				if _, dup := bySection[sec.ID]; !dup {
					newSections = append(newSections, sec.Clone())
				}
			}
			bySection[sec.ID] = sec
		}

		doc.Metering.Merge(out.Metering)
		doc.Errors = append(doc.Errors, out.Errors...)
	}

	for i := range doc.Sections {
		if sec, ok := bySection[doc.Sections[i].ID]; ok {
			doc.Sections[i] = sec.Clone()
		}
	}
	doc.Sections = append(doc.Sections, newSections...)

	r.flagReview(doc)
}

// flagReview populates review state for sections with active alerts,
// unless the document's review status is already terminal: previously
// completed or skipped reviews are never silently reset by reprocessing.
func (r *Reducer) flagReview(doc *document.Document) {
	var flagged []string
	for i := range doc.Sections {
		if doc.Sections[i].NeedsReview() {
			flagged = append(flagged, doc.Sections[i].ID)
		}
	}

	if len(flagged) == 0 {
		return
	}

	doc.HitlTriggered = true

	if slices.Contains(r.terminalReview, doc.HitlStatus) {
		r.logger.Info(
			"review already terminal, leaving review status untouched",
			"document", doc.ID,
			"status", doc.HitlStatus,
			"flagged", flagged,
		)
		return
	}

	doc.HitlStatus = document.HitlPendingReview
	doc.HitlSectionsPending = flagged
	doc.HitlSectionsCompleted = nil

	for i, id := range flagged {
		sec, err := doc.Section(id)
		if err != nil {
			continue
		}
		doc.HitlMetadata = append(doc.HitlMetadata, document.HitlMetadata{
			ExecutionID:  doc.ExecutionID,
			SectionID:    id,
			RecordNumber: i + 1,
			Triggered:    true,
			PageIDs:      slices.Clone(sec.PageIDs),
		})
	}

	r.logger.Info("document flagged for review", "document", doc.ID, "sections", flagged)
}
