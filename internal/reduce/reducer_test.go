package reduce_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/reduce"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDocument() *document.Document {
	queued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := document.New("doc-1", "inbox/doc-1/report.pdf", "documents/doc-1", queued)
	doc.ExecutionID = "exec-1"
	doc.Pages = map[int]document.Page{
		1: {ID: 1, Classification: "Invoice"},
		2: {ID: 2, Classification: "Invoice"},
		3: {ID: 3, Classification: "Receipt"},
	}
	doc.Sections = []document.Section{
		{ID: "1", Classification: "Invoice", PageIDs: []int{1, 2}},
		{ID: "2", Classification: "Receipt", PageIDs: []int{3}},
	}
	return doc
}

// view builds a fan-out branch output: the base document narrowed to one
// updated section, carrying only the branch's metering delta.
func view(doc *document.Document, sec document.Section, metering document.Metering) *document.Document {
	out := doc.Clone()
	out.Sections = []document.Section{sec}
	out.Metering = metering
	out.Errors = nil
	return out
}

func TestDominantLabel(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"empty input", nil, ""},
		{"single label", []string{"Invoice"}, "Invoice"},
		{"majority wins", []string{"Invoice", "Receipt", "Invoice"}, "Invoice"},
		{"tie breaks to first seen", []string{"Invoice", "Receipt"}, "Invoice"},
		{"tie breaks by input order not alphabet", []string{"Receipt", "Invoice", "Receipt", "Invoice"}, "Receipt"},
		{"late majority still wins", []string{"Invoice", "Receipt", "Receipt"}, "Receipt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reduce.DominantLabel(tt.labels); got != tt.want {
				t.Errorf("DominantLabel(%v) = %q, want %q", tt.labels, got, tt.want)
			}
		})
	}
}

func TestReduceMergesSectionOutputs(t *testing.T) {
	r := reduce.New(nil, testLogger())
	base := testDocument()

	sec1 := base.Sections[0].Clone()
	sec1.ResultKey = "documents/doc-1/results/1.json"
	sec2 := base.Sections[1].Clone()
	sec2.ResultKey = "documents/doc-1/results/2.json"

	outputs := []*document.Document{
		view(base, sec1, document.Metering{"extract": {"sections": 1}}),
		view(base, sec2, document.Metering{"extract": {"sections": 1}}),
	}

	merged := r.Reduce(base, outputs)

	if merged.Sections[0].ResultKey != sec1.ResultKey {
		t.Errorf("section 1 ResultKey = %q, want %q", merged.Sections[0].ResultKey, sec1.ResultKey)
	}
	if merged.Sections[1].ResultKey != sec2.ResultKey {
		t.Errorf("section 2 ResultKey = %q, want %q", merged.Sections[1].ResultKey, sec2.ResultKey)
	}
	if got := merged.Metering["extract"]["sections"]; got != 2 {
		t.Errorf("extract/sections = %d, want 2 (additive merge)", got)
	}
	if base.Sections[0].ResultKey != "" {
		t.Error("Reduce mutated the base document")
	}
}

func TestReduceLaterOutputWinsPerSection(t *testing.T) {
	r := reduce.New(nil, testLogger())
	base := testDocument()

	extracted := base.Sections[0].Clone()
	extracted.ResultKey = "documents/doc-1/results/1.json"

	validated := extracted.Clone()
	validated.Assessed = true
	validated.Validation = &document.ValidationResult{Passed: true}

	outputs := []*document.Document{
		view(base, extracted, nil),
		view(base, validated, nil),
	}

	merged := r.Reduce(base, outputs)

	if !merged.Sections[0].Assessed {
		t.Error("later output did not overwrite earlier section state")
	}
	if merged.Sections[0].Validation == nil || !merged.Sections[0].Validation.Passed {
		t.Errorf("Validation = %v, want passed result from last output", merged.Sections[0].Validation)
	}
}

func TestReduceAdoptsNewSections(t *testing.T) {
	r := reduce.New(nil, testLogger())
	base := testDocument()

	extra := document.Section{ID: "3", Classification: "Appendix", PageIDs: []int{3}}
	outputs := []*document.Document{view(base, extra, nil)}

	merged := r.Reduce(base, outputs)

	if len(merged.Sections) != 3 {
		t.Fatalf("section count = %d, want 3", len(merged.Sections))
	}
	if merged.Sections[2].ID != "3" {
		t.Errorf("appended section ID = %q, want %q", merged.Sections[2].ID, "3")
	}
}

func TestReduceFlagsReview(t *testing.T) {
	r := reduce.New(nil, testLogger())
	base := testDocument()

	alerted := base.Sections[1].Clone()
	alerted.Alerts = []document.ConfidenceAlert{
		{Attribute: "total", Confidence: 0.4, Threshold: 0.8},
	}
	outputs := []*document.Document{view(base, alerted, nil)}

	merged := r.Reduce(base, outputs)

	if !merged.HitlTriggered {
		t.Error("HitlTriggered = false, want true")
	}
	if merged.HitlStatus != document.HitlPendingReview {
		t.Errorf("HitlStatus = %q, want %q", merged.HitlStatus, document.HitlPendingReview)
	}
	if len(merged.HitlSectionsPending) != 1 || merged.HitlSectionsPending[0] != "2" {
		t.Errorf("HitlSectionsPending = %v, want [2]", merged.HitlSectionsPending)
	}
	if len(merged.HitlMetadata) != 1 {
		t.Fatalf("HitlMetadata count = %d, want 1", len(merged.HitlMetadata))
	}
	meta := merged.HitlMetadata[0]
	if meta.SectionID != "2" || meta.RecordNumber != 1 || !meta.Triggered {
		t.Errorf("HitlMetadata = %+v, want triggered record 1 for section 2", meta)
	}
	if meta.ExecutionID != "exec-1" {
		t.Errorf("metadata ExecutionID = %q, want exec-1", meta.ExecutionID)
	}
	if len(meta.PageIDs) != 1 || meta.PageIDs[0] != 3 {
		t.Errorf("metadata PageIDs = %v, want [3]", meta.PageIDs)
	}
}

func TestReduceNoAlertsNoReview(t *testing.T) {
	r := reduce.New(nil, testLogger())
	base := testDocument()

	clean := base.Sections[0].Clone()
	clean.ResultKey = "documents/doc-1/results/1.json"
	merged := r.Reduce(base, []*document.Document{view(base, clean, nil)})

	if merged.HitlTriggered {
		t.Error("HitlTriggered = true without alerts")
	}
	if merged.HitlStatus != document.HitlNone {
		t.Errorf("HitlStatus = %q, want none", merged.HitlStatus)
	}
}

func TestReduceTerminalReviewNeverReset(t *testing.T) {
	tests := []struct {
		name     string
		terminal []document.HitlStatus
		status   document.HitlStatus
		want     document.HitlStatus
	}{
		{"default preserves completed", nil, document.HitlCompleted, document.HitlCompleted},
		{"default preserves skipped", nil, document.HitlSkipped, document.HitlSkipped},
		{"custom allow-list excludes skipped", []document.HitlStatus{document.HitlCompleted}, document.HitlSkipped, document.HitlPendingReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := reduce.New(tt.terminal, testLogger())
			base := testDocument()
			base.HitlStatus = tt.status
			base.HitlSectionsCompleted = []string{"2"}

			alerted := base.Sections[1].Clone()
			alerted.Alerts = []document.ConfidenceAlert{
				{Attribute: "total", Confidence: 0.4, Threshold: 0.8},
			}
			merged := r.Reduce(base, []*document.Document{view(base, alerted, nil)})

			if !merged.HitlTriggered {
				t.Error("HitlTriggered = false, want true")
			}
			if merged.HitlStatus != tt.want {
				t.Errorf("HitlStatus = %q, want %q", merged.HitlStatus, tt.want)
			}
			if tt.want != document.HitlPendingReview && len(merged.HitlSectionsPending) != 0 {
				t.Errorf("HitlSectionsPending = %v, want empty for terminal status", merged.HitlSectionsPending)
			}
		})
	}
}
