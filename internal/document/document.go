// Package document defines the aggregate state passed between pipeline
// stages: the Document root with its Pages, Sections, metering, errors,
// and human-review bookkeeping.
package document

import (
	"fmt"
	"slices"
	"time"
)

// ProcessingError is one entry in the Document's append-only error list.
type ProcessingError struct {
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// HitlMetadata is one append-only audit record per section flagged for
// human review. Created by the reducer, updated by the review manager,
// never deleted.
type HitlMetadata struct {
	ExecutionID  string `json:"execution_id"`
	SectionID    string `json:"section_id"`
	RecordNumber int    `json:"record_number"`
	Triggered    bool   `json:"triggered"`
	PageIDs      []int  `json:"page_ids"`
	Completed    bool   `json:"completed"`
}

// Document is the aggregate root for one input item. Its ID is the source
// object key. The Document exclusively owns its Pages and Sections; stage
// runners operate on section-scoped views and merge their slice back
// through the durable store.
type Document struct {
	ID           string       `json:"id"`
	InputKey     string       `json:"input_key"`
	OutputPrefix string       `json:"output_prefix"`
	Status       Status       `json:"status"`
	Pages        map[int]Page `json:"pages,omitempty"`
	Sections     []Section    `json:"sections,omitempty"`
	Metering     Metering     `json:"metering,omitempty"`
	Errors       []ProcessingError `json:"errors,omitempty"`
	ExecutionID  string       `json:"execution_id,omitempty"`
	Summary      string       `json:"summary,omitempty"`
	Evaluation   string       `json:"evaluation,omitempty"`

	QueuedAt    *time.Time `json:"queued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	HitlTriggered         bool           `json:"hitl_triggered"`
	HitlStatus            HitlStatus     `json:"hitl_status,omitempty"`
	HitlSectionsPending   []string       `json:"hitl_sections_pending,omitempty"`
	HitlSectionsCompleted []string       `json:"hitl_sections_completed,omitempty"`
	HitlMetadata          []HitlMetadata `json:"hitl_metadata,omitempty"`
}

// New creates a queued Document for the given source object key.
func New(id, inputKey, outputPrefix string, queuedAt time.Time) *Document {
	return &Document{
		ID:           id,
		InputKey:     inputKey,
		OutputPrefix: outputPrefix,
		Status:       StatusQueued,
		Pages:        make(map[int]Page),
		Sections:     []Section{{ID: "1"}},
		Metering:     make(Metering),
		QueuedAt:     &queuedAt,
	}
}

// Section returns a pointer to the section with the given id, or
// ErrSectionNotFound.
func (d *Document) Section(id string) (*Section, error) {
	for i := range d.Sections {
		if d.Sections[i].ID == id {
			return &d.Sections[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s in document %s", ErrSectionNotFound, id, d.ID)
}

// SectionIDs returns the ids of all sections in document order.
func (d *Document) SectionIDs() []string {
	ids := make([]string, len(d.Sections))
	for i := range d.Sections {
		ids[i] = d.Sections[i].ID
	}
	return ids
}

// PageIDs returns all page ids in ascending order.
func (d *Document) PageIDs() []int {
	ids := make([]int, 0, len(d.Pages))
	for id := range d.Pages {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// View returns a deep copy of the document restricted to the scope of one
// section: only that section and the pages it spans. Stage runners operate
// on views so they never see or mutate sibling sections.
func (d *Document) View(sectionID string) (*Document, error) {
	section, err := d.Section(sectionID)
	if err != nil {
		return nil, err
	}

	view := d.Clone()
	view.Sections = []Section{section.Clone()}
	view.Pages = make(map[int]Page, len(section.PageIDs))
	for _, pid := range section.PageIDs {
		page, ok := d.Pages[pid]
		if !ok {
			return nil, fmt.Errorf("%w: page %d referenced by section %s", ErrPageNotFound, pid, sectionID)
		}
		view.Pages[pid] = page
	}
	return view, nil
}

// ReplaceSection overwrites the section with a matching id. Returns
// ErrSectionNotFound if no section carries the id.
func (d *Document) ReplaceSection(section Section) error {
	for i := range d.Sections {
		if d.Sections[i].ID == section.ID {
			d.Sections[i] = section
			return nil
		}
	}
	return fmt.Errorf("%w: %s in document %s", ErrSectionNotFound, section.ID, d.ID)
}

// AppendError appends a processing error to the document's error list.
func (d *Document) AppendError(stage, message string, at time.Time) {
	d.Errors = append(d.Errors, ProcessingError{
		Stage:      stage,
		Message:    message,
		OccurredAt: at,
	})
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := *d

	if d.Pages != nil {
		out.Pages = make(map[int]Page, len(d.Pages))
		for id, page := range d.Pages {
			out.Pages[id] = page
		}
	}

	out.Sections = make([]Section, len(d.Sections))
	for i := range d.Sections {
		out.Sections[i] = d.Sections[i].Clone()
	}

	out.Metering = d.Metering.Clone()
	out.Errors = slices.Clone(d.Errors)
	out.HitlSectionsPending = slices.Clone(d.HitlSectionsPending)
	out.HitlSectionsCompleted = slices.Clone(d.HitlSectionsCompleted)

	out.HitlMetadata = make([]HitlMetadata, len(d.HitlMetadata))
	for i, meta := range d.HitlMetadata {
		meta.PageIDs = slices.Clone(meta.PageIDs)
		out.HitlMetadata[i] = meta
	}

	out.QueuedAt = cloneTime(d.QueuedAt)
	out.StartedAt = cloneTime(d.StartedAt)
	out.CompletedAt = cloneTime(d.CompletedAt)

	return &out
}

// Validate checks structural consistency: every section page id must
// reference an existing page, and pending/completed review sets must be
// disjoint.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty document id", ErrInvalid)
	}

	for i := range d.Sections {
		for _, pid := range d.Sections[i].PageIDs {
			if _, ok := d.Pages[pid]; !ok {
				return fmt.Errorf(
					"%w: section %s references missing page %d",
					ErrInvalid, d.Sections[i].ID, pid,
				)
			}
		}
	}

	for _, id := range d.HitlSectionsPending {
		if slices.Contains(d.HitlSectionsCompleted, id) {
			return fmt.Errorf(
				"%w: section %s both pending and completed review",
				ErrInvalid, id,
			)
		}
	}

	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
