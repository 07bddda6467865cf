// Package docstore persists the per-document state record, the single
// source of truth shared by every pipeline component. All partial updates
// go through Mutate, which rereads the full document inside a transaction
// so no component ever overwrites another section's data.
package docstore

import (
	"context"
	"time"

	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/pkg/pagination"
)

// MutateFunc edits a freshly loaded document in place. Returning an error
// aborts the write.
type MutateFunc func(doc *document.Document) error

// System defines the contract for durable document record operations.
type System interface {
	// Create inserts a new document record and its chronological list
	// record. Returns ErrDuplicate if the id already exists.
	Create(ctx context.Context, doc *document.Document) error

	// Get loads the full document aggregate. Returns ErrNotFound if the
	// id does not exist.
	Get(ctx context.Context, id string) (*document.Document, error)

	// Mutate loads the document under lock, applies fn, and writes the
	// result back in the same transaction. The chronological list record
	// is rewritten whenever the queue time changes.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*document.Document, error)

	// List returns a page of document summaries matching the filters.
	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Record], error)
}

// Record is the listing projection of a document: the indexed columns
// without the full aggregate state.
type Record struct {
	ID           string              `json:"id"`
	Status       document.Status     `json:"status"`
	HitlStatus   document.HitlStatus `json:"hitl_status,omitempty"`
	ExecutionID  string              `json:"execution_id,omitempty"`
	PageCount    int                 `json:"page_count"`
	SectionCount int                 `json:"section_count"`
	QueuedAt     *time.Time          `json:"queued_at,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}
