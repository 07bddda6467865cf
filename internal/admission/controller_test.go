package admission_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/JaimeStill/conveyor/internal/admission"
	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/engine"
	"github.com/JaimeStill/conveyor/pkg/lifecycle"
	"github.com/JaimeStill/conveyor/pkg/pagination"
	"github.com/JaimeStill/conveyor/pkg/storage"
)

// memoryStore is an in-memory docstore.System.
type memoryStore struct {
	docs map[string]*document.Document
}

func newMemoryStore(docs ...*document.Document) *memoryStore {
	store := &memoryStore{docs: make(map[string]*document.Document)}
	for _, doc := range docs {
		store.docs[doc.ID] = doc.Clone()
	}
	return store
}

func (s *memoryStore) Create(_ context.Context, doc *document.Document) error {
	if _, ok := s.docs[doc.ID]; ok {
		return docstore.ErrDuplicate
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*document.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	return doc.Clone(), nil
}

func (s *memoryStore) Mutate(_ context.Context, id string, fn docstore.MutateFunc) (*document.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	next := doc.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.docs[id] = next
	return next.Clone(), nil
}

func (s *memoryStore) List(context.Context, pagination.PageRequest, docstore.Filters) (*pagination.PageResult[docstore.Record], error) {
	return &pagination.PageResult[docstore.Record]{}, nil
}

// fakeEngine records starts and can be primed to fail them.
type fakeEngine struct {
	started  []string
	startErr error
}

func (e *fakeEngine) Start(context.Context, codec.Envelope) (string, error) {
	if e.startErr != nil {
		return "", e.startErr
	}
	id := fmt.Sprintf("exec-%d", len(e.started)+1)
	e.started = append(e.started, id)
	return id, nil
}

func (e *fakeEngine) Signal(context.Context, string, codec.Envelope) error { return nil }
func (e *fakeEngine) Cancel(context.Context, string) error                 { return nil }

func (e *fakeEngine) Describe(context.Context, string) (engine.ExecutionState, error) {
	return engine.ExecutionRunning, nil
}

// nullStorage satisfies storage.System for the inline-only codec.
type nullStorage struct{}

func (nullStorage) Start(*lifecycle.Coordinator) error { return nil }
func (nullStorage) Upload(context.Context, string, io.Reader, string) error {
	return errors.New("unexpected upload")
}
func (nullStorage) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), storage.ErrNotFound
}
func (nullStorage) Delete(context.Context, string) error         { return nil }
func (nullStorage) Exists(context.Context, string) (bool, error) { return false, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func queuedDocument(id string) *document.Document {
	queued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := document.New(id, "inbox/"+id+"/report.pdf", "documents/"+id, queued)
	doc.Pages = map[int]document.Page{1: {ID: 1}}
	return doc
}

func queuedEnvelope(t *testing.T, cdc *codec.Codec, doc *document.Document) codec.Envelope {
	t.Helper()

	env, err := cdc.Serialize(context.Background(), doc, "queued")
	if err != nil {
		t.Fatalf("Serialize returned error: %v", err)
	}
	return env
}

func TestAdmitStartsExecution(t *testing.T) {
	ctx := context.Background()
	counter := testCounter(t, 1)
	eng := &fakeEngine{}
	doc := queuedDocument("doc-1")
	store := newMemoryStore(doc)
	cdc := codec.New(nullStorage{}, 1<<20, testLogger())
	controller := admission.NewController(counter, eng, store, cdc, testLogger())

	executionID, err := controller.Admit(ctx, queuedEnvelope(t, cdc, doc))
	if err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if executionID != "exec-1" {
		t.Errorf("executionID = %q, want exec-1", executionID)
	}

	stored, err := store.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Status != document.StatusRunning {
		t.Errorf("Status = %q, want %q", stored.Status, document.StatusRunning)
	}
	if stored.ExecutionID != "exec-1" {
		t.Errorf("ExecutionID = %q, want exec-1", stored.ExecutionID)
	}
	if stored.StartedAt == nil {
		t.Error("StartedAt = nil, want admission timestamp")
	}

	active, err := counter.Active(ctx)
	if err != nil {
		t.Fatalf("Active returned error: %v", err)
	}
	if active != 1 {
		t.Errorf("Active = %d, want 1 while execution runs", active)
	}
}

func TestAdmitDeniedAtCapacity(t *testing.T) {
	ctx := context.Background()
	counter := testCounter(t, 1)
	eng := &fakeEngine{}
	doc := queuedDocument("doc-1")
	store := newMemoryStore(doc)
	cdc := codec.New(nullStorage{}, 1<<20, testLogger())
	controller := admission.NewController(counter, eng, store, cdc, testLogger())

	if err := counter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	_, err := controller.Admit(ctx, queuedEnvelope(t, cdc, doc))
	if !errors.Is(err, admission.ErrAtCapacity) {
		t.Fatalf("Admit error = %v, want ErrAtCapacity", err)
	}
	if len(eng.started) != 0 {
		t.Errorf("started executions = %v, want none while denied", eng.started)
	}

	active, err := counter.Active(ctx)
	if err != nil {
		t.Fatalf("Active returned error: %v", err)
	}
	if active != 1 {
		t.Errorf("Active = %d, want 1 after denial", active)
	}
}

func TestAdmitCompensatesFailedStart(t *testing.T) {
	ctx := context.Background()
	counter := testCounter(t, 2)
	eng := &fakeEngine{startErr: errors.New("engine unavailable")}
	doc := queuedDocument("doc-1")
	store := newMemoryStore(doc)
	cdc := codec.New(nullStorage{}, 1<<20, testLogger())
	controller := admission.NewController(counter, eng, store, cdc, testLogger())

	before, err := counter.Active(ctx)
	if err != nil {
		t.Fatalf("Active returned error: %v", err)
	}

	if _, err := controller.Admit(ctx, queuedEnvelope(t, cdc, doc)); err == nil {
		t.Fatal("Admit returned no error with a failing engine")
	}

	// The claimed slot must be released so a failed start never leaks
	// admission capacity.
	after, err := counter.Active(ctx)
	if err != nil {
		t.Fatalf("Active returned error: %v", err)
	}
	if after != before {
		t.Errorf("Active = %d after failed start, want pre-attempt %d", after, before)
	}

	stored, err := store.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Status != document.StatusQueued {
		t.Errorf("Status = %q, want %q after failed start", stored.Status, document.StatusQueued)
	}
}
