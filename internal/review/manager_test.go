package review_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/engine"
	"github.com/JaimeStill/conveyor/internal/review"
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

// memoryTokens is an in-memory review.Store with the same conditional
// resolve semantics as the SQL implementation.
type memoryTokens struct {
	tokens map[string]*review.Token
	order  []string
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: make(map[string]*review.Token)}
}

func (s *memoryTokens) Issue(_ context.Context, tokens []review.Token) error {
	for i := range tokens {
		token := tokens[i]
		s.tokens[token.ID] = &token
		s.order = append(s.order, token.ID)
	}
	return nil
}

func (s *memoryTokens) Get(_ context.Context, id string) (*review.Token, error) {
	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", review.ErrTokenNotFound, id)
	}
	out := *token
	return &out, nil
}

func (s *memoryTokens) ListByDocument(_ context.Context, documentID string) ([]review.Token, error) {
	var out []review.Token
	for _, id := range s.order {
		if s.tokens[id].DocumentID == documentID {
			out = append(out, *s.tokens[id])
		}
	}
	return out, nil
}

func (s *memoryTokens) ListWaiting(context.Context, pagination.PageRequest) (*pagination.PageResult[review.Token], error) {
	return &pagination.PageResult[review.Token]{}, nil
}

func (s *memoryTokens) Resolve(_ context.Context, id, by string) (*review.Token, error) {
	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", review.ErrTokenNotFound, id)
	}
	now := time.Now().UTC()
	if token.Expired(now) && token.Status == review.StatusWaiting {
		return nil, fmt.Errorf("%w: %s", review.ErrTokenExpired, id)
	}
	if token.Status != review.StatusWaiting {
		return nil, fmt.Errorf("%w: %s", review.ErrAlreadyResolved, id)
	}
	token.Status = review.StatusResolved
	token.ResolvedAt = &now
	token.ResolvedBy = by
	out := *token
	return &out, nil
}

func (s *memoryTokens) ResolveSectionTokens(_ context.Context, documentID, sectionID, by string) error {
	now := time.Now().UTC()
	for _, token := range s.tokens {
		if token.DocumentID == documentID && token.SectionID == sectionID &&
			token.Kind != review.KindDocument && token.Status == review.StatusWaiting {
			token.Status = review.StatusResolved
			token.ResolvedAt = &now
			token.ResolvedBy = by
		}
	}
	return nil
}

func (s *memoryTokens) ResolveAllWaiting(_ context.Context, documentID, by string) error {
	now := time.Now().UTC()
	for _, token := range s.tokens {
		if token.DocumentID == documentID && token.Kind != review.KindDocument &&
			token.Status == review.StatusWaiting {
			token.Status = review.StatusResolved
			token.ResolvedAt = &now
			token.ResolvedBy = by
		}
	}
	return nil
}

func (s *memoryTokens) CountWaiting(_ context.Context, documentID, sectionID string, kind review.Kind) (int, error) {
	var n int
	for _, token := range s.tokens {
		if token.DocumentID == documentID && token.SectionID == sectionID &&
			token.Kind == kind && token.Status == review.StatusWaiting {
			n++
		}
	}
	return n, nil
}

func (s *memoryTokens) DocumentToken(_ context.Context, documentID string) (*review.Token, error) {
	for _, token := range s.tokens {
		if token.DocumentID == documentID && token.Kind == review.KindDocument &&
			token.Status == review.StatusWaiting {
			out := *token
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: no waiting document token for %s", review.ErrTokenNotFound, documentID)
}

// fakeEngine records signal calls.
type fakeEngine struct {
	signals   []string
	envelopes []codec.Envelope
	signalErr error
}

func (e *fakeEngine) Start(context.Context, codec.Envelope) (string, error) { return "exec-1", nil }

func (e *fakeEngine) Signal(_ context.Context, token string, env codec.Envelope) error {
	e.signals = append(e.signals, token)
	e.envelopes = append(e.envelopes, env)
	return e.signalErr
}

func (e *fakeEngine) Cancel(context.Context, string) error { return nil }

func (e *fakeEngine) Describe(context.Context, string) (engine.ExecutionState, error) {
	return engine.ExecutionRunning, nil
}

// nullStorage satisfies storage.System; the inline threshold keeps the
// codec from ever touching it.
type nullStorage struct{}

func (nullStorage) Start(*lifecycle.Coordinator) error { return nil }
func (nullStorage) Upload(context.Context, string, io.Reader, string) error {
	return errors.New("unexpected upload")
}
func (nullStorage) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), storage.ErrNotFound
}
func (nullStorage) Delete(context.Context, string) error        { return nil }
func (nullStorage) Exists(context.Context, string) (bool, error) { return false, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func flaggedDocument() *document.Document {
	queued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := document.New("doc-1", "inbox/doc-1/report.pdf", "documents/doc-1", queued)
	doc.Status = document.StatusRunning
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
	doc.HitlTriggered = true
	doc.HitlStatus = document.HitlPendingReview
	doc.HitlSectionsPending = []string{"1", "2"}
	doc.HitlMetadata = []document.HitlMetadata{
		{ExecutionID: "exec-1", SectionID: "1", RecordNumber: 1, Triggered: true, PageIDs: []int{1, 2}},
		{ExecutionID: "exec-1", SectionID: "2", RecordNumber: 2, Triggered: true, PageIDs: []int{3}},
	}
	return doc
}

func testManager(t *testing.T, doc *document.Document) (*review.Manager, *memoryStore, *memoryTokens, *fakeEngine) {
	t.Helper()

	store := newMemoryStore(doc)
	tokens := newMemoryTokens()
	eng := &fakeEngine{}
	cdc := codec.New(nullStorage{}, 1<<20, testLogger())

	manager := review.NewManager(store, tokens, eng, cdc, 0, testLogger())
	return manager, store, tokens, eng
}

func TestSuspendIssuesTokenHierarchy(t *testing.T) {
	manager, store, tokens, _ := testManager(t, flaggedDocument())
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	doc, _ := store.Get(ctx, "doc-1")
	if doc.Status != document.StatusPendingReview {
		t.Errorf("Status = %q, want PENDING_REVIEW", doc.Status)
	}

	issued, err := manager.List(ctx, "doc-1")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	var docTokens, sectionTokens, pageTokens int
	for _, token := range issued {
		switch token.Kind {
		case review.KindDocument:
			docTokens++
			if token.ID != "cont-1" {
				t.Errorf("document token ID = %q, want continuation token", token.ID)
			}
		case review.KindSection:
			sectionTokens++
		case review.KindPage:
			pageTokens++
		}
		if token.Status != review.StatusWaiting {
			t.Errorf("token %s status = %q, want WAITING", token.ID, token.Status)
		}
	}
	if docTokens != 1 || sectionTokens != 2 || pageTokens != 3 {
		t.Errorf("token counts = %d/%d/%d, want 1 document, 2 section, 3 page",
			docTokens, sectionTokens, pageTokens)
	}

	if _, err := tokens.DocumentToken(ctx, "doc-1"); err != nil {
		t.Errorf("DocumentToken returned error: %v", err)
	}
}

func TestSuspendRequiresPendingSections(t *testing.T) {
	doc := flaggedDocument()
	doc.HitlSectionsPending = nil
	manager, _, _, _ := testManager(t, doc)

	err := manager.Suspend(context.Background(), "doc-1", "exec-1", "cont-1")
	if !errors.Is(err, review.ErrNotPendingReview) {
		t.Errorf("Suspend error = %v, want ErrNotPendingReview", err)
	}
}

func TestResolveDocumentTokenRejected(t *testing.T) {
	manager, _, _, _ := testManager(t, flaggedDocument())
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	err := manager.Resolve(ctx, "cont-1", "reviewer@example.com", nil)
	if !errors.Is(err, review.ErrDocumentScoped) {
		t.Errorf("Resolve error = %v, want ErrDocumentScoped", err)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	manager, _, _, _ := testManager(t, flaggedDocument())
	err := manager.Resolve(context.Background(), "missing", "reviewer@example.com", nil)
	if !errors.Is(err, review.ErrTokenNotFound) {
		t.Errorf("Resolve error = %v, want ErrTokenNotFound", err)
	}
}

func TestPageTokensCascadeToSection(t *testing.T) {
	manager, store, _, eng := testManager(t, flaggedDocument())
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	issued, _ := manager.List(ctx, "doc-1")
	var sectionOnePages []string
	for _, token := range issued {
		if token.Kind == review.KindPage && token.SectionID == "1" {
			sectionOnePages = append(sectionOnePages, token.ID)
		}
	}
	if len(sectionOnePages) != 2 {
		t.Fatalf("section 1 page tokens = %d, want 2", len(sectionOnePages))
	}

	if err := manager.Resolve(ctx, sectionOnePages[0], "reviewer@example.com", nil); err != nil {
		t.Fatalf("first page Resolve returned error: %v", err)
	}

	doc, _ := store.Get(ctx, "doc-1")
	if len(doc.HitlSectionsCompleted) != 0 {
		t.Error("section completed before all page tokens resolved")
	}

	if err := manager.Resolve(ctx, sectionOnePages[1], "reviewer@example.com", nil); err != nil {
		t.Fatalf("second page Resolve returned error: %v", err)
	}

	doc, _ = store.Get(ctx, "doc-1")
	if len(doc.HitlSectionsCompleted) != 1 || doc.HitlSectionsCompleted[0] != "1" {
		t.Errorf("HitlSectionsCompleted = %v, want [1]", doc.HitlSectionsCompleted)
	}
	if len(doc.HitlSectionsPending) != 1 || doc.HitlSectionsPending[0] != "2" {
		t.Errorf("HitlSectionsPending = %v, want [2]", doc.HitlSectionsPending)
	}
	if doc.HitlStatus != document.HitlPendingReview {
		t.Errorf("HitlStatus = %q, want PendingReview while section 2 outstanding", doc.HitlStatus)
	}
	if len(eng.signals) != 0 {
		t.Errorf("engine signaled with sections still pending: %v", eng.signals)
	}
}

func TestLastSectionResumesExactlyOnce(t *testing.T) {
	manager, store, tokens, eng := testManager(t, flaggedDocument())
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	issued, _ := manager.List(ctx, "doc-1")
	var sectionTokens []string
	for _, token := range issued {
		if token.Kind == review.KindSection {
			sectionTokens = append(sectionTokens, token.ID)
		}
	}

	for _, id := range sectionTokens {
		if err := manager.Resolve(ctx, id, "reviewer@example.com", nil); err != nil {
			t.Fatalf("Resolve(%s) returned error: %v", id, err)
		}
	}

	doc, _ := store.Get(ctx, "doc-1")
	if doc.HitlStatus != document.HitlCompleted {
		t.Errorf("HitlStatus = %q, want Completed", doc.HitlStatus)
	}
	for i := range doc.HitlMetadata {
		if !doc.HitlMetadata[i].Completed {
			t.Errorf("metadata record %d not marked completed", i)
		}
	}

	if len(eng.signals) != 1 || eng.signals[0] != "cont-1" {
		t.Fatalf("signals = %v, want exactly one on cont-1", eng.signals)
	}

	// The continuation token resolved as part of the resume gate.
	cont, err := tokens.Get(ctx, "cont-1")
	if err != nil {
		t.Fatalf("Get(cont-1) returned error: %v", err)
	}
	if cont.Status != review.StatusResolved || cont.ResolvedBy != "system:resume" {
		t.Errorf("continuation token = %+v, want resolved by system:resume", cont)
	}
}

func TestResolveAppliesSectionEdit(t *testing.T) {
	manager, store, _, eng := testManager(t, flaggedDocument())
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	issued, _ := manager.List(ctx, "doc-1")
	sectionTokens := make(map[string]string)
	for _, token := range issued {
		if token.Kind == review.KindSection {
			sectionTokens[token.SectionID] = token.ID
		}
	}

	edit := &review.SectionEdit{
		Classification: "Receipt",
		Attributes:     map[string]string{"total": "41.50"},
	}
	if err := manager.Resolve(ctx, sectionTokens["1"], "reviewer@example.com", edit); err != nil {
		t.Fatalf("Resolve with edit returned error: %v", err)
	}

	doc, _ := store.Get(ctx, "doc-1")
	section, err := doc.Section("1")
	if err != nil {
		t.Fatalf("Section(1) returned error: %v", err)
	}
	if section.Classification != "Receipt" {
		t.Errorf("Classification = %q, want edited Receipt", section.Classification)
	}
	if section.Attributes["total"] != "41.50" {
		t.Errorf("Attributes[total] = %q, want edited 41.50", section.Attributes["total"])
	}

	// The resume serialization must carry the edits forward.
	if err := manager.Resolve(ctx, sectionTokens["2"], "reviewer@example.com", nil); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(eng.envelopes) != 1 {
		t.Fatalf("signalled envelopes = %d, want 1", len(eng.envelopes))
	}
	resumed := eng.envelopes[0].Document
	if resumed == nil {
		t.Fatal("signalled envelope has no inline document")
	}
	edited, err := resumed.Section("1")
	if err != nil {
		t.Fatalf("resumed Section(1) returned error: %v", err)
	}
	if edited.Classification != "Receipt" || edited.Attributes["total"] != "41.50" {
		t.Errorf("resumed section = %+v, want reviewer edits applied", edited)
	}
}

func TestResolveResolvedTokenFails(t *testing.T) {
	manager, _, _, _ := testManager(t, flaggedDocument())
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	issued, _ := manager.List(ctx, "doc-1")
	var sectionToken string
	for _, token := range issued {
		if token.Kind == review.KindSection && token.SectionID == "1" {
			sectionToken = token.ID
		}
	}

	if err := manager.Resolve(ctx, sectionToken, "reviewer@example.com", nil); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if err := manager.Resolve(ctx, sectionToken, "second@example.com", nil); !errors.Is(err, review.ErrAlreadyResolved) {
		t.Errorf("second Resolve error = %v, want ErrAlreadyResolved", err)
	}
}

func TestResumeToleratesFinishedExecution(t *testing.T) {
	manager, _, _, eng := testManager(t, flaggedDocument())
	eng.signalErr = engine.ErrNotSuspended
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	if err := manager.Skip(ctx, "doc-1", "operator@example.com"); err != nil {
		t.Errorf("Skip returned error: %v, want tolerated stale signal", err)
	}
}

func TestSkipConcludesReview(t *testing.T) {
	manager, store, tokens, eng := testManager(t, flaggedDocument())
	ctx := context.Background()

	if err := manager.Suspend(ctx, "doc-1", "exec-1", "cont-1"); err != nil {
		t.Fatalf("Suspend returned error: %v", err)
	}

	if err := manager.Skip(ctx, "doc-1", "operator@example.com"); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}

	doc, _ := store.Get(ctx, "doc-1")
	if doc.HitlStatus != document.HitlSkipped {
		t.Errorf("HitlStatus = %q, want Skipped", doc.HitlStatus)
	}
	if len(doc.HitlSectionsPending) != 0 {
		t.Errorf("HitlSectionsPending = %v, want empty", doc.HitlSectionsPending)
	}
	if len(eng.signals) != 1 {
		t.Errorf("signals = %v, want exactly one resume", eng.signals)
	}

	issued, _ := tokens.ListByDocument(ctx, "doc-1")
	for _, token := range issued {
		if token.Status != review.StatusResolved {
			t.Errorf("token %s (%s) status = %q, want resolved after skip", token.ID, token.Kind, token.Status)
		}
	}

	if err := manager.Skip(ctx, "doc-1", "operator@example.com"); !errors.Is(err, review.ErrNotPendingReview) {
		t.Errorf("second Skip error = %v, want ErrNotPendingReview", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	manager, _, tokens, _ := testManager(t, flaggedDocument())
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Hour)
	issued := time.Now().UTC().Add(-2 * time.Hour)
	if err := tokens.Issue(ctx, []review.Token{{
		ID:          "stale",
		DocumentID:  "doc-1",
		ExecutionID: "exec-1",
		Kind:        review.KindSection,
		SectionID:   "1",
		Status:      review.StatusWaiting,
		IssuedAt:    issued,
		ExpiresAt:   &expired,
	}}); err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	err := manager.Resolve(ctx, "stale", "reviewer@example.com", nil)
	if !errors.Is(err, review.ErrTokenExpired) {
		t.Errorf("Resolve error = %v, want ErrTokenExpired", err)
	}
}
