package ingest_test

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
	"github.com/JaimeStill/conveyor/internal/ingest"
	"github.com/JaimeStill/conveyor/internal/queue"
	"github.com/JaimeStill/conveyor/pkg/lifecycle"
	"github.com/JaimeStill/conveyor/pkg/pagination"
	"github.com/JaimeStill/conveyor/pkg/storage"
)

type memoryStore struct {
	docs map[string]*document.Document
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]*document.Document)}
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

type memoryStorage struct {
	blobs map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{blobs: make(map[string][]byte)}
}

func (m *memoryStorage) Start(*lifecycle.Coordinator) error { return nil }

func (m *memoryStorage) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.blobs[key] = data
	return nil
}

func (m *memoryStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) Delete(_ context.Context, key string) error {
	delete(m.blobs, key)
	return nil
}

func (m *memoryStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.blobs[key]
	return ok, nil
}

type fakeQueue struct {
	events []queue.Event
}

func (q *fakeQueue) Enqueue(_ context.Context, event queue.Event, _ []byte) error {
	q.events = append(q.events, event)
	return nil
}

func (q *fakeQueue) Dequeue(context.Context, time.Duration) (*queue.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Ack(context.Context, *queue.Message) error { return nil }

func testService() ingest.System {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blob := newMemoryStorage()
	cdc := codec.New(blob, 1<<20, logger)
	return ingest.New(newMemoryStore(), blob, &fakeQueue{}, cdc, logger)
}

func TestIngestRejectsInvalidUploads(t *testing.T) {
	tests := []struct {
		name string
		cmd  ingest.Command
		want error
	}{
		{
			name: "empty payload",
			cmd:  ingest.Command{Filename: "report.pdf"},
			want: ingest.ErrEmptyFile,
		},
		{
			name: "missing filename",
			cmd:  ingest.Command{Data: []byte("%PDF-1.4")},
			want: ingest.ErrMissingFilename,
		},
		{
			name: "declared non-pdf type",
			cmd: ingest.Command{
				Data:        []byte("hello world, this is not a pdf at all"),
				Filename:    "notes.txt",
				ContentType: "text/plain",
			},
			want: ingest.ErrUnsupportedType,
		},
		{
			name: "sniffed non-pdf content",
			cmd: ingest.Command{
				Data:     []byte("<html><body>invoice</body></html>"),
				Filename: "invoice.html",
			},
			want: ingest.ErrUnsupportedType,
		},
		{
			name: "corrupt pdf payload",
			cmd: ingest.Command{
				Data:        []byte("%PDF-1.4 this header fools the sniffer but parses as garbage"),
				Filename:    "broken.pdf",
				ContentType: "application/pdf",
			},
			want: ingest.ErrInvalidPDF,
		},
	}

	sys := testService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sys.Ingest(context.Background(), tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Errorf("Ingest error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIngestOctetStreamFallsBackToSniffing(t *testing.T) {
	sys := testService()

	// Browsers often send application/octet-stream for drag-and-drop
	// uploads; the sniffed type decides.
	_, err := sys.Ingest(context.Background(), ingest.Command{
		Data:        []byte("plain text payload, nothing pdf about it"),
		Filename:    "notes.bin",
		ContentType: "application/octet-stream",
	})
	if !errors.Is(err, ingest.ErrUnsupportedType) {
		t.Errorf("Ingest error = %v, want ErrUnsupportedType", err)
	}
}
