// Package ingest accepts source PDFs: the original and its per-page
// splits land in blob storage, the document record is created, and an
// admission message is enqueued.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/queue"
	"github.com/JaimeStill/conveyor/pkg/storage"
)

// ingestStageTag tags serialized state enqueued at ingestion.
const ingestStageTag = "ingested"

// Command carries one uploaded source document.
type Command struct {
	Data        []byte
	Filename    string
	ContentType string
}

// System defines the ingestion contract.
type System interface {
	// Ingest stores the source and its page splits, creates the document
	// record, and enqueues it for admission.
	Ingest(ctx context.Context, cmd Command) (*document.Document, error)
}

type service struct {
	store   docstore.System
	storage storage.System
	queue   queue.System
	codec   *codec.Codec
	logger  *slog.Logger
}

// New creates an ingestion service.
func New(
	store docstore.System,
	blob storage.System,
	q queue.System,
	cdc *codec.Codec,
	logger *slog.Logger,
) System {
	return &service{
		store:   store,
		storage: blob,
		queue:   q,
		codec:   cdc,
		logger:  logger.With("system", "ingest"),
	}
}

func (s *service) Ingest(ctx context.Context, cmd Command) (*document.Document, error) {
	if len(cmd.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if cmd.Filename == "" {
		return nil, ErrMissingFilename
	}

	contentType := detectContentType(cmd.ContentType, cmd.Data)
	if contentType != "application/pdf" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	pageCount, err := api.PageCount(bytes.NewReader(cmd.Data), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	id := uuid.NewString()
	inputKey := fmt.Sprintf("inbox/%s/%s", id, sanitizeFilename(cmd.Filename))
	outputPrefix := "documents/" + id

	if err := storage.UploadBytes(ctx, s.storage, inputKey, cmd.Data, contentType); err != nil {
		return nil, fmt.Errorf("store source %s: %w", inputKey, err)
	}
	uploaded := []string{inputKey}

	pages, pageKeys, err := s.splitPages(ctx, cmd.Data, outputPrefix, pageCount)
	if err != nil {
		s.cleanup(ctx, uploaded)
		return nil, err
	}
	uploaded = append(uploaded, pageKeys...)

	now := time.Now().UTC()
	doc := document.New(id, inputKey, outputPrefix, now)
	doc.Pages = pages

	if err := s.store.Create(ctx, doc); err != nil {
		s.cleanup(ctx, uploaded)
		return nil, err
	}

	if err := s.enqueue(ctx, doc); err != nil {
		// The record exists and stays QUEUED; the recovery controller can
		// requeue it without reingesting.
		s.logger.Error("failed to enqueue ingested document", "id", id, "error", err)
		return doc, err
	}

	s.logger.Info(
		"document ingested",
		"id", id,
		"filename", cmd.Filename,
		"pages", pageCount,
		"bytes", len(cmd.Data),
	)
	return doc, nil
}

// splitPages writes the source to a scratch directory, splits it into
// single-page PDFs, and uploads the pages in parallel.
func (s *service) splitPages(
	ctx context.Context,
	data []byte,
	outputPrefix string,
	pageCount int,
) (map[int]document.Page, []string, error) {
	tempDir, err := os.MkdirTemp("", "conveyor-ingest-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	source := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(source, data, 0o600); err != nil {
		return nil, nil, fmt.Errorf("write scratch source: %w", err)
	}

	if err := api.SplitFile(source, tempDir, 1, nil); err != nil {
		return nil, nil, fmt.Errorf("%w: split: %v", ErrInvalidPDF, err)
	}

	pages := make(map[int]document.Page, pageCount)
	keys := make([]string, pageCount)

	g, gctx := errgroup.WithContext(ctx)
	for n := 1; n <= pageCount; n++ {
		key := fmt.Sprintf("%s/pages/%d.pdf", outputPrefix, n)
		pages[n] = document.Page{ID: n, ImageKey: key}
		keys[n-1] = key

		g.Go(func() error {
			pageData, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("source_%d.pdf", n)))
			if err != nil {
				return fmt.Errorf("read split page %d: %w", n, err)
			}
			if err := storage.UploadBytes(gctx, s.storage, key, pageData, "application/pdf"); err != nil {
				return fmt.Errorf("store page %d: %w", n, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, keys, err
	}
	return pages, keys, nil
}

func (s *service) enqueue(ctx context.Context, doc *document.Document) error {
	env, err := s.codec.Serialize(ctx, doc, ingestStageTag)
	if err != nil {
		return err
	}

	body, err := env.Encode()
	if err != nil {
		return err
	}

	return s.queue.Enqueue(ctx, queue.EventIngest, body)
}

// cleanup removes uploaded blobs after a failed ingestion, best effort.
func (s *service) cleanup(ctx context.Context, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to remove blob during cleanup", "key", key, "error", err)
		}
	}
}

func detectContentType(header string, data []byte) string {
	header = strings.TrimSpace(header)
	if header != "" && header != "application/octet-stream" {
		return header
	}
	return http.DetectContentType(data)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '-'
	}, name)
}
