// Package codec serializes the Document aggregate for transport between
// pipeline invocations, transparently externalizing oversized payloads to
// blob storage and rehydrating pointer envelopes back to full documents.
package codec

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/pkg/storage"
)

var (
	// ErrStateMissing indicates an external envelope references a blob
	// that no longer exists. Loading must fail rather than fall back to
	// an empty document.
	ErrStateMissing = errors.New("externalized document state missing")
	// ErrEmptyEnvelope indicates an envelope carrying neither an inline
	// document nor a location.
	ErrEmptyEnvelope = errors.New("envelope carries no document state")
	// ErrUnknownKind indicates an envelope with an unrecognized kind tag.
	ErrUnknownKind = errors.New("unknown envelope kind")
)

// Kind tags the two envelope shapes. The codec branches exhaustively on
// the tag; payload shape is never inferred from field presence.
type Kind string

const (
	// KindInline carries the full document in the envelope body.
	KindInline Kind = "inline"
	// KindExternal carries a blob storage location holding the compressed
	// document state.
	KindExternal Kind = "external"
)

// Envelope is the wire form of a Document: either the inline aggregate or
// a pointer to externalized state.
type Envelope struct {
	Kind     Kind               `json:"kind"`
	Document *document.Document `json:"document,omitempty"`
	Location string             `json:"location,omitempty"`
}

// Codec serializes and loads Document envelopes against a blob store.
type Codec struct {
	storage   storage.System
	threshold int64
	logger    *slog.Logger
}

// New creates a Codec. Documents whose serialized form exceeds threshold
// bytes are externalized; a threshold of zero externalizes everything.
func New(store storage.System, threshold int64, logger *slog.Logger) *Codec {
	return &Codec{
		storage:   store,
		threshold: threshold,
		logger:    logger.With("system", "codec"),
	}
}

// StateKey returns the deterministic blob key for a document's
// externalized state at the given stage tag. Repeated serialization at
// the same stage overwrites the same blob.
func StateKey(documentID, stageTag string) string {
	return fmt.Sprintf("state/%s/%s.json.gz", documentID, stageTag)
}

// Serialize converts a Document into an Envelope. If the serialized
// document exceeds the threshold, the full state is gzip-compressed and
// written to blob storage, and a pointer envelope is returned instead.
func (c *Codec) Serialize(ctx context.Context, doc *document.Document, stageTag string) (Envelope, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal document %s: %w", doc.ID, err)
	}

	if int64(len(data)) <= c.threshold {
		return Envelope{Kind: KindInline, Document: doc}, nil
	}

	key := StateKey(doc.ID, stageTag)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return Envelope{}, fmt.Errorf("compress document %s: %w", doc.ID, err)
	}
	if err := zw.Close(); err != nil {
		return Envelope{}, fmt.Errorf("compress document %s: %w", doc.ID, err)
	}

	if err := storage.UploadBytes(ctx, c.storage, key, buf.Bytes(), "application/gzip"); err != nil {
		return Envelope{}, fmt.Errorf("externalize document %s: %w", doc.ID, err)
	}

	c.logger.Debug(
		"document state externalized",
		"document", doc.ID,
		"key", key,
		"inline_bytes", len(data),
		"stored_bytes", buf.Len(),
	)

	return Envelope{Kind: KindExternal, Location: key}, nil
}

// Load resolves an Envelope back to a fully deserialized Document. A
// missing external blob is fatal: silent loss would corrupt pipeline
// state downstream.
func (c *Codec) Load(ctx context.Context, env Envelope) (*document.Document, error) {
	switch env.Kind {
	case KindInline:
		if env.Document == nil {
			return nil, ErrEmptyEnvelope
		}
		return env.Document, nil

	case KindExternal:
		if env.Location == "" {
			return nil, ErrEmptyEnvelope
		}

		data, err := storage.DownloadBytes(ctx, c.storage, env.Location)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrStateMissing, env.Location)
			}
			return nil, fmt.Errorf("fetch externalized state %s: %w", env.Location, err)
		}

		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress state %s: %w", env.Location, err)
		}
		defer zr.Close()

		raw, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompress state %s: %w", env.Location, err)
		}

		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal state %s: %w", env.Location, err)
		}
		return &doc, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

// Decode parses an Envelope from raw JSON, typically a queue message body
// or workflow invocation input.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing kind tag", ErrUnknownKind)
	}
	return env, nil
}

// Encode renders an Envelope as JSON for queue and workflow transport.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
