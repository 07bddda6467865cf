package docstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/pkg/pagination"
	"github.com/JaimeStill/conveyor/pkg/query"
	"github.com/JaimeStill/conveyor/pkg/repository"
)

// ListShards is the number of shards chronological list records spread
// across, matching the write pattern of high-volume ingestion days.
const ListShards = 8

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a document store implementing the System interface.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "docstore"),
		pagination: pagination,
	}
}

func (r *repo) Create(ctx context.Context, doc *document.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	state, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.ID, err)
	}

	_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		q := `
			INSERT INTO documents(id, status, hitl_status, execution_id, page_count, section_count, queued_at, started_at, completed_at, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

		if _, err := tx.ExecContext(ctx, q, recordArgs(doc, state)...); err != nil {
			return struct{}{}, err
		}

		if err := writeListRecord(ctx, tx, doc); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, nil
	})

	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document record created", "id", doc.ID, "status", doc.Status)
	return nil
}

func (r *repo) Get(ctx context.Context, id string) (*document.Document, error) {
	var state []byte
	err := r.db.
		QueryRowContext(ctx, "SELECT state FROM documents WHERE id = $1", id).
		Scan(&state)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	var doc document.Document
	if err := json.Unmarshal(state, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document %s: %w", id, err)
	}
	return &doc, nil
}

// mutateAttempts bounds retries of a mutation transaction that loses a
// serialization conflict.
const mutateAttempts = 3

func (r *repo) Mutate(ctx context.Context, id string, fn MutateFunc) (*document.Document, error) {
	var doc *document.Document
	var err error
	for attempt := 1; attempt <= mutateAttempts; attempt++ {
		doc, err = r.mutateOnce(ctx, id, fn)
		if err == nil || !repository.IsSerializationFailure(err) {
			break
		}
		r.logger.Warn("document mutation serialization conflict", "id", id, "attempt", attempt)
	}

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return doc, nil
}

func (r *repo) mutateOnce(ctx context.Context, id string, fn MutateFunc) (*document.Document, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) (*document.Document, error) {
		var state []byte
		err := tx.
			QueryRowContext(ctx, "SELECT state FROM documents WHERE id = $1 FOR UPDATE", id).
			Scan(&state)
		if err != nil {
			return nil, err
		}

		var doc document.Document
		if err := json.Unmarshal(state, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document %s: %w", id, err)
		}

		before := doc.QueuedAt

		if err := fn(&doc); err != nil {
			return nil, err
		}

		if err := doc.Validate(); err != nil {
			return nil, err
		}

		updated, err := json.Marshal(&doc)
		if err != nil {
			return nil, fmt.Errorf("marshal document %s: %w", id, err)
		}

		q := `
			UPDATE documents
			SET status = $2, hitl_status = $3, execution_id = $4, page_count = $5,
			    section_count = $6, queued_at = $7, started_at = $8, completed_at = $9,
			    state = $10, updated_at = now()
			WHERE id = $1`

		if _, err := tx.ExecContext(ctx, q, recordArgs(&doc, updated)...); err != nil {
			return nil, err
		}

		if queueTimeChanged(before, doc.QueuedAt) {
			if err := rewriteListRecord(ctx, tx, &doc); err != nil {
				return nil, err
			}
		}

		return &doc, nil
	})
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Record], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "ID", "ExecutionID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	records, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	result := pagination.NewPageResult(records, total, page.Page, page.PageSize)
	return &result, nil
}

// ListShard maps a document id onto a stable shard ordinal for its
// chronological list record.
func ListShard(documentID string) int {
	sum := sha256.Sum256([]byte(documentID))
	return int(binary.BigEndian.Uint32(sum[:4]) % ListShards)
}

func recordArgs(doc *document.Document, state []byte) []any {
	return []any{
		doc.ID,
		string(doc.Status),
		string(doc.HitlStatus),
		doc.ExecutionID,
		len(doc.Pages),
		len(doc.Sections),
		doc.QueuedAt,
		doc.StartedAt,
		doc.CompletedAt,
		state,
	}
}

func writeListRecord(ctx context.Context, tx *sql.Tx, doc *document.Document) error {
	if doc.QueuedAt == nil {
		return nil
	}

	q := `
		INSERT INTO document_list(list_date, shard, document_id, queued_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (list_date, shard, document_id)
		DO UPDATE SET queued_at = EXCLUDED.queued_at`

	_, err := tx.ExecContext(
		ctx, q,
		doc.QueuedAt.UTC().Format("2006-01-02"),
		ListShard(doc.ID),
		doc.ID,
		doc.QueuedAt,
	)
	return err
}

func rewriteListRecord(ctx context.Context, tx *sql.Tx, doc *document.Document) error {
	if _, err := tx.ExecContext(
		ctx,
		"DELETE FROM document_list WHERE document_id = $1",
		doc.ID,
	); err != nil {
		return err
	}
	return writeListRecord(ctx, tx, doc)
}

func queueTimeChanged(before, after *time.Time) bool {
	if before == nil || after == nil {
		return before != after
	}
	return !before.Equal(*after)
}
