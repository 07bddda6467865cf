package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/conveyor/pkg/pagination"
	"github.com/JaimeStill/conveyor/pkg/query"
	"github.com/JaimeStill/conveyor/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "review_tokens", "t").
	Project("id", "ID").
	Project("document_id", "DocumentID").
	Project("execution_id", "ExecutionID").
	Project("kind", "Kind").
	Project("section_id", "SectionID").
	Project("page_id", "PageID").
	Project("status", "Status").
	Project("issued_at", "IssuedAt").
	Project("expires_at", "ExpiresAt").
	Project("resolved_at", "ResolvedAt").
	Project("resolved_by", "ResolvedBy")

var defaultSort = query.SortField{Field: "IssuedAt", Descending: false}

type tokenRepo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// NewStore creates a continuation token store backed by Postgres.
func NewStore(db *sql.DB, logger *slog.Logger, pagination pagination.Config) Store {
	return &tokenRepo{
		db:         db,
		logger:     logger.With("system", "review"),
		pagination: pagination,
	}
}

func (r *tokenRepo) Issue(ctx context.Context, tokens []Token) error {
	if len(tokens) == 0 {
		return nil
	}

	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		q := `
			INSERT INTO review_tokens(id, document_id, execution_id, kind, section_id, page_id, status, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		for _, t := range tokens {
			_, err := tx.ExecContext(
				ctx, q,
				t.ID, t.DocumentID, t.ExecutionID, string(t.Kind),
				t.SectionID, t.PageID, string(t.Status),
				t.IssuedAt, t.ExpiresAt,
			)
			if err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})

	if err != nil {
		return fmt.Errorf("issue review tokens: %w", err)
	}

	r.logger.Info(
		"review tokens issued",
		"document", tokens[0].DocumentID,
		"count", len(tokens),
	)
	return nil
}

func (r *tokenRepo) Get(ctx context.Context, id string) (*Token, error) {
	stmt, args := query.NewBuilder(projection).BuildSingle("ID", id)

	token, err := repository.QueryOne(ctx, r.db, stmt, args, scanToken)
	if err != nil {
		return nil, repository.MapError(err, ErrTokenNotFound, ErrAlreadyResolved)
	}
	return &token, nil
}

func (r *tokenRepo) ListByDocument(ctx context.Context, documentID string) ([]Token, error) {
	stmt, args := query.
		NewBuilder(projection, query.SortField{Field: "IssuedAt", Descending: true}).
		WhereEquals("DocumentID", documentID).
		Build()

	tokens, err := repository.QueryMany(ctx, r.db, stmt, args, scanToken)
	if err != nil {
		return nil, fmt.Errorf("list tokens for %s: %w", documentID, err)
	}
	return tokens, nil
}

func (r *tokenRepo) ListWaiting(
	ctx context.Context,
	page pagination.PageRequest,
) (*pagination.PageResult[Token], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereEquals("Status", string(StatusWaiting)).
		WhereIn("Kind", []any{string(KindSection), string(KindPage)}).
		WhereSearch(page.Search, "DocumentID", "SectionID")

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count waiting tokens: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	tokens, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanToken)
	if err != nil {
		return nil, fmt.Errorf("query waiting tokens: %w", err)
	}

	result := pagination.NewPageResult(tokens, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *tokenRepo) Resolve(ctx context.Context, id, by string) (*Token, error) {
	q := `
		UPDATE review_tokens
		SET status = $2, resolved_at = now(), resolved_by = $3
		WHERE id = $1 AND status = $4
		  AND (expires_at IS NULL OR expires_at > now())`

	err := repository.ExecExpectOne(
		ctx, r.db, q,
		id, string(StatusResolved), by, string(StatusWaiting),
	)
	if err == nil {
		return r.Get(ctx, id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolve token %s: %w", id, err)
	}

	// Zero rows: distinguish missing, already resolved, and expired.
	token, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if token.Status == StatusResolved {
		return token, ErrAlreadyResolved
	}
	return token, fmt.Errorf("%w: %s", ErrTokenExpired, id)
}

func (r *tokenRepo) ResolveSectionTokens(ctx context.Context, documentID, sectionID, by string) error {
	q := `
		UPDATE review_tokens
		SET status = $3, resolved_at = now(), resolved_by = $4
		WHERE document_id = $1 AND section_id = $2 AND status = $5`

	_, err := r.db.ExecContext(
		ctx, q,
		documentID, sectionID, string(StatusResolved), by, string(StatusWaiting),
	)
	if err != nil {
		return fmt.Errorf("resolve section tokens %s/%s: %w", documentID, sectionID, err)
	}
	return nil
}

func (r *tokenRepo) ResolveAllWaiting(ctx context.Context, documentID, by string) error {
	q := `
		UPDATE review_tokens
		SET status = $2, resolved_at = now(), resolved_by = $3
		WHERE document_id = $1 AND status = $4 AND kind <> $5`

	_, err := r.db.ExecContext(
		ctx, q,
		documentID, string(StatusResolved), by,
		string(StatusWaiting), string(KindDocument),
	)
	if err != nil {
		return fmt.Errorf("resolve waiting tokens %s: %w", documentID, err)
	}
	return nil
}

func (r *tokenRepo) CountWaiting(ctx context.Context, documentID, sectionID string, kind Kind) (int, error) {
	q := `
		SELECT COUNT(*) FROM review_tokens
		WHERE document_id = $1 AND section_id = $2 AND kind = $3 AND status = $4`

	var count int
	err := r.db.
		QueryRowContext(ctx, q, documentID, sectionID, string(kind), string(StatusWaiting)).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count waiting tokens %s/%s: %w", documentID, sectionID, err)
	}
	return count, nil
}

func (r *tokenRepo) DocumentToken(ctx context.Context, documentID string) (*Token, error) {
	stmt, args := query.
		NewBuilder(projection, query.SortField{Field: "IssuedAt", Descending: true}).
		WhereEquals("DocumentID", documentID).
		WhereEquals("Kind", string(KindDocument)).
		WhereEquals("Status", string(StatusWaiting)).
		Build()

	tokens, err := repository.QueryMany(ctx, r.db, stmt, args, scanToken)
	if err != nil {
		return nil, fmt.Errorf("document token %s: %w", documentID, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: document token for %s", ErrTokenNotFound, documentID)
	}
	return &tokens[0], nil
}

func scanToken(s repository.Scanner) (Token, error) {
	var (
		t      Token
		kind   string
		status string
	)

	err := s.Scan(
		&t.ID,
		&t.DocumentID,
		&t.ExecutionID,
		&kind,
		&t.SectionID,
		&t.PageID,
		&status,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.ResolvedAt,
		&t.ResolvedBy,
	)
	if err != nil {
		return Token{}, err
	}

	t.Kind = Kind(kind)
	t.Status = TokenStatus(status)
	return t, nil
}
