// Package review manages human-in-the-loop suspensions: continuation
// token records for suspended executions and the manager that resolves
// them, resuming the workflow exactly once when review concludes.
package review

import (
	"context"
	"time"

	"github.com/JaimeStill/conveyor/pkg/pagination"
)

// Kind scopes a continuation token.
type Kind string

const (
	// KindDocument is the execution's own continuation token. It resolves
	// automatically when every section review concludes, never directly.
	KindDocument Kind = "DOCUMENT"
	// KindSection covers one flagged section.
	KindSection Kind = "SECTION"
	// KindPage covers one page of a flagged section.
	KindPage Kind = "PAGE"
)

// TokenStatus is the review state of a token.
type TokenStatus string

const (
	StatusWaiting  TokenStatus = "WAITING"
	StatusResolved TokenStatus = "RESOLVED"
)

// Token is one continuation token record. Document tokens carry the
// string the workflow engine suspends on; section and page tokens track
// the review work that gates it.
type Token struct {
	ID          string      `json:"id"`
	DocumentID  string      `json:"document_id"`
	ExecutionID string      `json:"execution_id"`
	Kind        Kind        `json:"kind"`
	SectionID   string      `json:"section_id,omitempty"`
	PageID      *int        `json:"page_id,omitempty"`
	Status      TokenStatus `json:"status"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy  string      `json:"resolved_by,omitempty"`
}

// Expired reports whether the token's review window has lapsed.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Store defines the contract for durable continuation token records.
type Store interface {
	// Issue inserts a batch of tokens in one transaction.
	Issue(ctx context.Context, tokens []Token) error

	// Get loads a token by id. Returns ErrTokenNotFound if absent.
	Get(ctx context.Context, id string) (*Token, error)

	// ListByDocument returns every token for a document, newest first.
	ListByDocument(ctx context.Context, documentID string) ([]Token, error)

	// ListWaiting returns a page of waiting section and page tokens
	// across all documents, oldest first.
	ListWaiting(ctx context.Context, page pagination.PageRequest) (*pagination.PageResult[Token], error)

	// Resolve marks a waiting, unexpired token resolved. The update is
	// conditional on the waiting status; concurrent resolvers observe
	// ErrAlreadyResolved. Expired tokens return ErrTokenExpired.
	Resolve(ctx context.Context, id, by string) (*Token, error)

	// ResolveSectionTokens resolves every waiting section and page token
	// scoped to one section.
	ResolveSectionTokens(ctx context.Context, documentID, sectionID, by string) error

	// ResolveAllWaiting resolves every waiting section and page token
	// for a document, leaving the document token untouched.
	ResolveAllWaiting(ctx context.Context, documentID, by string) error

	// CountWaiting counts waiting page tokens for one section.
	CountWaiting(ctx context.Context, documentID, sectionID string, kind Kind) (int, error)

	// DocumentToken returns the document's waiting continuation token, or
	// ErrTokenNotFound if none is outstanding.
	DocumentToken(ctx context.Context, documentID string) (*Token, error)
}
