package review

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/conveyor/internal/docstore"
)

var (
	// ErrTokenNotFound indicates the referenced token does not exist.
	ErrTokenNotFound = errors.New("review token not found")
	// ErrAlreadyResolved indicates the token was resolved by a concurrent
	// caller. The losing caller treats this as settled, not failed.
	ErrAlreadyResolved = errors.New("review token already resolved")
	// ErrTokenExpired indicates the token's review window has lapsed.
	ErrTokenExpired = errors.New("review token expired")
	// ErrDocumentScoped indicates an attempt to resolve a document token
	// directly. Document tokens resolve through section completion or an
	// administrative skip.
	ErrDocumentScoped = errors.New("document tokens resolve automatically")
	// ErrNotPendingReview indicates the document is not awaiting review.
	ErrNotPendingReview = errors.New("document not pending review")
)

// MapHTTPStatus maps review errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrNotPendingReview):
		return http.StatusConflict
	case errors.Is(err, ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, ErrDocumentScoped):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
