package docstore

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound indicates the requested document record does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate indicates a document record with the same id already exists.
	ErrDuplicate = errors.New("document already exists")
)

// MapHTTPStatus maps docstore errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
