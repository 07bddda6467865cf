package rerun

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/conveyor/internal/docstore"
)

var (
	// ErrUnknownStep indicates an unsupported reset step.
	ErrUnknownStep = errors.New("unknown rerun step")
	// ErrRunning indicates a reset was requested for a document whose
	// execution is still live. Abort it first.
	ErrRunning = errors.New("document execution still running")
	// ErrNotRunning indicates an abort was requested for a document with
	// no live execution.
	ErrNotRunning = errors.New("document has no live execution")
)

// MapHTTPStatus maps recovery errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownStep):
		return http.StatusBadRequest
	case errors.Is(err, ErrRunning), errors.Is(err, ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
