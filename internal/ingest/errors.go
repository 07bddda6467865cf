package ingest

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/conveyor/internal/docstore"
)

var (
	// ErrEmptyFile indicates an upload with no content.
	ErrEmptyFile = errors.New("uploaded file is empty")
	// ErrMissingFilename indicates an upload without a filename.
	ErrMissingFilename = errors.New("filename is required")
	// ErrUnsupportedType indicates a non-PDF upload.
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrInvalidPDF indicates a PDF that could not be parsed or split.
	ErrInvalidPDF = errors.New("invalid PDF")
)

// MapHTTPStatus maps ingestion errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyFile),
		errors.Is(err, ErrMissingFilename),
		errors.Is(err, ErrInvalidPDF):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, docstore.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
