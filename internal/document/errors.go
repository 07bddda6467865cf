package document

import "errors"

var (
	// ErrSectionNotFound indicates a referenced section id does not exist.
	ErrSectionNotFound = errors.New("section not found")
	// ErrPageNotFound indicates a section references a page id that does
	// not exist on the owning document.
	ErrPageNotFound = errors.New("page not found")
	// ErrInvalid indicates the document failed structural validation.
	ErrInvalid = errors.New("invalid document")
)
