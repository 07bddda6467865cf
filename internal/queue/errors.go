package queue

import "errors"

// ErrMalformed indicates a stream entry missing its event tag or body.
// Malformed messages are acknowledged and dropped: reprocessing the same
// malformed input would fail identically.
var ErrMalformed = errors.New("malformed queue message")
