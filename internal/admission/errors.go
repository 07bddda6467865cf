package admission

import "errors"

// ErrAtCapacity indicates the admission gate is full. It is a
// backpressure signal, not a failure: callers leave the triggering
// message unacknowledged and retry on redelivery.
var ErrAtCapacity = errors.New("admission gate at capacity")
