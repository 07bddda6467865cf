// Package engine defines the managed workflow engine boundary and a local
// in-process implementation. The pipeline core only ever talks to the
// System interface: it starts executions, signals continuation tokens, and
// cancels executions, exactly as it would against a hosted engine.
package engine

import (
	"context"
	"errors"

	"github.com/JaimeStill/conveyor/internal/codec"
)

var (
	// ErrExecutionNotFound indicates the referenced execution does not
	// exist or has already finished. Cancellation tolerates this.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrNotSuspended indicates a signal arrived for an execution that is
	// not waiting on the given token.
	ErrNotSuspended = errors.New("execution not suspended on token")
)

// ExecutionState describes a running or finished execution.
type ExecutionState string

const (
	ExecutionRunning   ExecutionState = "RUNNING"
	ExecutionSuspended ExecutionState = "SUSPENDED"
	ExecutionSucceeded ExecutionState = "SUCCEEDED"
	ExecutionFailed    ExecutionState = "FAILED"
	ExecutionCancelled ExecutionState = "CANCELLED"
)

// System is the workflow engine boundary.
type System interface {
	// Start launches one workflow execution with the serialized document
	// envelope as input and returns the execution id.
	Start(ctx context.Context, env codec.Envelope) (string, error)

	// Signal resolves a continuation token an execution is suspended on,
	// carrying the (possibly edited) document envelope forward.
	Signal(ctx context.Context, token string, env codec.Envelope) error

	// Cancel stops a running execution best-effort. Returns
	// ErrExecutionNotFound if the execution is already gone.
	Cancel(ctx context.Context, executionID string) error

	// Describe reports the current state of an execution.
	Describe(ctx context.Context, executionID string) (ExecutionState, error)
}
