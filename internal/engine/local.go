package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/reduce"
	"github.com/JaimeStill/conveyor/internal/stage"
)

// Stages bundles the stage set a local execution drives, in pipeline
// order: classify, then per-section extract, assess, and validate in
// parallel, then reduce, then summarize and evaluate.
type Stages struct {
	Classify  *stage.Classify
	Extract   *stage.Extract
	Assess    *stage.Assess
	Validate  *stage.Validate
	Summarize *stage.Summarize
	Evaluate  *stage.Evaluate
	Reducer   *reduce.Reducer
}

// Suspender records a review suspension. Implemented by the review
// manager; injected after construction to break the mutual dependency
// between the engine and the manager that signals it.
type Suspender interface {
	Suspend(ctx context.Context, documentID, executionID, continuationToken string) error
}

// CompletionFunc observes a finished execution. The worker uses it to
// release the admission slot.
type CompletionFunc func(documentID, executionID string, state ExecutionState)

type execution struct {
	id         string
	documentID string
	state      ExecutionState
	token      string
	resume     chan codec.Envelope
	cancel     context.CancelFunc
}

// Local runs workflow executions in-process. Each execution is a
// goroutine driving the stage set against the durable document store;
// suspension parks the goroutine on a continuation token until Signal
// delivers the resumed envelope.
type Local struct {
	stages     Stages
	store      docstore.System
	codec      *codec.Codec
	retry      stage.RetryPolicy
	suspender  Suspender
	onComplete CompletionFunc
	logger     *slog.Logger

	mu         sync.Mutex
	executions map[string]*execution
}

// NewLocal creates a local workflow engine.
func NewLocal(
	stages Stages,
	store docstore.System,
	cdc *codec.Codec,
	logger *slog.Logger,
) *Local {
	return &Local{
		stages:     stages,
		store:      store,
		codec:      cdc,
		retry:      stage.DefaultRetryPolicy,
		logger:     logger.With("system", "engine"),
		executions: make(map[string]*execution),
	}
}

// SetSuspender injects the review suspender.
func (e *Local) SetSuspender(s Suspender) {
	e.suspender = s
}

// SetOnComplete installs the completion observer.
func (e *Local) SetOnComplete(fn CompletionFunc) {
	e.onComplete = fn
}

func (e *Local) Start(ctx context.Context, env codec.Envelope) (string, error) {
	doc, err := e.codec.Load(ctx, env)
	if err != nil {
		return "", fmt.Errorf("load execution input: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exec := &execution{
		id:         uuid.NewString(),
		documentID: doc.ID,
		state:      ExecutionRunning,
		resume:     make(chan codec.Envelope, 1),
		cancel:     cancel,
	}

	e.mu.Lock()
	e.executions[exec.id] = exec
	e.mu.Unlock()

	// Stamp the execution id before any stage writes review metadata.
	if _, err := e.store.Mutate(ctx, doc.ID, func(d *document.Document) error {
		d.ExecutionID = exec.id
		return nil
	}); err != nil {
		cancel()
		e.remove(exec.id)
		return "", err
	}
	doc.ExecutionID = exec.id
	env = codec.Envelope{Kind: codec.KindInline, Document: doc}

	go e.run(runCtx, exec, env)

	e.logger.Info("execution started", "execution", exec.id, "document", doc.ID)
	return exec.id, nil
}

func (e *Local) Signal(_ context.Context, token string, env codec.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, exec := range e.executions {
		if exec.state == ExecutionSuspended && exec.token == token {
			exec.token = ""
			exec.state = ExecutionRunning
			exec.resume <- env
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotSuspended, token)
}

func (e *Local) Cancel(_ context.Context, executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executions[executionID]
	if !ok || terminalState(exec.state) {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	exec.cancel()
	exec.state = ExecutionCancelled
	return nil
}

func (e *Local) Describe(_ context.Context, executionID string) (ExecutionState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executions[executionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return exec.state, nil
}

func (e *Local) run(ctx context.Context, exec *execution, env codec.Envelope) {
	state := e.pipeline(ctx, exec, env)
	e.finish(exec, state)
}

// pipeline drives one document through the full stage sequence.
func (e *Local) pipeline(ctx context.Context, exec *execution, env codec.Envelope) ExecutionState {
	out, err := e.runStage(ctx, "classify", func() stage.Outcome {
		return e.stages.Classify.Run(ctx, env)
	})
	if err != nil {
		return e.failed(ctx, exec, err)
	}

	base := out.Document
	branchEnv, err := e.codec.Serialize(ctx, base, "classified")
	if err != nil {
		return e.failed(ctx, exec, err)
	}

	outputs, err := e.fanOut(ctx, base, branchEnv)
	if err != nil {
		return e.failed(ctx, exec, err)
	}

	doc, err := e.reduceOutputs(ctx, base, outputs)
	if err != nil {
		return e.failed(ctx, exec, err)
	}

	if doc.HitlStatus == document.HitlPendingReview && len(doc.HitlSectionsPending) > 0 {
		env, err = e.suspend(ctx, exec, doc)
		if err != nil {
			return e.failed(ctx, exec, err)
		}
	} else {
		env, err = e.codec.Serialize(ctx, doc, "reduced")
		if err != nil {
			return e.failed(ctx, exec, err)
		}
	}

	out, err = e.runStage(ctx, "summarize", func() stage.Outcome {
		return e.stages.Summarize.Run(ctx, env)
	})
	if err != nil {
		return e.failed(ctx, exec, err)
	}

	env, err = e.codec.Serialize(ctx, out.Document, "summarized")
	if err != nil {
		return e.failed(ctx, exec, err)
	}

	if _, err = e.runStage(ctx, "evaluate", func() stage.Outcome {
		return e.stages.Evaluate.Run(ctx, env)
	}); err != nil {
		return e.failed(ctx, exec, err)
	}

	now := time.Now().UTC()
	if _, err := e.store.Mutate(ctx, exec.documentID, func(d *document.Document) error {
		if d.Status.Terminal() {
			return nil
		}
		d.Status = document.StatusCompleted
		d.CompletedAt = &now
		return nil
	}); err != nil {
		return e.failed(ctx, exec, err)
	}

	return ExecutionSucceeded
}

// fanOut runs the section stage chain for every section in parallel.
// Each branch carries its section-scoped view envelope forward so later
// stages observe earlier output without reloading the full aggregate.
func (e *Local) fanOut(ctx context.Context, base *document.Document, env codec.Envelope) ([]*document.Document, error) {
	ids := base.SectionIDs()
	outputs := make([]*document.Document, len(ids)*3)

	g, gctx := errgroup.WithContext(ctx)
	for i, sectionID := range ids {
		g.Go(func() error {
			branch := env

			extract, err := e.runStage(gctx, "extract "+sectionID, func() stage.Outcome {
				return e.stages.Extract.Run(gctx, branch, sectionID)
			})
			if err != nil {
				return err
			}
			outputs[i*3] = extract.Document

			branch, err = e.codec.Serialize(gctx, extract.Document, "extracted-"+sectionID)
			if err != nil {
				return err
			}

			assess, err := e.runStage(gctx, "assess "+sectionID, func() stage.Outcome {
				return e.stages.Assess.Run(gctx, branch, sectionID)
			})
			if err != nil {
				return err
			}
			outputs[i*3+1] = assess.Document

			branch, err = e.codec.Serialize(gctx, assess.Document, "assessed-"+sectionID)
			if err != nil {
				return err
			}

			validate, err := e.runStage(gctx, "validate "+sectionID, func() stage.Outcome {
				return e.stages.Validate.Run(gctx, branch, sectionID)
			})
			if err != nil {
				return err
			}
			outputs[i*3+2] = validate.Document

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// reduceOutputs consolidates the fan-out branches and persists the
// review decision. Section and metering updates were already persisted
// by each branch; only the reducer's review verdict is new state.
func (e *Local) reduceOutputs(ctx context.Context, base *document.Document, outputs []*document.Document) (*document.Document, error) {
	reduced := e.stages.Reducer.Reduce(base, outputs)

	doc, err := e.store.Mutate(ctx, reduced.ID, func(d *document.Document) error {
		d.HitlTriggered = reduced.HitlTriggered
		d.HitlStatus = reduced.HitlStatus
		d.HitlSectionsPending = reduced.HitlSectionsPending
		d.HitlSectionsCompleted = reduced.HitlSectionsCompleted
		d.HitlMetadata = reduced.HitlMetadata
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist reduction: %w", err)
	}
	return doc, nil
}

// suspend parks the execution on a fresh continuation token until the
// review manager signals it, returning the resumed envelope.
func (e *Local) suspend(ctx context.Context, exec *execution, doc *document.Document) (codec.Envelope, error) {
	if e.suspender == nil {
		return codec.Envelope{}, fmt.Errorf("review required for %s but no suspender configured", doc.ID)
	}

	token := uuid.NewString()

	e.mu.Lock()
	exec.token = token
	exec.state = ExecutionSuspended
	e.mu.Unlock()

	if err := e.suspender.Suspend(ctx, doc.ID, exec.id, token); err != nil {
		e.mu.Lock()
		exec.token = ""
		exec.state = ExecutionRunning
		e.mu.Unlock()
		return codec.Envelope{}, fmt.Errorf("suspend %s: %w", doc.ID, err)
	}

	e.logger.Info(
		"execution suspended",
		"execution", exec.id,
		"document", doc.ID,
		"token", token,
	)

	select {
	case env := <-exec.resume:
		e.logger.Info("execution resumed", "execution", exec.id, "document", doc.ID)
		return env, nil
	case <-ctx.Done():
		return codec.Envelope{}, ctx.Err()
	}
}

// runStage invokes a stage, retrying retryable outcomes with the
// engine's backoff policy. Fatal outcomes surface immediately.
func (e *Local) runStage(ctx context.Context, name string, fn func() stage.Outcome) (stage.Outcome, error) {
	var out stage.Outcome

	err := e.retry.Do(ctx, e.logger, name, func() error {
		out = fn()
		if out.Kind == stage.OutcomeRetryable {
			return fmt.Errorf("%w: %v", stage.ErrTransient, out.Err)
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	if out.Kind == stage.OutcomeFatal {
		return out, out.Err
	}
	return out, nil
}

// failed settles the record for an execution that cannot proceed. The
// stage runner already marked stage-body failures; this covers engine
// level failures like serialization and persistence.
func (e *Local) failed(ctx context.Context, exec *execution, cause error) ExecutionState {
	if ctx.Err() != nil {
		e.logger.Warn("execution cancelled", "execution", exec.id, "document", exec.documentID)
		return ExecutionCancelled
	}

	e.logger.Error(
		"execution failed",
		"execution", exec.id,
		"document", exec.documentID,
		"error", cause,
	)

	now := time.Now().UTC()
	if _, err := e.store.Mutate(ctx, exec.documentID, func(d *document.Document) error {
		if d.Status.Terminal() {
			return nil
		}
		d.Status = document.StatusFailed
		d.AppendError("engine", cause.Error(), now)
		return nil
	}); err != nil {
		e.logger.Error("failed to record execution failure", "document", exec.documentID, "error", err)
	}

	return ExecutionFailed
}

func (e *Local) finish(exec *execution, state ExecutionState) {
	e.mu.Lock()
	if exec.state != ExecutionCancelled {
		exec.state = state
	}
	final := exec.state
	e.mu.Unlock()

	e.logger.Info(
		"execution finished",
		"execution", exec.id,
		"document", exec.documentID,
		"state", final,
	)

	if e.onComplete != nil {
		e.onComplete(exec.documentID, exec.id, final)
	}
}

func (e *Local) remove(executionID string) {
	e.mu.Lock()
	delete(e.executions, executionID)
	e.mu.Unlock()
}

func terminalState(s ExecutionState) bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}
