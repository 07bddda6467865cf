package rerun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/engine"
	"github.com/JaimeStill/conveyor/internal/queue"
	"github.com/JaimeStill/conveyor/internal/review"
)

// rerunStageTag tags serialized state enqueued by the recovery
// controller.
const rerunStageTag = "rerun"

// Result reports the outcome of one document in a rerun batch.
type Result struct {
	DocumentID string `json:"document_id"`
	Requeued   bool   `json:"requeued"`
	Error      string `json:"error,omitempty"`
}

// Controller resets and requeues documents, and aborts live executions.
type Controller struct {
	store  docstore.System
	queue  queue.System
	engine engine.System
	tokens review.Store
	codec  *codec.Codec
	logger *slog.Logger
}

// NewController creates a recovery Controller.
func NewController(
	store docstore.System,
	q queue.System,
	eng engine.System,
	tokens review.Store,
	cdc *codec.Codec,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		store:  store,
		queue:  q,
		engine: eng,
		tokens: tokens,
		codec:  cdc,
		logger: logger.With("system", "rerun"),
	}
}

// Rerun resets each listed document to before the given step and
// requeues it for admission. Failures are reported per document; one bad
// id never aborts the rest of the batch.
func (c *Controller) Rerun(ctx context.Context, ids []string, step Step) []Result {
	results := make([]Result, 0, len(ids))

	for _, id := range ids {
		result := Result{DocumentID: id}
		if err := c.rerunOne(ctx, id, step); err != nil {
			result.Error = err.Error()
		} else {
			result.Requeued = true
		}
		results = append(results, result)
	}

	return results
}

// Abort cancels a document's live execution and marks it ABORTED. A
// vanished execution is tolerated: the record still settles.
func (c *Controller) Abort(ctx context.Context, id string) error {
	doc, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if doc.ExecutionID == "" || doc.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	if err := c.cancel(ctx, doc); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = c.store.Mutate(ctx, id, func(doc *document.Document) error {
		if doc.Status.Terminal() {
			return nil
		}
		doc.Status = document.StatusAborted
		doc.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("document aborted", "id", id, "execution", doc.ExecutionID)
	return nil
}

func (c *Controller) rerunOne(ctx context.Context, id string, step Step) error {
	current, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case current.Status == document.StatusQueued,
		current.Status.Terminal():
		// Nothing live to stop.

	case current.Status == document.StatusPendingReview:
		// Suspended execution: cancel it and settle its tokens so the
		// stale continuation can never fire after the reset.
		if err := c.cancel(ctx, current); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: %s is %s", ErrRunning, id, current.Status)
	}

	now := time.Now().UTC()
	doc, err := c.store.Mutate(ctx, id, func(doc *document.Document) error {
		return Reset(doc, step, now)
	})
	if err != nil {
		return err
	}

	env, err := c.codec.Serialize(ctx, doc, rerunStageTag)
	if err != nil {
		return err
	}

	body, err := env.Encode()
	if err != nil {
		return err
	}

	if err := c.queue.Enqueue(ctx, queue.EventRerun, body); err != nil {
		return err
	}

	c.logger.Info("document requeued", "id", id, "step", string(step))
	return nil
}

// cancel stops a document's execution and resolves its outstanding
// continuation tokens.
func (c *Controller) cancel(ctx context.Context, doc *document.Document) error {
	if doc.ExecutionID != "" {
		err := c.engine.Cancel(ctx, doc.ExecutionID)
		if err != nil && !errors.Is(err, engine.ErrExecutionNotFound) {
			return fmt.Errorf("cancel execution %s: %w", doc.ExecutionID, err)
		}
	}

	if err := c.tokens.ResolveAllWaiting(ctx, doc.ID, "system:abort"); err != nil {
		return err
	}

	token, err := c.tokens.DocumentToken(ctx, doc.ID)
	if err != nil {
		if errors.Is(err, review.ErrTokenNotFound) {
			return nil
		}
		return err
	}

	if _, err := c.tokens.Resolve(ctx, token.ID, "system:abort"); err != nil && !errors.Is(err, review.ErrAlreadyResolved) {
		return err
	}
	return nil
}
