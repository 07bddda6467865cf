package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/engine"
)

// Controller admits queued documents into the workflow engine, one
// admission slot per running execution.
type Controller struct {
	counter Counter
	engine  engine.System
	store   docstore.System
	codec   *codec.Codec
	logger  *slog.Logger
}

// NewController creates an admission controller.
func NewController(
	counter Counter,
	eng engine.System,
	store docstore.System,
	cdc *codec.Codec,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		counter: counter,
		engine:  eng,
		store:   store,
		codec:   cdc,
		logger:  logger.With("system", "admission"),
	}
}

// Admit attempts to start one workflow execution for the document carried
// by the envelope. Returns ErrAtCapacity as a backpressure signal when the
// gate is full, in which case the caller leaves the message unacknowledged for
// redelivery. Any failure after the admission slot is claimed releases
// the slot before returning, so slots are never leaked.
func (c *Controller) Admit(ctx context.Context, env codec.Envelope) (string, error) {
	doc, err := c.codec.Load(ctx, env)
	if err != nil {
		return "", fmt.Errorf("load admission payload: %w", err)
	}

	if err := c.counter.Acquire(ctx); err != nil {
		return "", err
	}

	executionID, err := c.engine.Start(ctx, env)
	if err != nil {
		c.compensate(ctx, doc.ID)
		return "", fmt.Errorf("start execution for %s: %w", doc.ID, err)
	}

	now := time.Now().UTC()
	_, err = c.store.Mutate(ctx, doc.ID, func(d *document.Document) error {
		d.ExecutionID = executionID
		d.Status = document.StatusRunning
		d.StartedAt = &now
		return nil
	})
	if err != nil {
		// The execution is already running and will release the slot on
		// completion; surface the record failure without compensating.
		return executionID, fmt.Errorf("record execution %s on %s: %w", executionID, doc.ID, err)
	}

	c.logger.Info("document admitted", "id", doc.ID, "execution", executionID)
	return executionID, nil
}

// Release returns the admitted document's slot. Wired to the engine's
// completion hook by the worker composition.
func (c *Controller) Release(ctx context.Context) {
	if err := c.counter.Release(ctx); err != nil {
		c.logger.Error("admission slot release failed", "error", err)
	}
}

func (c *Controller) compensate(ctx context.Context, documentID string) {
	if err := c.counter.Release(ctx); err != nil {
		c.logger.Error(
			"admission compensation failed; slot leaked until operator reset",
			"document", documentID,
			"error", err,
		)
	}
}
