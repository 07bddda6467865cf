package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/queue"
)

const (
	// dequeueBlock is how long one Dequeue call waits for a message.
	dequeueBlock = 5 * time.Second
	// capacityPause throttles the loop while the admission gate is full.
	capacityPause = 2 * time.Second
)

// Worker drains the admission queue into the controller. Capacity
// denials leave the message unacknowledged so redelivery provides
// backpressure; malformed and permanently failed messages are
// acknowledged and dropped so they cannot wedge the stream.
type Worker struct {
	queue      queue.System
	controller *Controller
	logger     *slog.Logger
}

// NewWorker creates an admission queue worker.
func NewWorker(q queue.System, controller *Controller, logger *slog.Logger) *Worker {
	return &Worker{
		queue:      q,
		controller: controller,
		logger:     logger.With("system", "admission-worker"),
	}
}

// Run consumes the admission queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("admission worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("admission worker stopped")
			return
		}

		msg, err := w.queue.Dequeue(ctx, dequeueBlock)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, queue.ErrMalformed) {
				w.logger.Warn("dropping malformed message", "error", err)
				continue
			}
			w.logger.Error("dequeue failed", "error", err)
			w.pause(ctx, capacityPause)
			continue
		}
		if msg == nil {
			continue
		}

		w.process(ctx, msg)
	}
}

func (w *Worker) process(ctx context.Context, msg *queue.Message) {
	env, err := codec.Decode(msg.Body)
	if err != nil {
		w.logger.Warn("dropping undecodable message", "id", msg.ID, "error", err)
		w.ack(ctx, msg)
		return
	}

	if _, err := w.controller.Admit(ctx, env); err != nil {
		if errors.Is(err, ErrAtCapacity) {
			// Leave unacknowledged: the stream redelivers once the claim
			// timeout lapses or this consumer retries.
			w.logger.Debug("admission gate full, deferring", "id", msg.ID)
			w.pause(ctx, capacityPause)
			return
		}

		w.logger.Error("admission failed", "id", msg.ID, "event", msg.Event, "error", err)
		w.ack(ctx, msg)
		return
	}

	w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg *queue.Message) {
	if err := w.queue.Ack(ctx, msg); err != nil {
		w.logger.Error("ack failed", "id", msg.ID, "error", err)
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
