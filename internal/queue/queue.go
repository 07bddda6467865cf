// Package queue provides the inbound admission queue on Redis Streams.
// Consumer groups give at-least-once delivery: messages stay pending until
// acknowledged, and abandoned deliveries are reclaimed after a claim
// timeout. Admission denial simply leaves the message unacknowledged, so
// backpressure falls out of the delivery semantics.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ingestStream = "conveyor:ingest"
	ingestGroup  = "conveyor:workers"

	// claimTimeout is how long a delivery may stay pending before another
	// consumer reclaims it.
	claimTimeout = 5 * time.Minute
)

// Event tags the intent of a queue message.
type Event string

const (
	// EventIngest admits a freshly ingested document.
	EventIngest Event = "ingest"
	// EventRerun admits a document reset by the recovery controller.
	EventRerun Event = "rerun"
)

// Message is one delivery from the admission queue. Body carries an
// encoded codec.Envelope.
type Message struct {
	ID    string
	Event Event
	Body  []byte
}

// System defines the admission queue contract.
type System interface {
	// Enqueue appends a message to the ingest stream.
	Enqueue(ctx context.Context, event Event, body []byte) error
	// Dequeue returns the next available message, blocking up to block.
	// Returns nil when no message arrives within the window.
	Dequeue(ctx context.Context, block time.Duration) (*Message, error)
	// Ack acknowledges a processed message so it is not redelivered.
	Ack(ctx context.Context, msg *Message) error
}

type stream struct {
	client   *redis.Client
	consumer string
	logger   *slog.Logger
}

// New creates a Redis Streams queue and ensures the consumer group exists.
// The consumer name is derived from hostname and pid so parallel workers
// claim independently.
func New(ctx context.Context, client *redis.Client, logger *slog.Logger) (System, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	hostname, _ := os.Hostname()
	consumer := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	err := client.XGroupCreateMkStream(ctx, ingestStream, ingestGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &stream{
		client:   client,
		consumer: consumer,
		logger:   logger.With("system", "queue"),
	}, nil
}

func (s *stream) Enqueue(ctx context.Context, event Event, body []byte) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: ingestStream,
		Values: map[string]any{
			"event": string(event),
			"body":  body,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s message: %w", event, err)
	}
	return nil
}

func (s *stream) Dequeue(ctx context.Context, block time.Duration) (*Message, error) {
	if msg, err := s.claimAbandoned(ctx); err != nil {
		return nil, err
	} else if msg != nil {
		return msg, nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ingestGroup,
		Consumer: s.consumer,
		Streams:  []string{ingestStream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ingest stream: %w", err)
	}

	for _, str := range streams {
		for _, entry := range str.Messages {
			return s.parse(ctx, entry)
		}
	}
	return nil, nil
}

func (s *stream) Ack(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if err := s.client.XAck(ctx, ingestStream, ingestGroup, msg.ID).Err(); err != nil {
		return fmt.Errorf("ack message %s: %w", msg.ID, err)
	}
	return nil
}

// claimAbandoned reclaims one message whose previous consumer stopped
// processing without acknowledging.
func (s *stream) claimAbandoned(ctx context.Context) (*Message, error) {
	entries, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   ingestStream,
		Group:    ingestGroup,
		Consumer: s.consumer,
		MinIdle:  claimTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim abandoned messages: %w", err)
	}

	if len(entries) == 0 {
		return nil, nil
	}

	s.logger.Warn("reclaimed abandoned message", "id", entries[0].ID)
	return s.parse(ctx, entries[0])
}

// parse converts a stream entry into a Message. Malformed entries are
// acknowledged before the error returns: reprocessing the same malformed
// input would fail identically, so leaving it pending would only wedge
// the reclaim loop.
func (s *stream) parse(ctx context.Context, entry redis.XMessage) (*Message, error) {
	event, _ := entry.Values["event"].(string)
	body, _ := entry.Values["body"].(string)

	if event == "" || body == "" {
		if err := s.client.XAck(ctx, ingestStream, ingestGroup, entry.ID).Err(); err != nil {
			s.logger.Error("ack malformed entry failed", "id", entry.ID, "error", err)
		}
		return nil, fmt.Errorf("%w: stream entry %s", ErrMalformed, entry.ID)
	}

	return &Message{
		ID:    entry.ID,
		Event: Event(event),
		Body:  []byte(body),
	}, nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
