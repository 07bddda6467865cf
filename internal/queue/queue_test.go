package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/conveyor/internal/queue"
)

func testQueue(t *testing.T) (queue.System, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q, err := queue.New(context.Background(), client, logger)
	if err != nil {
		t.Fatalf("queue.New returned error: %v", err)
	}
	return q, client
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	body := []byte(`{"kind":"inline","document":{"id":"doc-1"}}`)
	if err := q.Enqueue(ctx, queue.EventIngest, body); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	msg, err := q.Dequeue(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue returned error: %v", err)
	}
	if msg == nil {
		t.Fatal("Dequeue returned nil, want message")
	}
	if msg.Event != queue.EventIngest {
		t.Errorf("Event = %q, want %q", msg.Event, queue.EventIngest)
	}
	if string(msg.Body) != string(body) {
		t.Errorf("Body = %q, want %q", msg.Body, body)
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q, _ := testQueue(t)

	msg, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue returned error: %v", err)
	}
	if msg != nil {
		t.Errorf("Dequeue = %+v, want nil on empty stream", msg)
	}
}

func TestAckStopsRedelivery(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queue.EventRerun, []byte(`{"kind":"external","location":"state/doc-1/rerun.json.gz"}`)); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	msg, err := q.Dequeue(ctx, 10*time.Millisecond)
	if err != nil || msg == nil {
		t.Fatalf("Dequeue = (%v, %v), want message", msg, err)
	}
	if err := q.Ack(ctx, msg); err != nil {
		t.Fatalf("Ack returned error: %v", err)
	}

	next, err := q.Dequeue(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("second Dequeue returned error: %v", err)
	}
	if next != nil {
		t.Errorf("second Dequeue = %+v, want nil after ack", next)
	}
}

func TestAckNilMessage(t *testing.T) {
	q, _ := testQueue(t)
	if err := q.Ack(context.Background(), nil); err == nil {
		t.Error("Ack(nil) returned no error")
	}
}

func TestDequeueMalformedEntry(t *testing.T) {
	q, client := testQueue(t)
	ctx := context.Background()

	// Entries written outside Enqueue may lack the expected fields.
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: "conveyor:ingest",
		Values: map[string]any{"noise": "1"},
	}).Err(); err != nil {
		t.Fatalf("XAdd returned error: %v", err)
	}

	_, err := q.Dequeue(ctx, 10*time.Millisecond)
	if !errors.Is(err, queue.ErrMalformed) {
		t.Errorf("Dequeue error = %v, want ErrMalformed", err)
	}

	// The malformed entry must be acknowledged, not left pending where
	// the reclaim loop would redeliver it forever.
	pending, err := client.XPending(ctx, "conveyor:ingest", "conveyor:workers").Result()
	if err != nil {
		t.Fatalf("XPending returned error: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending count = %d after malformed dequeue, want 0", pending.Count)
	}

	next, err := q.Dequeue(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("second Dequeue returned error: %v", err)
	}
	if next != nil {
		t.Errorf("second Dequeue = %+v, want nil after malformed entry dropped", next)
	}
}
