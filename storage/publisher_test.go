package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"dashboard/domain"
)

type stubQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (q *stubQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return azqueue.EnqueueMessagesResponse{}, q.err
	}
	q.messages = append(q.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (q *stubQueue) received() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.messages...)
}

type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	got     []domain.ItemEvent
}

func (b *blockingPublisher) Publish(ctx context.Context, ev domain.ItemEvent) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.got = append(b.got, ev)
	b.mu.Unlock()
	return nil
}

func TestEventQueuePublishesJSON(t *testing.T) {
	q := &stubQueue{}
	eq := &EventQueue{queue: q}
	item := domain.Item{ID: "i1", Owner: "alice", Title: "A"}
	ev := domain.ItemEvent{ID: "e1", Type: domain.ItemCreated, Owner: "alice", ItemID: "i1", Item: &item, Timestamp: 42}

	if err := eq.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs := q.received()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	var decoded domain.ItemEvent
	if err := sonic.UnmarshalString(msgs[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != "e1" || decoded.Type != domain.ItemCreated || decoded.Item == nil || decoded.Item.Title != "A" {
		t.Fatalf("unexpected message: %+v", decoded)
	}
}

func TestAsyncPublisherDelivers(t *testing.T) {
	q := &stubQueue{}
	p := NewAsyncPublisher(&EventQueue{queue: q}, PublisherConfig{Workers: 2, Buffer: 8, Timeout: time.Second}, nil)

	for i := 0; i < 5; i++ {
		if err := p.Publish(context.Background(), domain.ItemEvent{Type: domain.ItemUpdated, Owner: "alice"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	p.Close()
	if got := len(q.received()); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	if err := p.Publish(context.Background(), domain.ItemEvent{}); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	p.Close()
}

func TestAsyncPublisherDropsWhenSaturated(t *testing.T) {
	next := &blockingPublisher{release: make(chan struct{})}
	p := NewAsyncPublisher(next, PublisherConfig{Workers: 1, Buffer: 1, Timeout: time.Second, HandoffTimeout: 20 * time.Millisecond}, nil)

	// first event occupies the worker, second fills the buffer
	if err := p.Publish(context.Background(), domain.ItemEvent{ID: "1"}); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(p.jobs) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.Publish(context.Background(), domain.ItemEvent{ID: "2"}); err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	start := time.Now()
	err := p.Publish(context.Background(), domain.ItemEvent{ID: "3"})
	if !errors.Is(err, ErrPublisherBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected publish to wait for the hand-off window, waited %v", elapsed)
	}

	close(next.release)
	p.Close()
	if len(next.got) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(next.got))
	}
}

func TestAsyncPublisherWaitsForCapacity(t *testing.T) {
	next := &blockingPublisher{release: make(chan struct{})}
	p := NewAsyncPublisher(next, PublisherConfig{Workers: 1, Buffer: 0, Timeout: time.Second, HandoffTimeout: 500 * time.Millisecond}, nil)
	defer p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Publish(context.Background(), domain.ItemEvent{ID: "1"}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish did not hand off to idle worker")
	}
	close(next.release)
}

func TestAsyncPublisherLogsDeliveryFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	q := &stubQueue{err: errors.New("queue down")}
	p := NewAsyncPublisher(&EventQueue{queue: q}, PublisherConfig{Workers: 1, Buffer: 1, Timeout: time.Second}, logger)

	if err := p.Publish(context.Background(), domain.ItemEvent{ID: "e1", Type: domain.ItemDeleted, Owner: "alice"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	p.Close()

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel && entry.Message == "event delivery failed" {
			found = true
			if entry.Data["owner"] != "alice" || entry.Data["event"] != domain.ItemDeleted {
				t.Fatalf("unexpected log fields: %#v", entry.Data)
			}
		}
	}
	if !found {
		t.Fatal("expected delivery failure to be logged")
	}
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyPublisher) Publish(context.Context, domain.ItemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func TestAsyncPublisherRetriesWithBackoff(t *testing.T) {
	logger, hook := test.NewNullLogger()
	next := &flakyPublisher{failures: 2}
	p := NewAsyncPublisher(next, PublisherConfig{Workers: 1, Buffer: 1, Retries: 3, RetryInitial: time.Millisecond, RetryMax: 5 * time.Millisecond}, logger)

	if err := p.Publish(context.Background(), domain.ItemEvent{ID: "e1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	p.Close()

	if next.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel {
			t.Fatalf("delivery eventually succeeded, unexpected error log: %s", entry.Message)
		}
	}
}

func TestExponentialBackoffBounds(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second
	if got := exponentialBackoff(0, initial, max); got != initial {
		t.Fatalf("expected initial delay, got %v", got)
	}
	for attempt := 1; attempt < 10; attempt++ {
		base := float64(initial) * float64(int(1)<<(attempt-1))
		if base > float64(max) {
			base = float64(max)
		}
		got := float64(exponentialBackoff(attempt, initial, max))
		if got < base*0.8 || got > base*1.2 {
			t.Fatalf("attempt %d: delay %v outside jitter window of %v", attempt, time.Duration(got), time.Duration(base))
		}
	}
}
