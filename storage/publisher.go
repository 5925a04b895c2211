package storage

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"dashboard/domain"
)

// ErrPublisherBusy is returned when the event buffer stays full for the
// whole hand-off window. The event is dropped.
var ErrPublisherBusy = errors.New("event publisher saturated")

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("event publisher closed")

type eventPublisher interface {
	Publish(ctx context.Context, ev domain.ItemEvent) error
}

type PublisherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration // per delivery
	HandoffTimeout time.Duration // how long Publish waits for buffer space
	Retries        int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer < 0 {
		c.Buffer = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	return c
}

// AsyncPublisher hands events to a bounded pool of workers that deliver them
// to next. Publish never waits longer than the hand-off timeout, so a slow
// queue cannot stall the request path.
type AsyncPublisher struct {
	next   eventPublisher
	cfg    PublisherConfig
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan domain.ItemEvent
	wg     sync.WaitGroup
}

func NewAsyncPublisher(next eventPublisher, cfg PublisherConfig, logger *log.Logger) *AsyncPublisher {
	if next == nil {
		panic("storage.NewAsyncPublisher: next publisher is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	p := &AsyncPublisher{
		next:   next,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan domain.ItemEvent, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return p
}

func (p *AsyncPublisher) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		p.deliver(id, ev)
	}
}

func (p *AsyncPublisher) deliver(worker int, ev domain.ItemEvent) {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		err := p.next.Publish(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		entry := p.logger.WithError(err).WithFields(log.Fields{
			"owner":   ev.Owner,
			"event":   ev.Type,
			"id":      ev.ID,
			"worker":  worker,
			"attempt": attempt + 1,
		})
		if attempt >= p.cfg.Retries {
			entry.Error("event delivery failed")
			return
		}
		entry.Warn("event delivery failed, retrying")
		time.Sleep(exponentialBackoff(attempt+1, p.cfg.RetryInitial, p.cfg.RetryMax))
	}
}

// Publish queues ev for delivery. The ctx of the caller is not used by the
// delivery itself, which outlives the request.
func (p *AsyncPublisher) Publish(ctx context.Context, ev domain.ItemEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.jobs <- ev:
		return nil
	default:
	}
	if p.cfg.HandoffTimeout <= 0 {
		return ErrPublisherBusy
	}

	timer := time.NewTimer(p.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- ev:
		return nil
	case <-timer.C:
		return ErrPublisherBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
