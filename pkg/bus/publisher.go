package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// Transport is the cache-bus surface the publisher depends on.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	NextSequence(ctx context.Context, topic string) (int64, error)
}

// Publisher pushes envelopes onto the cache bus. The bus is advisory: a
// publish failure never propagates to the caller. Failed envelopes land on a
// bounded retry queue (oldest-first eviction by size and age) flushed by Run.
type Publisher struct {
	transport Transport
	breaker   *gobreaker.CircuitBreaker
	logg      *logger.Logger
	metrics   *metrics.RealtimeMetrics
	cfg       config.BusConfig

	mu    sync.Mutex
	queue []pendingEnvelope
}

type pendingEnvelope struct {
	envelope   Envelope
	enqueuedAt time.Time
}

// PublisherParams configure a Publisher.
type PublisherParams struct {
	Transport Transport
	Logger    *logger.Logger
	Metrics   *metrics.RealtimeMetrics
	Config    config.BusConfig
}

// NewPublisher builds a bus publisher.
func NewPublisher(params PublisherParams) (*Publisher, error) {
	if params.Transport == nil {
		return nil, fmt.Errorf("bus transport required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.RetryQueueSize <= 0 {
		cfg.RetryQueueSize = 256
	}
	if cfg.RetryQueueMaxAge <= 0 {
		cfg.RetryQueueMaxAge = 2 * time.Minute
	}
	if cfg.RetryFlushEvery <= 0 {
		cfg.RetryFlushEvery = time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bus-publish",
		Timeout: cfg.BackoffCap,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Publisher{
		transport: params.Transport,
		breaker:   breaker,
		logg:      params.Logger,
		metrics:   params.Metrics,
		cfg:       cfg,
	}, nil
}

// Publish assembles an envelope for the topic and sends it. On transport
// failure the envelope is queued for async retry and nil is returned; writes
// to the durable store must never stall on the bus.
func (p *Publisher) Publish(ctx context.Context, topic string, eventType enums.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}

	env := Envelope{
		Topic:       topic,
		Type:        eventType,
		EventID:     uuid.NewString(),
		PublishedAt: time.Now().UTC(),
		Payload:     data,
	}

	if seq, err := p.transport.NextSequence(ctx, topic); err == nil {
		env.Sequence = seq
	}
	// A zero sequence means the counter was unreachable; the flush loop
	// assigns one before the envelope leaves the queue.

	if err := p.send(ctx, env); err != nil {
		logCtx := p.logg.WithTopic(ctx, topic)
		p.logg.Warn(logCtx, "bus publish failed, queued for retry")
		p.enqueue(env)
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.transport.Publish(ctx, env.Topic, data)
	})
	return err
}

func (p *Publisher) enqueue(env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= p.cfg.RetryQueueSize {
		// Oldest-first eviction keeps the queue bounded; consumers repair
		// the resulting gap through resync.
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, pendingEnvelope{envelope: env, enqueuedAt: time.Now()})
	p.metrics.IncPublishRetry()
}

// QueueDepth reports the current retry backlog.
func (p *Publisher) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run flushes the retry queue until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.RetryFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	pending := p.takePending()
	for i, item := range pending {
		env := item.envelope
		if env.Sequence == 0 {
			seq, err := p.transport.NextSequence(ctx, env.Topic)
			if err != nil {
				p.requeue(pending[i:])
				return
			}
			env.Sequence = seq
		}
		if err := p.send(ctx, env); err != nil {
			pending[i].envelope = env
			p.requeue(pending[i:])
			return
		}
	}
}

// takePending drains entries still young enough to retry.
func (p *Publisher) takePending() []pendingEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.cfg.RetryQueueMaxAge)
	kept := make([]pendingEnvelope, 0, len(p.queue))
	for _, item := range p.queue {
		if item.enqueuedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, item)
	}
	p.queue = nil
	return kept
}

func (p *Publisher) requeue(items []pendingEnvelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(items, p.queue...)
	if overflow := len(p.queue) - p.cfg.RetryQueueSize; overflow > 0 {
		p.queue = p.queue[overflow:]
	}
}
