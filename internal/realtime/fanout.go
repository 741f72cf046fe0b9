package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/metrics"
)

// Fanout delivers one payload to every connection subscribed to a topic. Each
// delivery runs in its own goroutine with an individual timeout, so one slow
// or dead peer never delays the rest, and a single connection's failure is
// never surfaced to the publisher.
type Fanout struct {
	registry *Registry
	logg     *logger.Logger
	metrics  *metrics.RealtimeMetrics
	timeout  time.Duration
}

// FanoutParams configure a Fanout.
type FanoutParams struct {
	Registry        *Registry
	Logger          *logger.Logger
	Metrics         *metrics.RealtimeMetrics
	DeliveryTimeout time.Duration
}

// NewFanout builds a fan-out engine over the registry.
func NewFanout(params FanoutParams) (*Fanout, error) {
	if params.Registry == nil {
		return nil, fmt.Errorf("connection registry required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DeliveryTimeout <= 0 {
		params.DeliveryTimeout = 2 * time.Second
	}
	return &Fanout{
		registry: params.Registry,
		logg:     params.Logger,
		metrics:  params.Metrics,
		timeout:  params.DeliveryTimeout,
	}, nil
}

// Broadcast delivers the payload to every subscriber of the topic and waits
// for all attempts to settle (each bounded by the per-connection timeout).
func (f *Fanout) Broadcast(ctx context.Context, topic string, payload []byte) {
	targets := f.registry.Subscribers(topic)
	if len(targets) == 0 {
		return
	}

	started := time.Now()
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			f.deliver(ctx, topic, target, payload)
		}(target)
	}
	wg.Wait()

	f.metrics.ObserveBroadcast(topic, time.Since(started))
}

func (f *Fanout) deliver(ctx context.Context, topic string, target Target, payload []byte) {
	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := target.Sink.Send(sendCtx, payload); err != nil {
		f.metrics.IncDeliveryFailure(topic)
		logCtx := f.logg.WithTopic(f.logg.WithConnID(ctx, target.ConnID), topic)
		if f.registry.RecordFailure(target.ConnID) {
			f.logg.Warn(logCtx, "connection evicted after repeated delivery failures")
		} else {
			f.logg.Warn(logCtx, "delivery failed")
		}
		return
	}

	f.registry.RecordSuccess(target.ConnID)
	f.metrics.IncDelivery(topic)
}
