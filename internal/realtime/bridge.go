package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// MessageStream is one active subscription to a bus topic. Next blocks until
// a message arrives, the stream breaks, or the context is canceled.
type MessageStream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamOpener opens topic subscriptions. A returned error is transient; the
// bridge retries with backoff.
type StreamOpener interface {
	OpenStream(ctx context.Context, topic string) (MessageStream, error)
}

// Broadcaster is the local fan-out surface the bridge feeds.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, payload []byte)
}

// SnapshotSource reads current durable state for resync envelopes.
type SnapshotSource interface {
	Snapshot(ctx context.Context, topic string) (bus.ResyncEvent, error)
}

// Bridge maintains exactly one active subscription per topic, forwarding
// envelopes into the fan-out. Transport errors trigger reconnection with
// capped, jittered exponential backoff; after any reconnect or sequence gap
// the bridge broadcasts a fresh store snapshot, because bus continuity is
// never assumed.
type Bridge struct {
	opener    StreamOpener
	fanout    Broadcaster
	snapshots SnapshotSource
	logg      *logger.Logger
	metrics   *metrics.RealtimeMetrics

	topics      []string
	backoffBase time.Duration
	backoffCap  time.Duration
	resyncGap   int64

	mu      sync.Mutex
	lastSeq map[string]int64
}

// BridgeParams configure a Bridge.
type BridgeParams struct {
	Opener      StreamOpener
	Fanout      Broadcaster
	Snapshots   SnapshotSource
	Logger      *logger.Logger
	Metrics     *metrics.RealtimeMetrics
	Topics      []string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	ResyncGap   int64
}

// NewBridge builds a pub/sub bridge.
func NewBridge(params BridgeParams) (*Bridge, error) {
	if params.Opener == nil {
		return nil, fmt.Errorf("stream opener required")
	}
	if params.Fanout == nil {
		return nil, fmt.Errorf("fan-out required")
	}
	if params.Snapshots == nil {
		return nil, fmt.Errorf("snapshot source required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Topics) == 0 {
		params.Topics = bus.AllTopics()
	}
	if params.BackoffBase <= 0 {
		params.BackoffBase = 200 * time.Millisecond
	}
	if params.BackoffCap <= 0 {
		params.BackoffCap = 30 * time.Second
	}
	if params.ResyncGap <= 0 {
		params.ResyncGap = 1
	}
	return &Bridge{
		opener:      params.Opener,
		fanout:      params.Fanout,
		snapshots:   params.Snapshots,
		logg:        params.Logger,
		metrics:     params.Metrics,
		topics:      params.Topics,
		backoffBase: params.BackoffBase,
		backoffCap:  params.BackoffCap,
		resyncGap:   params.ResyncGap,
		lastSeq:     make(map[string]int64),
	}, nil
}

// Run consumes every configured topic until the context is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, topic := range b.topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			b.runTopic(ctx, topic)
		}(topic)
	}
	wg.Wait()
	return ctx.Err()
}

func (b *Bridge) runTopic(ctx context.Context, topic string) {
	logCtx := b.logg.WithTopic(ctx, topic)
	firstConnect := true

	for ctx.Err() == nil {
		stream, err := b.connect(ctx, topic)
		if err != nil {
			return
		}

		if !firstConnect {
			// Ordering across reconnects is not guaranteed; repair from the
			// store instead of trusting the bus.
			b.resync(ctx, topic)
		}
		firstConnect = false

		b.consume(ctx, topic, stream)
		_ = stream.Close()
		if ctx.Err() == nil {
			b.logg.Warn(logCtx, "bus subscription lost, reconnecting")
		}
	}
}

// connect retries until the subscription opens or the context ends.
func (b *Bridge) connect(ctx context.Context, topic string) (MessageStream, error) {
	backoff := retry.NewExponential(b.backoffBase)
	backoff = retry.WithCappedDuration(b.backoffCap, backoff)
	backoff = retry.WithJitterPercent(100, backoff)

	var stream MessageStream
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		opened, openErr := b.opener.OpenStream(ctx, topic)
		if openErr != nil {
			return retry.RetryableError(openErr)
		}
		stream = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// consume forwards envelopes until the stream breaks. Within one stream,
// delivery order equals receive order.
func (b *Bridge) consume(ctx context.Context, topic string, stream MessageStream) {
	logCtx := b.logg.WithTopic(ctx, topic)

	for {
		data, err := stream.Next(ctx)
		if err != nil {
			return
		}

		env, decodeErr := bus.Decode(data)
		if decodeErr != nil {
			b.logg.Warn(logCtx, "dropping undecodable bus message")
			continue
		}

		if b.gapExceeded(topic, env.Sequence) {
			b.logg.Warn(logCtx, "sequence gap detected, resyncing from store")
			b.resync(ctx, topic)
		}
		b.observeSequence(topic, env.Sequence)

		b.fanout.Broadcast(ctx, topic, data)
	}
}

func (b *Bridge) gapExceeded(topic string, sequence int64) bool {
	if sequence <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	last := b.lastSeq[topic]
	return last > 0 && sequence > last+b.resyncGap
}

func (b *Bridge) observeSequence(topic string, sequence int64) {
	if sequence <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sequence > b.lastSeq[topic] {
		b.lastSeq[topic] = sequence
	}
}

// resync broadcasts a fresh store read on the topic so subscribers repair a
// stale view without reconnecting.
func (b *Bridge) resync(ctx context.Context, topic string) {
	snapshot, err := b.snapshots.Snapshot(ctx, topic)
	if err != nil {
		b.logg.Error(b.logg.WithTopic(ctx, topic), "building resync snapshot failed", err)
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		b.logg.Error(b.logg.WithTopic(ctx, topic), "encoding resync snapshot failed", err)
		return
	}

	b.mu.Lock()
	sequence := b.lastSeq[topic]
	b.mu.Unlock()

	env := bus.Envelope{
		Topic:       topic,
		Type:        enums.EventResync,
		EventID:     uuid.NewString(),
		Sequence:    sequence,
		PublishedAt: time.Now().UTC(),
		Payload:     payload,
	}
	data, err := env.Encode()
	if err != nil {
		b.logg.Error(b.logg.WithTopic(ctx, topic), "encoding resync envelope failed", err)
		return
	}

	b.metrics.IncResync(topic)
	b.fanout.Broadcast(ctx, topic, data)
}
