package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/metrics"
)

// Sink is the write side of one live connection. Send must honor the context
// deadline; Close is idempotent.
type Sink interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

type connState struct {
	id       string
	role     enums.ConnectionRole
	granted  map[string]struct{}
	topics   map[string]struct{}
	lastSeen time.Time
	failures int
	sink     Sink
}

func (c *connState) hasGrant(topic string) bool {
	if _, ok := c.granted["*"]; ok {
		return true
	}
	_, ok := c.granted[topic]
	return ok
}

// Registry tracks every live connection, its grants, subscriptions, and
// liveness. It is the only component that removes connections: the fan-out
// reports failures here, and the stale sweep evicts silent peers. Every
// registration has a symmetric removal path so no connection outlives its
// transport.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connState

	logg    *logger.Logger
	metrics *metrics.RealtimeMetrics

	heartbeatTimeout    time.Duration
	evictionInterval    time.Duration
	maxDeliveryFailures int
}

// RegistryParams configure a Registry.
type RegistryParams struct {
	Logger              *logger.Logger
	Metrics             *metrics.RealtimeMetrics
	HeartbeatTimeout    time.Duration
	EvictionInterval    time.Duration
	MaxDeliveryFailures int
}

// NewRegistry builds an empty connection registry.
func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.HeartbeatTimeout <= 0 {
		params.HeartbeatTimeout = 60 * time.Second
	}
	if params.EvictionInterval <= 0 {
		params.EvictionInterval = 15 * time.Second
	}
	if params.MaxDeliveryFailures <= 0 {
		params.MaxDeliveryFailures = 3
	}
	return &Registry{
		conns:               make(map[string]*connState),
		logg:                params.Logger,
		metrics:             params.Metrics,
		heartbeatTimeout:    params.HeartbeatTimeout,
		evictionInterval:    params.EvictionInterval,
		maxDeliveryFailures: params.MaxDeliveryFailures,
	}, nil
}

// Register adds a connection with its grant set. Topics in the grant are not
// subscribed automatically; clients opt in per topic.
func (r *Registry) Register(connID string, role enums.ConnectionRole, grantedTopics []string, sink Sink) error {
	if connID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "connection id required")
	}
	if sink == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "connection sink required")
	}

	granted := make(map[string]struct{}, len(grantedTopics))
	for _, topic := range grantedTopics {
		granted[topic] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[connID]; exists {
		return pkgerrors.New(pkgerrors.CodeConflict, "connection already registered")
	}
	r.conns[connID] = &connState{
		id:       connID,
		role:     role,
		granted:  granted,
		topics:   make(map[string]struct{}),
		lastSeen: time.Now().UTC(),
		sink:     sink,
	}
	return nil
}

// Subscribe adds a topic to the connection. Topics outside the connection's
// grant are rejected without side effects.
func (r *Registry) Subscribe(connID, topic string) error {
	if !bus.IsKnownTopic(topic) {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown topic")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "connection not registered")
	}
	if !conn.hasGrant(topic) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "topic outside connection grant")
	}
	conn.topics[topic] = struct{}{}
	conn.lastSeen = time.Now().UTC()
	return nil
}

// Unsubscribe removes a topic from the connection. Unknown connections and
// topics are no-ops.
func (r *Registry) Unsubscribe(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		delete(conn.topics, topic)
		conn.lastSeen = time.Now().UTC()
	}
}

// Heartbeat refreshes the connection's liveness clock.
func (r *Registry) Heartbeat(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "connection not registered")
	}
	conn.lastSeen = time.Now().UTC()
	return nil
}

// Unregister removes the connection and closes its transport. Safe to call
// multiple times.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()

	if ok {
		_ = conn.sink.Close()
	}
}

// Target is one delivery destination for a broadcast.
type Target struct {
	ConnID string
	Sink   Sink
}

// Subscribers snapshots the connections subscribed to the topic so delivery
// never holds the registry lock across socket writes.
func (r *Registry) Subscribers(topic string) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var targets []Target
	for _, conn := range r.conns {
		if _, ok := conn.topics[topic]; ok {
			targets = append(targets, Target{ConnID: conn.id, Sink: conn.sink})
		}
	}
	return targets
}

// RecordSuccess resets the connection's consecutive failure count.
func (r *Registry) RecordSuccess(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.failures = 0
	}
}

// RecordFailure counts one failed delivery. Crossing the consecutive-failure
// limit evicts the connection: repeated failure is evidence of a dead peer.
func (r *Registry) RecordFailure(connID string) (evicted bool) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	conn.failures++
	evict := conn.failures >= r.maxDeliveryFailures
	if evict {
		delete(r.conns, connID)
	}
	r.mu.Unlock()

	if evict {
		_ = conn.sink.Close()
		r.metrics.IncEviction()
	}
	return evict
}

// EvictStale removes connections whose last heartbeat predates the timeout.
func (r *Registry) EvictStale(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.heartbeatTimeout)

	r.mu.Lock()
	var stale []*connState
	for id, conn := range r.conns {
		if conn.lastSeen.Before(cutoff) {
			stale = append(stale, conn)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, conn := range stale {
		_ = conn.sink.Close()
		r.metrics.IncEviction()
		logCtx := r.logg.WithConnID(ctx, conn.id)
		r.logg.Info(logCtx, "stale connection evicted")
	}
	return len(stale)
}

// Run evicts stale connections on an interval until the context is canceled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.EvictStale(ctx)
		}
	}
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Has reports whether the connection is still registered.
func (r *Registry) Has(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// CloseAll force-closes every connection. Called after the shutdown drain
// grace expires.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connState)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.sink.Close()
	}
}
