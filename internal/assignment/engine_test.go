package assignment

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/internal/staff"
	"github.com/barberdeskapp/barberdesk-backend/internal/tickets"
	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordedEvent struct {
	topic   string
	kind    enums.EventType
	payload any
}

type capturePublisher struct {
	events []recordedEvent
}

func (c *capturePublisher) Publish(ctx context.Context, topic string, eventType enums.EventType, payload any) error {
	c.events = append(c.events, recordedEvent{topic: topic, kind: eventType, payload: payload})
	return nil
}

func (c *capturePublisher) byTopic(topic string) []recordedEvent {
	var matched []recordedEvent
	for _, event := range c.events {
		if event.topic == topic {
			matched = append(matched, event)
		}
	}
	return matched
}

type memCache struct {
	values map[string]string
}

func (m *memCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = value.(string)
	return nil
}

func (m *memCache) Get(ctx context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memCache) AvailabilityKey(workerID string) string {
	return "bd:worker_available:" + workerID
}

type engineFixture struct {
	engine      *Engine
	ticketsRepo tickets.Repository
	staffRepo   staff.Repository
	staffSvc    staff.Service
	pub         *capturePublisher
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:assignment_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.Ticket{}, &models.Worker{}))

	logg := logger.New(logger.Options{ServiceName: "assignment-test", Output: io.Discard})
	pub := &capturePublisher{}

	staffRepo := staff.NewRepository(conn, 0)
	staffSvc, err := staff.NewService(staff.ServiceParams{
		Repo:      staffRepo,
		Cache:     &memCache{values: make(map[string]string)},
		Publisher: pub,
		Logger:    logg,
	})
	require.NoError(t, err)

	ticketsRepo := tickets.NewRepository(conn, 0)

	engine, err := NewEngine(EngineParams{
		Tickets:   ticketsRepo,
		Workers:   staffSvc,
		Publisher: pub,
		Logger:    logg,
	})
	require.NoError(t, err)

	return &engineFixture{
		engine:      engine,
		ticketsRepo: ticketsRepo,
		staffRepo:   staffRepo,
		staffSvc:    staffSvc,
		pub:         pub,
	}
}

func (f *engineFixture) seedWorker(t *testing.T, available bool, idleSince time.Time) *models.Worker {
	t.Helper()
	worker := &models.Worker{
		ID:            uuid.New(),
		DisplayName:   "w-" + uuid.NewString()[:8],
		Available:     available,
		LastHeartbeat: time.Now().UTC(),
		IdleSince:     idleSince,
	}
	_, err := f.staffRepo.UpsertWorker(context.Background(), worker)
	require.NoError(t, err)
	return worker
}

func (f *engineFixture) seedPendingTicket(t *testing.T, key string, createdAt time.Time) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		ID:          uuid.New(),
		CreationKey: key,
		CustomerRef: "cust-1",
		ServiceType: "fade",
		Status:      enums.TicketStatusPending,
		AmountCents: 4500,
		Currency:    "USD",
		CreatedAt:   createdAt,
	}
	_, err := f.ticketsRepo.CreateTicket(context.Background(), ticket)
	require.NoError(t, err)
	return ticket
}

func TestTryAssignPicksLongestIdleWorker(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	w1 := f.seedWorker(t, true, now.Add(-time.Minute))
	w2 := f.seedWorker(t, true, now.Add(-time.Hour))
	ticket := f.seedPendingTicket(t, "pay_t1", now)

	assigned, err := f.engine.TryAssign(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusAssigned, assigned.Status)
	require.NotNil(t, assigned.AssigneeID)
	assert.Equal(t, w2.ID, *assigned.AssigneeID)

	stored, err := f.ticketsRepo.FindTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusAssigned, stored.Status)
	require.NotNil(t, stored.AssigneeID)
	assert.Equal(t, w2.ID, *stored.AssigneeID)

	busy, err := f.staffRepo.FindWorkerByID(ctx, w2.ID)
	require.NoError(t, err)
	assert.False(t, busy.Available)
	require.NotNil(t, busy.CurrentTicketID)
	assert.Equal(t, ticket.ID, *busy.CurrentTicketID)

	idle, err := f.staffRepo.FindWorkerByID(ctx, w1.ID)
	require.NoError(t, err)
	assert.True(t, idle.Available)

	assignedEvents := f.pub.byTopic(bus.TopicTicketsAssigned)
	require.Len(t, assignedEvents, 1)
	payload, ok := assignedEvents[0].payload.(bus.TicketEvent)
	require.True(t, ok)
	assert.Equal(t, ticket.ID, payload.TicketID)
	require.NotNil(t, payload.WorkerID)
	assert.Equal(t, w2.ID, *payload.WorkerID)
}

func TestTryAssignDefersWhenNoWorkerAvailable(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.seedWorker(t, false, now)
	ticket := f.seedPendingTicket(t, "pay_wait", now)

	result, err := f.engine.TryAssign(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusPending, result.Status)
	assert.Empty(t, f.pub.byTopic(bus.TopicTicketsAssigned))
}

func TestSweepAssignsOnceWorkerFreesUp(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	worker := f.seedWorker(t, false, now)
	ticket := f.seedPendingTicket(t, "pay_sweep", now)

	require.NoError(t, f.engine.SweepPending(ctx))
	stored, err := f.ticketsRepo.FindTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusPending, stored.Status)

	_, err = f.staffSvc.SetAvailability(ctx, worker.ID, true)
	require.NoError(t, err)

	require.NoError(t, f.engine.SweepPending(ctx))
	stored, err = f.ticketsRepo.FindTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusAssigned, stored.Status)
	require.NotNil(t, stored.AssigneeID)
	assert.Equal(t, worker.ID, *stored.AssigneeID)
}

func TestSweepAssignsOldestTicketFirst(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.seedWorker(t, true, now.Add(-time.Hour))
	older := f.seedPendingTicket(t, "pay_older", now.Add(-10*time.Minute))
	newer := f.seedPendingTicket(t, "pay_newer", now)

	require.NoError(t, f.engine.SweepPending(ctx))

	storedOlder, err := f.ticketsRepo.FindTicketByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusAssigned, storedOlder.Status)

	storedNewer, err := f.ticketsRepo.FindTicketByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusPending, storedNewer.Status)
}

func TestTryAssignLostSwapReleasesWorkerAndStops(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	worker := f.seedWorker(t, true, now.Add(-time.Hour))
	ticket := f.seedPendingTicket(t, "pay_raced", now)

	// Another process wins the ticket between our read and our swap.
	other := uuid.New()
	won, err := f.ticketsRepo.AssignTicket(ctx, ticket.ID, other, enums.TicketStatusPending)
	require.NoError(t, err)
	require.True(t, won)

	stale := *ticket
	stale.Status = enums.TicketStatusPending

	result, err := f.engine.TryAssign(ctx, &stale)
	require.NoError(t, err)
	assert.Equal(t, enums.TicketStatusAssigned, result.Status)
	require.NotNil(t, result.AssigneeID)
	assert.Equal(t, other, *result.AssigneeID)

	// The claimed worker was returned to the pool.
	restored, err := f.staffRepo.FindWorkerByID(ctx, worker.ID)
	require.NoError(t, err)
	assert.True(t, restored.Available)
	assert.Nil(t, restored.CurrentTicketID)

	assert.Empty(t, f.pub.byTopic(bus.TopicTicketsAssigned))
}

func TestNotifyAvailabilityNeverBlocks(t *testing.T) {
	f := setupEngine(t)
	for i := 0; i < 10; i++ {
		f.engine.NotifyAvailability()
	}
}
