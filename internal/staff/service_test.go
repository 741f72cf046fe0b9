package staff

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubStaffRepo struct {
	workers      map[uuid.UUID]*models.Worker
	claimResult  bool
	staleWorkers []models.Worker
}

func newStubStaffRepo() *stubStaffRepo {
	return &stubStaffRepo{
		workers:     make(map[uuid.UUID]*models.Worker),
		claimResult: true,
	}
}

func (s *stubStaffRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubStaffRepo) UpsertWorker(ctx context.Context, worker *models.Worker) (*models.Worker, error) {
	s.workers[worker.ID] = worker
	return worker, nil
}

func (s *stubStaffRepo) FindWorkerByID(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	worker, ok := s.workers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *worker
	return &copied, nil
}

func (s *stubStaffRepo) ListAvailableWorkers(ctx context.Context) ([]models.Worker, error) {
	var available []models.Worker
	for _, worker := range s.workers {
		if worker.Available {
			available = append(available, *worker)
		}
	}
	return available, nil
}

func (s *stubStaffRepo) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	var all []models.Worker
	for _, worker := range s.workers {
		all = append(all, *worker)
	}
	return all, nil
}

func (s *stubStaffRepo) ListWorkersStaleSince(ctx context.Context, cutoff time.Time) ([]models.Worker, error) {
	return s.staleWorkers, nil
}

func (s *stubStaffRepo) ClaimWorker(ctx context.Context, workerID, ticketID uuid.UUID) (bool, error) {
	if !s.claimResult {
		return false, nil
	}
	if worker, ok := s.workers[workerID]; ok {
		worker.Available = false
		worker.CurrentTicketID = &ticketID
	}
	return true, nil
}

func (s *stubStaffRepo) ReleaseWorker(ctx context.Context, workerID uuid.UUID, idleSince time.Time) (bool, error) {
	worker, ok := s.workers[workerID]
	if !ok {
		return false, nil
	}
	worker.Available = true
	worker.CurrentTicketID = nil
	worker.IdleSince = idleSince
	return true, nil
}

func (s *stubStaffRepo) UpdateHeartbeat(ctx context.Context, workerID uuid.UUID, at time.Time) (bool, error) {
	worker, ok := s.workers[workerID]
	if !ok {
		return false, nil
	}
	worker.LastHeartbeat = at
	return true, nil
}

func (s *stubStaffRepo) SetWorkerAvailability(ctx context.Context, workerID uuid.UUID, available bool, idleSince time.Time) (bool, error) {
	worker, ok := s.workers[workerID]
	if !ok {
		return false, nil
	}
	worker.Available = available
	worker.CurrentTicketID = nil
	if available {
		worker.IdleSince = idleSince
	}
	return true, nil
}

type fakeCache struct {
	values map[string]string
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (f *fakeCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value.(string)
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	value, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeCache) AvailabilityKey(workerID string) string {
	return "bd:worker_available:" + workerID
}

type recordedEvent struct {
	topic   string
	kind    enums.EventType
	payload any
}

type stubPublisher struct {
	events []recordedEvent
}

func (s *stubPublisher) Publish(ctx context.Context, topic string, eventType enums.EventType, payload any) error {
	s.events = append(s.events, recordedEvent{topic: topic, kind: eventType, payload: payload})
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "staff-test", Output: io.Discard})
}

func newTestStaffService(t *testing.T, repo Repository, cache availabilityCache, pub *stubPublisher) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:       repo,
		Cache:      cache,
		Publisher:  pub,
		Logger:     testLogger(),
		OfflineTTL: 90 * time.Second,
	})
	require.NoError(t, err)
	return svc
}

func TestUpsertWorkerProjectsAndPublishes(t *testing.T) {
	repo := newStubStaffRepo()
	cache := newFakeCache()
	pub := &stubPublisher{}
	svc := newTestStaffService(t, repo, cache, pub)

	workerID := uuid.New()
	worker, err := svc.UpsertWorker(context.Background(), UpsertWorkerInput{
		WorkerID:    workerID,
		DisplayName: "Sam",
		Available:   true,
	})
	require.NoError(t, err)
	assert.True(t, worker.Available)

	assert.Equal(t, "true", cache.values[cache.AvailabilityKey(workerID.String())])
	require.Len(t, pub.events, 1)
	assert.Equal(t, bus.TopicWorkersAvailability, pub.events[0].topic)
	assert.Equal(t, enums.EventWorkerAvailability, pub.events[0].kind)
}

func TestSetAvailabilityRejectsWhileTicketHeld(t *testing.T) {
	repo := newStubStaffRepo()
	workerID := uuid.New()
	ticketID := uuid.New()
	repo.workers[workerID] = &models.Worker{
		ID:              workerID,
		Available:       false,
		CurrentTicketID: &ticketID,
	}

	svc := newTestStaffService(t, repo, newFakeCache(), &stubPublisher{})

	_, err := svc.SetAvailability(context.Background(), workerID, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestWorkerAvailabilityFallsBackToStoreOnCacheMiss(t *testing.T) {
	repo := newStubStaffRepo()
	workerID := uuid.New()
	repo.workers[workerID] = &models.Worker{ID: workerID, Available: true}

	cache := newFakeCache()
	svc := newTestStaffService(t, repo, cache, &stubPublisher{})

	available, err := svc.WorkerAvailability(context.Background(), workerID)
	require.NoError(t, err)
	assert.True(t, available)
	// Miss repopulates the projection.
	assert.Equal(t, "true", cache.values[cache.AvailabilityKey(workerID.String())])
}

func TestWorkerAvailabilityPrefersCachedValue(t *testing.T) {
	repo := newStubStaffRepo()
	workerID := uuid.New()
	repo.workers[workerID] = &models.Worker{ID: workerID, Available: true}

	cache := newFakeCache()
	cache.values[cache.AvailabilityKey(workerID.String())] = "false"
	svc := newTestStaffService(t, repo, cache, &stubPublisher{})

	available, err := svc.WorkerAvailability(context.Background(), workerID)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestClaimPublishesBusyAvailability(t *testing.T) {
	repo := newStubStaffRepo()
	workerID := uuid.New()
	repo.workers[workerID] = &models.Worker{ID: workerID, Available: true}

	cache := newFakeCache()
	pub := &stubPublisher{}
	svc := newTestStaffService(t, repo, cache, pub)

	ticketID := uuid.New()
	claimed, err := svc.Claim(context.Background(), workerID, ticketID)
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Equal(t, "false", cache.values[cache.AvailabilityKey(workerID.String())])
	require.Len(t, pub.events, 1)
	payload, ok := pub.events[0].payload.(bus.WorkerAvailabilityEvent)
	require.True(t, ok)
	assert.False(t, payload.Available)
	require.NotNil(t, payload.TicketID)
	assert.Equal(t, ticketID, *payload.TicketID)
}

func TestClaimLostIsSilentNoOp(t *testing.T) {
	repo := newStubStaffRepo()
	repo.claimResult = false

	pub := &stubPublisher{}
	svc := newTestStaffService(t, repo, newFakeCache(), pub)

	claimed, err := svc.Claim(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, pub.events)
}

func TestReleaseRestoresAvailability(t *testing.T) {
	repo := newStubStaffRepo()
	workerID := uuid.New()
	ticketID := uuid.New()
	repo.workers[workerID] = &models.Worker{
		ID:              workerID,
		Available:       false,
		CurrentTicketID: &ticketID,
	}

	cache := newFakeCache()
	pub := &stubPublisher{}
	svc := newTestStaffService(t, repo, cache, pub)

	require.NoError(t, svc.Release(context.Background(), nil, workerID))

	stored := repo.workers[workerID]
	assert.True(t, stored.Available)
	assert.Nil(t, stored.CurrentTicketID)

	// Release participates in the caller's transaction, so projection and
	// event wait for AnnounceRelease after the commit.
	assert.Empty(t, cache.values)
	assert.Empty(t, pub.events)

	svc.AnnounceRelease(context.Background(), workerID)
	assert.Equal(t, "true", cache.values[cache.AvailabilityKey(workerID.String())])
	require.Len(t, pub.events, 1)
	assert.Equal(t, bus.TopicWorkersAvailability, pub.events[0].topic)
}

func TestUpsertWorkerRejectsAvailableWhileTicketHeld(t *testing.T) {
	repo := newStubStaffRepo()
	workerID := uuid.New()
	ticketID := uuid.New()
	repo.workers[workerID] = &models.Worker{
		ID:              workerID,
		DisplayName:     "Sam",
		Available:       false,
		CurrentTicketID: &ticketID,
	}

	pub := &stubPublisher{}
	svc := newTestStaffService(t, repo, newFakeCache(), pub)

	_, err := svc.UpsertWorker(context.Background(), UpsertWorkerInput{
		WorkerID:    workerID,
		DisplayName: "Sam",
		Available:   true,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, pub.events)
	assert.Equal(t, &ticketID, repo.workers[workerID].CurrentTicketID)
}

func TestUpsertWorkerKeepsTicketAttachmentWhenBusy(t *testing.T) {
	repo := newStubStaffRepo()
	workerID := uuid.New()
	ticketID := uuid.New()
	repo.workers[workerID] = &models.Worker{
		ID:              workerID,
		DisplayName:     "Sam",
		Available:       false,
		CurrentTicketID: &ticketID,
	}

	svc := newTestStaffService(t, repo, newFakeCache(), &stubPublisher{})

	worker, err := svc.UpsertWorker(context.Background(), UpsertWorkerInput{
		WorkerID:    workerID,
		DisplayName: "Samuel",
		Available:   false,
	})
	require.NoError(t, err)
	assert.False(t, worker.Available)
	require.NotNil(t, worker.CurrentTicketID)
	assert.Equal(t, ticketID, *worker.CurrentTicketID)
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	svc := newTestStaffService(t, newStubStaffRepo(), newFakeCache(), &stubPublisher{})
	err := svc.Heartbeat(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
