package staff

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type eventPublisher interface {
	Publish(ctx context.Context, topic string, eventType enums.EventType, payload any) error
}

// availabilityCache is the shared-state projection. It is never authoritative:
// write failures are logged and the store read path repairs divergence.
type availabilityCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	AvailabilityKey(workerID string) string
}

// Service exposes worker roster operations.
type Service interface {
	UpsertWorker(ctx context.Context, input UpsertWorkerInput) (*models.Worker, error)
	GetWorker(ctx context.Context, workerID uuid.UUID) (*models.Worker, error)
	Heartbeat(ctx context.Context, workerID uuid.UUID) error
	SetAvailability(ctx context.Context, workerID uuid.UUID, available bool) (*models.Worker, error)
	AvailableWorkers(ctx context.Context) ([]models.Worker, error)
	WorkerAvailability(ctx context.Context, workerID uuid.UUID) (bool, error)
	Claim(ctx context.Context, workerID, ticketID uuid.UUID) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, workerID uuid.UUID) error
	AnnounceRelease(ctx context.Context, workerID uuid.UUID)
	RosterSnapshot(ctx context.Context) ([]models.Worker, error)
}

type service struct {
	repo       Repository
	cache      availabilityCache
	publisher  eventPublisher
	logg       *logger.Logger
	offlineTTL time.Duration
}

// ServiceParams bundle the staff service dependencies.
type ServiceParams struct {
	Repo       Repository
	Cache      availabilityCache
	Publisher  eventPublisher
	Logger     *logger.Logger
	OfflineTTL time.Duration
}

// NewService builds a staff service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("staff repository required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("availability cache required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.OfflineTTL <= 0 {
		params.OfflineTTL = 90 * time.Second
	}
	return &service{
		repo:       params.Repo,
		cache:      params.Cache,
		publisher:  params.Publisher,
		logg:       params.Logger,
		offlineTTL: params.OfflineTTL,
	}, nil
}

func (s *service) UpsertWorker(ctx context.Context, input UpsertWorkerInput) (*models.Worker, error) {
	if input.WorkerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	if strings.TrimSpace(input.DisplayName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "display name required")
	}

	current, err := s.repo.FindWorkerByID(ctx, input.WorkerID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, db.AsStoreError(err, "load worker")
	}
	// A re-login while a ticket is attached must not flip the worker back to
	// available: the next claim would silently overwrite the attachment.
	if current != nil && current.CurrentTicketID != nil && input.Available {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "worker still holds an active ticket")
	}

	now := time.Now().UTC()
	worker := &models.Worker{
		ID:            input.WorkerID,
		DisplayName:   strings.TrimSpace(input.DisplayName),
		Available:     input.Available,
		LastHeartbeat: now,
		IdleSince:     now,
	}
	worker, err = s.repo.UpsertWorker(ctx, worker)
	if err != nil {
		return nil, db.AsStoreError(err, "upsert worker")
	}
	if current != nil {
		// The conflict update never touches the attachment column.
		worker.CurrentTicketID = current.CurrentTicketID
	}

	s.projectAvailability(ctx, worker.ID, worker.Available)
	s.publishAvailability(ctx, worker.ID, worker.Available, nil)
	return worker, nil
}

func (s *service) GetWorker(ctx context.Context, workerID uuid.UUID) (*models.Worker, error) {
	if workerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	worker, err := s.repo.FindWorkerByID(ctx, workerID)
	if err != nil {
		return nil, db.AsStoreError(err, "load worker")
	}
	return worker, nil
}

func (s *service) Heartbeat(ctx context.Context, workerID uuid.UUID) error {
	if workerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}
	found, err := s.repo.UpdateHeartbeat(ctx, workerID, time.Now().UTC())
	if err != nil {
		return db.AsStoreError(err, "update heartbeat")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "worker not found")
	}
	return nil
}

func (s *service) SetAvailability(ctx context.Context, workerID uuid.UUID, available bool) (*models.Worker, error) {
	if workerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "worker id required")
	}

	current, err := s.repo.FindWorkerByID(ctx, workerID)
	if err != nil {
		return nil, db.AsStoreError(err, "load worker")
	}
	if available && current.CurrentTicketID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "worker still holds an active ticket")
	}

	now := time.Now().UTC()
	found, err := s.repo.SetWorkerAvailability(ctx, workerID, available, now)
	if err != nil {
		return nil, db.AsStoreError(err, "set worker availability")
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "worker not found")
	}

	current.Available = available
	current.CurrentTicketID = nil
	if available {
		current.IdleSince = now
	}

	s.projectAvailability(ctx, workerID, available)
	s.publishAvailability(ctx, workerID, available, nil)
	return current, nil
}

func (s *service) AvailableWorkers(ctx context.Context) ([]models.Worker, error) {
	workers, err := s.repo.ListAvailableWorkers(ctx)
	if err != nil {
		return nil, db.AsStoreError(err, "list available workers")
	}
	return workers, nil
}

// WorkerAvailability reads the cached projection, falling back to the store
// and repopulating the cache on miss.
func (s *service) WorkerAvailability(ctx context.Context, workerID uuid.UUID) (bool, error) {
	if cached, err := s.cache.Get(ctx, s.cache.AvailabilityKey(workerID.String())); err == nil {
		if available, parseErr := strconv.ParseBool(cached); parseErr == nil {
			return available, nil
		}
	}
	worker, err := s.repo.FindWorkerByID(ctx, workerID)
	if err != nil {
		return false, db.AsStoreError(err, "load worker availability")
	}
	s.projectAvailability(ctx, workerID, worker.Available)
	return worker.Available, nil
}

// Claim flips an available worker to busy for the given ticket. A false
// result means the worker was already taken; the caller retries with the next
// candidate.
func (s *service) Claim(ctx context.Context, workerID, ticketID uuid.UUID) (bool, error) {
	claimed, err := s.repo.ClaimWorker(ctx, workerID, ticketID)
	if err != nil {
		return false, db.AsStoreError(err, "claim worker")
	}
	if !claimed {
		return false, nil
	}
	s.projectAvailability(ctx, workerID, false)
	s.publishAvailability(ctx, workerID, false, &ticketID)
	return true, nil
}

// Release returns a worker to the available pool, resetting the idle clock.
// It participates in the caller's transaction when one is supplied and only
// touches the store: the caller invokes AnnounceRelease once the surrounding
// transaction has committed, so a rollback never leaks an available=true
// projection or event.
func (s *service) Release(ctx context.Context, tx *gorm.DB, workerID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	found, err := repo.ReleaseWorker(ctx, workerID, time.Now().UTC())
	if err != nil {
		return db.AsStoreError(err, "release worker")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "worker not found")
	}
	return nil
}

// AnnounceRelease emits the cache projection and availability event for a
// committed release.
func (s *service) AnnounceRelease(ctx context.Context, workerID uuid.UUID) {
	s.projectAvailability(ctx, workerID, true)
	s.publishAvailability(ctx, workerID, true, nil)
}

func (s *service) RosterSnapshot(ctx context.Context) ([]models.Worker, error) {
	workers, err := s.repo.ListWorkers(ctx)
	if err != nil {
		return nil, db.AsStoreError(err, "list workers")
	}
	return workers, nil
}

func (s *service) projectAvailability(ctx context.Context, workerID uuid.UUID, available bool) {
	key := s.cache.AvailabilityKey(workerID.String())
	if err := s.cache.Set(ctx, key, strconv.FormatBool(available), s.offlineTTL); err != nil {
		logCtx := s.logg.WithWorkerID(ctx, workerID.String())
		s.logg.Warn(logCtx, "availability cache write failed")
	}
}

func (s *service) publishAvailability(ctx context.Context, workerID uuid.UUID, available bool, ticketID *uuid.UUID) {
	_ = s.publisher.Publish(ctx, bus.TopicWorkersAvailability, enums.EventWorkerAvailability, bus.WorkerAvailabilityEvent{
		WorkerID:  workerID,
		Available: available,
		TicketID:  ticketID,
		ChangedAt: time.Now().UTC(),
	})
}
