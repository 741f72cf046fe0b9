package staff

import (
	"context"
	"fmt"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/barberdeskapp/barberdesk-backend/pkg/instance"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/google/uuid"
)

// TicketReclaimer is the ticket surface the offline sweep needs to return an
// abandoned assignment to the pending pool.
type TicketReclaimer interface {
	FindTicketByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	UpdateTicketStatus(ctx context.Context, ticketID uuid.UUID, expected, next enums.TicketStatus, clearAssignee bool) (bool, error)
}

// sweepLock coordinates the instances running the sweep so only one performs
// a pass at a time. The lock is advisory: every mutation underneath is a
// conditional store write, so losing it only costs duplicate work.
type sweepLock interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

const offlineSweepLockName = "worker_offline_sweep"

// OfflineSweeper periodically marks workers offline once their heartbeat goes
// stale. Tickets still ASSIGNED to a reclaimed worker return to PENDING and
// re-enter the assignment sweep; IN_PROGRESS tickets are left attached for
// manual intervention.
type OfflineSweeper struct {
	repo      Repository
	service   Service
	tickets   TicketReclaimer
	publisher eventPublisher
	lock      sweepLock
	logg      *logger.Logger

	interval         time.Duration
	heartbeatTimeout time.Duration
}

// OfflineSweeperParams configure an OfflineSweeper. Lock is optional; without
// it every instance sweeps on its own cadence.
type OfflineSweeperParams struct {
	Repo             Repository
	Service          Service
	Tickets          TicketReclaimer
	Publisher        eventPublisher
	Lock             sweepLock
	Logger           *logger.Logger
	Interval         time.Duration
	HeartbeatTimeout time.Duration
}

// NewOfflineSweeper builds the worker-offline sweep.
func NewOfflineSweeper(params OfflineSweeperParams) (*OfflineSweeper, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("staff repository required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("staff service required")
	}
	if params.Tickets == nil {
		return nil, fmt.Errorf("ticket reclaimer required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Interval <= 0 {
		params.Interval = 5 * time.Second
	}
	if params.HeartbeatTimeout <= 0 {
		params.HeartbeatTimeout = time.Minute
	}
	return &OfflineSweeper{
		repo:             params.Repo,
		service:          params.Service,
		tickets:          params.Tickets,
		publisher:        params.Publisher,
		lock:             params.Lock,
		logg:             params.Logger,
		interval:         params.Interval,
		heartbeatTimeout: params.HeartbeatTimeout,
	}, nil
}

// Run sweeps on the configured interval until the context is canceled.
func (s *OfflineSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logg.Error(ctx, "worker offline sweep failed", err)
			}
		}
	}
}

// Sweep performs one pass over stale workers. When a lock is configured and
// another instance holds it, the pass is skipped; a lock acquisition failure
// (bus down) degrades to sweeping anyway since the store writes are guarded.
func (s *OfflineSweeper) Sweep(ctx context.Context) error {
	if s.lock != nil {
		key := s.lock.LockKey(offlineSweepLockName)
		acquired, err := s.lock.SetNX(ctx, key, instance.GetID(), s.interval)
		if err != nil {
			s.logg.Warn(ctx, "sweep lock acquisition failed, sweeping anyway")
		} else if !acquired {
			return nil
		} else {
			defer func() {
				if delErr := s.lock.Del(ctx, key); delErr != nil {
					s.logg.Warn(ctx, "sweep lock release failed")
				}
			}()
		}
	}

	cutoff := time.Now().UTC().Add(-s.heartbeatTimeout)
	stale, err := s.repo.ListWorkersStaleSince(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, worker := range stale {
		logCtx := s.logg.WithWorkerID(ctx, worker.ID.String())

		if worker.CurrentTicketID != nil {
			reclaimed, reclaimErr := s.reclaimTicket(ctx, *worker.CurrentTicketID, worker.ID)
			if reclaimErr != nil {
				s.logg.Error(logCtx, "reclaiming ticket from stale worker failed", reclaimErr)
				continue
			}
			if !reclaimed {
				// Ticket is mid-service; keep the attachment visible for a
				// human to resolve.
				s.logg.Warn(logCtx, "stale worker holds in-progress ticket, skipping offline mark")
				continue
			}
		}

		if _, offErr := s.service.SetAvailability(ctx, worker.ID, false); offErr != nil {
			s.logg.Error(logCtx, "marking stale worker offline failed", offErr)
			continue
		}
		s.logg.Info(logCtx, "worker marked offline after heartbeat timeout")
	}
	return nil
}

// reclaimTicket returns true when the ticket was safely detached from the
// worker (returned to PENDING, or already moved on).
func (s *OfflineSweeper) reclaimTicket(ctx context.Context, ticketID, workerID uuid.UUID) (bool, error) {
	ticket, err := s.tickets.FindTicketByID(ctx, ticketID)
	if err != nil {
		return false, err
	}

	switch ticket.Status {
	case enums.TicketStatusAssigned:
		swapped, swapErr := s.tickets.UpdateTicketStatus(ctx, ticketID, enums.TicketStatusAssigned, enums.TicketStatusPending, true)
		if swapErr != nil {
			return false, swapErr
		}
		if swapped {
			ticket.Status = enums.TicketStatusPending
			ticket.AssigneeID = nil
			event := bus.TicketEventFrom(*ticket)
			event.WorkerID = &workerID
			_ = s.publisher.Publish(ctx, bus.TopicTicketsAssigned, enums.EventTicketStatus, event)
		}
		return true, nil
	case enums.TicketStatusInProgress:
		return false, nil
	default:
		// Terminal or already reassigned elsewhere; nothing to reclaim.
		return true, nil
	}
}
