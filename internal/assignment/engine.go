package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TicketStore is the durable ticket surface the engine swaps against. The
// store is the sole CAS authority; the cache and bus are advisory.
type TicketStore interface {
	AssignTicket(ctx context.Context, ticketID, workerID uuid.UUID, expected enums.TicketStatus) (bool, error)
	FindTicketByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	QueryPendingTickets(ctx context.Context, limit int) ([]models.Ticket, error)
}

// WorkerPool hands out and returns worker capacity. Compensation releases run
// outside any transaction, so the engine announces them immediately after the
// store write.
type WorkerPool interface {
	AvailableWorkers(ctx context.Context) ([]models.Worker, error)
	Claim(ctx context.Context, workerID, ticketID uuid.UUID) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, workerID uuid.UUID) error
	AnnounceRelease(ctx context.Context, workerID uuid.UUID)
}

type eventPublisher interface {
	Publish(ctx context.Context, topic string, eventType enums.EventType, payload any) error
}

// Engine places pending tickets on the longest-idle available worker. Losing
// the ticket swap is not an error: it means another process won, and the
// ticket is that process's to fan out. Tickets with no available worker stay
// pending and are re-evaluated on the periodic sweep or on a worker
// availability change.
type Engine struct {
	tickets   TicketStore
	workers   WorkerPool
	publisher eventPublisher
	logg      *logger.Logger
	metrics   *metrics.AssignmentMetrics

	maxRetries    int
	sweepInterval time.Duration

	kick chan struct{}
}

// EngineParams configure an Engine.
type EngineParams struct {
	Tickets       TicketStore
	Workers       WorkerPool
	Publisher     eventPublisher
	Logger        *logger.Logger
	Metrics       *metrics.AssignmentMetrics
	MaxRetries    int
	SweepInterval time.Duration
}

// NewEngine builds an assignment engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Tickets == nil {
		return nil, fmt.Errorf("ticket store required")
	}
	if params.Workers == nil {
		return nil, fmt.Errorf("worker pool required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = 3
	}
	if params.SweepInterval <= 0 {
		params.SweepInterval = 5 * time.Second
	}
	return &Engine{
		tickets:       params.Tickets,
		workers:       params.Workers,
		publisher:     params.Publisher,
		logg:          params.Logger,
		metrics:       params.Metrics,
		maxRetries:    params.MaxRetries,
		sweepInterval: params.SweepInterval,
		kick:          make(chan struct{}, 1),
	}, nil
}

// NotifyAvailability wakes the sweep early after a worker becomes available,
// so no ticket waits longer than one sweep interval for a freed worker.
func (e *Engine) NotifyAvailability() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives the pending-ticket sweep until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.kick:
		}
		if err := e.SweepPending(ctx); err != nil {
			e.logg.Error(ctx, "pending ticket sweep failed", err)
		}
	}
}

// sweepBatch bounds how many pending tickets one pass loads; the queue beyond
// it is older-first anyway, so leftovers lead the next pass.
const sweepBatch = 100

// SweepPending attempts assignment for every pending ticket, oldest first. It
// stops early once the worker pool is exhausted; remaining tickets wait for
// the next pass.
func (e *Engine) SweepPending(ctx context.Context) error {
	pending, err := e.tickets.QueryPendingTickets(ctx, sweepBatch)
	if err != nil {
		return db.AsStoreError(err, "query pending tickets")
	}

	for i := range pending {
		ticket := pending[i]
		updated, assignErr := e.TryAssign(ctx, &ticket)
		if assignErr != nil {
			logCtx := e.logg.WithTicketID(ctx, ticket.ID.String())
			e.logg.Warn(logCtx, "sweep assignment attempt failed")
			continue
		}
		if updated.Status == enums.TicketStatusPending {
			// No capacity left; everything behind this ticket is younger.
			return nil
		}
	}
	return nil
}

// TryAssign places one ticket. It returns the ticket's latest known state:
// assigned to a worker, assigned elsewhere, or still pending when no worker
// is free. Exhausting the bounded retries surfaces a conflict error.
func (e *Engine) TryAssign(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	if ticket == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket required")
	}
	if ticket.Status != enums.TicketStatusPending {
		return ticket, nil
	}

	started := time.Now()
	defer func() {
		e.metrics.ObserveDuration(time.Since(started))
	}()

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		candidates, err := e.workers.AvailableWorkers(ctx)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			e.metrics.IncDeferred()
			return ticket, nil
		}

		placed, result, err := e.attemptCandidates(ctx, ticket, candidates)
		if err != nil {
			return nil, err
		}
		if placed {
			return result, nil
		}
		if result != nil {
			// Another process won the ticket; its state is final for us.
			return result, nil
		}
		// Every candidate was claimed out from under us; refresh and retry.
	}

	e.metrics.IncFailure()
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "assignment failed after retries")
}

// attemptCandidates walks the ordered candidate list. Returns (true, ticket)
// on a win, (false, ticket) when the ticket left PENDING under us, and
// (false, nil) when all candidates were stolen and the caller should retry.
func (e *Engine) attemptCandidates(ctx context.Context, ticket *models.Ticket, candidates []models.Worker) (bool, *models.Ticket, error) {
	for _, candidate := range candidates {
		claimed, err := e.workers.Claim(ctx, candidate.ID, ticket.ID)
		if err != nil {
			return false, nil, err
		}
		if !claimed {
			continue
		}

		won, err := e.tickets.AssignTicket(ctx, ticket.ID, candidate.ID, enums.TicketStatusPending)
		if err != nil {
			// The worker claim must not leak when the store write failed.
			e.releaseClaim(ctx, candidate.ID, "releasing worker after failed assignment")
			return false, nil, db.AsStoreError(err, "assign ticket")
		}
		if !won {
			e.metrics.IncConflict()
			e.releaseClaim(ctx, candidate.ID, "releasing worker after lost swap")
			fresh, findErr := e.tickets.FindTicketByID(ctx, ticket.ID)
			if findErr != nil {
				return false, nil, db.AsStoreError(findErr, "reload ticket after lost swap")
			}
			if fresh.Status != enums.TicketStatusPending {
				return false, fresh, nil
			}
			// Still pending despite the lost swap; retry with fresh state.
			return false, nil, nil
		}

		assigned := *ticket
		assigned.Status = enums.TicketStatusAssigned
		workerID := candidate.ID
		assigned.AssigneeID = &workerID

		e.metrics.IncAssigned()
		logCtx := e.logg.WithTicketID(e.logg.WithWorkerID(ctx, workerID.String()), ticket.ID.String())
		e.logg.Info(logCtx, "ticket assigned")

		_ = e.publisher.Publish(ctx, bus.TopicTicketsAssigned, enums.EventTicketAssigned, bus.TicketEventFrom(assigned))
		return true, &assigned, nil
	}
	return false, nil, nil
}

// releaseClaim returns a claimed worker to the pool after a failed or lost
// swap and announces the availability change.
func (e *Engine) releaseClaim(ctx context.Context, workerID uuid.UUID, msg string) {
	if err := e.workers.Release(ctx, nil, workerID); err != nil {
		logCtx := e.logg.WithWorkerID(ctx, workerID.String())
		e.logg.Error(logCtx, msg, err)
		return
	}
	e.workers.AnnounceRelease(ctx, workerID)
}
