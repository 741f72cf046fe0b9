package tickets

import (
	"context"
	"fmt"
	"strings"

	"github.com/barberdeskapp/barberdesk-backend/pkg/bus"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventPublisher interface {
	Publish(ctx context.Context, topic string, eventType enums.EventType, payload any) error
}

// Assigner synchronously attempts to place a freshly created ticket so that
// the created event already carries the assignee when a worker is free.
type Assigner interface {
	TryAssign(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
}

// WorkerReleaser frees a worker when its ticket leaves them. Release runs the
// durable write inside the caller's transaction; AnnounceRelease emits the
// cache projection and availability event once that transaction committed, so
// a rollback never leaks a spurious available=true signal.
type WorkerReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, workerID uuid.UUID) error
	AnnounceRelease(ctx context.Context, workerID uuid.UUID)
}

// Service exposes ticket lifecycle operations beyond repository reads.
type Service interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (*models.Ticket, bool, error)
	ChangeStatus(ctx context.Context, input StatusChangeInput) (*models.Ticket, error)
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	PendingTickets(ctx context.Context, limit int) ([]models.Ticket, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	publisher eventPublisher
	assigner  Assigner
	workers   WorkerReleaser
	logg      *logger.Logger
}

// ServiceParams bundle the ticket service dependencies.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Publisher eventPublisher
	Assigner  Assigner
	Workers   WorkerReleaser
	Logger    *logger.Logger
}

// NewService builds a ticket service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("tickets repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if params.Workers == nil {
		return nil, fmt.Errorf("worker releaser required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		publisher: params.Publisher,
		assigner:  params.Assigner,
		workers:   params.Workers,
		logg:      params.Logger,
	}, nil
}

// CreateTicket durably records the ticket, synchronously attempts assignment,
// then publishes the created event. The returned bool is false when the
// creation key matched an existing ticket, in which case nothing is published.
func (s *service) CreateTicket(ctx context.Context, input CreateTicketInput) (*models.Ticket, bool, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, false, err
	}

	ticket := &models.Ticket{
		ID:          uuid.New(),
		CreationKey: strings.TrimSpace(input.CreationKey),
		CustomerRef: strings.TrimSpace(input.CustomerRef),
		ServiceType: strings.TrimSpace(input.ServiceType),
		Status:      enums.TicketStatusPending,
		AmountCents: input.AmountCents,
		Currency:    normalizeCurrency(input.Currency),
	}

	created, err := s.repo.CreateTicket(ctx, ticket)
	if err != nil {
		if db.IsUniqueViolation(err, "creation_key") {
			existing, findErr := s.repo.FindTicketByCreationKey(ctx, ticket.CreationKey)
			if findErr != nil {
				return nil, false, db.AsStoreError(findErr, "load ticket by creation key")
			}
			return existing, false, nil
		}
		return nil, false, db.AsStoreError(err, "create ticket")
	}

	if s.assigner != nil {
		assigned, assignErr := s.assigner.TryAssign(ctx, created)
		if assignErr != nil {
			// The durable write already succeeded; the pending sweep will
			// pick the ticket up once the dependency recovers.
			logCtx := s.logg.WithTicketID(ctx, created.ID.String())
			s.logg.Warn(logCtx, "assignment attempt failed, ticket left pending")
		} else if assigned != nil {
			created = assigned
		}
	}

	_ = s.publisher.Publish(ctx, bus.TopicTicketsCreated, enums.EventTicketCreated, bus.TicketEventFrom(*created))

	return created, true, nil
}

// ChangeStatus applies an explicit worker action through a compare-and-swap on
// the current status. Losing the swap surfaces as a retryable conflict.
func (s *service) ChangeStatus(ctx context.Context, input StatusChangeInput) (*models.Ticket, error) {
	if input.TicketID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket id required")
	}
	if !input.NextStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid ticket status")
	}

	ticket, err := s.repo.FindTicketByID(ctx, input.TicketID)
	if err != nil {
		return nil, db.AsStoreError(err, "load ticket")
	}

	if input.ActorWorkerID != nil {
		if ticket.AssigneeID == nil || *ticket.AssigneeID != *input.ActorWorkerID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "ticket is not assigned to this worker")
		}
	}

	if ticket.Status == input.NextStatus {
		return ticket, nil
	}
	if !ticket.Status.CanTransitionTo(input.NextStatus) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move ticket from %s to %s", ticket.Status, input.NextStatus))
	}

	expected := ticket.Status
	next := input.NextStatus
	// Returning a ticket to the pool frees both sides: a PENDING ticket with
	// an assignee would double-book the worker once the sweep reassigns it.
	releaseWorker := ticket.AssigneeID != nil && (next.IsTerminal() || next == enums.TicketStatusPending)
	clearAssignee := next == enums.TicketStatusCancelled || next == enums.TicketStatusPending

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		swapped, swapErr := repo.UpdateTicketStatus(ctx, ticket.ID, expected, next, clearAssignee)
		if swapErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, swapErr, "update ticket status")
		}
		if !swapped {
			return pkgerrors.New(pkgerrors.CodeConflict, "ticket changed concurrently")
		}
		if releaseWorker {
			if relErr := s.workers.Release(ctx, tx, *ticket.AssigneeID); relErr != nil {
				return relErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if releaseWorker {
		s.workers.AnnounceRelease(ctx, *ticket.AssigneeID)
	}

	assignee := ticket.AssigneeID
	ticket.Status = next
	if clearAssignee {
		ticket.AssigneeID = nil
	}

	s.publishStatusChange(ctx, ticket, next, assignee)
	return ticket, nil
}

func (s *service) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket id required")
	}
	ticket, err := s.repo.FindTicketByID(ctx, id)
	if err != nil {
		return nil, db.AsStoreError(err, "load ticket")
	}
	return ticket, nil
}

// PendingTickets returns unassigned tickets oldest-first. The limit is clamped
// to the standard page bounds and applied by the store.
func (s *service) PendingTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	pending, err := s.repo.QueryPendingTickets(ctx, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, db.AsStoreError(err, "query pending tickets")
	}
	return pending, nil
}

// publishStatusChange routes the event to the topic dashboards watch for it:
// terminal outcomes ride tickets.completed, in-flight progress rides
// tickets.assigned alongside the assignment events it follows.
func (s *service) publishStatusChange(ctx context.Context, ticket *models.Ticket, next enums.TicketStatus, assignee *uuid.UUID) {
	event := bus.TicketEventFrom(*ticket)
	if event.WorkerID == nil {
		event.WorkerID = assignee
	}

	topic := bus.TopicTicketsAssigned
	if next.IsTerminal() {
		topic = bus.TopicTicketsCompleted
	}
	_ = s.publisher.Publish(ctx, topic, enums.EventTicketStatus, event)
}

func validateCreateInput(input CreateTicketInput) error {
	if strings.TrimSpace(input.CreationKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "creation key required")
	}
	if strings.TrimSpace(input.CustomerRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer reference required")
	}
	if strings.TrimSpace(input.ServiceType) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "service type required")
	}
	if input.AmountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	return nil
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}
