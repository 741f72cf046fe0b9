package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/barberdeskapp/barberdesk-backend/api/middleware"
	"github.com/barberdeskapp/barberdesk-backend/api/responses"
	"github.com/barberdeskapp/barberdesk-backend/api/validators"
	"github.com/barberdeskapp/barberdesk-backend/internal/tickets"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/pagination"
)

type ticketCreateRequest struct {
	CreationKey string `json:"creation_key" validate:"required,max=128"`
	CustomerRef string `json:"customer_ref" validate:"required,max=256"`
	ServiceType string `json:"service_type" validate:"required,max=64"`
	AmountCents int64  `json:"amount_cents" validate:"min=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
}

func (r ticketCreateRequest) toInput() tickets.CreateTicketInput {
	return tickets.CreateTicketInput{
		CreationKey: strings.TrimSpace(r.CreationKey),
		CustomerRef: strings.TrimSpace(r.CustomerRef),
		ServiceType: strings.TrimSpace(r.ServiceType),
		AmountCents: r.AmountCents,
		Currency:    strings.TrimSpace(r.Currency),
	}
}

type ticketStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type ticketResponse struct {
	ID          uuid.UUID  `json:"id"`
	CustomerRef string     `json:"customer_ref"`
	ServiceType string     `json:"service_type"`
	Status      string     `json:"status"`
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func ticketResponseFromModel(t *models.Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		CustomerRef: t.CustomerRef,
		ServiceType: t.ServiceType,
		Status:      t.Status.String(),
		AssigneeID:  t.AssigneeID,
		AmountCents: t.AmountCents,
		Currency:    t.Currency,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// TicketCreate handles idempotent ticket creation. A replayed creation key
// returns the original ticket with 200 instead of 201.
func TicketCreate(svc tickets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ticket service unavailable"))
			return
		}

		var payload ticketCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ticket, created, err := svc.CreateTicket(r.Context(), payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, ticketResponseFromModel(ticket))
	}
}

// TicketChangeStatus moves a ticket through its lifecycle. Workers may only
// act on tickets assigned to them; admins may act on any ticket.
func TicketChangeStatus(svc tickets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ticket service unavailable"))
			return
		}

		ticketID, err := validators.ParsePathUUID(chi.URLParam(r, "ticketId"), "ticketId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload ticketStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		next, err := enums.ParseTicketStatus(strings.TrimSpace(payload.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid ticket status"))
			return
		}

		input := tickets.StatusChangeInput{
			TicketID:   ticketID,
			NextStatus: next,
		}
		if principal := middleware.PrincipalFromContext(r.Context()); principal != nil && principal.Role == enums.ConnectionRoleWorker {
			actor := principal.SubjectID
			input.ActorWorkerID = &actor
		}

		ticket, err := svc.ChangeStatus(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, ticketResponseFromModel(ticket))
	}
}

func TicketDetail(svc tickets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ticket service unavailable"))
			return
		}

		ticketID, err := validators.ParsePathUUID(chi.URLParam(r, "ticketId"), "ticketId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ticket, err := svc.GetTicket(r.Context(), ticketID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, ticketResponseFromModel(ticket))
	}
}

// TicketPendingList returns unassigned tickets oldest-first. The limit
// parameter is clamped to the standard page bounds.
func TicketPendingList(svc tickets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ticket service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pending, err := svc.PendingTickets(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]ticketResponse, 0, len(pending))
		for i := range pending {
			out = append(out, ticketResponseFromModel(&pending[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
