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
	"github.com/barberdeskapp/barberdesk-backend/internal/staff"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
)

// AvailabilitySignal wakes the assignment loop when a worker frees up, so
// pending tickets are picked up without waiting for the next sweep.
type AvailabilitySignal interface {
	NotifyAvailability()
}

type workerUpsertRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=128"`
	Available   bool   `json:"available"`
}

type workerAvailabilityRequest struct {
	Available bool `json:"available"`
}

type workerResponse struct {
	ID              uuid.UUID  `json:"id"`
	DisplayName     string     `json:"display_name"`
	Available       bool       `json:"available"`
	CurrentTicketID *uuid.UUID `json:"current_ticket_id,omitempty"`
	LastHeartbeat   time.Time  `json:"last_heartbeat"`
	IdleSince       time.Time  `json:"idle_since"`
}

func workerResponseFromModel(w *models.Worker) workerResponse {
	return workerResponse{
		ID:              w.ID,
		DisplayName:     w.DisplayName,
		Available:       w.Available,
		CurrentTicketID: w.CurrentTicketID,
		LastHeartbeat:   w.LastHeartbeat,
		IdleSince:       w.IdleSince,
	}
}

// workerPathID parses the worker id from the path, and for worker-role
// callers enforces that they only touch their own record.
func workerPathID(r *http.Request) (uuid.UUID, error) {
	workerID, err := validators.ParsePathUUID(chi.URLParam(r, "workerId"), "workerId")
	if err != nil {
		return uuid.Nil, err
	}
	if principal := middleware.PrincipalFromContext(r.Context()); principal != nil {
		if principal.Role == enums.ConnectionRoleWorker && principal.SubjectID != workerID {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "workers may only modify their own record")
		}
	}
	return workerID, nil
}

// WorkerUpsert creates or refreshes a roster entry. Admin only.
func WorkerUpsert(svc staff.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "staff service unavailable"))
			return
		}

		principal := middleware.PrincipalFromContext(r.Context())
		if principal == nil || principal.Role != enums.ConnectionRoleAdmin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "roster changes require an admin credential"))
			return
		}

		workerID, err := validators.ParsePathUUID(chi.URLParam(r, "workerId"), "workerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload workerUpsertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		worker, err := svc.UpsertWorker(r.Context(), staff.UpsertWorkerInput{
			WorkerID:    workerID,
			DisplayName: strings.TrimSpace(payload.DisplayName),
			Available:   payload.Available,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, workerResponseFromModel(worker))
	}
}

// WorkerSetAvailability flips a worker between available and offline. Going
// available nudges the assignment loop.
func WorkerSetAvailability(svc staff.Service, signal AvailabilitySignal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "staff service unavailable"))
			return
		}

		workerID, err := workerPathID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload workerAvailabilityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		worker, err := svc.SetAvailability(r.Context(), workerID, payload.Available)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if payload.Available && signal != nil {
			signal.NotifyAvailability()
		}

		responses.WriteSuccess(w, workerResponseFromModel(worker))
	}
}

func WorkerHeartbeat(svc staff.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "staff service unavailable"))
			return
		}

		workerID, err := workerPathID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Heartbeat(r.Context(), workerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

func WorkerList(svc staff.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "staff service unavailable"))
			return
		}

		workers, err := svc.RosterSnapshot(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]workerResponse, 0, len(workers))
		for i := range workers {
			out = append(out, workerResponseFromModel(&workers[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
