package controllers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/barberdeskapp/barberdesk-backend/api/middleware"
	"github.com/barberdeskapp/barberdesk-backend/internal/gate"
	"github.com/barberdeskapp/barberdesk-backend/internal/staff"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
)

type stubStaffService struct {
	upsertWorker  *models.Worker
	upsertErr     error
	upsertInput   staff.UpsertWorkerInput
	setWorker     *models.Worker
	setErr        error
	setWorkerID   uuid.UUID
	setAvailable  bool
	heartbeatErr  error
	heartbeatFor  uuid.UUID
	roster        []models.Worker
	rosterErr     error
}

func (s *stubStaffService) UpsertWorker(_ context.Context, input staff.UpsertWorkerInput) (*models.Worker, error) {
	s.upsertInput = input
	return s.upsertWorker, s.upsertErr
}

func (s *stubStaffService) GetWorker(context.Context, uuid.UUID) (*models.Worker, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "worker not found")
}

func (s *stubStaffService) Heartbeat(_ context.Context, workerID uuid.UUID) error {
	s.heartbeatFor = workerID
	return s.heartbeatErr
}

func (s *stubStaffService) SetAvailability(_ context.Context, workerID uuid.UUID, available bool) (*models.Worker, error) {
	s.setWorkerID = workerID
	s.setAvailable = available
	return s.setWorker, s.setErr
}

func (s *stubStaffService) AvailableWorkers(context.Context) ([]models.Worker, error) {
	return nil, nil
}

func (s *stubStaffService) WorkerAvailability(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func (s *stubStaffService) Claim(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (s *stubStaffService) AnnounceRelease(context.Context, uuid.UUID) {}

func (s *stubStaffService) Release(context.Context, *gorm.DB, uuid.UUID) error {
	return nil
}

func (s *stubStaffService) RosterSnapshot(context.Context) ([]models.Worker, error) {
	return s.roster, s.rosterErr
}

type stubSignal struct {
	notified int
}

func (s *stubSignal) NotifyAvailability() { s.notified++ }

func sampleWorker(available bool) *models.Worker {
	return &models.Worker{
		ID:            uuid.New(),
		DisplayName:   "Sam",
		Available:     available,
		LastHeartbeat: time.Now(),
		IdleSince:     time.Now(),
	}
}

func workerRequest(t *testing.T, method, path string, workerID uuid.UUID, body string, principal *gate.Principal) *http.Request {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("workerId", workerID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if principal != nil {
		ctx = middleware.WithPrincipal(ctx, principal)
	}
	return req.WithContext(ctx)
}

func TestWorkerUpsertRequiresAdmin(t *testing.T) {
	svc := &stubStaffService{upsertWorker: sampleWorker(true)}
	handler := WorkerUpsert(svc, nil)

	workerID := uuid.New()
	req := workerRequest(t, http.MethodPut, "/api/v1/workers/"+workerID.String(), workerID,
		`{"display_name":"Sam","available":true}`,
		&gate.Principal{SubjectID: workerID, Role: enums.ConnectionRoleWorker})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, svc.upsertInput.DisplayName)
}

func TestWorkerUpsertAcceptsAdmin(t *testing.T) {
	svc := &stubStaffService{upsertWorker: sampleWorker(true)}
	handler := WorkerUpsert(svc, nil)

	workerID := uuid.New()
	req := workerRequest(t, http.MethodPut, "/api/v1/workers/"+workerID.String(), workerID,
		`{"display_name":"Sam","available":true}`,
		&gate.Principal{SubjectID: uuid.New(), Role: enums.ConnectionRoleAdmin})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workerID, svc.upsertInput.WorkerID)
	assert.Equal(t, "Sam", svc.upsertInput.DisplayName)
}

func TestWorkerSetAvailabilityNudgesAssignmentLoop(t *testing.T) {
	svc := &stubStaffService{setWorker: sampleWorker(true)}
	signal := &stubSignal{}
	handler := WorkerSetAvailability(svc, signal, nil)

	workerID := uuid.New()
	req := workerRequest(t, http.MethodPut, "/api/v1/workers/"+workerID.String()+"/availability", workerID,
		`{"available":true}`,
		&gate.Principal{SubjectID: workerID, Role: enums.ConnectionRoleWorker})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.setAvailable)
	assert.Equal(t, 1, signal.notified)
}

func TestWorkerSetAvailabilityOfflineSkipsNudge(t *testing.T) {
	svc := &stubStaffService{setWorker: sampleWorker(false)}
	signal := &stubSignal{}
	handler := WorkerSetAvailability(svc, signal, nil)

	workerID := uuid.New()
	req := workerRequest(t, http.MethodPut, "/api/v1/workers/"+workerID.String()+"/availability", workerID,
		`{"available":false}`,
		&gate.Principal{SubjectID: workerID, Role: enums.ConnectionRoleWorker})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, signal.notified)
}

func TestWorkerSetAvailabilityRejectsForeignWorker(t *testing.T) {
	svc := &stubStaffService{setWorker: sampleWorker(true)}
	handler := WorkerSetAvailability(svc, nil, nil)

	req := workerRequest(t, http.MethodPut, "/api/v1/workers/x/availability", uuid.New(),
		`{"available":true}`,
		&gate.Principal{SubjectID: uuid.New(), Role: enums.ConnectionRoleWorker})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, uuid.Nil, svc.setWorkerID)
}

func TestWorkerHeartbeatTouchesOwnRecord(t *testing.T) {
	svc := &stubStaffService{}
	handler := WorkerHeartbeat(svc, nil)

	workerID := uuid.New()
	req := workerRequest(t, http.MethodPost, "/api/v1/workers/"+workerID.String()+"/heartbeat", workerID,
		"", &gate.Principal{SubjectID: workerID, Role: enums.ConnectionRoleWorker})
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workerID, svc.heartbeatFor)
}

func TestWorkerHeartbeatMapsUnknownWorker(t *testing.T) {
	svc := &stubStaffService{heartbeatErr: pkgerrors.New(pkgerrors.CodeNotFound, "worker not found")}
	handler := WorkerHeartbeat(svc, nil)

	workerID := uuid.New()
	req := workerRequest(t, http.MethodPost, "/api/v1/workers/"+workerID.String()+"/heartbeat", workerID, "", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkerListReturnsRoster(t *testing.T) {
	svc := &stubStaffService{roster: []models.Worker{*sampleWorker(true), *sampleWorker(false)}}
	handler := WorkerList(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workers", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sam")
}
