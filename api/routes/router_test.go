package routes

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/barberdeskapp/barberdesk-backend/internal/gate"
	"github.com/barberdeskapp/barberdesk-backend/internal/realtime"
	"github.com/barberdeskapp/barberdesk-backend/internal/staff"
	"github.com/barberdeskapp/barberdesk-backend/internal/tickets"
	"github.com/barberdeskapp/barberdesk-backend/pkg/auth"
	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db/models"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
)

var routerTestJWT = config.JWTConfig{
	Secret:            "router-test-secret",
	Issuer:            "barberdesk-test",
	ExpirationMinutes: 15,
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type routerTicketService struct {
	ticket *models.Ticket
}

func (s *routerTicketService) CreateTicket(context.Context, tickets.CreateTicketInput) (*models.Ticket, bool, error) {
	return s.ticket, true, nil
}

func (s *routerTicketService) ChangeStatus(context.Context, tickets.StatusChangeInput) (*models.Ticket, error) {
	return s.ticket, nil
}

func (s *routerTicketService) GetTicket(context.Context, uuid.UUID) (*models.Ticket, error) {
	return s.ticket, nil
}

func (s *routerTicketService) PendingTickets(context.Context, int) ([]models.Ticket, error) {
	return nil, nil
}

type routerStaffService struct{}

func (routerStaffService) UpsertWorker(context.Context, staff.UpsertWorkerInput) (*models.Worker, error) {
	return &models.Worker{ID: uuid.New(), DisplayName: "Sam"}, nil
}

func (routerStaffService) GetWorker(context.Context, uuid.UUID) (*models.Worker, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "worker not found")
}

func (routerStaffService) Heartbeat(context.Context, uuid.UUID) error { return nil }

func (routerStaffService) SetAvailability(context.Context, uuid.UUID, bool) (*models.Worker, error) {
	return &models.Worker{ID: uuid.New()}, nil
}

func (routerStaffService) AvailableWorkers(context.Context) ([]models.Worker, error) {
	return nil, nil
}

func (routerStaffService) WorkerAvailability(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func (routerStaffService) Claim(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (routerStaffService) Release(context.Context, *gorm.DB, uuid.UUID) error { return nil }

func (routerStaffService) AnnounceRelease(context.Context, uuid.UUID) {}

func (routerStaffService) RosterSnapshot(context.Context) ([]models.Worker, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, dbErr error) http.Handler {
	t.Helper()

	g, err := gate.New(gate.Params{JWT: routerTestJWT})
	require.NoError(t, err)

	registry, err := realtime.NewRegistry(realtime.RegistryParams{
		Logger: logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}),
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.Realtime.HeartbeatTimeout = time.Minute

	return NewRouter(RouterParams{
		Config:        cfg,
		Logger:        nil,
		DB:            stubPinger{err: dbErr},
		Redis:         stubPinger{},
		Gate:          g,
		Registry:      registry,
		TicketService: &routerTicketService{ticket: &models.Ticket{ID: uuid.New(), Status: enums.TicketStatusPending, Currency: "USD"}},
		StaffService:  routerStaffService{},
	})
}

func mintRouterToken(t *testing.T, role enums.ConnectionRole, canWrite bool) string {
	t.Helper()
	token, err := auth.MintAccessToken(routerTestJWT, time.Now(), auth.AccessTokenPayload{
		SubjectID: uuid.New(),
		Role:      role,
		CanWrite:  canWrite,
	})
	require.NoError(t, err)
	return token
}

func TestRouterHealthLive(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-BarberDesk-Env"))
}

func TestRouterHealthReadyFailsWhenStoreDown(t *testing.T) {
	router := newTestRouter(t, context.DeadlineExceeded)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterTicketsRequireCredential(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterTicketCreateWithWriterToken(t *testing.T) {
	router := newTestRouter(t, nil)

	body := bytes.NewBufferString(`{"creation_key":"k1","customer_ref":"c1","service_type":"fade"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", body)
	req.Header.Set("Authorization", "Bearer "+mintRouterToken(t, enums.ConnectionRoleWorker, true))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRouterRejectsReadOnlyTokenOnWrites(t *testing.T) {
	router := newTestRouter(t, nil)

	body := bytes.NewBufferString(`{"creation_key":"k1","customer_ref":"c1","service_type":"fade"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", body)
	req.Header.Set("Authorization", "Bearer "+mintRouterToken(t, enums.ConnectionRolePublic, false))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterLiveRejectsMissingToken(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/live?topics=tickets.created", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
