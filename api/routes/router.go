package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/barberdeskapp/barberdesk-backend/api/controllers"
	"github.com/barberdeskapp/barberdesk-backend/api/middleware"
	"github.com/barberdeskapp/barberdesk-backend/internal/gate"
	"github.com/barberdeskapp/barberdesk-backend/internal/realtime"
	"github.com/barberdeskapp/barberdesk-backend/internal/staff"
	"github.com/barberdeskapp/barberdesk-backend/internal/tickets"
	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/db"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/barberdeskapp/barberdesk-backend/pkg/redis"
)

// RouterParams bundles everything the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         redis.Pinger
	Gate          *gate.Gate
	Registry      *realtime.Registry
	TicketService tickets.Service
	StaffService  staff.Service
	Assignment    controllers.AvailabilitySignal
	Metrics       prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.DB, p.Redis))
	})

	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Metrics, promhttp.HandlerOpts{}))
	}

	// The gate runs inside the handler so a rejected upgrade never costs a
	// socket; see controllers.Live.
	r.Get("/api/v1/live", controllers.Live(p.Gate, p.Registry, p.Config.Realtime.HeartbeatTimeout, p.Logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireWriter(p.Gate, p.Logger))

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", controllers.TicketCreate(p.TicketService, p.Logger))
			r.Get("/pending", controllers.TicketPendingList(p.TicketService, p.Logger))
			r.Get("/{ticketId}", controllers.TicketDetail(p.TicketService, p.Logger))
			r.Post("/{ticketId}/status", controllers.TicketChangeStatus(p.TicketService, p.Logger))
		})

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", controllers.WorkerList(p.StaffService, p.Logger))
			r.Put("/{workerId}", controllers.WorkerUpsert(p.StaffService, p.Logger))
			r.Put("/{workerId}/availability", controllers.WorkerSetAvailability(p.StaffService, p.Assignment, p.Logger))
			r.Post("/{workerId}/heartbeat", controllers.WorkerHeartbeat(p.StaffService, p.Logger))
		})
	})

	return r
}
