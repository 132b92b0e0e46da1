package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/medicore/clinic-scheduling/internal/metrics"
	"github.com/medicore/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Engine  *scheduling.Engine
	Health  *HealthHandler
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}).Handler)

	// Health and scrape endpoints
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	r.Handle("/metrics", cfg.Metrics.Handler())

	// Doctor calendar endpoints
	r.Route("/doctors/{id}", func(r chi.Router) {
		r.Get("/slots", availableSlotsHandler(cfg.Engine))
		r.Get("/availability", getAvailabilityHandler(cfg.Engine))
		r.Put("/availability", setAvailabilityHandler(cfg.Engine))
	})

	// Appointment lifecycle endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Engine, cfg.Metrics))
		r.Get("/", listAppointmentsHandler(cfg.Engine))
		r.Get("/{id}", getAppointmentHandler(cfg.Engine))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Engine, cfg.Metrics))
		r.Post("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Engine, cfg.Metrics))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Engine, cfg.Metrics))
	})

	// Booking request queue endpoints
	r.Route("/booking-requests", func(r chi.Router) {
		r.Post("/", createBookingRequestHandler(cfg.Engine))
		r.Get("/", listBookingRequestsHandler(cfg.Engine))
		r.Get("/{id}", getBookingRequestHandler(cfg.Engine))
		r.Post("/{id}/assign", assignBookingRequestHandler(cfg.Engine, cfg.Metrics))
		r.Post("/{id}/decline", declineBookingRequestHandler(cfg.Engine))
	})

	r.Get("/triage/suggest", triageSuggestHandler())
	r.Get("/notifications", listNotificationsHandler(cfg.Engine))
	r.Post("/notifications/{id}/read", markNotificationReadHandler(cfg.Engine))
	r.Get("/rooms", listRoomsHandler(cfg.Engine))
	r.Get("/equipment", listEquipmentHandler(cfg.Engine))

	return r
}
