package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/auth"
	"github.com/hackgods/clinic-appointments/internal/metrics"
)

// BookingStepsPath is where the guided flow's steps are mounted.
const BookingStepsPath = "/booking/steps"

type RouterConfig struct {
	Service        *appointment.Service
	Tokens         *auth.TokenManager
	Metrics        *metrics.Metrics // optional
	Logger         zerolog.Logger
	RequiredChecks map[string]Check
	OptionalChecks map[string]Check
	RateLimitRPS   float64
	RateLimitBurst int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	h := NewHandler(cfg.Service, appointment.NewFlow(cfg.Service, BookingStepsPath))

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.RequiredChecks, cfg.OptionalChecks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}
		r.Use(Authenticate(cfg.Tokens))

		// Appointment endpoints
		r.With(RequireRole(appointment.RoleUser)).Post("/appointments", h.createAppointment)
		r.With(RequireRole(appointment.RoleUser, appointment.RoleDoctor)).Get("/appointments", h.listAppointments)
		r.With(RequireRole(appointment.RoleDoctor)).Patch("/appointments/{id}/status", h.updateAppointmentStatus)

		// Doctor directory and inventory
		r.Get("/doctors", h.listDoctors)
		r.Get("/doctors/specializations", h.listSpecializations)
		r.Get("/doctors/{doctorId}/slots", h.listDoctorSlots)
		r.With(RequireRole(appointment.RoleDoctor)).Put("/doctors/me/availability", h.publishAvailability)
		r.With(RequireRole(appointment.RoleDoctor, appointment.RoleAdmin)).Get("/doctors/{doctorId}/patients", h.listDoctorPatients)

		// Identity records
		r.With(RequireRole(appointment.RoleAdmin)).Get("/users", h.listUsers)
		r.Get("/identities/{kind}/{id}", h.getProfile)

		// Guided booking
		r.With(RequireRole(appointment.RoleUser)).Post("/booking/start", h.startBooking)
		r.With(RequireRole(appointment.RoleUser)).Post(BookingStepsPath+"/{state}", h.advanceBooking)
	})

	return r
}
