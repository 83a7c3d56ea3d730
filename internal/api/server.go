// Package api exposes slots, bookings, manager operations and booking wizards over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"agenda/internal/booking"
	"agenda/internal/db"
	"agenda/internal/metrics"
	"agenda/internal/model"
	"agenda/internal/slots"
	"agenda/internal/wizard"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SlotService lists slots and bookable weekdays.
type SlotService interface {
	Slots(ctx context.Context, providerID, date string) ([]slots.TimeSlot, error)
	Weekdays(ctx context.Context, providerID string) ([]int, error)
}

// Booker commits booking requests.
type Booker interface {
	Book(ctx context.Context, req booking.Request) (*booking.Result, error)
}

// ProviderDirectory lists the providers open for booking.
type ProviderDirectory interface {
	ListProviders(ctx context.Context) ([]model.Provider, error)
}

// Manager is the provider-side appointment service.
type Manager interface {
	ListDay(ctx context.Context, providerID, date string) ([]model.ProviderView, error)
	Appointment(ctx context.Context, id string) (*model.Appointment, error)
	History(ctx context.Context, id string) ([]db.StatusEvent, error)
	ChangeStatus(ctx context.Context, id string, to model.Status) (*model.Appointment, error)
}

// Exporter writes a provider's monthly workbook.
type Exporter interface {
	WriteMonth(ctx context.Context, wr io.Writer, providerID, month string) (int, error)
}

// Check is a readiness probe.
type Check func(ctx context.Context) error

// Config holds router dependencies.
type Config struct {
	Providers ProviderDirectory
	Slots     SlotService
	Booker    Booker
	Manager   Manager
	Exporter  Exporter
	Sessions  *wizard.SessionStore
	Checks    map[string]Check
	Logger    zerolog.Logger

	// ManagerAPIKeys guard the provider-side routes. Empty leaves them open.
	ManagerAPIKeys []string
}

type handler struct {
	cfg Config
}

// NewRouter creates a chi router with every route configured.
func NewRouter(cfg Config) http.Handler {
	h := &handler{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/providers", h.listProviders)
		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Get("/slots", h.getSlots)
			r.Get("/weekdays", h.getWeekdays)
			r.Post("/bookings", h.createBooking)
			r.Post("/sessions", h.createSession)

			r.Group(func(r chi.Router) {
				r.Use(requireAPIKey(cfg.ManagerAPIKeys))
				r.Get("/appointments", h.listAppointments)
				r.Get("/export", h.exportMonth)
			})
		})

		r.Route("/appointments/{appointmentID}", func(r chi.Router) {
			r.Use(requireAPIKey(cfg.ManagerAPIKeys))
			r.Get("/", h.getAppointment)
			r.Get("/history", h.getHistory)
			r.Patch("/status", h.changeStatus)
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Post("/service", h.sessionService)
			r.Post("/identity", h.sessionIdentity)
			r.Post("/date", h.sessionDate)
			r.Post("/time", h.sessionTime)
			r.Post("/next", h.sessionNext)
			r.Post("/back", h.sessionBack)
			r.Post("/confirm", h.sessionConfirm)
			r.Post("/restart", h.sessionRestart)
		})
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			l := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()

			next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.IncHTTP(route, fmt.Sprintf("%dxx", status/100))

			l.Info().
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.cfg.Checks))
	for name, check := range h.cfg.Checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, results)
}
