// Package manager holds provider-side operations on existing appointments.
package manager

import (
	"context"
	"fmt"
	"time"

	"agenda/internal/db"
	"agenda/internal/metrics"
	"agenda/internal/model"
	"agenda/internal/notify"

	"github.com/rs/zerolog"
)

// AppointmentRepository provides appointment operations.
type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id string) (*model.Appointment, error)
	ListAppointments(ctx context.Context, filter db.AppointmentFilter) ([]model.Appointment, error)
	SetStatus(ctx context.Context, id string, status model.Status) error
	AppointmentHistory(ctx context.Context, appointmentID string) ([]db.StatusEvent, error)
}

// ProviderRepository looks up providers for message rendering.
type ProviderRepository interface {
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
}

// Service provides manager operations.
type Service struct {
	appointments AppointmentRepository
	providers    ProviderRepository
	email        notify.EmailSender
	logger       zerolog.Logger
}

// NewService creates a new manager service. providers and email may be nil,
// in which case clients are not told about status changes.
func NewService(
	appointments AppointmentRepository,
	providers ProviderRepository,
	email notify.EmailSender,
	logger zerolog.Logger,
) *Service {
	return &Service{
		appointments: appointments,
		providers:    providers,
		email:        email,
		logger:       logger.With().Str("component", "manager").Logger(),
	}
}

// ListDay returns one provider's appointments on date, in every status.
func (s *Service) ListDay(ctx context.Context, providerID, date string) ([]model.ProviderView, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider id is required", model.ErrInvalidInput)
	}
	if _, err := model.ParseDate(date, time.UTC); err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", model.ErrInvalidInput, date)
	}

	list, err := s.appointments.ListAppointments(ctx, db.AppointmentFilter{
		ProviderID: providerID,
		DateFrom:   date,
		DateTo:     date,
	})
	if err != nil {
		return nil, err
	}

	views := make([]model.ProviderView, 0, len(list))
	for _, a := range list {
		views = append(views, a.AsProviderView())
	}
	return views, nil
}

// Appointment returns one appointment with its client.
func (s *Service) Appointment(ctx context.Context, id string) (*model.Appointment, error) {
	return s.appointments.GetAppointment(ctx, id)
}

// History returns the status log of an appointment.
func (s *Service) History(ctx context.Context, id string) ([]db.StatusEvent, error) {
	if _, err := s.appointments.GetAppointment(ctx, id); err != nil {
		return nil, err
	}
	return s.appointments.AppointmentHistory(ctx, id)
}

// ChangeStatus moves an appointment along the status lifecycle and tells the client.
func (s *Service) ChangeStatus(ctx context.Context, id string, to model.Status) (*model.Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, to)
	}

	a, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !a.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: cannot move appointment from %s to %s", model.ErrInvalidInput, a.Status, to)
	}

	if err := s.appointments.SetStatus(ctx, id, to); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	metrics.IncStatusChange(string(to))

	a.Status = to
	s.logger.Info().
		Str("appointment_id", id).
		Str("provider_id", a.ProviderID).
		Str("status", string(to)).
		Msg("appointment status changed")

	s.notifyClient(ctx, a)
	return a, nil
}

func (s *Service) notifyClient(ctx context.Context, a *model.Appointment) {
	if s.email == nil || a.Client == nil || a.Client.Email == "" {
		return
	}

	n := notify.Notice{Appointment: *a, Client: *a.Client, Provider: model.Provider{ID: a.ProviderID}}
	if s.providers != nil {
		if p, err := s.providers.GetProvider(ctx, a.ProviderID); err == nil {
			n.Provider = *p
		}
	}

	if err := s.email.Send(ctx, notify.StatusEmail(n)); err != nil {
		metrics.IncNotification("email", "error")
		s.logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("status email not delivered")
		return
	}
	metrics.IncNotification("email", "ok")
}
