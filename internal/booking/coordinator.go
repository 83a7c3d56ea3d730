// Package booking commits appointments so that no two clients share a provider slot.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agenda/internal/metrics"
	"agenda/internal/model"
	"agenda/internal/notify"
	"agenda/internal/slots"

	"github.com/rs/zerolog"
)

// ClientStore upserts clients by email.
type ClientStore interface {
	FindOrCreateClient(ctx context.Context, email, name, phone, document string) (string, error)
}

// AppointmentWriter persists appointments. CreateAppointment must fail with
// model.ErrSlotAlreadyTaken when the slot is already held.
type AppointmentWriter interface {
	CreateAppointment(ctx context.Context, a *model.Appointment) error
}

// ProviderLookup resolves providers for validation and notifications.
type ProviderLookup interface {
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
}

// SlotSnapshotter recomputes a day's slots together with the appointments behind them.
type SlotSnapshotter interface {
	Snapshot(ctx context.Context, providerID, date string) ([]slots.TimeSlot, []model.Appointment, error)
}

// Request is a booking attempt.
type Request struct {
	ProviderID   string              `json:"provider_id"`
	Date         string              `json:"date"`
	Time         string              `json:"time"`
	ServiceRef   string              `json:"service_ref,omitempty"`
	Notes        string              `json:"notes,omitempty"`
	Client       ClientInfo          `json:"client"`
	Participants []model.Participant `json:"participants,omitempty"`
}

// NumberOfPeople counts the client plus participants.
func (r Request) NumberOfPeople() int {
	return len(r.Participants) + 1
}

// Result is a committed booking. NotificationErr is set when the booking was stored
// but the confirmation could not be delivered.
type Result struct {
	Appointment     model.Appointment
	NotificationErr error
}

// Coordinator re-verifies availability and writes the appointment.
type Coordinator struct {
	slots         SlotSnapshotter
	clients       ClientStore
	appointments  AppointmentWriter
	providers     ProviderLookup
	notifier      notify.Notifier
	notifyTimeout time.Duration
	logger        zerolog.Logger
}

// Config groups the collaborators of a Coordinator.
type Config struct {
	Slots         SlotSnapshotter
	Clients       ClientStore
	Appointments  AppointmentWriter
	Providers     ProviderLookup
	Notifier      notify.Notifier
	NotifyTimeout time.Duration
	Logger        zerolog.Logger
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Coordinator{
		slots:         cfg.Slots,
		clients:       cfg.Clients,
		appointments:  cfg.Appointments,
		providers:     cfg.Providers,
		notifier:      cfg.Notifier,
		notifyTimeout: cfg.NotifyTimeout,
		logger:        cfg.Logger.With().Str("component", "booking").Logger(),
	}
}

// Book creates a pending appointment if the slot is still free. It is never retried
// internally; callers decide whether to try again.
func (c *Coordinator) Book(ctx context.Context, req Request) (*Result, error) {
	res, err := c.book(ctx, req)
	metrics.IncBookingAttempt(outcome(err))
	return res, err
}

func (c *Coordinator) book(ctx context.Context, req Request) (*Result, error) {
	log := c.logger.With().
		Str("provider_id", req.ProviderID).
		Str("date", req.Date).
		Str("time", req.Time).
		Logger()

	if strings.TrimSpace(req.ProviderID) == "" {
		return nil, fmt.Errorf("%w: provider is required", model.ErrInvalidInput)
	}
	date, err := model.CanonicalDate(req.Date)
	if err != nil {
		return nil, err
	}
	label := slots.NormalizeLabel(req.Time)
	if _, err := model.ParseClock(label); err != nil {
		return nil, fmt.Errorf("%w: time %q", model.ErrInvalidInput, req.Time)
	}
	if err := ValidateIdentity(req.Client, req.NumberOfPeople(), req.Participants); err != nil {
		return nil, err
	}

	provider, err := c.lookupProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	// Re-verify against the store; the UI's slot list may be stale.
	daySlots, booked, err := c.slots.Snapshot(ctx, req.ProviderID, date)
	if err != nil {
		return nil, err
	}
	slot, ok := slots.Find(daySlots, label)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an offered slot on %s", model.ErrInvalidInput, label, date)
	}
	if slots.IsTaken(date, label, booked) {
		return nil, fmt.Errorf("%s %s: %w", date, label, model.ErrSlotAlreadyTaken)
	}
	if !slot.Available {
		return nil, fmt.Errorf("%w: %s %s can no longer be booked", model.ErrInvalidInput, date, label)
	}

	clientID, err := c.clients.FindOrCreateClient(ctx, req.Client.Email, req.Client.Name, req.Client.Phone, req.Client.Document)
	if err != nil {
		return nil, storeErr("find or create client", err)
	}

	appt := &model.Appointment{
		ProviderID:     req.ProviderID,
		ClientID:       clientID,
		ServiceRef:     strings.TrimSpace(req.ServiceRef),
		Date:           date,
		Time:           label,
		Status:         model.StatusPending,
		Notes:          strings.TrimSpace(req.Notes),
		NumberOfPeople: req.NumberOfPeople(),
		Participants:   req.Participants,
	}
	if err := c.appointments.CreateAppointment(ctx, appt); err != nil {
		if errors.Is(err, model.ErrSlotAlreadyTaken) {
			log.Info().Msg("slot taken by a concurrent booking")
		}
		return nil, storeErr("create appointment", err)
	}
	log.Info().Str("appointment_id", appt.ID).Str("client_id", clientID).Msg("appointment created")

	result := &Result{Appointment: *appt}
	result.NotificationErr = c.notify(ctx, notify.Notice{
		Appointment: *appt,
		Client: model.Client{
			ID:       clientID,
			Email:    strings.ToLower(strings.TrimSpace(req.Client.Email)),
			Name:     strings.TrimSpace(req.Client.Name),
			Phone:    req.Client.Phone,
			Document: req.Client.Document,
		},
		Provider: provider,
	})
	if result.NotificationErr != nil {
		log.Warn().Err(result.NotificationErr).Str("appointment_id", appt.ID).Msg("booking stored but notification failed")
	}
	return result, nil
}

func (c *Coordinator) lookupProvider(ctx context.Context, id string) (model.Provider, error) {
	if c.providers == nil {
		return model.Provider{ID: id, IsActive: true}, nil
	}
	p, err := c.providers.GetProvider(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Provider{}, fmt.Errorf("%w: unknown provider %s", model.ErrInvalidInput, id)
	}
	if err != nil {
		return model.Provider{}, storeErr("get provider", err)
	}
	if !p.IsActive {
		return model.Provider{}, fmt.Errorf("%w: provider %s is not accepting bookings", model.ErrInvalidInput, id)
	}
	return *p, nil
}

// notify runs after commit with its own deadline so a cancelled request does not cut it short.
func (c *Coordinator) notify(ctx context.Context, n notify.Notice) error {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
	defer cancel()

	if err := c.notifier.NotifyBooked(nctx, n); err != nil {
		if errors.Is(err, model.ErrNotificationFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", model.ErrNotificationFailed, err)
	}
	return nil
}

// storeErr keeps domain errors intact and classifies anything else as a store outage.
func storeErr(op string, err error) error {
	for _, known := range []error{
		model.ErrSlotAlreadyTaken,
		model.ErrInvalidInput,
		model.ErrValidationFailed,
		model.ErrStoreUnavailable,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return model.Unavailable(op, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, model.ErrSlotAlreadyTaken):
		return "slot_taken"
	case errors.Is(err, model.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
