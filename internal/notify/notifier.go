// Package notify delivers booking confirmations to clients and alerts to providers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agenda/internal/metrics"
	"agenda/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notice is everything a channel needs to describe a new booking.
type Notice struct {
	Appointment model.Appointment
	Client      model.Client
	Provider    model.Provider
}

// Notifier dispatches a booking notice over one channel.
type Notifier interface {
	NotifyBooked(ctx context.Context, n Notice) error
}

// Channel is a named Notifier, used for metrics and logs.
type Channel struct {
	Name     string
	Notifier Notifier
	// Optional channels never fail the dispatch.
	Optional bool
}

// Multi fans a notice out to several channels.
type Multi struct {
	channels []Channel
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// MultiConfig controls outbound throttling shared by all channels.
type MultiConfig struct {
	RatePerSecond float64
	Burst         int
}

// NewMulti creates a dispatcher. A non-positive rate disables throttling.
func NewMulti(cfg MultiConfig, logger zerolog.Logger, channels ...Channel) *Multi {
	m := &Multi{
		channels: channels,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return m
}

// NotifyBooked sends the notice on every channel. Failures of required channels are
// joined and wrapped in ErrNotificationFailed.
func (m *Multi) NotifyBooked(ctx context.Context, n Notice) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %w", model.ErrNotificationFailed, err)
		}
	}

	var errs []error
	for _, ch := range m.channels {
		err := ch.Notifier.NotifyBooked(ctx, n)
		if err == nil {
			metrics.IncNotification(ch.Name, "ok")
			continue
		}

		metrics.IncNotification(ch.Name, "error")
		m.logger.Warn().
			Err(err).
			Str("channel", ch.Name).
			Str("appointment_id", n.Appointment.ID).
			Bool("optional", ch.Optional).
			Msg("booking notification failed")
		if !ch.Optional {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", model.ErrNotificationFailed, errors.Join(errs...))
}

// Nop discards notices.
type Nop struct{}

func (Nop) NotifyBooked(context.Context, Notice) error { return nil }

func participantsLine(ps []model.Participant) string {
	if len(ps) == 0 {
		return ""
	}
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

func providerName(n Notice) string {
	if n.Provider.Name != "" {
		return n.Provider.Name
	}
	return n.Appointment.ProviderID
}
