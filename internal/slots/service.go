package slots

import (
	"context"

	"agenda/internal/metrics"
	"agenda/internal/model"
)

// RuleSource provides availability rules for a provider.
type RuleSource interface {
	GetRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
}

// AppointmentSource provides appointments of every status for a provider and date.
type AppointmentSource interface {
	GetAppointments(ctx context.Context, providerID, date string) ([]model.Appointment, error)
}

// Service loads rules and appointments and runs the generator over them.
type Service struct {
	rules        RuleSource
	appointments AppointmentSource
	gen          *Generator
}

// NewService creates a slot service.
func NewService(rules RuleSource, appointments AppointmentSource, gen *Generator) *Service {
	if gen == nil {
		gen = NewGenerator()
	}
	return &Service{rules: rules, appointments: appointments, gen: gen}
}

// Generator returns the underlying generator.
func (s *Service) Generator() *Generator {
	return s.gen
}

// Slots returns the slots for providerID on date.
func (s *Service) Slots(ctx context.Context, providerID, date string) ([]TimeSlot, error) {
	slots, _, err := s.Snapshot(ctx, providerID, date)
	if err != nil {
		metrics.IncSlotQuery("error")
		return nil, err
	}
	metrics.IncSlotQuery("ok")
	return slots, nil
}

// Snapshot returns the slots together with the appointments they were computed from.
func (s *Service) Snapshot(ctx context.Context, providerID, date string) ([]TimeSlot, []model.Appointment, error) {
	date, err := model.CanonicalDate(date)
	if err != nil {
		return nil, nil, err
	}

	rules, err := s.rules.GetRules(ctx, providerID)
	if err != nil {
		return nil, nil, model.Unavailable("get rules", err)
	}
	booked, err := s.appointments.GetAppointments(ctx, providerID, date)
	if err != nil {
		return nil, nil, model.Unavailable("get appointments", err)
	}

	slots, err := s.gen.Generate(date, rules, booked)
	if err != nil {
		return nil, nil, err
	}
	return slots, booked, nil
}

// Weekdays returns the weekdays on which providerID has bookable windows.
func (s *Service) Weekdays(ctx context.Context, providerID string) ([]int, error) {
	rules, err := s.rules.GetRules(ctx, providerID)
	if err != nil {
		return nil, model.Unavailable("get rules", err)
	}
	return s.gen.AvailableWeekdays(rules), nil
}
