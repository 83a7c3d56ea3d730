// Package slots turns weekly availability rules into bookable time slots.
package slots

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"agenda/internal/model"

	"github.com/rs/zerolog"
)

// DefaultGranularity is the slot length used when none is configured.
const DefaultGranularity = 60 * time.Minute

// TimeSlot is a bookable start time on a specific date.
type TimeSlot struct {
	Time      string `json:"time"` // "10:00"
	Available bool   `json:"available"`
}

// Generator computes slots from rules and existing appointments.
// It holds no state besides its options and is safe for concurrent use.
type Generator struct {
	granularity int // minutes
	horizonDays int
	now         func() time.Time
	loc         *time.Location
	logger      zerolog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithGranularity sets the slot length. Non-positive values keep the default.
func WithGranularity(d time.Duration) Option {
	return func(g *Generator) {
		if m := int(d / time.Minute); m > 0 {
			g.granularity = m
		}
	}
}

// WithClock injects the source of "now" used for past-slot checks.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLocation sets the timezone dates and rule times are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithHorizon marks every slot on dates more than days ahead of today as unavailable.
func WithHorizon(days int) Option {
	return func(g *Generator) {
		g.horizonDays = days
	}
}

// WithLogger sets the logger used for skipped rules.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// NewGenerator creates a slot generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		granularity: int(DefaultGranularity / time.Minute),
		now:         time.Now,
		loc:         time.Local,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Granularity returns the configured slot length.
func (g *Generator) Granularity() time.Duration {
	return time.Duration(g.granularity) * time.Minute
}

// Location returns the timezone used for dates.
func (g *Generator) Location() *time.Location {
	return g.loc
}

// Now returns the current time according to the injected clock.
func (g *Generator) Now() time.Time {
	return g.now().In(g.loc)
}

type window struct {
	start, end int
}

// Generate lists the slots for date. Rules for other weekdays and inactive or
// malformed rules are ignored. Booked appointments for other dates or in the
// cancelled status do not block anything.
func (g *Generator) Generate(date string, rules []model.AvailabilityRule, booked []model.Appointment) ([]TimeSlot, error) {
	day, err := model.ParseDate(date, g.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q: %v", model.ErrInvalidInput, date, err)
	}

	windows := g.windowsFor(day.Weekday(), rules)
	if len(windows) == 0 {
		return []TimeSlot{}, nil
	}

	taken := occupiedLabels(day.Format(model.DateLayout), booked)
	now := g.Now()
	beyondHorizon := g.horizonDays > 0 && day.After(startOfDay(now).AddDate(0, 0, g.horizonDays))

	step := g.granularity
	result := make([]TimeSlot, 0)
	seen := make(map[string]struct{})

	for _, w := range merge(windows) {
		first := ((w.start + step - 1) / step) * step
		for s := first; s+step <= w.end; s += step {
			label := model.FormatClock(s)
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}

			slotStart := time.Date(day.Year(), day.Month(), day.Day(), s/60, s%60, 0, 0, g.loc)
			_, isTaken := taken[label]
			isPast := slotStart.Before(now)

			result = append(result, TimeSlot{
				Time:      label,
				Available: !isTaken && !isPast && !beyondHorizon,
			})
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Time < result[j].Time })
	return result, nil
}

// AvailableWeekdays returns the sorted weekdays (0=Sunday) that have at least one usable rule.
func (g *Generator) AvailableWeekdays(rules []model.AvailabilityRule) []int {
	days := make(map[int]struct{})
	for _, r := range rules {
		if !r.IsActive || r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			continue
		}
		start, end, err := r.Window()
		if err != nil || end-start < g.granularity {
			continue
		}
		days[r.DayOfWeek] = struct{}{}
	}

	out := make([]int, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

func (g *Generator) windowsFor(weekday time.Weekday, rules []model.AvailabilityRule) []window {
	var out []window
	for _, r := range rules {
		if !r.IsActive || r.DayOfWeek != int(weekday) {
			continue
		}
		start, end, err := r.Window()
		if err != nil {
			g.logger.Warn().
				Err(err).
				Int64("rule_id", r.ID).
				Str("provider_id", r.ProviderID).
				Str("start", r.StartTime).
				Str("end", r.EndTime).
				Msg("skipping malformed availability rule")
			continue
		}
		out = append(out, window{start: start, end: end})
	}
	return out
}

// merge unions overlapping and touching windows.
func merge(ws []window) []window {
	sort.Slice(ws, func(i, j int) bool { return ws[i].start < ws[j].start })

	merged := []window{ws[0]}
	for _, w := range ws[1:] {
		last := &merged[len(merged)-1]
		if w.start <= last.end {
			if w.end > last.end {
				last.end = w.end
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func occupiedLabels(date string, booked []model.Appointment) map[string]struct{} {
	taken := make(map[string]struct{})
	for _, a := range booked {
		if a.Date != date || !a.OccupiesSlot() {
			continue
		}
		taken[NormalizeLabel(a.Time)] = struct{}{}
	}
	return taken
}

// NormalizeLabel trims a seconds suffix so "10:00:00" compares equal to "10:00".
func NormalizeLabel(t string) string {
	t = strings.TrimSpace(t)
	if len(t) == 8 && t[5] == ':' {
		return t[:5]
	}
	return t
}

// IsTaken reports whether a non-cancelled appointment on date holds label.
func IsTaken(date, label string, booked []model.Appointment) bool {
	_, ok := occupiedLabels(date, booked)[NormalizeLabel(label)]
	return ok
}

// Find returns the slot with the given label.
func Find(slots []TimeSlot, label string) (TimeSlot, bool) {
	label = NormalizeLabel(label)
	for _, s := range slots {
		if s.Time == label {
			return s, true
		}
	}
	return TimeSlot{}, false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
