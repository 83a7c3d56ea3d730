package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agenda/internal/booking"
	"agenda/internal/model"
	"agenda/internal/slots"
)

// SlotLister fetches the slots for a provider and date.
type SlotLister interface {
	Slots(ctx context.Context, providerID, date string) ([]slots.TimeSlot, error)
}

// Booker commits a booking request.
type Booker interface {
	Book(ctx context.Context, req booking.Request) (*booking.Result, error)
}

// Data holds everything collected by the wizard.
type Data struct {
	ProviderID     string              `json:"provider_id"`
	ServiceRef     string              `json:"service_ref,omitempty"`
	Client         booking.ClientInfo  `json:"client"`
	NumberOfPeople int                 `json:"number_of_people"`
	Participants   []model.Participant `json:"participants"`
	Notes          string              `json:"notes,omitempty"`
	Date           string              `json:"date,omitempty"`
	Time           string              `json:"time,omitempty"`
	Slots          []slots.TimeSlot    `json:"slots"`
	SlotsError     string              `json:"slots_error,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
	Result         *booking.Result     `json:"-"`
}

// Wizard is one client's booking session. Methods are safe for concurrent use.
type Wizard struct {
	mu        sync.Mutex
	id        string
	state     State
	data      Data
	fsm       *FSM
	slots     SlotLister
	booker    Booker
	seq       uint64
	updatedAt atomic.Int64 // unix nanos, readable without mu
}

// New starts a wizard for providerID at service selection.
func New(id, providerID string, lister SlotLister, booker Booker) *Wizard {
	w := &Wizard{
		id:     id,
		state:  StateServiceSelection,
		data:   initialData(providerID),
		fsm:    NewFSM(),
		slots:  lister,
		booker: booker,
	}
	w.touch()
	return w
}

func initialData(providerID string) Data {
	return Data{
		ProviderID:     providerID,
		NumberOfPeople: 1,
		Participants:   []model.Participant{},
		Slots:          []slots.TimeSlot{},
	}
}

func (w *Wizard) ID() string {
	return w.id
}

// State returns the current step.
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Snapshot returns a copy of the collected data.
func (w *Wizard) Snapshot() (State, Data) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.data
	d.Participants = slices.Clone(w.data.Participants)
	d.Slots = slices.Clone(w.data.Slots)
	return w.state, d
}

// IsExpired checks if the session has been idle longer than timeout.
func (w *Wizard) IsExpired(timeout time.Duration) bool {
	return time.Since(time.Unix(0, w.updatedAt.Load())) > timeout
}

func (w *Wizard) touch() {
	w.updatedAt.Store(time.Now().UnixNano())
}

func (w *Wizard) requireState(s State) error {
	if w.state != s {
		return fmt.Errorf("in %s, expected %s: %w", w.state, s, ErrInvalidTransition)
	}
	return nil
}

// SelectService records the chosen service.
func (w *Wizard) SelectService(ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireState(StateServiceSelection); err != nil {
		return err
	}
	w.data.ServiceRef = strings.TrimSpace(ref)
	w.touch()
	return nil
}

// SetIdentity records the main client's details.
func (w *Wizard) SetIdentity(c booking.ClientInfo, notes string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireState(StateIdentityCapture); err != nil {
		return err
	}
	w.data.Client = c
	w.data.Notes = notes
	w.touch()
	return nil
}

// SetNumberOfPeople resizes the participant list to n-1 entries, keeping what was typed.
func (w *Wizard) SetNumberOfPeople(n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireState(StateIdentityCapture); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: number of people must be at least 1", model.ErrInvalidInput)
	}
	w.data.NumberOfPeople = n
	w.data.Participants = booking.ResizeParticipants(w.data.Participants, n)
	w.touch()
	return nil
}

// SetParticipant fills the i-th additional person.
func (w *Wizard) SetParticipant(i int, p model.Participant) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireState(StateIdentityCapture); err != nil {
		return err
	}
	if i < 0 || i >= len(w.data.Participants) {
		return fmt.Errorf("%w: participant index %d out of range", model.ErrInvalidInput, i)
	}
	w.data.Participants[i] = p
	w.touch()
	return nil
}

// Next advances to the following step when the current one is complete.
// Confirmation is left through Confirm instead.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var to State
	switch w.state {
	case StateServiceSelection:
		if w.data.ServiceRef == "" {
			v := model.NewValidationError()
			v.Add("service", "must be selected")
			return v
		}
		to = StateIdentityCapture
	case StateIdentityCapture:
		if err := booking.ValidateIdentity(w.data.Client, w.data.NumberOfPeople, w.data.Participants); err != nil {
			return err
		}
		to = StateDateTimeSelection
	case StateDateTimeSelection:
		if err := w.checkSelection(); err != nil {
			return err
		}
		to = StateConfirmation
	default:
		return fmt.Errorf("next from %s: %w", w.state, ErrInvalidTransition)
	}

	if err := w.fsm.transition(w.state, to); err != nil {
		return err
	}
	w.state = to
	w.touch()
	return nil
}

func (w *Wizard) checkSelection() error {
	v := model.NewValidationError()
	if w.data.Date == "" {
		v.Add("date", "must be selected")
	}
	if w.data.Time == "" {
		v.Add("time", "must be selected")
	} else if s, ok := slots.Find(w.data.Slots, w.data.Time); !ok || !s.Available {
		v.Add("time", "is not available")
	}
	return v.OrNil()
}

// Back returns to the previous step. From Error it returns to Confirmation so the
// booking can be retried; Success and ServiceSelection have no predecessor.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, ok := w.fsm.Predecessor(w.state)
	if !ok {
		return fmt.Errorf("back from %s: %w", w.state, ErrInvalidTransition)
	}
	if prev == StateConfirmation && w.state == StateError {
		w.data.LastError = ""
	}
	w.state = prev
	w.touch()
	return nil
}

// Restart clears everything and returns to service selection.
func (w *Wizard) Restart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	w.state = StateServiceSelection
	w.data = initialData(w.data.ProviderID)
	w.touch()
}

// SelectDate sets the date, clears the time and loads that day's slots. When several
// selections overlap only the latest one is applied. Fetch errors leave an empty list.
func (w *Wizard) SelectDate(ctx context.Context, date string) error {
	w.mu.Lock()
	if err := w.requireState(StateDateTimeSelection); err != nil {
		w.mu.Unlock()
		return err
	}
	w.seq++
	seq := w.seq
	providerID := w.data.ProviderID
	if d, err := model.CanonicalDate(date); err == nil {
		date = d
	}
	w.data.Date = date
	w.data.Time = ""
	w.data.Slots = []slots.TimeSlot{}
	w.data.SlotsError = ""
	w.touch()
	w.mu.Unlock()

	list, err := w.slots.Slots(ctx, providerID, date)

	w.mu.Lock()
	defer w.mu.Unlock()
	if seq != w.seq {
		return nil
	}
	w.applySlots(list, err)
	return err
}

func (w *Wizard) applySlots(list []slots.TimeSlot, err error) {
	if err != nil {
		w.data.Slots = []slots.TimeSlot{}
		w.data.SlotsError = err.Error()
		return
	}
	if list == nil {
		list = []slots.TimeSlot{}
	}
	w.data.Slots = list
	w.data.SlotsError = ""
}

// SelectTime picks one of the available slots on the selected date.
func (w *Wizard) SelectTime(label string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireState(StateDateTimeSelection); err != nil {
		return err
	}
	s, ok := slots.Find(w.data.Slots, label)
	if !ok || !s.Available {
		v := model.NewValidationError()
		v.Add("time", "is not available")
		return v
	}
	w.data.Time = s.Time
	w.touch()
	return nil
}

// Confirm books the selection. A taken slot sends the wizard back to date/time
// selection with fresh slots; any other failure moves it to the error state.
func (w *Wizard) Confirm(ctx context.Context) (*booking.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.requireState(StateConfirmation); err != nil {
		return nil, err
	}

	req := booking.Request{
		ProviderID:   w.data.ProviderID,
		Date:         w.data.Date,
		Time:         w.data.Time,
		ServiceRef:   w.data.ServiceRef,
		Notes:        w.data.Notes,
		Client:       w.data.Client,
		Participants: slices.Clone(w.data.Participants),
	}

	res, err := w.booker.Book(ctx, req)
	w.touch()

	switch {
	case err == nil:
		if terr := w.fsm.transition(w.state, StateSuccess); terr != nil {
			return nil, terr
		}
		w.state = StateSuccess
		w.data.Result = res
		w.data.LastError = ""
		return res, nil

	case errors.Is(err, model.ErrSlotAlreadyTaken):
		w.state = StateDateTimeSelection
		w.data.Time = ""
		w.data.LastError = err.Error()
		w.seq++
		list, ferr := w.slots.Slots(ctx, w.data.ProviderID, w.data.Date)
		w.applySlots(list, ferr)
		return nil, err

	default:
		w.state = StateError
		w.data.LastError = err.Error()
		return nil, err
	}
}
