package model

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in this status occupies its time slot.
func (s Status) HoldsSlot() bool {
	return s != StatusCancelled
}

// CanTransitionTo reports whether a provider may move an appointment from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Participant is an additional attendee of a group appointment.
type Participant struct {
	Name     string `json:"name"`
	Document string `json:"document"`
}

// Client is identified by email; the address is stored lower-cased.
type Client struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}

// Appointment is a booked slot. It is never deleted; cancellation frees the slot.
type Appointment struct {
	ID             string        `json:"id"`
	ProviderID     string        `json:"provider_id"`
	ClientID       string        `json:"client_id"`
	ServiceRef     string        `json:"service_ref,omitempty"`
	Date           string        `json:"date"`
	Time           string        `json:"time"`
	Status         Status        `json:"status"`
	Notes          string        `json:"notes,omitempty"`
	NumberOfPeople int           `json:"number_of_people"`
	Participants   []Participant `json:"participants,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`

	// Client is populated by listing queries that join the client row.
	Client *Client `json:"-"`
}

// OccupiesSlot reports whether the appointment blocks date/time for its provider.
func (a Appointment) OccupiesSlot() bool {
	return a.Status.HoldsSlot()
}

// ProviderView is what a provider sees about an appointment.
type ProviderView struct {
	ID             string        `json:"id"`
	Date           string        `json:"date"`
	Time           string        `json:"time"`
	Status         Status        `json:"status"`
	ServiceRef     string        `json:"service_ref,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	ClientName     string        `json:"client_name"`
	ClientEmail    string        `json:"client_email"`
	ClientPhone    string        `json:"client_phone,omitempty"`
	ClientDocument string        `json:"client_document,omitempty"`
	NumberOfPeople int           `json:"number_of_people"`
	Participants   []Participant `json:"participants,omitempty"`
}

// ClientView is what the booking client sees about their appointment.
type ClientView struct {
	ID             string `json:"id"`
	ProviderID     string `json:"provider_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Status         Status `json:"status"`
	ServiceRef     string `json:"service_ref,omitempty"`
	Notes          string `json:"notes,omitempty"`
	NumberOfPeople int    `json:"number_of_people"`
}

// AsProviderView projects the appointment for the provider dashboard.
func (a Appointment) AsProviderView() ProviderView {
	v := ProviderView{
		ID:             a.ID,
		Date:           a.Date,
		Time:           a.Time,
		Status:         a.Status,
		ServiceRef:     a.ServiceRef,
		Notes:          a.Notes,
		NumberOfPeople: a.NumberOfPeople,
		Participants:   a.Participants,
	}
	if a.Client != nil {
		v.ClientName = a.Client.Name
		v.ClientEmail = a.Client.Email
		v.ClientPhone = a.Client.Phone
		v.ClientDocument = a.Client.Document
	}
	return v
}

// AsClientView projects the appointment for the client.
func (a Appointment) AsClientView() ClientView {
	return ClientView{
		ID:             a.ID,
		ProviderID:     a.ProviderID,
		Date:           a.Date,
		Time:           a.Time,
		Status:         a.Status,
		ServiceRef:     a.ServiceRef,
		Notes:          a.Notes,
		NumberOfPeople: a.NumberOfPeople,
	}
}
