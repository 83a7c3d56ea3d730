package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	m, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, 1440, m)

	for _, bad := range []string{"", "9", "9:3", "25:00", "10:60", "ab:cd", "24:30"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "09:00", FormatClock(540))
	assert.Equal(t, "00:00", FormatClock(0))
	assert.Equal(t, "13:45", FormatClock(825))
}

func TestAvailabilityRule_Window(t *testing.T) {
	start, end, err := AvailabilityRule{StartTime: "09:00", EndTime: "13:00"}.Window()
	require.NoError(t, err)
	assert.Equal(t, 540, start)
	assert.Equal(t, 780, end)

	_, _, err = AvailabilityRule{StartTime: "13:00", EndTime: "09:00"}.Window()
	assert.Error(t, err)

	_, _, err = AvailabilityRule{StartTime: "10:00", EndTime: "10:00"}.Window()
	assert.Error(t, err)

	_, _, err = AvailabilityRule{StartTime: "x", EndTime: "10:00"}.Window()
	assert.Error(t, err)
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatus_HoldsSlot(t *testing.T) {
	assert.True(t, StatusPending.HoldsSlot())
	assert.True(t, StatusConfirmed.HoldsSlot())
	assert.True(t, StatusCompleted.HoldsSlot())
	assert.False(t, StatusCancelled.HoldsSlot())
	assert.False(t, Status("deleted").Valid())
}

func TestAppointment_Views(t *testing.T) {
	a := Appointment{
		ID:             "a1",
		ProviderID:     "p1",
		ClientID:       "c1",
		Date:           "2025-03-10",
		Time:           "10:00",
		Status:         StatusPending,
		NumberOfPeople: 2,
		Participants:   []Participant{{Name: "Bo", Document: "X1"}},
		Client:         &Client{ID: "c1", Email: "ann@example.com", Name: "Ann", Document: "D1"},
	}

	pv := a.AsProviderView()
	assert.Equal(t, "Ann", pv.ClientName)
	assert.Equal(t, "ann@example.com", pv.ClientEmail)
	assert.Equal(t, "D1", pv.ClientDocument)
	assert.Len(t, pv.Participants, 1)

	cv := a.AsClientView()
	assert.Equal(t, "p1", cv.ProviderID)
	assert.Equal(t, "10:00", cv.Time)
	assert.Equal(t, 2, cv.NumberOfPeople)

	a.Client = nil
	assert.Empty(t, a.AsProviderView().ClientName)
}

func TestValidationError(t *testing.T) {
	v := NewValidationError()
	assert.NoError(t, v.OrNil())

	v.Add("name", "too short")
	v.Add("name", "ignored")
	v.Add("email", "invalid")

	err := v.OrNil()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
	assert.Equal(t, "validation failed: email: invalid; name: too short", err.Error())

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "too short", ve.Fields["name"])
}

func TestCanonicalDate(t *testing.T) {
	for _, in := range []string{"2025-03-10", " 2025-03-10", "2025-03-10\n", "\t2025-03-10 "} {
		got, err := CanonicalDate(in)
		require.NoError(t, err, "%q", in)
		assert.Equal(t, "2025-03-10", got)
	}

	for _, in := range []string{"", "10/03/2025", "2025-3-10", "2025-02-30"} {
		_, err := CanonicalDate(in)
		assert.True(t, errors.Is(err, ErrInvalidInput), "%q", in)
	}
}
