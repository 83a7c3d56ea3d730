package model

// AvailabilityRule is a recurring weekly window during which a provider accepts bookings.
type AvailabilityRule struct {
	ID         int64  `json:"id"`
	ProviderID string `json:"provider_id"`
	DayOfWeek  int    `json:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime  string `json:"start_time"`  // "09:00"
	EndTime    string `json:"end_time"`    // "13:00"
	IsActive   bool   `json:"is_active"`
}

// Window returns the rule bounds in minutes after midnight.
// It fails when either bound is unparsable or start is not before end.
func (r AvailabilityRule) Window() (start, end int, err error) {
	start, err = ParseClock(r.StartTime)
	if err != nil {
		return 0, 0, err
	}
	end, err = ParseClock(r.EndTime)
	if err != nil {
		return 0, 0, err
	}
	if start >= end {
		return 0, 0, errEmptyWindow
	}
	return start, end, nil
}

// Provider is the owner of availability rules and appointments.
type Provider struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	TelegramChatID int64  `json:"-"`
	IsActive       bool   `json:"is_active"`
}
