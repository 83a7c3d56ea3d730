package booking

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"agenda/internal/model"
)

// ClientInfo identifies the person making the booking.
type ClientInfo struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}

// MinNameLength is the shortest accepted client or participant name.
const MinNameLength = 2

// ValidateIdentity checks the client fields and the participant list for a group of
// numberOfPeople. It returns a *model.ValidationError listing every failing field.
func ValidateIdentity(c ClientInfo, numberOfPeople int, participants []model.Participant) error {
	v := model.NewValidationError()

	if utf8.RuneCountInString(strings.TrimSpace(c.Name)) < MinNameLength {
		v.Add("name", "must be at least 2 characters")
	}
	if !validEmail(c.Email) {
		v.Add("email", "must be a valid email address")
	}
	if numberOfPeople < 1 {
		v.Add("number_of_people", "must be at least 1")
	}

	if numberOfPeople > 1 {
		if strings.TrimSpace(c.Document) == "" {
			v.Add("document", "is required for group bookings")
		}
		if len(participants) != numberOfPeople-1 {
			v.Add("participants", "must list every additional person")
		}
		for i, p := range participants {
			if utf8.RuneCountInString(strings.TrimSpace(p.Name)) < MinNameLength {
				v.Add(participantField(i, "name"), "must be at least 2 characters")
			}
			if strings.TrimSpace(p.Document) == "" {
				v.Add(participantField(i, "document"), "is required")
			}
		}
	} else if len(participants) > 0 {
		v.Add("participants", "must be empty for a single person")
	}

	return v.OrNil()
}

// ResizeParticipants returns a list of exactly numberOfPeople-1 entries, keeping the
// existing prefix and padding with blanks.
func ResizeParticipants(list []model.Participant, numberOfPeople int) []model.Participant {
	n := numberOfPeople - 1
	if n < 0 {
		n = 0
	}
	out := make([]model.Participant, n)
	copy(out, list)
	return out
}

func participantField(i int, field string) string {
	return "participants[" + strconv.Itoa(i) + "]." + field
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}
