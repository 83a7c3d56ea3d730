package notify

import (
	"context"
	"fmt"
	"strings"

	"agenda/internal/model"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender sends one email message.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger zerolog.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "Agenda"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger.With().Str("component", "sendgrid").Logger(),
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error().Int("status", response.StatusCode).Str("body", response.Body).Str("to", msg.To).Msg("sendgrid returned error status")
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Int("status", response.StatusCode).Msg("email sent via sendgrid")
	return nil
}

// StubEmailSender logs emails instead of sending them.
type StubEmailSender struct {
	logger zerolog.Logger
}

func NewStubEmailSender(logger zerolog.Logger) *StubEmailSender {
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("stub email sender: would send email")
	return nil
}

// EmailNotifier sends the client a booking confirmation.
type EmailNotifier struct {
	sender EmailSender
}

func NewEmailNotifier(sender EmailSender) *EmailNotifier {
	return &EmailNotifier{sender: sender}
}

func (e *EmailNotifier) NotifyBooked(ctx context.Context, n Notice) error {
	if n.Client.Email == "" {
		return fmt.Errorf("notify: client has no email")
	}
	return e.sender.Send(ctx, ConfirmationEmail(n))
}

// ConfirmationEmail renders the booking confirmation sent to the client.
func ConfirmationEmail(n Notice) EmailMessage {
	a := n.Appointment
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", n.Client.Name)
	fmt.Fprintf(&b, "Your appointment request with %s has been received.\n\n", providerName(n))
	fmt.Fprintf(&b, "Date: %s\nTime: %s\n", a.Date, a.Time)
	if a.ServiceRef != "" {
		fmt.Fprintf(&b, "Service: %s\n", a.ServiceRef)
	}
	if a.NumberOfPeople > 1 {
		fmt.Fprintf(&b, "People: %d\n", a.NumberOfPeople)
		if line := participantsLine(a.Participants); line != "" {
			fmt.Fprintf(&b, "Participants: %s\n", line)
		}
	}
	fmt.Fprintf(&b, "Status: %s\n\nReference: %s\n", a.Status, a.ID)

	return EmailMessage{
		To:      n.Client.Email,
		ToName:  n.Client.Name,
		Subject: fmt.Sprintf("Appointment on %s at %s", a.Date, a.Time),
		Body:    b.String(),
	}
}

// StatusEmail tells the client their appointment moved to a new status.
func StatusEmail(n Notice) EmailMessage {
	a := n.Appointment
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", n.Client.Name)
	switch a.Status {
	case model.StatusConfirmed:
		fmt.Fprintf(&b, "Your appointment with %s is confirmed.\n\n", providerName(n))
	case model.StatusCancelled:
		fmt.Fprintf(&b, "Your appointment with %s has been cancelled.\n\n", providerName(n))
	default:
		fmt.Fprintf(&b, "Your appointment with %s is now %s.\n\n", providerName(n), a.Status)
	}
	fmt.Fprintf(&b, "Date: %s\nTime: %s\n\nReference: %s\n", a.Date, a.Time, a.ID)

	return EmailMessage{
		To:      n.Client.Email,
		ToName:  n.Client.Name,
		Subject: fmt.Sprintf("Appointment on %s at %s: %s", a.Date, a.Time, a.Status),
		Body:    b.String(),
	}
}
