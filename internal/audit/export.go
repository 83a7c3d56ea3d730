package audit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"agenda/internal/db"
	"agenda/internal/model"
)

// MonthLayout is the month format accepted by exports.
const MonthLayout = "2006-01"

// AppointmentLister returns appointments with their clients.
type AppointmentLister interface {
	ListAppointments(ctx context.Context, filter db.AppointmentFilter) ([]model.Appointment, error)
}

var appointmentColumns = []string{
	"ID", "Date", "Time", "Status", "Service", "Client", "Email", "Phone",
	"Document", "People", "Participants", "Notes", "Created",
}

var statusOrder = []model.Status{
	model.StatusPending, model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled,
}

// Exporter builds monthly appointment workbooks for one provider.
type Exporter struct {
	appointments AppointmentLister
}

func NewExporter(appointments AppointmentLister) *Exporter {
	return &Exporter{appointments: appointments}
}

// MonthRange returns the first and last date of month (YYYY-MM).
func MonthRange(month string) (from, to string, err error) {
	start, err := time.Parse(MonthLayout, strings.TrimSpace(month))
	if err != nil {
		return "", "", fmt.Errorf("%w: month %q must be YYYY-MM", model.ErrInvalidInput, month)
	}
	end := start.AddDate(0, 1, -1)
	return start.Format(model.DateLayout), end.Format(model.DateLayout), nil
}

// Filename names the workbook for a provider and month, e.g. "p1_2025-03.xlsx".
func Filename(providerID, month string) string {
	return fmt.Sprintf("%s_%s.xlsx", providerID, month)
}

// WriteMonth writes an "Appointments" sheet and a per-status "Summary" sheet for
// providerID's appointments during month.
func (e *Exporter) WriteMonth(ctx context.Context, wr io.Writer, providerID, month string) (int, error) {
	if providerID == "" {
		return 0, fmt.Errorf("%w: provider id is required", model.ErrInvalidInput)
	}
	from, to, err := MonthRange(month)
	if err != nil {
		return 0, err
	}

	list, err := e.appointments.ListAppointments(ctx, db.AppointmentFilter{
		ProviderID: providerID,
		DateFrom:   from,
		DateTo:     to,
	})
	if err != nil {
		return 0, err
	}

	wb := NewWorkbook()
	defer wb.Close()

	if err := wb.AddSheet("Appointments"); err != nil {
		return 0, err
	}
	if err := wb.WriteHeader(appointmentColumns); err != nil {
		return 0, err
	}

	counts := make(map[model.Status]int)
	for _, a := range list {
		counts[a.Status]++
		if err := wb.WriteRow(appointmentRow(a)); err != nil {
			return 0, err
		}
	}

	if err := wb.AddSheet("Summary"); err != nil {
		return 0, err
	}
	if err := wb.WriteHeader([]string{"Status", "Count"}); err != nil {
		return 0, err
	}
	for _, s := range statusOrder {
		if err := wb.WriteRow([]any{string(s), counts[s]}); err != nil {
			return 0, err
		}
	}
	if err := wb.WriteRow([]any{"total", len(list)}); err != nil {
		return 0, err
	}

	if err := wb.Save(wr); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}
	return len(list), nil
}

func appointmentRow(a model.Appointment) []any {
	var name, email, phone, document string
	if a.Client != nil {
		name, email, phone, document = a.Client.Name, a.Client.Email, a.Client.Phone, a.Client.Document
	}

	names := make([]string, 0, len(a.Participants))
	for _, p := range a.Participants {
		names = append(names, p.Name)
	}

	return []any{
		a.ID, a.Date, a.Time, string(a.Status), a.ServiceRef, name, email, phone,
		document, a.NumberOfPeople, strings.Join(names, ", "), a.Notes,
		a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
