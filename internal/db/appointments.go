package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agenda/internal/model"

	"github.com/google/uuid"
)

const appointmentColumns = `a.id, a.provider_id, a.client_id, a.service_ref, a.date, a.time, a.status,
	a.notes, a.number_of_people, a.participants, a.created_at, a.updated_at`

// AppointmentFilter narrows ListAppointments.
type AppointmentFilter struct {
	ProviderID string
	DateFrom   string // inclusive, YYYY-MM-DD
	DateTo     string // inclusive, YYYY-MM-DD
	Status     model.Status
	Limit      int
	Offset     int
}

// GetAppointments returns every appointment of a provider on date, whatever the status.
func (db *DB) GetAppointments(ctx context.Context, providerID, date string) ([]model.Appointment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.provider_id = ? AND a.date = ?
		ORDER BY a.time`, providerID, date)
	if err != nil {
		return nil, model.Unavailable("get appointments", err)
	}
	defer rows.Close()

	out := make([]model.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, model.Unavailable("scan appointment", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("get appointments", err)
	}
	return out, nil
}

// CreateAppointment inserts a new appointment. If another live appointment already
// holds the same provider, date and time it returns ErrSlotAlreadyTaken and writes nothing.
func (db *DB) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	date, err := model.CanonicalDate(a.Date)
	if err != nil {
		return err
	}
	a.Date = date
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	if a.NumberOfPeople <= 0 {
		a.NumberOfPeople = 1
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	participants, err := json.Marshal(nonNilParticipants(a.Participants))
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.Unavailable("begin create appointment", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO appointments (
			id, provider_id, client_id, service_ref, date, time, status,
			notes, number_of_people, participants, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProviderID, a.ClientID, a.ServiceRef, a.Date, a.Time, string(a.Status),
		a.Notes, a.NumberOfPeople, string(participants), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %s for provider %s: %w", a.Date, a.Time, a.ProviderID, model.ErrSlotAlreadyTaken)
		}
		return model.Unavailable("insert appointment", err)
	}

	if err := logStatusChange(ctx, tx, a.ID, "", a.Status, now); err != nil {
		return model.Unavailable("log appointment event", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %s for provider %s: %w", a.Date, a.Time, a.ProviderID, model.ErrSlotAlreadyTaken)
		}
		return model.Unavailable("commit appointment", err)
	}
	return nil
}

// GetAppointment returns one appointment with its client.
func (db *DB) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`, c.email, c.name, c.phone, c.document
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
		WHERE a.id = ?`, id)

	a, err := scanAppointmentWithClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.Unavailable("get appointment", err)
	}
	return a, nil
}

// SetStatus moves an appointment to status. The lifecycle is checked against the row
// read inside the transaction, so two racing changes cannot both pass on a stale status.
func (db *DB) SetStatus(ctx context.Context, id string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, status)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.Unavailable("begin set status", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM appointments WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Unavailable("read status", err)
	}
	if !model.Status(current).CanTransitionTo(status) {
		return fmt.Errorf("%w: cannot move appointment from %s to %s", model.ErrInvalidInput, current, status)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE appointments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), now, id, current,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("appointment %s: %w", id, model.ErrSlotAlreadyTaken)
		}
		return model.Unavailable("update status", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.Unavailable("update status", err)
	} else if n == 0 {
		return fmt.Errorf("%w: appointment %s changed concurrently", model.ErrInvalidInput, id)
	}

	if err := logStatusChange(ctx, tx, id, model.Status(current), status, now); err != nil {
		return model.Unavailable("log appointment event", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Unavailable("commit status", err)
	}
	return nil
}

// ListAppointments returns appointments with their clients, ordered by date and time.
func (db *DB) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]model.Appointment, error) {
	var where []string
	var args []any

	if filter.ProviderID != "" {
		where = append(where, "a.provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.DateFrom != "" {
		where = append(where, "a.date >= ?")
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		where = append(where, "a.date <= ?")
		args = append(args, filter.DateTo)
	}
	if filter.Status != "" {
		where = append(where, "a.status = ?")
		args = append(args, string(filter.Status))
	}

	q := `SELECT ` + appointmentColumns + `, c.email, c.name, c.phone, c.document
		FROM appointments a
		JOIN clients c ON c.id = a.client_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY a.date, a.time"
	if filter.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, model.Unavailable("list appointments", err)
	}
	defer rows.Close()

	out := make([]model.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointmentWithClient(rows)
		if err != nil {
			return nil, model.Unavailable("scan appointment", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("list appointments", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(s scanner) (*model.Appointment, error) {
	var a model.Appointment
	var status, participants string
	if err := s.Scan(
		&a.ID, &a.ProviderID, &a.ClientID, &a.ServiceRef, &a.Date, &a.Time, &status,
		&a.Notes, &a.NumberOfPeople, &participants, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = model.Status(status)
	if err := decodeParticipants(participants, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAppointmentWithClient(s scanner) (*model.Appointment, error) {
	var a model.Appointment
	var c model.Client
	var status, participants string
	if err := s.Scan(
		&a.ID, &a.ProviderID, &a.ClientID, &a.ServiceRef, &a.Date, &a.Time, &status,
		&a.Notes, &a.NumberOfPeople, &participants, &a.CreatedAt, &a.UpdatedAt,
		&c.Email, &c.Name, &c.Phone, &c.Document,
	); err != nil {
		return nil, err
	}
	a.Status = model.Status(status)
	c.ID = a.ClientID
	a.Client = &c
	if err := decodeParticipants(participants, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func decodeParticipants(raw string, a *model.Appointment) error {
	if raw == "" || raw == "[]" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &a.Participants); err != nil {
		return fmt.Errorf("decode participants of %s: %w", a.ID, err)
	}
	return nil
}

func nonNilParticipants(p []model.Participant) []model.Participant {
	if p == nil {
		return []model.Participant{}
	}
	return p
}
