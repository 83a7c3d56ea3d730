package db

import (
	"context"
	"database/sql"
	"time"

	"agenda/internal/model"
)

// StatusEvent is one recorded status change of an appointment.
type StatusEvent struct {
	AppointmentID string       `json:"appointment_id"`
	From          model.Status `json:"from,omitempty"`
	To            model.Status `json:"to"`
	At            time.Time    `json:"at"`
}

func logStatusChange(ctx context.Context, tx *sql.Tx, appointmentID string, from, to model.Status, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO appointment_events (appointment_id, from_status, to_status, created_at)
		VALUES (?, ?, ?, ?)`,
		appointmentID, string(from), string(to), at,
	)
	return err
}

// AppointmentHistory returns the status changes of an appointment, oldest first.
func (db *DB) AppointmentHistory(ctx context.Context, appointmentID string) ([]StatusEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT appointment_id, from_status, to_status, created_at
		FROM appointment_events
		WHERE appointment_id = ?
		ORDER BY id`, appointmentID)
	if err != nil {
		return nil, model.Unavailable("appointment history", err)
	}
	defer rows.Close()

	var out []StatusEvent
	for rows.Next() {
		var e StatusEvent
		var from, to string
		if err := rows.Scan(&e.AppointmentID, &from, &to, &e.At); err != nil {
			return nil, model.Unavailable("scan event", err)
		}
		e.From, e.To = model.Status(from), model.Status(to)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("appointment history", err)
	}
	return out, nil
}
