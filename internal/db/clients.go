package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agenda/internal/model"

	"github.com/google/uuid"
)

// NormalizeEmail lower-cases and trims an address; it is the client natural key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindOrCreateClient upserts a client by email and returns its stable id.
// Concurrent calls for the same email converge on one row through the unique constraint.
func (db *DB) FindOrCreateClient(ctx context.Context, email, name, phone, document string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", model.ErrInvalidInput)
	}

	now := time.Now().UTC()
	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO clients (id, email, name, phone, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE clients.name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE clients.phone END,
			document = CASE WHEN excluded.document != '' THEN excluded.document ELSE clients.document END,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.NewString(), email, strings.TrimSpace(name), strings.TrimSpace(phone), strings.TrimSpace(document), now, now,
	).Scan(&id)
	if err != nil {
		return "", model.Unavailable("upsert client", err)
	}
	return id, nil
}
