package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agenda/internal/config"
	"agenda/internal/model"
)

// UpsertProvider creates or updates a provider row.
func (db *DB) UpsertProvider(ctx context.Context, p model.Provider) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO providers (id, name, email, telegram_chat_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			telegram_chat_id = excluded.telegram_chat_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Email, p.TelegramChatID, boolToInt(p.IsActive), now, now,
	)
	if err != nil {
		return model.Unavailable("upsert provider", err)
	}
	return nil
}

// GetProvider returns a provider by id.
func (db *DB) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	var email sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, telegram_chat_id, is_active FROM providers WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &email, &p.TelegramChatID, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.Unavailable("get provider", err)
	}
	p.Email = email.String
	return &p, nil
}

// ListProviders returns active providers ordered by name.
func (db *DB) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, email, telegram_chat_id, is_active FROM providers WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, model.Unavailable("list providers", err)
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var p model.Provider
		var email sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &email, &p.TelegramChatID, &p.IsActive); err != nil {
			return nil, model.Unavailable("scan provider", err)
		}
		p.Email = email.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("list providers", err)
	}
	return out, nil
}

// GetRules returns the availability rules of an active provider.
// Inactive or unknown providers have no rules.
func (db *DB) GetRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.id, r.provider_id, r.day_of_week, r.start_time, r.end_time, r.is_active
		FROM availability_rules r
		JOIN providers p ON p.id = r.provider_id
		WHERE r.provider_id = ? AND p.is_active = 1
		ORDER BY r.day_of_week, r.start_time`, providerID)
	if err != nil {
		return nil, model.Unavailable("get rules", err)
	}
	defer rows.Close()

	rules := make([]model.AvailabilityRule, 0)
	for rows.Next() {
		var r model.AvailabilityRule
		if err := rows.Scan(&r.ID, &r.ProviderID, &r.DayOfWeek, &r.StartTime, &r.EndTime, &r.IsActive); err != nil {
			return nil, model.Unavailable("scan rule", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("get rules", err)
	}
	return rules, nil
}

// ReplaceRules swaps the whole rule set of a provider in one transaction.
func (db *DB) ReplaceRules(ctx context.Context, providerID string, rules []model.AvailabilityRule) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.Unavailable("begin replace rules", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM availability_rules WHERE provider_id = ?`, providerID); err != nil {
		return model.Unavailable("delete rules", err)
	}

	now := time.Now().UTC()
	for _, r := range rules {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO availability_rules (provider_id, day_of_week, start_time, end_time, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			providerID, r.DayOfWeek, r.StartTime, r.EndTime, boolToInt(r.IsActive), now, now,
		)
		if err != nil {
			return model.Unavailable("insert rule", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Unavailable("commit rules", err)
	}
	return nil
}

// SyncProvidersFromConfig applies providers.yaml to the database.
// It upserts providers, replaces their weekly rules, and marks missing providers inactive.
// The returned ids are the providers whose rules were rewritten.
func (db *DB) SyncProvidersFromConfig(ctx context.Context, cfg *config.ProvidersConfig) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("providers config is nil")
	}

	seen := make(map[string]struct{})
	var synced []string

	for _, p := range cfg.Providers {
		err := db.UpsertProvider(ctx, model.Provider{
			ID:             p.ID,
			Name:           p.Name,
			Email:          p.Email,
			TelegramChatID: p.TelegramChatID,
			IsActive:       p.Active(),
		})
		if err != nil {
			return synced, fmt.Errorf("sync provider %s: %w", p.ID, err)
		}
		seen[p.ID] = struct{}{}

		if err := db.ReplaceRules(ctx, p.ID, cfg.EffectiveRules(p)); err != nil {
			return synced, fmt.Errorf("sync provider %s rules: %w", p.ID, err)
		}
		synced = append(synced, p.ID)
	}

	// Deactivate providers that disappeared from config.
	rows, err := db.QueryContext(ctx, `SELECT id FROM providers WHERE is_active = 1`)
	if err != nil {
		return synced, model.Unavailable("list providers", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return synced, model.Unavailable("scan provider", err)
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return synced, model.Unavailable("list providers", err)
	}
	rows.Close()

	now := time.Now().UTC()
	for _, id := range stale {
		if _, err := db.ExecContext(ctx, `UPDATE providers SET is_active = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return synced, model.Unavailable(fmt.Sprintf("deactivate provider %s", id), err)
		}
		synced = append(synced, id)
	}

	return synced, nil
}
