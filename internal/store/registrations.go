package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"registration-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GetRegistration retrieves a registration by ID, optionally row-locked.
// Returns nil if not found.
func (t *Tx) GetRegistration(ctx context.Context, id uuid.UUID, lock bool) (*models.Registration, error) {
	query := "SELECT * FROM registration WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var reg models.Registration
	err := t.GetContext(ctx, &reg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return &reg, nil
}

// GetRegistrations retrieves multiple registrations ordered by ID,
// optionally row-locked. Missing IDs are simply absent from the result.
func (t *Tx) GetRegistrations(ctx context.Context, ids []uuid.UUID, lock bool) ([]*models.Registration, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In("SELECT * FROM registration WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	if lock {
		query += " FOR UPDATE"
	}
	query = t.Rebind(query)

	var regs []*models.Registration
	if err := t.SelectContext(ctx, &regs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get registrations: %w", err)
	}
	return regs, nil
}

// InsertRegistration inserts a new registration row.
func (t *Tx) InsertRegistration(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO registration
			(id, state, event_id, version, date_created, date_updated,
			 number, option_ids, email, first_name, last_name, preferred_name, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := t.ExecContext(ctx, query,
		reg.ID, reg.State, reg.EventID, reg.Version, reg.DateCreated, reg.DateUpdated,
		reg.Number, reg.OptionIDs, reg.Email, reg.FirstName, reg.LastName,
		reg.PreferredName, reg.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	return nil
}

// UpdateRegistration writes the registration's current field values.
func (t *Tx) UpdateRegistration(ctx context.Context, reg *models.Registration) error {
	query := `
		UPDATE registration SET
			state = $2, version = $3, date_created = $4, date_updated = $5,
			number = $6, option_ids = $7, email = $8, first_name = $9,
			last_name = $10, preferred_name = $11, extra_data = $12
		WHERE id = $1`

	_, err := t.ExecContext(ctx, query,
		reg.ID, reg.State, reg.Version, reg.DateCreated, reg.DateUpdated,
		reg.Number, reg.OptionIDs, reg.Email, reg.FirstName, reg.LastName,
		reg.PreferredName, reg.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to update registration: %w", err)
	}
	return nil
}

// GetEventStats returns the per-event counters, creating the row on first
// access. The row is locked when lock is true.
func (t *Tx) GetEventStats(ctx context.Context, eventID string, lock bool) (*models.EventStats, error) {
	query := "SELECT * FROM event_stats WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var stats models.EventStats
	err := t.GetContext(ctx, &stats, query, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		stats = models.EventStats{ID: eventID, NextNumber: 1}
		_, err = t.ExecContext(ctx,
			"INSERT INTO event_stats (id, next_number) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
			stats.ID, stats.NextNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to create event stats: %w", err)
		}
		// re-read to pick up the lock and any concurrently inserted row
		if err := t.GetContext(ctx, &stats, query, eventID); err != nil {
			return nil, fmt.Errorf("failed to get event stats: %w", err)
		}
		return &stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}
	return &stats, nil
}

// UpdateEventStats writes the counter row.
func (t *Tx) UpdateEventStats(ctx context.Context, stats *models.EventStats) error {
	_, err := t.ExecContext(ctx,
		"UPDATE event_stats SET next_number = $2 WHERE id = $1",
		stats.ID, stats.NextNumber)
	if err != nil {
		return fmt.Errorf("failed to update event stats: %w", err)
	}
	return nil
}
