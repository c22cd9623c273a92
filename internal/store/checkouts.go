package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"registration-service/internal/models"

	"github.com/google/uuid"
)

// GetCheckout retrieves a checkout by ID, optionally row-locked.
// Returns nil if not found.
func (t *Tx) GetCheckout(ctx context.Context, id uuid.UUID, lock bool) (*models.Checkout, error) {
	query := "SELECT * FROM checkout WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var c models.Checkout
	err := t.GetContext(ctx, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	return &c, nil
}

// InsertCheckout inserts a new checkout row.
func (t *Tx) InsertCheckout(ctx context.Context, c *models.Checkout) error {
	query := `
		INSERT INTO checkout
			(id, state, date_created, date_closed, changes_applied,
			 service, external_id, external_data, cart_id, cart_data, pricing_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := t.ExecContext(ctx, query,
		c.ID, c.State, c.DateCreated, c.DateClosed, c.ChangesApplied,
		c.Service, c.ExternalID, c.ExternalData, c.CartID, c.CartData, c.PricingResult)
	if err != nil {
		return fmt.Errorf("failed to insert checkout: %w", err)
	}
	return nil
}

// UpdateCheckout writes the checkout's current field values.
func (t *Tx) UpdateCheckout(ctx context.Context, c *models.Checkout) error {
	query := `
		UPDATE checkout SET
			state = $2, date_closed = $3, changes_applied = $4,
			external_id = $5, external_data = $6
		WHERE id = $1`

	_, err := t.ExecContext(ctx, query,
		c.ID, c.State, c.DateClosed, c.ChangesApplied, c.ExternalID, c.ExternalData)
	if err != nil {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	return nil
}
