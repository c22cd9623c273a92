package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"registration-service/internal/models"
)

// SaveCart upserts a cart row. Carts are content-addressed, so writing the
// same cart twice is a no-op.
func (s *Store) SaveCart(ctx context.Context, cart *models.Cart) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cart (id, date_created, cart_data) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING",
		cart.ID, cart.DateCreated, cart.CartData)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

// GetCart retrieves a cart by its content hash. Returns nil if not found.
func (s *Store) GetCart(ctx context.Context, id string) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM cart WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

// SetCartPricingResult caches a pricing result on the cart row.
func (s *Store) SetCartPricingResult(ctx context.Context, id string, result models.JSONMap) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cart SET pricing_result = $2 WHERE id = $1", id, result)
	if err != nil {
		return fmt.Errorf("failed to set cart pricing result: %w", err)
	}
	return nil
}
