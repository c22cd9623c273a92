// Package service implements the core business logic: cart reconciliation,
// pricing, and the checkout state machine.
package service

import (
	"context"
	"fmt"
	"strings"

	"registration-service/internal/models"

	"github.com/google/uuid"
)

// Tx is the unit of work the services run against. *store.Tx satisfies it.
type Tx interface {
	GetRegistration(ctx context.Context, id uuid.UUID, lock bool) (*models.Registration, error)
	GetRegistrations(ctx context.Context, ids []uuid.UUID, lock bool) ([]*models.Registration, error)
	InsertRegistration(ctx context.Context, reg *models.Registration) error
	UpdateRegistration(ctx context.Context, reg *models.Registration) error
	GetEventStats(ctx context.Context, eventID string, lock bool) (*models.EventStats, error)
	UpdateEventStats(ctx context.Context, stats *models.EventStats) error

	GetCheckout(ctx context.Context, id uuid.UUID, lock bool) (*models.Checkout, error)
	InsertCheckout(ctx context.Context, c *models.Checkout) error
	UpdateCheckout(ctx context.Context, c *models.Checkout) error

	InsertHookLog(ctx context.Context, log *models.HookLog) error
	OnCommit(fn func())
	Commit() error
	Rollback() error
}

// BeginFunc opens a new unit of work.
type BeginFunc func(ctx context.Context) (Tx, error)

// CartStore persists content-addressed carts. *store.Store satisfies it.
type CartStore interface {
	SaveCart(ctx context.Context, cart *models.Cart) error
	GetCart(ctx context.Context, id string) (*models.Cart, error)
	SetCartPricingResult(ctx context.Context, id string, result models.JSONMap) error
}

// CartConflictError reports registrations whose versions no longer match
// the cart's recorded old versions.
type CartConflictError struct {
	RegistrationIDs []uuid.UUID
}

func (e *CartConflictError) Error() string {
	ids := make([]string, len(e.RegistrationIDs))
	for i, id := range e.RegistrationIDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("cart is out of date for registrations %s", strings.Join(ids, ", "))
}
