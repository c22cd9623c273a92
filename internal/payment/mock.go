package payment

import (
	"context"
	"strconv"
	"time"

	"registration-service/internal/models"

	"github.com/google/uuid"
)

// MockProvider is a test payment provider. It keeps the checkout state in
// the provider-opaque data blob, so it needs no storage of its own.
type MockProvider struct{}

// NewMockProvider creates the mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) ID() string   { return "mock" }
func (p *MockProvider) Name() string { return "Mock" }

func (p *MockProvider) checkout(id string, data models.JSONMap) *Checkout {
	state := models.CheckoutStatePending
	if s, ok := data["state"].(string); ok && s != "" {
		state = models.CheckoutState(s)
	}
	return &Checkout{
		Service: p.ID(),
		ID:      id,
		State:   state,
		Data:    models.JSONMap{"state": string(state)},
	}
}

func (p *MockProvider) GetCheckout(ctx context.Context, id string, data models.JSONMap) (*Checkout, error) {
	return p.checkout(id, data), nil
}

func (p *MockProvider) GetCheckoutMethods(ctx context.Context, req MethodsRequest) ([]Method, error) {
	return []Method{{Service: p.ID(), Method: "mock-card", Name: "Mock Card"}}, nil
}

func (p *MockProvider) CreateCheckout(ctx context.Context, req CreateRequest) (*Checkout, error) {
	now := time.Now()
	return &Checkout{
		Service:     p.ID(),
		ID:          uuid.New().String(),
		State:       models.CheckoutStatePending,
		DateCreated: &now,
		Data:        models.JSONMap{"state": string(models.CheckoutStatePending)},
	}, nil
}

func (p *MockProvider) CancelCheckout(ctx context.Context, id string, data models.JSONMap) (*Checkout, error) {
	checkout := p.checkout(id, data)
	switch checkout.State {
	case models.CheckoutStateComplete:
		return nil, NewCancelError("checkout is already complete")
	case models.CheckoutStateCanceled:
		return checkout, nil
	default:
		now := time.Now()
		return &Checkout{
			Service:    p.ID(),
			ID:         id,
			State:      models.CheckoutStateCanceled,
			DateClosed: &now,
			Data:       models.JSONMap{"state": string(models.CheckoutStateCanceled)},
		}, nil
	}
}

// UpdateCheckout completes the checkout when the body carries a numeric
// "card" value.
func (p *MockProvider) UpdateCheckout(ctx context.Context, req UpdateRequest) (*Checkout, error) {
	checkout := p.checkout(req.ID, req.Data)
	switch checkout.State {
	case models.CheckoutStateComplete:
		return nil, NewStateError("checkout is already complete")
	case models.CheckoutStateCanceled:
		return nil, NewStateError("checkout is canceled")
	}

	card, _ := req.Body["card"].(string)
	if _, err := strconv.Atoi(card); err != nil {
		return nil, NewValidationError("invalid card")
	}

	now := time.Now()
	return &Checkout{
		Service:    p.ID(),
		ID:         checkout.ID,
		State:      models.CheckoutStateComplete,
		DateClosed: &now,
		Data:       models.JSONMap{"state": string(models.CheckoutStateComplete)},
	}, nil
}
