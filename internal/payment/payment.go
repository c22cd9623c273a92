// Package payment defines the contract between the checkout state machine
// and external payment providers.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"registration-service/internal/models"
)

// ErrProviderNotFound is returned when no provider is registered under the
// requested ID.
var ErrProviderNotFound = errors.New("payment provider not found")

// StateError is returned when a checkout is not in a state that allows the
// requested operation.
type StateError struct {
	msg string
}

func (e *StateError) Error() string { return e.msg }

// NewStateError builds a StateError.
func NewStateError(format string, args ...interface{}) *StateError {
	return &StateError{msg: fmt.Sprintf(format, args...)}
}

// CancelError is returned when a provider refuses to cancel a checkout.
type CancelError struct {
	msg string
}

func (e *CancelError) Error() string { return e.msg }

// NewCancelError builds a CancelError.
func NewCancelError(format string, args ...interface{}) *CancelError {
	return &CancelError{msg: fmt.Sprintf(format, args...)}
}

// ValidationError is returned when client-submitted checkout data does not
// validate.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// NewValidationError builds a ValidationError.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Checkout is a provider's view of a checkout.
type Checkout struct {
	Service     string
	ID          string
	State       models.CheckoutState
	DateCreated *time.Time
	DateClosed  *time.Time
	// Provider-opaque data persisted with the local checkout row.
	Data models.JSONMap
	// Data returned to the client (e.g. a client secret), never persisted.
	ResponseData models.JSONMap
}

// Method is one way a cart can be checked out with a provider.
type Method struct {
	Service string `json:"service"`
	Method  string `json:"method,omitempty"`
	Name    string `json:"name,omitempty"`
}

// MethodsRequest asks a provider which checkout methods it offers for a
// priced cart.
type MethodsRequest struct {
	Service       string
	CartData      models.CartData
	PricingResult models.PricingResult
}

// CreateRequest asks a provider to create a checkout.
type CreateRequest struct {
	Service       string
	Method        string
	CartData      models.CartData
	PricingResult models.PricingResult
}

// UpdateRequest carries client-submitted data to a provider's update
// handler (e.g. confirming a card payment).
type UpdateRequest struct {
	Service string
	ID      string
	Data    models.JSONMap
	Body    map[string]interface{}
}

// Provider is a payment service adapter.
type Provider interface {
	ID() string
	Name() string
	CreateCheckout(ctx context.Context, req CreateRequest) (*Checkout, error)
	GetCheckout(ctx context.Context, id string, data models.JSONMap) (*Checkout, error)
	// CancelCheckout returns a CancelError if the provider refuses.
	CancelCheckout(ctx context.Context, id string, data models.JSONMap) (*Checkout, error)
	GetCheckoutMethods(ctx context.Context, req MethodsRequest) ([]Method, error)
}

// Updater is the optional update capability of a Provider.
type Updater interface {
	UpdateCheckout(ctx context.Context, req UpdateRequest) (*Checkout, error)
}

// Registry holds the configured payment providers by ID.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.ID()] = p
}

// Get returns the provider with the given ID.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

// Available reports whether a provider is registered under the given ID.
func (r *Registry) Available(id string) bool {
	_, ok := r.providers[id]
	return ok
}

// IDs returns the registered provider IDs.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
