package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"registration-service/internal/hook"
	"registration-service/internal/models"
	"registration-service/internal/payment"
	"registration-service/internal/util"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingMock wraps the mock provider and counts update calls.
type countingMock struct {
	*payment.MockProvider
	updates int
}

func (p *countingMock) UpdateCheckout(ctx context.Context, req payment.UpdateRequest) (*payment.Checkout, error) {
	p.updates++
	return p.MockProvider.UpdateCheckout(ctx, req)
}

// cancelingMock reports every updated checkout as canceled by the provider.
type cancelingMock struct {
	*payment.MockProvider
}

func (p *cancelingMock) UpdateCheckout(ctx context.Context, req payment.UpdateRequest) (*payment.Checkout, error) {
	now := time.Now()
	return &payment.Checkout{
		Service:    p.ID(),
		ID:         "ext-canceled",
		State:      models.CheckoutStateCanceled,
		DateClosed: &now,
		Data:       models.JSONMap{"state": string(models.CheckoutStateCanceled)},
	}, nil
}

func saveCart(t *testing.T, env *testEnv, data models.CartData) string {
	t.Helper()
	cart, err := env.carts.Save(context.Background(), data)
	require.NoError(t, err)
	return cart.ID
}

func TestCheckoutLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	regID := uuid.New()
	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(regID, "created", "standard")},
	})

	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "mock-card")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatePending, checkout.State)
	assert.False(t, checkout.ChangesApplied)
	assert.Equal(t, 1, env.rec.count(hook.EventCheckoutCreated))

	// nothing applied while the checkout is open
	_, ok := env.db.regs[regID]
	assert.False(t, ok)

	// confirming the payment completes the checkout and applies the cart
	updated, _, err := env.checkouts.Update(ctx, checkout.ID, map[string]interface{}{"card": "4242"})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStateComplete, updated.State)
	assert.True(t, updated.ChangesApplied)
	require.NotNil(t, updated.DateClosed)

	stored := env.db.getCheckout(t, checkout.ID)
	assert.Equal(t, models.CheckoutStateComplete, stored.State)
	assert.True(t, stored.ChangesApplied)

	reg := env.db.getReg(t, regID)
	assert.Equal(t, models.RegistrationStateCreated, reg.State)
	assert.Equal(t, 2, reg.Version)
	require.NotNil(t, reg.Number)
	assert.Equal(t, 1, *reg.Number)

	assert.Equal(t, 1, env.rec.count(hook.EventCheckoutCompleted))
	assert.Equal(t, 1, env.rec.count(hook.EventRegistrationCreated))
}

func TestCreateCheckoutEmptyCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, env.carts.EmptyCart("ev1"))

	_, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCreateCheckoutUnknownCart(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.checkouts.Create(context.Background(), "no-such-cart", "mock", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateCheckoutUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(uuid.New(), "created", "standard")},
	})

	_, _, err := env.checkouts.Create(ctx, cartID, "stripe", "")
	assert.ErrorIs(t, err, payment.ErrProviderNotFound)
}

func TestCreateCheckoutStaleCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg := seedRegistration(t, env.db, models.RegistrationStateCreated, 3)
	cartID := saveCart(t, env, models.CartData{
		EventID: "ev1",
		Registrations: []models.CartRegistration{{
			ID:      reg.ID,
			OldData: models.JSONMap{"version": float64(2)},
			NewData: models.JSONMap{"state": "created", "option_ids": []interface{}{"standard"}},
		}},
	})

	_, _, err := env.checkouts.Create(ctx, cartID, "mock", "")

	var conflict *CartConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []uuid.UUID{reg.ID}, conflict.RegistrationIDs)
}

func TestUpdateRejectsStaleCartBeforePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	provider := &countingMock{MockProvider: payment.NewMockProvider()}
	env.providers.Register(provider)

	reg := seedRegistration(t, env.db, models.RegistrationStatePending, 1)
	cartID := saveCart(t, env, models.CartData{
		EventID: "ev1",
		Registrations: []models.CartRegistration{{
			ID:      reg.ID,
			OldData: models.JSONMap{"version": float64(1)},
			NewData: models.JSONMap{"state": "created", "email": "a@example.com", "option_ids": []interface{}{"standard"}},
		}},
	})

	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	require.NoError(t, err)

	// the registration changes underneath the open checkout
	reg.MarkUpdated(checkout.DateCreated)
	env.db.putReg(t, reg)

	_, _, err = env.checkouts.Update(ctx, checkout.ID, map[string]interface{}{"card": "4242"})
	var conflict *CartConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []uuid.UUID{reg.ID}, conflict.RegistrationIDs)

	// the provider was never asked to take payment
	assert.Equal(t, 0, provider.updates)

	stored := env.db.getCheckout(t, checkout.ID)
	assert.Equal(t, models.CheckoutStatePending, stored.State)
	assert.False(t, stored.ChangesApplied)
	assert.Equal(t, 0, env.rec.count(hook.EventCheckoutCompleted))
}

func TestUpdateMirrorsProviderCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.providers.Register(&cancelingMock{MockProvider: payment.NewMockProvider()})

	regID := uuid.New()
	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(regID, "created", "standard")},
	})
	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	require.NoError(t, err)

	updated, _, err := env.checkouts.Update(ctx, checkout.ID, map[string]interface{}{"card": "4242"})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStateCanceled, updated.State)
	require.NotNil(t, updated.DateClosed)

	stored := env.db.getCheckout(t, checkout.ID)
	assert.Equal(t, models.CheckoutStateCanceled, stored.State)
	assert.Equal(t, "ext-canceled", stored.ExternalID)
	assert.Equal(t, string(models.CheckoutStateCanceled), stored.ExternalData["state"])
	assert.Equal(t, 1, env.rec.count(hook.EventCheckoutCanceled))

	// canceled checkouts never apply their cart
	_, ok := env.db.regs[regID]
	assert.False(t, ok)
}

func TestUpdateFailureAfterConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(uuid.New(), "created", "standard")},
	})
	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	require.NoError(t, err)

	before := testutil.ToFloat64(util.CheckoutReconcileFailures)

	// the local write fails after the provider confirmed the payment
	writeErr := errors.New("connection reset")
	env.db.mu.Lock()
	env.db.checkoutWriteErr = writeErr
	env.db.mu.Unlock()

	_, _, err = env.checkouts.Update(ctx, checkout.ID, map[string]interface{}{"card": "4242"})
	require.ErrorIs(t, err, writeErr)

	assert.Equal(t, before+1, testutil.ToFloat64(util.CheckoutReconcileFailures))

	stored := env.db.getCheckout(t, checkout.ID)
	assert.Equal(t, models.CheckoutStatePending, stored.State)
	assert.Equal(t, 0, env.rec.count(hook.EventCheckoutCompleted))
}

func TestUpdateCheckoutInvalidData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(uuid.New(), "created", "standard")},
	})
	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	require.NoError(t, err)

	_, _, err = env.checkouts.Update(ctx, checkout.ID, map[string]interface{}{"card": "not-a-number"})

	var valErr *payment.ValidationError
	assert.ErrorAs(t, err, &valErr)

	stored := env.db.getCheckout(t, checkout.ID)
	assert.Equal(t, models.CheckoutStatePending, stored.State)
}

func TestUpdateClosedCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(uuid.New(), "created", "standard")},
	})
	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	require.NoError(t, err)

	_, err = env.checkouts.Cancel(ctx, checkout.ID)
	require.NoError(t, err)

	_, _, err = env.checkouts.Update(ctx, checkout.ID, map[string]interface{}{"card": "4242"})
	var stateErr *payment.StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestCancelCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	regID := uuid.New()
	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(regID, "created", "standard")},
	})
	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	require.NoError(t, err)

	canceled, err := env.checkouts.Cancel(ctx, checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStateCanceled, canceled.State)
	require.NotNil(t, canceled.DateClosed)
	assert.Equal(t, 1, env.rec.count(hook.EventCheckoutCanceled))

	// canceled checkouts never apply their cart
	_, ok := env.db.regs[regID]
	assert.False(t, ok)

	// canceling again is a no-op
	again, err := env.checkouts.Cancel(ctx, checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStateCanceled, again.State)
	assert.Equal(t, 1, env.rec.count(hook.EventCheckoutCanceled))
}

func TestCancelCompleteCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(uuid.New(), "created", "standard")},
	})
	checkout, _, err := env.checkouts.Create(ctx, cartID, "mock", "")
	require.NoError(t, err)

	_, _, err = env.checkouts.Update(ctx, checkout.ID, map[string]interface{}{"card": "4242"})
	require.NoError(t, err)

	_, err = env.checkouts.Cancel(ctx, checkout.ID)
	var stateErr *payment.StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestCancelUnknownCheckout(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.checkouts.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCheckoutMethods(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(uuid.New(), "created", "standard")},
	})

	methods, err := env.checkouts.Methods(ctx, cartID)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, "mock", methods[0].Service)
	assert.Equal(t, "mock-card", methods[0].Method)
}

func TestPriceCartCachesResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cartID := saveCart(t, env, models.CartData{
		EventID:       "ev1",
		Registrations: []models.CartRegistration{newChange(uuid.New(), "created", "standard", "vip")},
	})

	result, err := env.checkouts.PriceCart(ctx, cartID)
	require.NoError(t, err)
	assert.Equal(t, int64(17000), result.TotalPrice)

	cart, err := env.carts.Get(ctx, cartID)
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.NotEmpty(t, cart.PricingResult)
}
