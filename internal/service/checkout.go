package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"registration-service/internal/hook"
	"registration-service/internal/models"
	"registration-service/internal/payment"
	"registration-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyCart is returned when a checkout is attempted on a cart with no
// changes.
var ErrEmptyCart = errors.New("cart is empty")

// CheckoutService drives the checkout state machine. Payment-provider calls
// are always made with no row locks held; rows are re-locked and state
// re-validated before the final write.
type CheckoutService struct {
	begin         BeginFunc
	carts         *CartService
	pricer        *Pricer
	registrations *RegistrationService
	providers     *payment.Registry
	dispatcher    *hook.Dispatcher
	logger        *zap.Logger
	now           func() time.Time
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(begin BeginFunc, carts *CartService, pricer *Pricer, registrations *RegistrationService, providers *payment.Registry, dispatcher *hook.Dispatcher) *CheckoutService {
	return &CheckoutService{
		begin:         begin,
		carts:         carts,
		pricer:        pricer,
		registrations: registrations,
		providers:     providers,
		dispatcher:    dispatcher,
		logger:        util.GetLogger(),
		now:           time.Now,
	}
}

// PriceCart prices a cart and caches the result on the cart row.
func (s *CheckoutService) PriceCart(ctx context.Context, cartID string) (models.PricingResult, error) {
	data, err := s.carts.GetData(ctx, cartID)
	if err != nil {
		return models.PricingResult{}, err
	}
	result, err := s.pricer.Price(ctx, data)
	if err != nil {
		return models.PricingResult{}, err
	}
	if err := s.carts.SavePricingResult(ctx, cartID, result); err != nil {
		s.logger.Warn("Failed to cache pricing result", zap.String("cart_id", cartID), zap.Error(err))
	}
	return result, nil
}

// Methods returns the checkout methods every configured provider offers
// for a cart. A provider that fails to answer is skipped.
func (s *CheckoutService) Methods(ctx context.Context, cartID string) ([]payment.Method, error) {
	data, err := s.carts.GetData(ctx, cartID)
	if err != nil {
		return nil, err
	}
	result, err := s.pricer.Price(ctx, data)
	if err != nil {
		return nil, err
	}

	methods := []payment.Method{}
	for _, id := range s.providers.IDs() {
		provider, err := s.providers.Get(id)
		if err != nil {
			continue
		}
		m, err := provider.GetCheckoutMethods(ctx, payment.MethodsRequest{
			Service:       id,
			CartData:      data,
			PricingResult: result,
		})
		if err != nil {
			s.logger.Warn("Provider failed to list checkout methods",
				zap.String("service", id), zap.Error(err))
			continue
		}
		methods = append(methods, m...)
	}
	return methods, nil
}

// Create validates the cart against the live registrations, prices it, and
// opens a checkout with the given provider. Returns the checkout row and
// the provider's client-facing response data.
func (s *CheckoutService) Create(ctx context.Context, cartID, service, method string) (*models.Checkout, models.JSONMap, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Create")
	defer span.End()

	data, err := s.carts.GetData(ctx, cartID)
	if err != nil {
		return nil, nil, err
	}
	if len(data.Registrations) == 0 {
		return nil, nil, ErrEmptyCart
	}

	if err := s.validateCart(ctx, data); err != nil {
		return nil, nil, err
	}

	result, err := s.pricer.Price(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	if err := s.carts.SavePricingResult(ctx, cartID, result); err != nil {
		s.logger.Warn("Failed to cache pricing result", zap.String("cart_id", cartID), zap.Error(err))
	}

	provider, err := s.providers.Get(service)
	if err != nil {
		return nil, nil, err
	}

	// provider call happens before any row is locked
	pc, err := provider.CreateCheckout(ctx, payment.CreateRequest{
		Service:       service,
		Method:        method,
		CartData:      data,
		PricingResult: result,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("provider failed to create checkout: %w", err)
	}

	checkout := &models.Checkout{
		ID:           uuid.New(),
		State:        models.CheckoutStatePending,
		DateCreated:  s.now(),
		Service:      service,
		ExternalID:   pc.ID,
		ExternalData: pc.Data,
	}
	if checkout.ExternalData == nil {
		checkout.ExternalData = models.JSONMap{}
	}
	if err := checkout.SetCartData(data); err != nil {
		return nil, nil, err
	}
	if err := checkout.SetPricingResult(result); err != nil {
		return nil, nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	if err := tx.InsertCheckout(ctx, checkout); err != nil {
		return nil, nil, err
	}
	if err := s.dispatcher.Schedule(ctx, tx, hook.EventCheckoutCreated, checkout); err != nil {
		return nil, nil, err
	}
	// a provider can complete the checkout at creation, e.g. a free cart
	if pc.State == models.CheckoutStateComplete {
		if err := s.complete(ctx, tx, checkout); err != nil {
			return nil, nil, s.confirmedFailure(checkout.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		if pc.State == models.CheckoutStateComplete {
			return nil, nil, s.confirmedFailure(checkout.ID, err)
		}
		return nil, nil, err
	}

	util.CheckoutsCreatedTotal.Inc()
	s.logger.Info("Checkout created",
		zap.String("checkout_id", checkout.ID.String()),
		zap.String("cart_id", cartID),
		zap.String("service", service))
	return checkout, pc.ResponseData, nil
}

// Update passes client-submitted data to the checkout's provider, then
// mirrors the resulting state and external data locally. The cart is
// re-validated before the provider is called, so a stale cart is rejected
// before any payment is taken. Completion applies the cart's changes in
// the same transaction as the completion write.
func (s *CheckoutService) Update(ctx context.Context, id uuid.UUID, body map[string]interface{}) (*models.Checkout, models.JSONMap, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Update")
	defer span.End()

	checkout, err := s.readCheckout(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !checkout.IsOpen() {
		return nil, nil, payment.NewStateError("checkout %s is closed", id)
	}

	// reject a stale cart before the provider takes payment
	if !checkout.ChangesApplied {
		cart, err := checkout.CartDataModel()
		if err != nil {
			return nil, nil, err
		}
		if err := s.validateCart(ctx, cart); err != nil {
			return nil, nil, err
		}
	}

	provider, err := s.providers.Get(checkout.Service)
	if err != nil {
		return nil, nil, err
	}
	updater, ok := provider.(payment.Updater)
	if !ok {
		return nil, nil, payment.NewStateError("%s checkouts cannot be updated", checkout.Service)
	}

	// provider call with no lock held
	pc, err := updater.UpdateCheckout(ctx, payment.UpdateRequest{
		Service: checkout.Service,
		ID:      checkout.ExternalID,
		Data:    checkout.ExternalData,
		Body:    body,
	})
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	// re-lock and re-validate: the row may have closed in the meantime
	fresh, err := tx.GetCheckout(ctx, id, true)
	if err != nil {
		return nil, nil, err
	}
	if fresh == nil {
		return nil, nil, models.ErrNotFound
	}
	if !fresh.IsOpen() {
		return nil, nil, payment.NewStateError("checkout %s is closed", id)
	}

	// mirror the provider's external state
	if pc.ID != "" {
		fresh.ExternalID = pc.ID
	}
	if pc.Data != nil {
		fresh.ExternalData = pc.Data
	}

	switch pc.State {
	case models.CheckoutStateComplete:
		if err := s.complete(ctx, tx, fresh); err != nil {
			return nil, nil, s.confirmedFailure(id, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, nil, s.confirmedFailure(id, err)
		}
	case models.CheckoutStateCanceled:
		if _, err := fresh.Cancel(s.now()); err != nil {
			return nil, nil, err
		}
		if err := tx.UpdateCheckout(ctx, fresh); err != nil {
			return nil, nil, err
		}
		if err := s.dispatcher.Schedule(ctx, tx, hook.EventCheckoutCanceled, fresh); err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, nil, err
		}
		util.CheckoutsCanceledTotal.Inc()
		s.logger.Info("Checkout canceled by provider", zap.String("checkout_id", id.String()))
	default:
		if err := tx.UpdateCheckout(ctx, fresh); err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, nil, err
		}
	}
	return fresh, pc.ResponseData, nil
}

// confirmedFailure marks an error hit after the provider already confirmed
// completion: the payment went through but the local writes did not. These
// need manual reconciliation.
func (s *CheckoutService) confirmedFailure(id uuid.UUID, err error) error {
	util.CheckoutReconcileFailures.Inc()
	s.logger.Error("Checkout failed after provider confirmation, manual reconciliation required",
		zap.String("checkout_id", id.String()),
		zap.Error(err))
	return err
}

// Cancel cancels a checkout. The provider is asked first, with no lock
// held; a provider refusal surfaces as a payment.CancelError. Canceling an
// already-canceled checkout is a no-op.
func (s *CheckoutService) Cancel(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Cancel")
	defer span.End()

	checkout, err := s.readCheckout(ctx, id)
	if err != nil {
		return nil, err
	}
	switch checkout.State {
	case models.CheckoutStateCanceled:
		return checkout, nil
	case models.CheckoutStateComplete:
		return nil, payment.NewStateError("checkout %s is complete", id)
	}

	provider, err := s.providers.Get(checkout.Service)
	if err != nil {
		return nil, err
	}

	// provider call with no lock held
	pc, err := provider.CancelCheckout(ctx, checkout.ExternalID, checkout.ExternalData)
	if err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	fresh, err := tx.GetCheckout(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, models.ErrNotFound
	}
	changed, err := fresh.Cancel(s.now())
	if err != nil {
		return nil, payment.NewStateError("checkout %s is complete", id)
	}
	if !changed {
		return fresh, nil
	}

	if pc != nil && pc.Data != nil {
		fresh.ExternalData = pc.Data
	}
	if err := tx.UpdateCheckout(ctx, fresh); err != nil {
		return nil, err
	}
	if err := s.dispatcher.Schedule(ctx, tx, hook.EventCheckoutCanceled, fresh); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	util.CheckoutsCanceledTotal.Inc()
	s.logger.Info("Checkout canceled", zap.String("checkout_id", id.String()))
	return fresh, nil
}

// complete transitions a checkout to complete and, exactly once, applies
// its cart's changes. Runs inside the caller's transaction so the
// completion write and the registration writes commit together.
func (s *CheckoutService) complete(ctx context.Context, tx Tx, checkout *models.Checkout) error {
	changed, err := checkout.Complete(s.now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if !checkout.ChangesApplied {
		cart, err := checkout.CartDataModel()
		if err != nil {
			return err
		}
		if _, err := s.registrations.ApplyChanges(ctx, tx, cart); err != nil {
			var invalid *models.InvalidChangeError
			if errors.As(err, &invalid) {
				s.logger.Error("Checkout changes no longer apply",
					zap.String("checkout_id", checkout.ID.String()),
					zap.String("registration_id", invalid.RegistrationID.String()))
			}
			return err
		}
		checkout.ChangesApplied = true
	}

	if err := tx.UpdateCheckout(ctx, checkout); err != nil {
		return err
	}
	if err := s.dispatcher.Schedule(ctx, tx, hook.EventCheckoutCompleted, checkout); err != nil {
		return err
	}

	util.CheckoutsCompletedTotal.Inc()
	s.logger.Info("Checkout completed", zap.String("checkout_id", checkout.ID.String()))
	return nil
}

// readCheckout fetches a checkout with no lock, in its own short
// transaction.
func (s *CheckoutService) readCheckout(ctx context.Context, id uuid.UUID) (*models.Checkout, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	checkout, err := tx.GetCheckout(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if checkout == nil {
		return nil, models.ErrNotFound
	}
	return checkout, nil
}

// validateCart checks the cart against the live registrations in a short
// read transaction.
func (s *CheckoutService) validateCart(ctx context.Context, data models.CartData) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	conflicts, err := s.registrations.ValidateChanges(ctx, tx, data, false)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		util.CartConflictsTotal.Inc()
		return &CartConflictError{RegistrationIDs: conflicts}
	}
	return nil
}
