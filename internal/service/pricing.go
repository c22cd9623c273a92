package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"registration-service/config"
	"registration-service/internal/hook"
	"registration-service/internal/models"
	"registration-service/internal/util"

	"go.uber.org/zap"
)

// Pricer computes the official price of a cart: a default pricing from the
// event's option price table, then an ordered chain of cart.price hooks,
// each receiving the previous result and returning a replacement.
type Pricer struct {
	events  *config.EventConfig
	hooks   *hook.Config
	invoker *hook.Invoker
	logger  *zap.Logger
	now     func() time.Time
}

// NewPricer creates a new pricer.
func NewPricer(events *config.EventConfig, hooks *hook.Config, invoker *hook.Invoker) *Pricer {
	return &Pricer{
		events:  events,
		hooks:   hooks,
		invoker: invoker,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// priceBody is the payload a cart.price hook receives. The hook responds
// with a replacement PricingResult.
type priceBody struct {
	Cart   models.CartData      `json:"cart"`
	Result models.PricingResult `json:"result"`
}

// Price prices a cart. Pricing hooks run synchronously and in order, and a
// failing hook fails the pricing. A cart with no chargeable changes prices
// to an empty result without running the hook chain.
func (p *Pricer) Price(ctx context.Context, cart models.CartData) (models.PricingResult, error) {
	ctx, span := util.StartSpan(ctx, "Pricer.Price")
	defer span.End()

	event := p.events.Get(cart.EventID)
	if event == nil {
		return models.PricingResult{}, fmt.Errorf("no such event %q", cart.EventID)
	}

	result, err := p.defaultPricing(event, cart)
	if err != nil {
		return models.PricingResult{}, err
	}
	if len(result.LineItems) == 0 {
		return result, nil
	}

	for _, entry := range p.hooks.ByEvent(hook.EventCartPrice) {
		body, err := json.Marshal(priceBody{Cart: cart, Result: result})
		if err != nil {
			return models.PricingResult{}, err
		}
		out, err := p.invoker.Invoke(ctx, entry.Hook, body)
		if err != nil {
			return models.PricingResult{}, fmt.Errorf("pricing hook failed: %w", err)
		}

		var next models.PricingResult
		if err := json.Unmarshal(out, &next); err != nil {
			return models.PricingResult{}, fmt.Errorf("pricing hook returned invalid result: %w", err)
		}
		if err := next.Validate(); err != nil {
			return models.PricingResult{}, err
		}
		result = next
	}

	if err := result.Validate(); err != nil {
		return models.PricingResult{}, err
	}
	return result, nil
}

// defaultPricing prices each non-canceled change's options from the event's
// price table.
func (p *Pricer) defaultPricing(event *config.Event, cart models.CartData) (models.PricingResult, error) {
	result := models.PricingResult{Currency: event.Currency}

	for _, cr := range cart.Registrations {
		if cr.NewState() == models.RegistrationStateCanceled {
			continue
		}
		reg, err := cr.NewRegistration(p.now())
		if err != nil {
			return models.PricingResult{}, err
		}
		for _, optID := range reg.OptionIDs {
			opt, ok := event.Options[optID]
			if !ok {
				return models.PricingResult{}, fmt.Errorf("event %s has no option %q", event.ID, optID)
			}
			li := models.LineItem{
				TypeID:         optID,
				RegistrationID: cr.ID,
				Name:           opt.Name,
				Price:          opt.Price,
				TotalPrice:     opt.Price,
				Description:    reg.DisplayName(),
			}
			result.LineItems = append(result.LineItems, li)
			result.TotalPrice += li.TotalPrice
		}
	}
	return result, nil
}
