package service

import (
	"context"
	"encoding/json"
	"time"

	"registration-service/internal/models"
	"registration-service/internal/redisclient"
	"registration-service/internal/util"

	"go.uber.org/zap"
)

// CartService stores and retrieves content-addressed carts. Cart data is
// immutable once saved, so it is cached in Redis with the database as the
// source of truth; every cache operation is best-effort.
type CartService struct {
	store  CartStore
	cache  *redisclient.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewCartService creates a new cart service. cache may be nil.
func NewCartService(store CartStore, cache *redisclient.Client) *CartService {
	return &CartService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// EmptyCart returns the empty cart for an event.
func (s *CartService) EmptyCart(eventID string) models.CartData {
	return models.CartData{EventID: eventID}
}

// Save persists cart data under its content hash. Saving the same cart
// twice is a no-op.
func (s *CartService) Save(ctx context.Context, data models.CartData) (*models.Cart, error) {
	cart, err := models.NewCart(data, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	s.cacheData(ctx, cart.ID, data)
	return cart, nil
}

// Get retrieves the stored cart row by hash, or nil if not found.
func (s *CartService) Get(ctx context.Context, id string) (*models.Cart, error) {
	if len(id) != models.CartHashSize {
		return nil, nil
	}
	return s.store.GetCart(ctx, id)
}

// GetData retrieves the immutable cart data by hash, checking the cache
// first. Returns ErrNotFound if no such cart exists.
func (s *CartService) GetData(ctx context.Context, id string) (models.CartData, error) {
	if len(id) != models.CartHashSize {
		return models.CartData{}, models.ErrNotFound
	}

	if s.cache != nil {
		blob, err := s.cache.GetCart(ctx, id)
		if err != nil {
			s.logger.Warn("Cart cache read failed", zap.String("cart_id", id), zap.Error(err))
		} else if blob != nil {
			var data models.CartData
			if err := json.Unmarshal(blob, &data); err == nil {
				return data, nil
			}
			s.logger.Warn("Discarding corrupt cached cart", zap.String("cart_id", id))
		}
	}

	cart, err := s.store.GetCart(ctx, id)
	if err != nil {
		return models.CartData{}, err
	}
	if cart == nil {
		return models.CartData{}, models.ErrNotFound
	}
	data, err := cart.CartDataModel()
	if err != nil {
		return models.CartData{}, err
	}
	s.cacheData(ctx, id, data)
	return data, nil
}

// SavePricingResult caches a pricing result on the stored cart row.
func (s *CartService) SavePricingResult(ctx context.Context, id string, result models.PricingResult) error {
	var raw models.JSONMap
	blob, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, &raw); err != nil {
		return err
	}
	return s.store.SetCartPricingResult(ctx, id, raw)
}

func (s *CartService) cacheData(ctx context.Context, id string, data models.CartData) {
	if s.cache == nil {
		return
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := s.cache.SetCart(ctx, id, blob); err != nil {
		s.logger.Warn("Cart cache write failed", zap.String("cart_id", id), zap.Error(err))
	}
}
