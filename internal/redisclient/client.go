package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const cartTTL = 24 * time.Hour

// Client caches content-addressed cart blobs in Redis. The database is the
// source of truth; every operation here is best-effort.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func cartKey(id string) string {
	return "cart:" + id
}

// GetCart returns the cached cart data for a hash, or nil on a miss.
func (c *Client) GetCart(ctx context.Context, id string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, cartKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart from redis: %w", err)
	}
	return data, nil
}

// SetCart caches cart data under its hash. Carts are immutable, so a fixed
// TTL is enough; expired entries fall back to the database.
func (c *Client) SetCart(ctx context.Context, id string, data []byte) error {
	if err := c.rdb.Set(ctx, cartKey(id), data, cartTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache cart in redis: %w", err)
	}
	return nil
}
