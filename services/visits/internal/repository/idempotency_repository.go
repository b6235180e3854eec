package repository

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// ErrRequestInFlight means another request with the same key has not finished yet.
var ErrRequestInFlight = errors.New("request with this idempotency key is still in progress")

type IdempotencyRepository interface {
	// Begin claims key. It returns the booking id recorded by an earlier request with the
	// same key, or "" when the caller now owns the key.
	Begin(ctx context.Context, key string) (existingBookingID string, err error)
	Complete(ctx context.Context, key, bookingID string) error
	Release(ctx context.Context, key string) error
}

type idempotencyRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyRepository(rdb *redis.Client, ttl time.Duration) IdempotencyRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &idempotencyRepository{rdb: rdb, ttl: ttl}
}

// hashKey keeps client supplied keys out of the keyspace verbatim.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("idempotency:booking:%x", sum)
}

func (r *idempotencyRepository) Begin(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k := hashKey(key)
	ok, err := r.rdb.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	existing, err := r.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls; let the caller retry the claim
		return "", ErrRequestInFlight
	}
	if err != nil {
		return "", err
	}
	if existing == pendingMarker {
		return "", ErrRequestInFlight
	}
	return existing, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, key, bookingID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.rdb.Set(ctx, hashKey(key), bookingID, r.ttl).Err()
}

func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.rdb.Del(ctx, hashKey(key)).Err()
}

// NewRedisClient parses a redis:// URL and applies the configured password and database.
func NewRedisClient(ctx context.Context, url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DB = db
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
