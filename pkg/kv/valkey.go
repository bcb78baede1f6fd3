package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValkeyStore implements Store using Valkey/Redis as the backend.
type ValkeyStore struct {
	client *redis.Client
}

// ValkeyConfig holds configuration for connecting to Valkey.
type ValkeyConfig struct {
	Addr     string // host:port
	Password string // optional
	DB       int    // database number
}

// NewClient opens a Valkey client and verifies the connection. The task
// broker and the log bus share this client with the kv store.
func NewClient(cfg ValkeyConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewValkeyStoreFromClient wraps an existing client. Close leaves the client
// open.
func NewValkeyStoreFromClient(client *redis.Client) *ValkeyStore {
	return &ValkeyStore{client: client}
}

// Set stores a value with the given key and TTL.
func (s *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a value by key.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Delete removes a key.
func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// SetNX sets a value only if the key doesn't exist.
func (s *ValkeyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Close is a no-op; the shared client is closed by its owner.
func (s *ValkeyStore) Close() error {
	return nil
}

var _ Store = (*ValkeyStore)(nil)
