// Package redis provides a Redis implementation of the StateRepository port.
//
// The state document lives under a single key, prefix:state. A copy of the
// previous document is kept under prefix:state:prev.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.StateRepository = (*StateStore)(nil)

// Config holds Redis connection settings.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all keys
	KeyPrefix string
}

// ConfigDefaults returns defaults for a local Redis.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		DB:        0,
		KeyPrefix: "p2pwatch",
	}
}

// StateStore keeps the watcher state in Redis.
type StateStore struct {
	client    *redis.Client
	keyPrefix string
	defaults  entity.State
	logger    *slog.Logger
}

// NewStateStore creates a Redis-backed state store.
func NewStateStore(cfg Config, defaults entity.State, logger *slog.Logger) (*StateStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = ConfigDefaults().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &StateStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		defaults:  defaults,
		logger:    logger.With("component", "redis-state-store"),
	}, nil
}

// Ping checks the Redis connection.
func (s *StateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *StateStore) Close() error {
	return s.client.Close()
}

func (s *StateStore) key() string {
	return s.keyPrefix + ":state"
}

func (s *StateStore) prevKey() string {
	return s.keyPrefix + ":state:prev"
}

// Load reads the current state document.
func (s *StateStore) Load(ctx context.Context) (*entity.State, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, entity.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return entity.DecodeState(data, s.defaults)
}

// Save writes the new document and rotates the old one in a single
// MULTI/EXEC transaction.
func (s *StateStore) Save(ctx context.Context, st *entity.State) error {
	if st == nil {
		return fmt.Errorf("state cannot be nil")
	}
	data, err := entity.EncodeState(*st)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Copy(ctx, s.key(), s.prevKey(), 0, true)
		pipe.Set(ctx, s.key(), data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.logger.Debug("state saved", "bytes", len(data))
	return nil
}
