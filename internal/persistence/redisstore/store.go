// Package redisstore keeps the ledger snapshot in Redis so a restarted
// process resumes with the same open shorts.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/shortrun/internal/ledger"
)

// KeyPrefix namespaces ledger snapshots
const KeyPrefix = "shortrun:ledger:"

// Config holds Redis connection settings for the state store
type Config struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	Name     string        `yaml:"name"`
	TTL      time.Duration `yaml:"ttl"`
	Enabled  bool          `yaml:"enabled"`
}

// DefaultConfig returns a disabled store for the "default" ledger
func DefaultConfig() Config {
	return Config{
		Addr: "localhost:6379",
		Name: "default",
	}
}

// ApplyEnvOverrides applies REDIS_ADDR and REDIS_PASSWORD. Setting
// REDIS_ADDR enables the store.
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Addr = addr
		c.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Password = pw
	}
}

// Store saves and loads one named ledger snapshot
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection
func New(cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Str("name", cfg.Name).Msg("Ledger state store connected")
	return NewWithClient(rdb, cfg.Name, cfg.TTL), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, name string, ttl time.Duration) *Store {
	if name == "" {
		name = "default"
	}
	return &Store{client: client, key: KeyPrefix + name, ttl: ttl}
}

// Key returns the Redis key holding the snapshot
func (s *Store) Key() string {
	return s.key
}

// Save replaces the stored snapshot
func (s *Store) Save(ctx context.Context, positions map[string]ledger.Position) error {
	if positions == nil {
		positions = map[string]ledger.Position{}
	}
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, string(data), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. found is false when nothing was saved yet.
func (s *Store) Load(ctx context.Context) (positions map[string]ledger.Position, found bool, err error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal([]byte(val), &positions); err != nil {
		return nil, false, fmt.Errorf("failed to decode ledger snapshot at %s: %w", s.key, err)
	}
	return positions, true, nil
}

// Clear removes the stored snapshot
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client
func (s *Store) Close() error {
	return s.client.Close()
}

// RestoreInto loads the snapshot into l. Invalid entries are dropped by the ledger.
func RestoreInto(ctx context.Context, s *Store, l *ledger.Ledger) (restored int, err error) {
	positions, found, err := s.Load(ctx)
	if err != nil || !found {
		return 0, err
	}
	dropped := l.Restore(positions)
	restored = len(positions) - dropped
	log.Info().Int("restored", restored).Int("dropped", dropped).Str("key", s.key).Msg("Ledger restored from state store")
	return restored, nil
}
