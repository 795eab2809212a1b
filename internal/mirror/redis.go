// Package mirror copies the scanner's published documents into Redis for
// consumers that cannot mount the bus directory (remote dashboards, alert
// bots). The bus stays the source of truth; the mirror is advisory and
// expires on its own.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradepipe/internal/model"
)

// Redis keys the mirror owns.
const (
	SnapshotRedisKey = "market:snapshot"
	MovesRedisKey    = "market:moves"
)

// Config holds the mirror's connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Mirror writes published documents to Redis with a TTL so a dead scanner
// leaves no stale data behind.
type Mirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects the mirror and verifies the server is reachable.
func New(cfg Config) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Mirror{rdb: rdb, ttl: ttl}, nil
}

// MirrorSnapshot replaces the snapshot copy.
func (m *Mirror) MirrorSnapshot(ctx context.Context, snap model.MarketSnapshot) error {
	return m.set(ctx, SnapshotRedisKey, snap)
}

// MirrorMoves replaces the moves feed copy.
func (m *Mirror) MirrorMoves(ctx context.Context, feed model.MovesFeed) error {
	return m.set(ctx, MovesRedisKey, feed)
}

func (m *Mirror) set(ctx context.Context, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("mirror marshal %s: %w", key, err)
	}
	if err := m.rdb.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirror set %s: %w", key, err)
	}
	return nil
}

// Health pings the server.
func (m *Mirror) Health(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}
