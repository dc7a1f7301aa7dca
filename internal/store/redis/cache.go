// Package redis is the hot tier: latest bars and signals with short TTLs,
// capped streams for recent history, and pub/sub fan-out for dashboards.
// SQLite stays the durable record; everything here is rebuildable.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"anomaly-trader/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Daily bars: two years of history per symbol is plenty for the hot tier.
	barStreamMaxLen    = 520
	signalStreamMaxLen = 1000
	defaultLatestTTL   = 48 * time.Hour
)

// Config configures the Redis cache connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Cache writes bars and anomaly signals to Redis and serves the read side
// (latest bar, recent signals, live subscriptions).
type Cache struct {
	client *goredis.Client
}

// New connects to Redis and pings the server.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Cache{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// PublishBar performs the pipelined hot-tier write for one bar:
// SET latest with TTL, XADD to the capped per-symbol stream, PUBLISH
// for live subscribers.
func (c *Cache) PublishBar(ctx context.Context, bar model.Bar) error {
	data := string(bar.JSON())

	pipe := c.client.Pipeline()
	pipe.Set(ctx, "bar:latest:"+bar.Symbol, data, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "bar:stream:" + bar.Symbol,
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, "pub:bar:"+bar.Symbol, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis bar pipeline for %s: %w", bar.Symbol, err)
	}
	return nil
}

// PublishSignal writes an anomaly signal to the hot tier. Actionless
// signals are published too; subscribers filter on direction.
func (c *Cache) PublishSignal(ctx context.Context, sig model.AnomalySignal) error {
	data := string(sig.JSON())

	pipe := c.client.Pipeline()
	pipe.Set(ctx, "signal:latest:"+sig.Symbol, data, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "signal:stream:" + sig.Symbol,
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, "pub:signal:"+sig.Symbol, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis signal pipeline for %s: %w", sig.Symbol, err)
	}
	return nil
}

// LatestBar returns the cached most-recent bar for symbol, or nil if the
// key is missing or expired.
func (c *Cache) LatestBar(ctx context.Context, symbol string) (*model.Bar, error) {
	data, err := c.client.Get(ctx, "bar:latest:"+symbol).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get latest bar %s: %w", symbol, err)
	}
	var bar model.Bar
	if err := json.Unmarshal([]byte(data), &bar); err != nil {
		return nil, fmt.Errorf("unmarshal cached bar %s: %w", symbol, err)
	}
	return &bar, nil
}

// RecentSignals returns up to count signals for symbol, newest first.
func (c *Cache) RecentSignals(ctx context.Context, symbol string, count int64) ([]model.AnomalySignal, error) {
	msgs, err := c.client.XRevRangeN(ctx, "signal:stream:"+symbol, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange signals %s: %w", symbol, err)
	}
	signals := make([]model.AnomalySignal, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var sig model.AnomalySignal
		if json.Unmarshal([]byte(data), &sig) == nil {
			signals = append(signals, sig)
		}
	}
	return signals, nil
}

// SubscribeBars subscribes to the live bar feed for all symbols. The caller
// reads from the returned handle's Channel() and closes it when done.
func (c *Cache) SubscribeBars(ctx context.Context) *goredis.PubSub {
	return c.client.PSubscribe(ctx, "pub:bar:*")
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
