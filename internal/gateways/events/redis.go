package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gohye/auction-core/internal/domain/auction"
)

const (
	DefaultChannelPrefix = "auction_events"
	DefaultDedupeTTL     = 24 * time.Hour
)

// RedisClient is the subset of redis.UniversalClient the sink needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSink publishes events on <prefix>:<tenant>. A SETNX marker per dedupe
// key suppresses duplicates for the marker's TTL.
type RedisSink struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

func NewRedisSink(client RedisClient, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// ConnectRedis opens a client and checks the connection.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Channel(e auction.Event) string {
	return fmt.Sprintf("%s:%d", s.prefix, e.TenantID)
}

func (s *RedisSink) Publish(ctx context.Context, e auction.Event) error {
	data, err := encode(e)
	if err != nil {
		return err
	}

	marker := fmt.Sprintf("%s:seen:%s", s.prefix, e.DedupeKey())
	fresh, err := s.client.SetNX(ctx, marker, 1, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to mark %s: %w", marker, err)
	}
	if !fresh {
		return nil
	}

	if err := s.client.Publish(ctx, s.Channel(e), data).Err(); err != nil {
		// Clear the marker so a redelivery is not swallowed.
		_ = s.client.Del(context.WithoutCancel(ctx), marker).Err()
		return fmt.Errorf("failed to publish to %s: %w", s.Channel(e), err)
	}
	return nil
}
