package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisherConfig describes the Redis list receiving events.
type RedisPublisherConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	// MaxLen trims the list to the newest MaxLen events. Zero keeps all.
	MaxLen int64
}

// RedisPublisher pushes JSON events onto the head of a Redis list.
type RedisPublisher struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(ctx context.Context, cfg RedisPublisherConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client *redis.Client, cfg RedisPublisherConfig) *RedisPublisher {
	key := cfg.Key
	if key == "" {
		key = "tokenflow:events"
	}
	return &RedisPublisher{client: client, key: key, maxLen: cfg.MaxLen}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.key, payload)
		if p.maxLen > 0 {
			pipe.LTrim(ctx, p.key, 0, p.maxLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push event to redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
