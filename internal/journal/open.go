package journal

import (
	"context"
	"fmt"
	"strings"

	"tokenflow/internal/config"
)

// Driver names accepted in the journal and events configuration.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// OpenStore builds the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.JournalConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverMySQL:
		return NewMySQLStore(ctx, MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		})
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", cfg.Driver)
	}
}

// Shared reports whether the store selected by cfg can be read by a process
// other than the one that wrote it.
func Shared(cfg config.JournalConfig) bool {
	return strings.ToLower(strings.TrimSpace(cfg.Driver)) == DriverMySQL
}

// OpenPublisher builds the publisher selected by cfg.Driver.
func OpenPublisher(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return NopPublisher{}, nil
	case DriverMemory:
		return NewMemoryPublisher(), nil
	case DriverRedis:
		return NewRedisPublisher(ctx, RedisPublisherConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			MaxLen:   cfg.Redis.MaxLen,
		})
	case DriverRabbitMQ:
		return NewRabbitMQPublisher(RabbitMQPublisherConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Driver)
	}
}
