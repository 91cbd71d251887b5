// Package bus publishes backtest events over Redis pub/sub.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/algomatic/dslbacktest/pkg/config"
)

// Publisher wraps a Redis client for publishing events.
type Publisher struct {
	client        *redis.Client
	channelPrefix string
	logger        *slog.Logger
}

// NewPublisher creates a publisher from the redis config section.
func NewPublisher(cfg config.RedisConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Publisher{
		client:        client,
		channelPrefix: cfg.ChannelPrefix,
		logger:        logger,
	}
}

// HealthCheck verifies Redis connectivity.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Publish sends an event to the channel for its type.
func (p *Publisher) Publish(ctx context.Context, event *Event) error {
	channel := ChannelFor(p.channelPrefix, event.EventType)
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}

	p.logger.Debug("Published event",
		"event_type", event.EventType,
		"channel", channel,
		"run_id", event.RunID,
	)
	return nil
}

// ChannelFor maps an event type to a Redis channel name.
func ChannelFor(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + ":" + eventType
}
