package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
)

// Publisher hands workflow events to the delivery collaborator. The engine
// never knows about transports; fan-out (socket, push, email) happens on
// the consuming side of the channel.
type Publisher interface {
	Publish(ctx context.Context, event models.WorkflowEvent) error
}

// PublisherFunc allows using plain functions as publishers.
type PublisherFunc func(ctx context.Context, event models.WorkflowEvent) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event models.WorkflowEvent) error {
	return f(ctx, event)
}

// RedisPublisher pushes JSON-encoded events onto a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs a publisher for the given channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "sgp:workflow:events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, event models.WorkflowEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal workflow event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish workflow event: %w", err)
	}
	return nil
}
