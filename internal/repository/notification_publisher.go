package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/coachdesk-api/internal/models"
)

// NotificationPublisher fans notifications out over Redis pub/sub for the
// delivery workers that subscribe to the channel.
type NotificationPublisher struct {
	client  *redis.Client
	channel string
}

// NewNotificationPublisher constructs a publisher.
func NewNotificationPublisher(client *redis.Client, channel string) *NotificationPublisher {
	return &NotificationPublisher{client: client, channel: channel}
}

// Name identifies the sink in logs.
func (p *NotificationPublisher) Name() string {
	return "redis"
}

// Deliver publishes n as JSON.
func (p *NotificationPublisher) Deliver(ctx context.Context, n models.Notification) error {
	if p.client == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification to %s: %w", p.channel, err)
	}
	return nil
}
