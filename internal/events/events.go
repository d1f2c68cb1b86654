package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is the envelope published to the bus. Payload keys are free-form;
// consumers switch on Type.
type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

const (
	TypeUserLoggedIn   = "user.logged_in"
	TypeUserCreated    = "user.created"
	TypeInviteCreated  = "invite.created"
	TypeInviteAccepted = "invite.accepted"
	TypeInviteRevoked  = "invite.revoked"
	TypeMFAChanged     = "mfa.method_changed"
)

// Publisher fans auth lifecycle events out to interested services. Publishing
// is always best-effort; callers never fail a request on a publish error.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher publishes events as JSON on a single Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("event_publish_failed", "type", event.Type, "error", err)
		return err
	}
	return nil
}

// NopPublisher drops everything. Used when Redis is not configured and in
// tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
