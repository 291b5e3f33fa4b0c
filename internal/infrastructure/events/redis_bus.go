package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"admin-console/internal/ports"
)

const DefaultChannel = "admin-console:auth-events"

type envelope struct {
	Origin string          `json:"origin"`
	Event  ports.AuthEvent `json:"event"`
}

// RedisBus fans auth events out to every instance sharing a Redis channel.
// Events are delivered locally first, so local subscribers never depend on
// Redis being reachable.
type RedisBus struct {
	local   *LocalBus
	client  *redis.Client
	channel string
	origin  string
	logger  ports.Logger
}

func NewRedisBus(client *redis.Client, channel string, logger ports.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		local:   NewLocalBus(),
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (b *RedisBus) Publish(ctx context.Context, event ports.AuthEvent) error {
	_ = b.local.Publish(ctx, event)
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: event})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish auth event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(fn func(ports.AuthEvent)) (unsubscribe func()) {
	return b.local.Subscribe(fn)
}

// Run relays events published by other instances until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info(ctx, "relaying auth events", "channel", b.channel)
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			event, relay, err := b.decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn(ctx, "dropping malformed auth event", "error", err)
				continue
			}
			if relay {
				_ = b.local.Publish(ctx, event)
			}
		}
	}
}

// decode reports relay=false for events this instance published itself,
// which were already delivered locally.
func (b *RedisBus) decode(payload []byte) (ports.AuthEvent, bool, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ports.AuthEvent{}, false, err
	}
	if env.Event.Kind == "" {
		return ports.AuthEvent{}, false, errors.New("auth event without kind")
	}
	return env.Event, env.Origin != b.origin, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

var _ ports.AuthEventBus = (*RedisBus)(nil)
