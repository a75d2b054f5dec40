package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisChannel carries consultation events between instances.
const DefaultRedisChannel = "telehealth:events"

// redisClient is the subset of *redis.Client the relay uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay is an EventPublisher that delivers events to the local hub and
// forwards them over a redis channel so clients connected to other instances
// receive them too. Run must be started for remote events to arrive.
type RedisRelay struct {
	client  redisClient
	hub     *Hub
	channel string
	origin  string
	logger  zerolog.Logger
}

func NewRedisRelay(client redisClient, hub *Hub, channel string, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{
		client:  client,
		hub:     hub,
		channel: channel,
		origin:  uuid.New().String(),
		logger:  logger,
	}
}

// Publish broadcasts locally, then forwards the event to the other
// instances. A forwarding failure is returned after local delivery.
func (r *RedisRelay) Publish(ctx context.Context, event Event) error {
	r.hub.Broadcast(event.Topic, event)

	payload, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the relay channel and rebroadcasts remote events into
// the local hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

// deliver rebroadcasts a payload received from the channel. Events that
// this instance published were already delivered by Publish.
func (r *RedisRelay) deliver(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn().Err(err).Msg("discarding malformed relay payload")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.hub.Broadcast(env.Event.Topic, env.Event)
}
