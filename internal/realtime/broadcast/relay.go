package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/common/metrics"
)

const DefaultRelayChannel = "memotag:events"

type relayMessage struct {
	Origin  string          `json:"origin"`
	ItemID  string          `json:"item_id"`
	Payload json.RawMessage `json:"payload"`
}

// Relay mirrors broadcasts between instances over Redis pub/sub so that a
// subscriber sees events triggered on any instance.
type Relay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	ready   chan struct{}
	once    sync.Once
	logger  logger.Logger
}

func NewRelay(client redis.UniversalClient, channel string, log logger.Logger) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		ready:   make(chan struct{}),
		logger:  logger.Component(log, "relay"),
	}
}

func (r *Relay) Origin() string { return r.origin }

// Ready is closed once the first Run holds an active subscription.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

func (r *Relay) Publish(ctx context.Context, itemID string, payload []byte) error {
	data, err := json.Marshal(relayMessage{Origin: r.origin, ItemID: itemID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	metrics.RelayMessagesTotal.WithLabelValues("out", "ok").Inc()
	return nil
}

// Run subscribes to the relay channel and hands every message from another
// origin to deliver. It returns nil when ctx is cancelled and may be called
// again after it returns.
func (r *Relay) Run(ctx context.Context, deliver func(ctx context.Context, itemID string, payload []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.once.Do(func() { close(r.ready) })
	r.logger.Info("relay subscribed", map[string]interface{}{
		"channel": r.channel,
		"origin":  r.origin,
	})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload, deliver)
		}
	}
}

func (r *Relay) handle(ctx context.Context, raw string, deliver func(ctx context.Context, itemID string, payload []byte)) {
	var m relayMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("in", "malformed").Inc()
		r.logger.Warn("malformed relay message", map[string]interface{}{"error": err.Error()})
		return
	}
	if m.Origin == r.origin {
		return
	}
	metrics.RelayMessagesTotal.WithLabelValues("in", "ok").Inc()
	deliver(ctx, m.ItemID, m.Payload)
}
