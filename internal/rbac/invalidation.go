package rbac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel carries binding version bumps between processes.
const DefaultInvalidationChannel = "rbac.bindings.bump"

const publishTimeout = 2 * time.Second

// Broadcaster invalidates the local resolver and publishes the bump so that
// resolvers in other processes invalidate too.
type Broadcaster struct {
	client  *redis.Client
	channel string
	local   Invalidator
	origin  string
	logger  *slog.Logger
}

// NewBroadcaster wires a redis channel to the local invalidator.
func NewBroadcaster(client *redis.Client, channel string, local Invalidator, logger *slog.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, channel: channel, local: local, origin: uuid.NewString(), logger: logger}
}

// Invalidate bumps the local version synchronously, then publishes best effort.
func (b *Broadcaster) Invalidate() {
	b.local.Invalidate()
	if b.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, b.origin).Err(); err != nil {
		b.logger.Warn("rbac publish invalidation", slog.String("channel", b.channel), slog.Any("error", err))
	}
}

// Listen subscribes to bumps from other processes until ctx is done.
// It returns once the subscription is confirmed.
func (b *Broadcaster) Listen(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == b.origin {
					continue
				}
				b.local.Invalidate()
				b.logger.Debug("rbac remote invalidation", slog.String("origin", msg.Payload))
			}
		}
	}()
	return nil
}
