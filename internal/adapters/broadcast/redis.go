package broadcast

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

// RedisBus publishes events on Redis pub/sub, one channel per session.
type RedisBus struct {
	client *redis.Client
	cfg    settings
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, options *redis.Options, opts ...Option) (*RedisBus, error) {
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "failed to reach redis at %s", options.Addr)
	}
	return NewRedisBusWithClient(client, opts...), nil
}

// NewRedisBusWithClient wraps an existing client.
func NewRedisBusWithClient(client *redis.Client, opts ...Option) *RedisBus {
	return &RedisBus{client: client, cfg: newSettings("bus.redis", opts)}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, ev *model.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel(ev.SessionID), payload).Err(); err != nil {
		return eris.Wrapf(err, "failed to publish %s", ev.Type)
	}
	return nil
}

// Subscribe implements Bus. It returns once the subscription is confirmed.
func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (<-chan *model.Event, error) {
	ps := b.client.Subscribe(ctx, Channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, eris.Wrap(err, "failed to subscribe")
	}

	out := make(chan *model.Event, b.cfg.buffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := Decode([]byte(msg.Payload))
				if err != nil {
					b.cfg.log.Warn(ctx, "dropping undecodable event",
						logger.String("channel", msg.Channel),
						logger.Error(err),
					)
					continue
				}
				select {
				case out <- ev:
				default:
					metrics.RecordBroadcastDropped()
					b.cfg.log.Warn(ctx, "subscriber buffer full, event dropped",
						logger.String("event", ev.ID),
					)
				}
			}
		}
	}()
	return out, nil
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	return eris.Wrap(b.client.Close(), "failed to close redis client")
}
