package bus

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

// RedisBus is the cross-instance Bus on Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisBus(addr, password string, db int, baseLog *logger.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisBus{
		client: client,
		log:    baseLog.With("component", "RedisBus"),
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		src := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					b.log.Warn("Bus subscriber lagging, dropping message", "channel", channel)
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = sub.Close()
	}
	return out, cancel, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
