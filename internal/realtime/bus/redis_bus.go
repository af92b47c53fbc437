package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime"
)

type redisBus struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
}

func NewRedisBus(ctx context.Context, log *logger.Logger, opts Options) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(opts.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBusFromClient(log, rdb, opts.ChannelPrefix), nil
}

// NewRedisBusFromClient wraps an existing client; the bus owns it afterwards.
func NewRedisBusFromClient(log *logger.Logger, rdb goredis.UniversalClient, prefix string) Bus {
	return &redisBus{
		log:    log.With("service", "RedisPushBus"),
		rdb:    rdb,
		prefix: prefix,
	}
}

func (b *redisBus) Publish(ctx context.Context, ev realtime.Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis push bus not initialized")
	}
	ch := realtime.RoomChannel(b.prefix, ev.RoomID)
	raw, err := realtime.EncodeEvent(ch, ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, ch, raw).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, roomID string) (*realtime.Subscription, error) {
	if b == nil || b.rdb == nil {
		return nil, fmt.Errorf("redis push bus not initialized")
	}
	ch := realtime.RoomChannel(b.prefix, roomID)
	ps := b.rdb.Subscribe(ctx, ch)

	// ensures subscription actually started
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", ch, err)
	}

	frames := make(chan []byte)
	sub := realtime.NewSubscription(roomID, 0, func() { _ = ps.Close() })
	go func() {
		defer close(frames)
		in := ps.Channel()
		for {
			select {
			case <-sub.Done():
				return
			case m, ok := <-in:
				if !ok || m == nil {
					return
				}
				select {
				case frames <- []byte(m.Payload):
				case <-sub.Done():
					return
				}
			}
		}
	}()
	go pump(b.log, sub, frames)
	b.log.Debug("redis room subscription started", "room_id", roomID, "channel", ch)
	return sub, nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
