package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime"
)

// Bus is a push transport: room subscriptions plus publishing, used by the
// CLI to echo and by tests.
type Bus interface {
	realtime.Source
	Publish(ctx context.Context, ev realtime.Event) error
	Close() error
}

type Options struct {
	Transport     string
	ChannelPrefix string
	RedisAddr     string
	NATSURL       string
	NATSStream    string
	WebSocketURL  string
	AuthToken     string
}

// New picks a transport by name: redis, nats, websocket or memory.
func New(ctx context.Context, log *logger.Logger, opts Options) (Bus, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Transport)) {
	case "", "redis":
		return NewRedisBus(ctx, log, opts)
	case "nats", "jetstream":
		return NewNATSBus(ctx, log, opts)
	case "websocket", "ws":
		return NewWebSocketBus(log, opts)
	case "memory", "local":
		return realtime.NewHub(log), nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", opts.Transport)
	}
}

// pump decodes raw frames into sub until the frames channel closes or the
// subscription is closed.
func pump(log *logger.Logger, sub *realtime.Subscription, frames <-chan []byte) {
	for {
		select {
		case <-sub.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				sub.Close()
				return
			}
			ev, err := realtime.DecodeEvent(raw, sub.RoomID)
			if err != nil {
				log.Warn("bad push payload", "room_id", sub.RoomID, "error", err)
				continue
			}
			if !sub.Send(ev) {
				return
			}
		}
	}
}
