package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime"
)

type natsBus struct {
	log    *logger.Logger
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	prefix string
}

// NewNATSBus connects to NATS and makes sure the chat stream exists. Every
// room subscription is an ephemeral consumer that starts at new messages.
func NewNATSBus(ctx context.Context, log *logger.Logger, opts Options) (Bus, error) {
	url := strings.TrimSpace(opts.NATSURL)
	if url == "" {
		url = nats.DefaultURL
	}
	stream := strings.TrimSpace(opts.NATSStream)
	if stream == "" {
		stream = "CHAT_EVENTS"
	}
	prefix := strings.TrimSpace(opts.ChannelPrefix)
	if prefix == "" {
		prefix = "chat"
	}
	nc, err := nats.Connect(url, nats.Name("neurobridge-chat"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if _, err := js.Stream(ctx, stream); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("lookup stream %s: %w", stream, err)
		}
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     stream,
			Subjects: []string{prefix + ".room.>"},
			Storage:  jetstream.MemoryStorage,
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %s: %w", stream, err)
		}
	}
	return &natsBus{
		log:    log.With("service", "NATSPushBus"),
		nc:     nc,
		js:     js,
		stream: stream,
		prefix: prefix,
	}, nil
}

func (b *natsBus) Publish(ctx context.Context, ev realtime.Event) error {
	subject := realtime.RoomChannel(b.prefix, ev.RoomID)
	raw, err := realtime.EncodeEvent(subject, ev)
	if err != nil {
		return err
	}
	if _, err := b.js.Publish(ctx, subject, raw); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", subject, err)
	}
	return nil
}

func (b *natsBus) Subscribe(ctx context.Context, roomID string) (*realtime.Subscription, error) {
	subject := realtime.RoomChannel(b.prefix, roomID)
	cons, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", subject, err)
	}

	frames := make(chan []byte, 16)
	var cc jetstream.ConsumeContext
	sub := realtime.NewSubscription(roomID, 0, func() {
		if cc != nil {
			cc.Stop()
		}
	})
	cc, err = cons.Consume(func(msg jetstream.Msg) {
		select {
		case frames <- msg.Data():
		case <-sub.Done():
		}
	})
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("consume %s: %w", subject, err)
	}
	go pump(b.log, sub, frames)
	b.log.Debug("jetstream room subscription started", "room_id", roomID, "subject", subject)
	return sub, nil
}

func (b *natsBus) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
