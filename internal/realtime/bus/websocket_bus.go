package bus

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime"
)

// wsBus talks to a push gateway that serves one socket per room at
// <base>?room_id=<id>. Publishing writes the envelope back on that socket.
type wsBus struct {
	log    *logger.Logger
	base   string
	token  string
	dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*wsConn
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func NewWebSocketBus(log *logger.Logger, opts Options) (Bus, error) {
	base := strings.TrimSpace(opts.WebSocketURL)
	if base == "" {
		return nil, fmt.Errorf("missing PUSH_WS_URL")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("PUSH_WS_URL: %w", err)
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = 10 * time.Second
	return &wsBus{
		log:    log.With("service", "WebSocketPushBus"),
		base:   base,
		token:  opts.AuthToken,
		dialer: &d,
		conns:  make(map[string]*wsConn),
	}, nil
}

func (b *wsBus) roomURL(roomID string) (string, error) {
	u, err := url.Parse(b.base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("room_id", roomID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *wsBus) Subscribe(ctx context.Context, roomID string) (*realtime.Subscription, error) {
	target, err := b.roomURL(roomID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}
	conn, _, err := b.dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial room=%s: %w", roomID, err)
	}
	wc := &wsConn{conn: conn}
	b.mu.Lock()
	b.conns[roomID] = wc
	b.mu.Unlock()

	frames := make(chan []byte)
	sub := realtime.NewSubscription(roomID, 0, func() {
		b.mu.Lock()
		if b.conns[roomID] == wc {
			delete(b.conns, roomID)
		}
		b.mu.Unlock()
		wc.wmu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		wc.wmu.Unlock()
		_ = conn.Close()
	})
	go func() {
		defer close(frames)
		for {
			kind, raw, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-sub.Done():
				default:
					b.log.Warn("websocket read ended", "room_id", roomID, "error", err)
				}
				return
			}
			if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
				continue
			}
			select {
			case frames <- raw:
			case <-sub.Done():
				return
			}
		}
	}()
	go pump(b.log, sub, frames)
	b.log.Debug("websocket room subscription started", "room_id", roomID)
	return sub, nil
}

func (b *wsBus) Publish(ctx context.Context, ev realtime.Event) error {
	b.mu.Lock()
	wc := b.conns[ev.RoomID]
	b.mu.Unlock()
	if wc == nil {
		return fmt.Errorf("no websocket open for room %s", ev.RoomID)
	}
	raw, err := realtime.EncodeEvent(realtime.RoomChannel("", ev.RoomID), ev)
	if err != nil {
		return err
	}
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = wc.conn.SetWriteDeadline(dl)
	}
	return wc.conn.WriteMessage(websocket.TextMessage, raw)
}

func (b *wsBus) Close() error {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]*wsConn)
	b.mu.Unlock()
	for _, wc := range conns {
		_ = wc.conn.Close()
	}
	return nil
}
