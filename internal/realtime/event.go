package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Event is a server-initiated change to one message of one room.
type Event struct {
	Kind    EventKind
	RoomID  string
	Message chat.Message
}

// Source opens room-scoped push subscriptions.
type Source interface {
	Subscribe(ctx context.Context, roomID string) (*Subscription, error)
}

// Envelope is the frame every transport carries.
type Envelope struct {
	Channel string           `json:"channel"`
	Event   EventKind        `json:"event"`
	Data    chat.WireMessage `json:"data"`
}

// RoomChannel names the push channel of a room.
func RoomChannel(prefix, roomID string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "room." + roomID
	}
	return prefix + ".room." + roomID
}

func EncodeEvent(channel string, ev Event) ([]byte, error) {
	return json.Marshal(Envelope{Channel: channel, Event: ev.Kind, Data: chat.ToWire(ev.Message)})
}

// DecodeEvent parses a frame. Messages for another room and unknown kinds are errors.
func DecodeEvent(raw []byte, roomID string) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Event {
	case EventCreated, EventUpdated:
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", env.Event)
	}
	msg, err := env.Data.Decode()
	if err != nil {
		return Event{}, err
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	if roomID != "" && msg.RoomID != roomID {
		return Event{}, fmt.Errorf("event for room %s on room %s subscription", msg.RoomID, roomID)
	}
	return Event{Kind: env.Event, RoomID: msg.RoomID, Message: msg}, nil
}
