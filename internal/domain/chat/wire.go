package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WireMessage is the snake_case form served by the backend and the push channel.
type WireMessage struct {
	ID           string  `json:"id"`
	RoomID       string  `json:"room_id"`
	Body         string  `json:"body"`
	CreatedAt    string  `json:"created_at"`
	EntityType   string  `json:"entity_type"`
	IsDeleted    bool    `json:"is_deleted"`
	IsRead       bool    `json:"is_read"`
	Payload      *string `json:"payload"`
	UserID       string  `json:"user_id,omitempty"`
	UserUsername string  `json:"user_username,omitempty"`
	MessageBy    string  `json:"message_by,omitempty"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts the timestamp shapes the backend has been seen to emit.
// Values without a zone are UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// Decode converts the wire form into a confirmed Message with content decoded.
func (w WireMessage) Decode() (Message, error) {
	id := strings.TrimSpace(w.ID)
	if id == "" {
		return Message{}, fmt.Errorf("wire message: missing id")
	}
	createdAt, err := ParseTimestamp(w.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("wire message %s: %w", id, err)
	}
	sender := strings.TrimSpace(w.MessageBy)
	if sender == "" {
		sender = strings.TrimSpace(w.UserID)
	}
	et := ParseEntityType(w.EntityType)
	var payload json.RawMessage
	if w.Payload != nil {
		p := strings.TrimSpace(*w.Payload)
		if p != "" && json.Valid([]byte(p)) {
			payload = json.RawMessage(p)
		}
	}
	m := Message{
		ID:             id,
		RoomID:         strings.TrimSpace(w.RoomID),
		SenderID:       sender,
		SenderUsername: w.UserUsername,
		CreatedAt:      createdAt,
		EntityType:     et,
		Body:           w.Body,
		Payload:        payload,
		IsRead:         w.IsRead,
		IsDeleted:      w.IsDeleted,
		Delivery:       DeliveryConfirmed,
	}
	m.Content = DecodeContent(et, w.Body, payload)
	return m, nil
}

// ToWire renders a confirmed message back to its wire form.
func ToWire(m Message) WireMessage {
	w := WireMessage{
		ID:           m.ID,
		RoomID:       m.RoomID,
		Body:         m.Body,
		CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		EntityType:   string(m.EntityType),
		IsDeleted:    m.IsDeleted,
		IsRead:       m.IsRead,
		UserID:       m.SenderID,
		UserUsername: m.SenderUsername,
		MessageBy:    m.SenderID,
	}
	if len(m.Payload) > 0 {
		s := string(m.Payload)
		w.Payload = &s
	}
	return w
}

// WireRoom is the room record returned by room endpoints.
type WireRoom struct {
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	ReceiverID string `json:"receiver_id"`
	BlockedBy  string `json:"blocked_by"`
	StatusID   string `json:"status_id"`
	DeletedAt  string `json:"deleted_at"`
}

func (w WireRoom) Decode() (Room, error) {
	r := Room{
		ID:             strings.TrimSpace(w.RoomID),
		ParticipantIDs: [2]string{strings.TrimSpace(w.UserID), strings.TrimSpace(w.ReceiverID)},
		BlockedBy:      strings.TrimSpace(w.BlockedBy),
		Status:         RoomStatus(strings.ToLower(strings.TrimSpace(w.StatusID))),
	}
	if r.Status == "" {
		r.Status = RoomActive
		if r.BlockedBy != "" {
			r.Status = RoomBlocked
		}
	}
	if strings.TrimSpace(w.DeletedAt) != "" {
		t, err := ParseTimestamp(w.DeletedAt)
		if err != nil {
			return Room{}, fmt.Errorf("room %s deleted_at: %w", r.ID, err)
		}
		r.DeletedAt = &t
	}
	if err := r.Validate(); err != nil {
		return Room{}, err
	}
	return r, nil
}
