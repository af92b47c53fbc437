package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

type listData struct {
	List      []chat.WireMessage `json:"list"`
	NextToken string             `json:"nextToken"`
}

// ListMessages returns one page, newest first, plus the token of the next
// older page. Records that fail to decode are skipped.
func (c *Client) ListMessages(ctx context.Context, roomID, nextToken string) ([]chat.Message, string, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, "", fmt.Errorf("list messages: room id required")
	}
	q := url.Values{}
	if nextToken != "" {
		q.Set("next_token", nextToken)
	}
	var data listData
	err := c.do(ctx, call{
		op:     "list_messages",
		method: http.MethodGet,
		path:   "rooms/" + url.PathEscape(roomID) + "/messages",
		query:  q,
	}, &data)
	if err != nil {
		return nil, "", err
	}
	out := make([]chat.Message, 0, len(data.List))
	for _, w := range data.List {
		m, err := w.Decode()
		if err != nil {
			c.log.Warn("skipping undecodable message", "room_id", roomID, "error", err)
			continue
		}
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		out = append(out, m)
	}
	return out, data.NextToken, nil
}

// SendRequest is a new message as the backend expects it.
type SendRequest struct {
	RoomID     string
	EntityType chat.EntityType
	Body       string
	Payload    json.RawMessage
}

type sendBody struct {
	RoomID     string  `json:"room_id"`
	EntityType string  `json:"entity_type"`
	Body       string  `json:"body"`
	Payload    *string `json:"payload,omitempty"`
}

func payloadString(p json.RawMessage) *string {
	if len(p) == 0 {
		return nil
	}
	s := string(p)
	return &s
}

// SendMessage posts a message and returns the confirmed record.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (chat.Message, error) {
	if strings.TrimSpace(req.RoomID) == "" {
		return chat.Message{}, fmt.Errorf("send message: room id required")
	}
	var w chat.WireMessage
	err := c.do(ctx, call{
		op:     "send_message",
		method: http.MethodPost,
		path:   "messages",
		body: sendBody{
			RoomID:     req.RoomID,
			EntityType: string(req.EntityType),
			Body:       req.Body,
			Payload:    payloadString(req.Payload),
		},
	}, &w)
	if err != nil {
		return chat.Message{}, err
	}
	return decodeReply(w, req.RoomID)
}

// MessageUpdate carries the mutable fields; nil fields are left alone.
type MessageUpdate struct {
	IsRead  *bool
	Body    *string
	Payload json.RawMessage
}

type updateBody struct {
	IsRead  *bool   `json:"is_read,omitempty"`
	Body    *string `json:"body,omitempty"`
	Payload *string `json:"payload,omitempty"`
}

// UpdateMessage patches a message. The backend replies with the full record;
// an empty reply yields a zero Message and no error.
func (c *Client) UpdateMessage(ctx context.Context, messageID string, upd MessageUpdate) (chat.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return chat.Message{}, fmt.Errorf("update message: id required")
	}
	var w chat.WireMessage
	err := c.do(ctx, call{
		op:     "update_message",
		method: http.MethodPatch,
		path:   "messages/" + url.PathEscape(messageID),
		body:   updateBody{IsRead: upd.IsRead, Body: upd.Body, Payload: payloadString(upd.Payload)},
	}, &w)
	if err != nil {
		return chat.Message{}, err
	}
	if w.ID == "" {
		return chat.Message{}, nil
	}
	return decodeReply(w, "")
}

// MarkRead acknowledges a single message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	read := true
	_, err := c.UpdateMessage(ctx, messageID, MessageUpdate{IsRead: &read})
	return err
}

// DeleteMessage soft-deletes a message. The server locates the row by room
// and creation time as well as id.
func (c *Client) DeleteMessage(ctx context.Context, messageID, roomID string, createdAt time.Time) error {
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("delete message: id required")
	}
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("delete message %s: room id required", messageID)
	}
	q := url.Values{}
	q.Set("room_id", roomID)
	if !createdAt.IsZero() {
		q.Set("created_at", createdAt.UTC().Format(time.RFC3339Nano))
	}
	return c.do(ctx, call{
		op:     "delete_message",
		method: http.MethodDelete,
		path:   "messages/" + url.PathEscape(messageID),
		query:  q,
	}, nil)
}

func decodeReply(w chat.WireMessage, roomID string) (chat.Message, error) {
	if w.RoomID == "" {
		w.RoomID = roomID
	}
	m, err := w.Decode()
	if err != nil {
		return chat.Message{}, fmt.Errorf("decode reply: %w", err)
	}
	return m, nil
}
