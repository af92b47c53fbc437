package chatapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

func roomPath(roomID, suffix string) (string, error) {
	if strings.TrimSpace(roomID) == "" {
		return "", fmt.Errorf("room id required")
	}
	p := "rooms/" + url.PathEscape(roomID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (chat.Room, error) {
	path, err := roomPath(roomID, "")
	if err != nil {
		return chat.Room{}, err
	}
	var w chat.WireRoom
	if err := c.do(ctx, call{op: "get_room", method: http.MethodGet, path: path}, &w); err != nil {
		return chat.Room{}, err
	}
	if w.RoomID == "" {
		w.RoomID = roomID
	}
	return w.Decode()
}

// ReadAll marks every message in the room as read for the caller.
func (c *Client) ReadAll(ctx context.Context, roomID string) error {
	path, err := roomPath(roomID, "read-all")
	if err != nil {
		return err
	}
	return c.do(ctx, call{op: "read_all", method: http.MethodPost, path: path}, nil)
}

type roomStatusBody struct {
	StatusID string `json:"status_id"`
}

func (c *Client) UpdateRoom(ctx context.Context, roomID string, status chat.RoomStatus) error {
	path, err := roomPath(roomID, "")
	if err != nil {
		return err
	}
	return c.do(ctx, call{
		op:     "update_room",
		method: http.MethodPatch,
		path:   path,
		body:   roomStatusBody{StatusID: string(status)},
	}, nil)
}

type userBody struct {
	UserID string `json:"user_id"`
}

// BlockUser blocks peerID in the room on behalf of the caller.
func (c *Client) BlockUser(ctx context.Context, roomID, peerID string) error {
	path, err := roomPath(roomID, "block")
	if err != nil {
		return err
	}
	return c.do(ctx, call{op: "block_user", method: http.MethodPost, path: path, body: userBody{UserID: peerID}}, nil)
}

func (c *Client) UnblockUser(ctx context.Context, roomID, peerID string) error {
	path, err := roomPath(roomID, "unblock")
	if err != nil {
		return err
	}
	return c.do(ctx, call{op: "unblock_user", method: http.MethodPost, path: path, body: userBody{UserID: peerID}}, nil)
}

type reportBody struct {
	Reason string `json:"reason,omitempty"`
}

func (c *Client) ReportRoom(ctx context.Context, roomID, reason string) error {
	path, err := roomPath(roomID, "report")
	if err != nil {
		return err
	}
	return c.do(ctx, call{op: "report_room", method: http.MethodPost, path: path, body: reportBody{Reason: reason}}, nil)
}

type clearData struct {
	DeletedAt string `json:"deleted_at"`
}

// ClearRoom hides the room's history for the caller and returns the cutoff.
func (c *Client) ClearRoom(ctx context.Context, roomID string) (time.Time, error) {
	path, err := roomPath(roomID, "clear")
	if err != nil {
		return time.Time{}, err
	}
	var data clearData
	if err := c.do(ctx, call{op: "clear_room", method: http.MethodPost, path: path}, &data); err != nil {
		return time.Time{}, err
	}
	cutoff, err := chat.ParseTimestamp(data.DeletedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("clear room %s: %w", roomID, err)
	}
	return cutoff, nil
}
