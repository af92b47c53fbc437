package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// Hub is the in-process Source: a room-scoped fan-out used for local echo,
// tests and as the sink of bus forwarders.
type Hub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	buffer        int
	subscriptions map[string]map[*Subscription]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:        log.With("component", "RealtimeHub"),
		buffer:        defaultBuffer,
		subscriptions: make(map[string]map[*Subscription]bool),
	}
}

func (hub *Hub) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, fmt.Errorf("room id required")
	}
	var sub *Subscription
	sub = NewSubscription(roomID, hub.buffer, func() { hub.remove(sub) })

	hub.mu.Lock()
	subs, ok := hub.subscriptions[roomID]
	if !ok {
		subs = make(map[*Subscription]bool)
		hub.subscriptions[roomID] = subs
	}
	subs[sub] = true
	hub.mu.Unlock()

	hub.logger.Debug("hub subscription added", "subscription_id", sub.ID, "room_id", roomID)
	return sub, nil
}

func (hub *Hub) remove(sub *Subscription) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if subs, ok := hub.subscriptions[sub.RoomID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(hub.subscriptions, sub.RoomID)
		}
	}
	hub.logger.Debug("hub subscription removed", "subscription_id", sub.ID, "room_id", sub.RoomID)
}

// Broadcast fans ev out to the room's subscribers, dropping on full buffers.
func (hub *Hub) Broadcast(ev Event) {
	if ev.RoomID == "" {
		ev.RoomID = ev.Message.RoomID
	}
	if ev.RoomID == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for sub := range hub.subscriptions[ev.RoomID] {
		if !sub.Offer(ev) {
			hub.logger.Warn("dropping push event; subscription buffer full", "subscription_id", sub.ID, "room_id", ev.RoomID)
		}
	}
}

// Publish satisfies the bus publisher shape for the in-process transport.
func (hub *Hub) Publish(ctx context.Context, ev Event) error {
	hub.Broadcast(ev)
	return nil
}

func (hub *Hub) Subscribers(roomID string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[roomID])
}

func (hub *Hub) Close() error { return nil }
