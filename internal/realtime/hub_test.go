package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for push event")
	}
	return Event{}
}

func testMessage(roomID, id string) chat.Message {
	return chat.Message{ID: id, RoomID: roomID, CreatedAt: time.Now().UTC(), Delivery: chat.DeliveryConfirmed}
}

func TestHubResubscribeAndOrdering(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	room := uuid.New().String()

	subA, err := hub.Subscribe(context.Background(), room)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	hub.Broadcast(Event{Kind: EventCreated, RoomID: room, Message: testMessage(room, "1")})
	hub.Broadcast(Event{Kind: EventUpdated, RoomID: room, Message: testMessage(room, "1")})

	first := recvEvent(t, subA.Events(), time.Second)
	second := recvEvent(t, subA.Events(), time.Second)
	if first.Kind != EventCreated {
		t.Fatalf("first event: want=%s got=%s", EventCreated, first.Kind)
	}
	if second.Kind != EventUpdated {
		t.Fatalf("second event: want=%s got=%s", EventUpdated, second.Kind)
	}

	subA.Close()
	subA.Close()
	select {
	case _, ok := <-subA.Events():
		if ok {
			t.Fatalf("subA events should be closed after Close")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for subA channel close")
	}
	if n := hub.Subscribers(room); n != 0 {
		t.Fatalf("subscribers after close: want=0 got=%d", n)
	}

	subB, _ := hub.Subscribe(context.Background(), room)
	defer subB.Close()
	hub.Broadcast(Event{Kind: EventCreated, RoomID: room, Message: testMessage(room, "2")})
	got := recvEvent(t, subB.Events(), time.Second)
	if got.Message.ID != "2" {
		t.Fatalf("resubscribed event: want=%s got=%s", "2", got.Message.ID)
	}
}

func TestHubIsRoomScoped(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	subA, _ := hub.Subscribe(context.Background(), "room-a")
	subB, _ := hub.Subscribe(context.Background(), "room-b")
	defer subA.Close()
	defer subB.Close()

	hub.Broadcast(Event{Kind: EventCreated, RoomID: "room-b", Message: testMessage("room-b", "x")})
	recvEvent(t, subB.Events(), time.Second)
	select {
	case ev := <-subA.Events():
		t.Fatalf("room-a received room-b event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(logger.NewNop())
	hub.buffer = 1
	sub, _ := hub.Subscribe(context.Background(), "r")
	defer sub.Close()
	hub.Broadcast(Event{Kind: EventCreated, RoomID: "r", Message: testMessage("r", "1")})
	hub.Broadcast(Event{Kind: EventCreated, RoomID: "r", Message: testMessage("r", "2")})
	got := recvEvent(t, sub.Events(), time.Second)
	if got.Message.ID != "1" {
		t.Fatalf("kept event: want=1 got=%s", got.Message.ID)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event %s", ev.Message.ID)
	default:
	}
}

func TestSendUnblocksOnClose(t *testing.T) {
	sub := NewSubscription("r", 1, nil)
	if !sub.Send(Event{Kind: EventCreated}) {
		t.Fatalf("first send: want queued")
	}
	done := make(chan bool, 1)
	go func() { done <- sub.Send(Event{Kind: EventCreated}) }()
	time.Sleep(10 * time.Millisecond)
	sub.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("blocked send after close: want false")
		}
	case <-time.After(time.Second):
		t.Fatalf("Send did not unblock on Close")
	}
}

func TestEventCodec(t *testing.T) {
	ev := Event{Kind: EventCreated, RoomID: "r1", Message: testMessage("r1", "m1")}
	raw, err := EncodeEvent(RoomChannel("chat", "r1"), ev)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	got, err := DecodeEvent(raw, "r1")
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if got.Kind != EventCreated || got.Message.ID != "m1" || got.RoomID != "r1" {
		t.Fatalf("decoded: %+v", got)
	}
	if _, err := DecodeEvent(raw, "r2"); err == nil {
		t.Fatalf("foreign room: want error")
	}
	if _, err := DecodeEvent([]byte(`{"event":"deleted","data":{"id":"x","created_at":"2024-01-01T00:00:00Z"}}`), "r1"); err == nil {
		t.Fatalf("unknown kind: want error")
	}
	if RoomChannel("", "r1") != "room.r1" {
		t.Fatalf("channel without prefix: got %q", RoomChannel("", "r1"))
	}
}
