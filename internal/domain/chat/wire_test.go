package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestWireMessageDecodeSenderFallback(t *testing.T) {
	w := WireMessage{
		ID:         "m1",
		RoomID:     "r1",
		Body:       "hi",
		CreatedAt:  "2024-05-01T10:00:00Z",
		EntityType: "text",
		UserID:     "u-2",
	}
	m, err := w.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.SenderID != "u-2" {
		t.Fatalf("sender: want=%q got=%q", "u-2", m.SenderID)
	}
	w.MessageBy = "u-1"
	m, _ = w.Decode()
	if m.SenderID != "u-1" {
		t.Fatalf("sender with message_by: want=%q got=%q", "u-1", m.SenderID)
	}
	if !m.AuthoredBy("u-1") || m.AuthoredBy("u-2") {
		t.Fatalf("AuthoredBy disagrees with sender %q", m.SenderID)
	}
	if m.Delivery != DeliveryConfirmed {
		t.Fatalf("delivery: want=%q got=%q", DeliveryConfirmed, m.Delivery)
	}
	if tc, ok := m.Content.(TextContent); !ok || tc.Text != "hi" {
		t.Fatalf("content: got %#v", m.Content)
	}
}

func TestWireMessageDecodeRejectsBadInput(t *testing.T) {
	if _, err := (WireMessage{CreatedAt: "2024-05-01T10:00:00Z"}).Decode(); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, err := (WireMessage{ID: "x", CreatedAt: "yesterday"}).Decode(); err == nil {
		t.Fatalf("expected error for bad timestamp")
	}
}

func TestWireMessageDecodeAttachment(t *testing.T) {
	w := WireMessage{
		ID:         "m2",
		CreatedAt:  "2024-05-01 10:00:00",
		EntityType: "application/pdf",
		Body:       `{"1":"https://cdn/b.pdf","0":"https://cdn/a.pdf"}`,
		Payload:    strPtr(`{"mime_type":"application/pdf","name":"a.pdf"}`),
	}
	m, err := w.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.EntityType != EntityDocument {
		t.Fatalf("entity: want=%q got=%q", EntityDocument, m.EntityType)
	}
	ac, ok := m.Content.(AttachmentContent)
	if !ok {
		t.Fatalf("content: want AttachmentContent got %T", m.Content)
	}
	if len(ac.URLs) != 2 || ac.URLs[0] != "https://cdn/a.pdf" || ac.URLs[1] != "https://cdn/b.pdf" {
		t.Fatalf("urls: got %v", ac.URLs)
	}
	if ac.Name != "a.pdf" || ac.MimeType != "application/pdf" {
		t.Fatalf("meta: got %+v", ac)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !m.CreatedAt.Equal(want) {
		t.Fatalf("created_at: want=%v got=%v", want, m.CreatedAt)
	}
}

func TestWireMessageDecodeIgnoresInvalidPayload(t *testing.T) {
	w := WireMessage{ID: "m3", CreatedAt: "2024-05-01T10:00:00Z", Payload: strPtr("not json")}
	m, err := w.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Payload != nil {
		t.Fatalf("payload: want nil got %s", m.Payload)
	}
}

func TestToWireRoundTripsReaction(t *testing.T) {
	m := Message{
		ID:        "m4",
		RoomID:    "r",
		SenderID:  "u",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:   json.RawMessage(`{"reaction":"👍"}`),
	}
	back, err := ToWire(m).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Reaction() != "👍" {
		t.Fatalf("reaction: want=%q got=%q", "👍", back.Reaction())
	}
}

func TestWireRoomDecode(t *testing.T) {
	r, err := (WireRoom{RoomID: "r", UserID: "a", ReceiverID: "b", BlockedBy: "a"}).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.Status != RoomBlocked {
		t.Fatalf("status: want=%q got=%q", RoomBlocked, r.Status)
	}
	if r.Peer("a") != "b" {
		t.Fatalf("peer: want=%q got=%q", "b", r.Peer("a"))
	}
	if _, err := (WireRoom{RoomID: "r", UserID: "a", ReceiverID: "b", BlockedBy: "a", StatusID: "active"}).Decode(); err == nil {
		t.Fatalf("expected error: blocked_by on active room")
	}
	if _, err := (WireRoom{RoomID: "r", UserID: "a", ReceiverID: "a"}).Decode(); err == nil {
		t.Fatalf("expected error: duplicate participant")
	}
}
