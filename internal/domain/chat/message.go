package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityText         EntityType = "text"
	EntityPhoto        EntityType = "photo"
	EntityVideo        EntityType = "video"
	EntityMedia        EntityType = "media"
	EntityDocument     EntityType = "document"
	EntityPost         EntityType = "post"
	EntityProfile      EntityType = "profile"
	EntityShareProfile EntityType = "share-profile"
)

var documentMimeTypes = map[string]bool{
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/pdf":               true,
	"text/csv":                      true,
	"text/plain":                    true,
	"application/vnd.ms-powerpoint": true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// IsDocumentMime reports whether a MIME type is sent as a document message.
func IsDocumentMime(mime string) bool {
	return documentMimeTypes[strings.ToLower(strings.TrimSpace(mime))]
}

// ParseEntityType normalises the entity_type column. Document messages carry
// their MIME type there; unknown values fall back to text.
func ParseEntityType(raw string) EntityType {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch EntityType(s) {
	case EntityText, EntityPhoto, EntityVideo, EntityMedia, EntityDocument,
		EntityPost, EntityProfile, EntityShareProfile:
		return EntityType(s)
	}
	if IsDocumentMime(s) {
		return EntityDocument
	}
	return EntityText
}

func (e EntityType) IsAttachment() bool {
	switch e {
	case EntityPhoto, EntityVideo, EntityMedia, EntityDocument:
		return true
	}
	return false
}

type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliveryConfirmed Delivery = "confirmed"
	DeliveryFailed    Delivery = "failed"
)

// Message is one entry of a room's log. A pending message has only TempID;
// a confirmed one has the server ID.
type Message struct {
	ID             string
	TempID         string
	RoomID         string
	SenderID       string
	SenderUsername string
	CreatedAt      time.Time
	EntityType     EntityType
	Body           string
	Payload        json.RawMessage
	IsRead         bool
	IsDeleted      bool
	Delivery       Delivery
	Content        Content
	SendErr        string
}

// NewPending builds an optimistic message with a fresh temp id.
func NewPending(roomID, senderID string, et EntityType, body string, payload json.RawMessage, now time.Time) Message {
	m := Message{
		TempID:     "tmp-" + uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		CreatedAt:  now.UTC(),
		EntityType: et,
		Body:       body,
		Payload:    payload,
		IsRead:     true,
		Delivery:   DeliveryPending,
	}
	m.Content = DecodeContent(et, body, payload)
	return m
}

// Key is the merge key: the server id once known, the temp id before.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

func (m Message) Pending() bool { return m.Delivery == DeliveryPending }

func (m Message) Confirmed() bool { return m.ID != "" && m.Delivery != DeliveryPending && m.Delivery != DeliveryFailed }

// AuthoredBy is the only "is this my message" check; SenderID is the canonical author.
func (m Message) AuthoredBy(participantID string) bool {
	return participantID != "" && m.SenderID == participantID
}

// Reaction returns the emoji stored in the payload, if any.
func (m Message) Reaction() string {
	if len(m.Payload) == 0 {
		return ""
	}
	var p struct {
		Reaction string `json:"reaction"`
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return ""
	}
	return strings.TrimSpace(p.Reaction)
}

// Day is the calendar day of CreatedAt in loc.
func (m Message) Day(loc *time.Location) string {
	if m.CreatedAt.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return m.CreatedAt.In(loc).Format("2006-01-02")
}

// Less orders by CreatedAt then Key.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Key() < b.Key()
}
