package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

// Store is the in-memory message log of one room. It is owned by a single room
// session and every operation is atomic. After every call the log is sorted by
// (CreatedAt, Key) and keys are unique.
type Store struct {
	mu     sync.RWMutex
	roomID string
	msgs   []chat.Message
}

func New(roomID string) *Store {
	return &Store{roomID: roomID}
}

func (s *Store) RoomID() string { return s.roomID }

// Seed replaces the log with the newest page.
func (s *Store) Seed(msgs []chat.Message) {
	out := UniqueByKey(s.own(msgs))
	Sort(out)
	s.mu.Lock()
	s.msgs = out
	s.mu.Unlock()
}

// Prepend merges an older page and returns how many entries were new.
func (s *Store) Prepend(older []chat.Message) int {
	older = s.own(older)
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.msgs)
	s.msgs = Merge(s.msgs, older)
	return len(s.msgs) - before
}

// AppendOptimistic inserts a pending message keyed by its temp id.
func (s *Store) AppendOptimistic(temp chat.Message) error {
	if temp.TempID == "" || temp.ID != "" {
		return fmt.Errorf("optimistic message needs a temp id and no server id")
	}
	if temp.RoomID != "" && temp.RoomID != s.roomID {
		return fmt.Errorf("message for room %s appended to room %s", temp.RoomID, s.roomID)
	}
	temp.RoomID = s.roomID
	temp.Delivery = chat.DeliveryPending
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(temp.TempID) >= 0 {
		return fmt.Errorf("temp id %s already present", temp.TempID)
	}
	s.msgs = insertSorted(s.msgs, temp)
	return nil
}

// Reconcile replaces the pending entry tempID with the server's confirmation.
func (s *Store) Reconcile(confirmed chat.Message, tempID string) bool {
	confirmed.RoomID = s.roomID
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := ReconcilePending(s.msgs, tempID, confirmed)
	if ok {
		s.msgs = out
	}
	return ok
}

// SetAttachment fills in the uploaded body and payload of a pending
// attachment entry. The entity type may change once every file is known.
func (s *Store) SetAttachment(tempID string, et chat.EntityType, body string, payload json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == "" && s.msgs[i].TempID == tempID {
			s.msgs[i].EntityType = et
			s.msgs[i].Body = body
			s.msgs[i].Payload = append(json.RawMessage(nil), payload...)
			s.msgs[i].Content = chat.DecodeContent(et, body, payload)
			return true
		}
	}
	return false
}

// MarkFailed flags a pending entry as failed so it can be retried or discarded.
func (s *Store) MarkFailed(tempID string, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == "" && s.msgs[i].TempID == tempID {
			s.msgs[i].Delivery = chat.DeliveryFailed
			if cause != nil {
				s.msgs[i].SendErr = cause.Error()
			}
			return true
		}
	}
	return false
}

// Discard drops an entry outright. Used for failed optimistic sends.
func (s *Store) Discard(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(key)
	if i < 0 {
		return false
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	return true
}

// Remove soft-deletes a message.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.msgs[i].IsDeleted = true
	return true
}

// ApplyCreated ingests a pushed message. Known ids are ignored; a pending entry
// that matches is adopted instead of producing a duplicate.
func (s *Store) ApplyCreated(m chat.Message) bool {
	if m.ID == "" {
		return false
	}
	m.RoomID = s.roomID
	if m.Delivery == "" {
		m.Delivery = chat.DeliveryConfirmed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(m.ID) >= 0 {
		return false
	}
	if p := MatchPending(s.msgs, m); p >= 0 {
		out, _ := ReconcilePending(s.msgs, s.msgs[p].TempID, m)
		s.msgs = out
		return true
	}
	s.msgs = insertSorted(s.msgs, m)
	return true
}

// ApplyUpdated replaces the mutable fields of a known message without
// changing its position. Unknown ids are ignored.
func (s *Store) ApplyUpdated(m chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(m.ID)
	if i < 0 || m.ID == "" {
		return false
	}
	cur := &s.msgs[i]
	cur.IsRead = m.IsRead
	cur.IsDeleted = m.IsDeleted
	cur.Payload = m.Payload
	cur.Body = m.Body
	cur.Content = chat.DecodeContent(cur.EntityType, m.Body, m.Payload)
	return true
}

// MarkRead flips the local read flag after a successful acknowledgement.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.msgs[i].IsRead = true
	return true
}

// SetPayload updates a message payload locally, e.g. after a reaction.
func (s *Store) SetPayload(id string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.msgs[i].Payload = append([]byte(nil), payload...)
	return true
}

// DropThrough removes confirmed messages at or before cutoff and returns how
// many were dropped. Pending sends are kept.
func (s *Store) DropThrough(cutoff time.Time) int {
	if cutoff.IsZero() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.ID != "" && !m.CreatedAt.After(cutoff) {
			continue
		}
		kept = append(kept, m)
	}
	dropped := len(s.msgs) - len(kept)
	s.msgs = kept
	return dropped
}

func (s *Store) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Visible returns the non-deleted messages in order.
func (s *Store) Visible() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		if !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) Get(key string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(key)
	if i < 0 {
		return chat.Message{}, false
	}
	return s.msgs[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

func (s *Store) indexLocked(key string) int {
	if key == "" {
		return -1
	}
	for i := range s.msgs {
		if s.msgs[i].Key() == key || (s.msgs[i].ID == "" && s.msgs[i].TempID == key) {
			return i
		}
	}
	return -1
}

func (s *Store) own(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.RoomID != "" && m.RoomID != s.roomID {
			continue
		}
		m.RoomID = s.roomID
		out = append(out, m)
	}
	return out
}
