package store

import (
	"sort"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

// Sort orders messages by (CreatedAt, Key) in place.
func Sort(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return chat.Less(msgs[i], msgs[j]) })
}

// UniqueByKey keeps the first occurrence of every key. Entries without a key are dropped.
func UniqueByKey(msgs []chat.Message) []chat.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		k := m.Key()
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Merge returns the sorted union of base and incoming. On key collision the
// base entry wins, so merging the same page twice is a no-op.
func Merge(base, incoming []chat.Message) []chat.Message {
	all := make([]chat.Message, 0, len(base)+len(incoming))
	all = append(all, base...)
	all = append(all, incoming...)
	out := UniqueByKey(all)
	Sort(out)
	return out
}

// ReconcilePending swaps the pending entry tempID for confirmed. If confirmed
// is already present (delivered by push first) the pending entry is dropped.
// The result is re-sorted because the server timestamp may differ from the
// local one. found is false when tempID is not in msgs.
func ReconcilePending(msgs []chat.Message, tempID string, confirmed chat.Message) (out []chat.Message, found bool) {
	idx := -1
	dup := false
	for i, m := range msgs {
		if m.ID == "" && m.TempID == tempID {
			idx = i
		}
		if confirmed.ID != "" && m.ID == confirmed.ID {
			dup = true
		}
	}
	if idx < 0 {
		return msgs, false
	}
	out = make([]chat.Message, 0, len(msgs))
	out = append(out, msgs[:idx]...)
	if !dup {
		c := confirmed
		c.TempID = tempID
		if c.Delivery == "" || c.Delivery == chat.DeliveryPending {
			c.Delivery = chat.DeliveryConfirmed
		}
		out = append(out, c)
	}
	out = append(out, msgs[idx+1:]...)
	if !dup && !inOrder(out, idx) {
		Sort(out)
	}
	return out, true
}

// MatchPending finds a pending entry that the confirmed message m most likely
// confirms: same author, entity type and body. The oldest match wins.
func MatchPending(msgs []chat.Message, m chat.Message) int {
	for i, p := range msgs {
		if p.ID != "" || p.Delivery != chat.DeliveryPending {
			continue
		}
		if p.SenderID == m.SenderID && p.EntityType == m.EntityType && p.Body == m.Body {
			return i
		}
	}
	return -1
}

func inOrder(msgs []chat.Message, i int) bool {
	if i < 0 || i >= len(msgs) {
		return true
	}
	if i > 0 && chat.Less(msgs[i], msgs[i-1]) {
		return false
	}
	if i+1 < len(msgs) && chat.Less(msgs[i+1], msgs[i]) {
		return false
	}
	return true
}

func insertSorted(msgs []chat.Message, m chat.Message) []chat.Message {
	i := sort.Search(len(msgs), func(i int) bool { return chat.Less(m, msgs[i]) })
	msgs = append(msgs, chat.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}
