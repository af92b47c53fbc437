package chat

import (
	"fmt"
	"strings"
	"time"
)

type RoomStatus string

const (
	RoomActive  RoomStatus = "active"
	RoomBlocked RoomStatus = "blocked"
)

// Room is a private two-participant conversation as seen by one participant.
// DeletedAt is that participant's history cutoff.
type Room struct {
	ID             string
	ParticipantIDs [2]string
	BlockedBy      string
	Status         RoomStatus
	DeletedAt      *time.Time
}

func (r Room) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("room id required")
	}
	a, b := r.ParticipantIDs[0], r.ParticipantIDs[1]
	if a == "" || b == "" || a == b {
		return fmt.Errorf("room %s: need two distinct participants", r.ID)
	}
	switch r.Status {
	case RoomActive:
		if r.BlockedBy != "" {
			return fmt.Errorf("room %s: blocked_by set on active room", r.ID)
		}
	case RoomBlocked:
		if r.BlockedBy != "" && !r.Has(r.BlockedBy) {
			return fmt.Errorf("room %s: blocked_by is not a participant", r.ID)
		}
	default:
		return fmt.Errorf("room %s: unknown status %q", r.ID, r.Status)
	}
	return nil
}

func (r Room) Has(participantID string) bool {
	return participantID != "" && (r.ParticipantIDs[0] == participantID || r.ParticipantIDs[1] == participantID)
}

// Peer returns the other participant.
func (r Room) Peer(participantID string) string {
	switch participantID {
	case r.ParticipantIDs[0]:
		return r.ParticipantIDs[1]
	case r.ParticipantIDs[1]:
		return r.ParticipantIDs[0]
	}
	return ""
}

func (r Room) Blocked() bool { return r.Status == RoomBlocked }

// Cutoff returns the history lower bound, zero when the room was never cleared.
func (r Room) Cutoff() time.Time {
	if r.DeletedAt == nil {
		return time.Time{}
	}
	return *r.DeletedAt
}
