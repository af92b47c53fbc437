package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	pkgerrors "github.com/yungbote/neurobridge-chat/internal/pkg/errors"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

var (
	ErrNotBlocker     = fmt.Errorf("only the participant who blocked can unblock: %w", pkgerrors.ErrForbidden)
	ErrAlreadyBlocked = fmt.Errorf("room is already blocked: %w", pkgerrors.ErrConflict)
	ErrNotBlocked     = fmt.Errorf("room is not blocked: %w", pkgerrors.ErrConflict)
	ErrClosed         = errors.New("conversation closed")
)

// Backend is the subset of the chat API the state machine drives.
type Backend interface {
	BlockUser(ctx context.Context, roomID, peerID string) error
	UnblockUser(ctx context.Context, roomID, peerID string) error
	UpdateRoom(ctx context.Context, roomID string, status chat.RoomStatus) error
	ReportRoom(ctx context.Context, roomID, reason string) error
	ClearRoom(ctx context.Context, roomID string) (time.Time, error)
}

type State struct {
	Status    chat.RoomStatus
	BlockedBy string
}

func (s State) Blocked() bool { return s.Status == chat.RoomBlocked }

type NoticeKind string

const (
	NoticeBlocked   NoticeKind = "blocked"
	NoticeUnblocked NoticeKind = "unblocked"
	NoticeAccepted  NoticeKind = "accepted"
	NoticeReported  NoticeKind = "reported"
	NoticeCleared   NoticeKind = "cleared"
)

// Notice is published on the room's notice channel after a transition succeeds.
type Notice struct {
	RoomID string
	Kind   NoticeKind
	By     string
	At     time.Time
}

// Outcome tells the caller what the UI should do after an action.
type Outcome struct {
	LeaveRoom bool
}

// Machine owns the block/report/clear lifecycle of one room for one participant.
// Local state only changes after the backend acknowledges.
type Machine struct {
	backend Backend
	self    string
	log     *logger.Logger
	metrics *observability.Metrics
	now     func() time.Time

	onCutoff func(time.Time)

	// op serialises transitions; mu guards reads of room.
	op     sync.Mutex
	mu     sync.RWMutex
	room   chat.Room
	closed bool

	notices chan Notice
}

type Option func(*Machine)

func WithMetrics(m *observability.Metrics) Option { return func(c *Machine) { c.metrics = m } }

// WithOnCutoff is called with the new history cutoff after ClearChat.
func WithOnCutoff(fn func(time.Time)) Option { return func(c *Machine) { c.onCutoff = fn } }

func WithClock(now func() time.Time) Option { return func(c *Machine) { c.now = now } }

func WithNoticeBuffer(n int) Option {
	return func(c *Machine) {
		if n > 0 {
			c.notices = make(chan Notice, n)
		}
	}
}

func New(room chat.Room, self string, backend Backend, log *logger.Logger, opts ...Option) (*Machine, error) {
	if err := room.Validate(); err != nil {
		return nil, err
	}
	if !room.Has(self) {
		return nil, fmt.Errorf("participant is not a member of room %s: %w", room.ID, pkgerrors.ErrForbidden)
	}
	if backend == nil {
		return nil, fmt.Errorf("conversation backend required")
	}
	m := &Machine{
		backend: backend,
		self:    self,
		log:     log.Room(room.ID).With("component", "ConversationMachine"),
		now:     time.Now,
		room:    room,
		notices: make(chan Notice, 16),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{Status: m.room.Status, BlockedBy: m.room.BlockedBy}
}

func (m *Machine) Room() chat.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.room
}

// CanSend is false while the room is blocked, whoever blocked it.
func (m *Machine) CanSend() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && !m.room.Blocked()
}

func (m *Machine) Notices() <-chan Notice { return m.notices }

// Block blocks the peer. Only valid from active.
func (m *Machine) Block(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	room, err := m.current()
	if err != nil {
		return err
	}
	if room.Blocked() {
		return ErrAlreadyBlocked
	}
	if err := m.backend.BlockUser(ctx, room.ID, room.Peer(m.self)); err != nil {
		return m.failed("block", err)
	}
	m.set(func(r *chat.Room) {
		r.Status = chat.RoomBlocked
		r.BlockedBy = m.self
	})
	m.succeeded("block", NoticeBlocked)
	return nil
}

// Unblock is only allowed for the participant who blocked. The room becomes
// active once both the unblock and the status update are acknowledged.
func (m *Machine) Unblock(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	room, err := m.current()
	if err != nil {
		return err
	}
	if !room.Blocked() {
		return ErrNotBlocked
	}
	if room.BlockedBy != m.self {
		m.metrics.IncStateChange("unblock", "rejected")
		return ErrNotBlocker
	}
	if err := m.reactivate(ctx, room, true); err != nil {
		return m.failed("unblock", err)
	}
	m.succeeded("unblock", NoticeUnblocked)
	return nil
}

// Accept allows a pending message request. A room blocked by the caller is
// unblocked first; a request with no blocker only needs the status update.
func (m *Machine) Accept(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()
	room, err := m.current()
	if err != nil {
		return err
	}
	if !room.Blocked() {
		return nil
	}
	if room.BlockedBy != "" && room.BlockedBy != m.self {
		m.metrics.IncStateChange("accept", "rejected")
		return ErrNotBlocker
	}
	if err := m.reactivate(ctx, room, room.BlockedBy != ""); err != nil {
		return m.failed("accept", err)
	}
	m.succeeded("accept", NoticeAccepted)
	return nil
}

func (m *Machine) reactivate(ctx context.Context, room chat.Room, unblock bool) error {
	if unblock {
		if err := m.backend.UnblockUser(ctx, room.ID, room.Peer(m.self)); err != nil {
			return err
		}
	}
	if err := m.backend.UpdateRoom(ctx, room.ID, chat.RoomActive); err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	m.set(func(r *chat.Room) {
		r.Status = chat.RoomActive
		r.BlockedBy = ""
	})
	return nil
}

// Report flags the room. The caller should leave the room on success.
func (m *Machine) Report(ctx context.Context, reason string) (Outcome, error) {
	m.op.Lock()
	defer m.op.Unlock()
	room, err := m.current()
	if err != nil {
		return Outcome{}, err
	}
	if err := m.backend.ReportRoom(ctx, room.ID, reason); err != nil {
		return Outcome{}, m.failed("report", err)
	}
	m.succeeded("report", NoticeReported)
	return Outcome{LeaveRoom: true}, nil
}

// ClearChat hides history up to the server's cutoff for this participant only.
func (m *Machine) ClearChat(ctx context.Context) (time.Time, error) {
	m.op.Lock()
	defer m.op.Unlock()
	room, err := m.current()
	if err != nil {
		return time.Time{}, err
	}
	cutoff, err := m.backend.ClearRoom(ctx, room.ID)
	if err != nil {
		return time.Time{}, m.failed("clear", err)
	}
	m.set(func(r *chat.Room) {
		c := cutoff
		r.DeletedAt = &c
	})
	if m.onCutoff != nil {
		m.onCutoff(cutoff)
	}
	m.succeeded("clear", NoticeCleared)
	return cutoff, nil
}

// Reset replaces the local view with a room record fetched from the backend.
func (m *Machine) Reset(room chat.Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.ID != m.room.ID {
		return fmt.Errorf("reset with room %s on machine for %s: %w", room.ID, m.room.ID, pkgerrors.ErrInvalidArgument)
	}
	m.room = room
	return nil
}

// Close stops notice delivery. Further transitions fail with ErrClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notices)
}

func (m *Machine) current() (chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return chat.Room{}, ErrClosed
	}
	return m.room, nil
}

func (m *Machine) set(fn func(*chat.Room)) {
	m.mu.Lock()
	fn(&m.room)
	m.mu.Unlock()
}

func (m *Machine) failed(action string, err error) error {
	m.metrics.IncStateChange(action, "error")
	m.log.Warn("room state change failed", "action", action, "error", err)
	return fmt.Errorf("%s room: %w", action, err)
}

func (m *Machine) succeeded(action string, kind NoticeKind) {
	m.metrics.IncStateChange(action, "ok")
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	n := Notice{RoomID: m.room.ID, Kind: kind, By: m.self, At: m.now()}
	select {
	case m.notices <- n:
	default:
		m.log.Warn("dropping room notice (buffer full)", "kind", kind)
	}
	m.log.Info("room state changed", "action", action, "status", m.room.Status)
}
