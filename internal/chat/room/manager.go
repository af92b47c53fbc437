package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/chat/conversation"
	"github.com/yungbote/neurobridge-chat/internal/chat/pagination"
	"github.com/yungbote/neurobridge-chat/internal/chat/receipts"
	"github.com/yungbote/neurobridge-chat/internal/clients/chatapi"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime"
	"github.com/yungbote/neurobridge-chat/internal/upload"
)

var (
	ErrSessionClosed = errors.New("room session closed")
	ErrSuperseded    = errors.New("room session superseded by a newer one")
)

// Backend is everything a room session needs from the chat API.
type Backend interface {
	pagination.Fetcher
	receipts.Acker
	conversation.Backend
	SendMessage(ctx context.Context, req chatapi.SendRequest) (chat.Message, error)
	UpdateMessage(ctx context.Context, messageID string, upd chatapi.MessageUpdate) (chat.Message, error)
	DeleteMessage(ctx context.Context, messageID, roomID string, createdAt time.Time) error
	ReadAll(ctx context.Context, roomID string) error
	GetRoom(ctx context.Context, roomID string) (chat.Room, error)
}

type Uploader interface {
	UploadBatch(ctx context.Context, files []upload.File, opts ...upload.BatchOption) (*upload.BatchResult, error)
}

// Manager keeps at most one open room session per participant.
type Manager struct {
	backend  Backend
	source   realtime.Source
	uploader Uploader
	self     string
	log      *logger.Logger
	metrics  *observability.Metrics
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	current *Session
	gen     uint64
}

type Option func(*Manager)

func WithUploader(u Uploader) Option                    { return func(m *Manager) { m.uploader = u } }
func WithMetrics(metrics *observability.Metrics) Option { return func(m *Manager) { m.metrics = metrics } }
func WithLocation(loc *time.Location) Option            { return func(m *Manager) { m.loc = loc } }
func WithClock(now func() time.Time) Option             { return func(m *Manager) { m.now = now } }

func NewManager(backend Backend, source realtime.Source, self string, log *logger.Logger, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("room backend required")
	}
	if source == nil {
		return nil, fmt.Errorf("push source required")
	}
	if self == "" {
		return nil, fmt.Errorf("participant id required")
	}
	m := &Manager{
		backend: backend,
		source:  source,
		self:    self,
		log:     log.With("service", "RoomManager"),
		loc:     time.Local,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Open closes the current session, then loads the newest page of r, marks
// it read and subscribes to its push events. The returned session is the
// current one until the next Open or Close.
func (m *Manager) Open(ctx context.Context, r chat.Room) (*Session, error) {
	m.mu.Lock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
	m.gen++
	s, err := newSession(m, r, m.gen)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.current = s
	m.mu.Unlock()

	if err := s.start(ctx); err != nil {
		s.Close()
		m.release(s)
		return nil, err
	}
	if !m.isCurrent(s) {
		s.Close()
		return nil, ErrSuperseded
	}
	return s, nil
}

func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close tears down the current session, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.gen++
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (m *Manager) isCurrent(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == s && m.gen == s.gen
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
}
