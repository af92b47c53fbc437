package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/chat/conversation"
	"github.com/yungbote/neurobridge-chat/internal/chat/pagination"
	"github.com/yungbote/neurobridge-chat/internal/chat/receipts"
	"github.com/yungbote/neurobridge-chat/internal/chat/store"
	"github.com/yungbote/neurobridge-chat/internal/clients/chatapi"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime"
	"github.com/yungbote/neurobridge-chat/internal/upload"
)

const EmptyRoomText = "No messages yet!"

const ackTimeout = 10 * time.Second

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrSendDisabled  = errors.New("sending is disabled in this room")
	ErrNoUploader    = errors.New("attachments are not configured")
	ErrUnknownTarget = errors.New("message not found in this room")
)

// Session is the per-room context: it owns the room's store, pager,
// receipt tracker, state machine and push subscription. Results that arrive
// after the session stopped being current are dropped.
type Session struct {
	mgr     *Manager
	gen     uint64
	roomID  string
	self    string
	backend Backend
	log     *logger.Logger
	metrics *observability.Metrics
	now     func() time.Time

	store   *store.Store
	pager   *pagination.Pager
	tracker *receipts.Tracker
	machine *conversation.Machine

	ctx    context.Context
	cancel context.CancelFunc

	subMu  sync.Mutex
	sub    *realtime.Subscription
	closed bool
	pump   sync.WaitGroup
	once   sync.Once
}

func newSession(m *Manager, r chat.Room, gen uint64) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		mgr:     m,
		gen:     gen,
		roomID:  r.ID,
		self:    m.self,
		backend: m.backend,
		log:     m.log.Room(r.ID).With("component", "RoomSession"),
		metrics: m.metrics,
		now:     m.now,
		store:   store.New(r.ID),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.pager = pagination.New(m.backend, s.store, r.Cutoff(), m.log, m.metrics)
	// Acks already in flight when the session closes are allowed to finish.
	s.tracker = receipts.New(context.WithoutCancel(ctx), m.backend, m.self, m.log,
		receipts.WithLocation(m.loc),
		receipts.WithMetrics(m.metrics),
		receipts.WithAckTimeout(ackTimeout),
		receipts.WithOnAck(func(id string) {
			if s.ctx.Err() == nil {
				s.store.MarkRead(id)
			}
		}),
	)
	machine, err := conversation.New(r, m.self, m.backend, m.log,
		conversation.WithMetrics(m.metrics),
		conversation.WithClock(m.now),
		conversation.WithOnCutoff(s.applyCutoff),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	s.machine = machine
	return s, nil
}

func (s *Session) start(ctx context.Context) error {
	if err := s.pager.LoadInitial(ctx); err != nil {
		return fmt.Errorf("open room %s: %w", s.roomID, err)
	}
	if err := s.backend.ReadAll(ctx, s.roomID); err != nil {
		s.log.Warn("mark all read failed", "error", err)
	}
	if !s.active() {
		return ErrSuperseded
	}
	sub, err := s.mgr.source.Subscribe(s.ctx, s.roomID)
	if err != nil {
		// Push is best effort: history and sends still work without it.
		s.log.Warn("push subscription failed", "error", err)
		return nil
	}
	s.subMu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.subMu.Unlock()
		sub.Close()
		return ErrSuperseded
	}
	s.sub = sub
	s.pump.Add(1)
	s.subMu.Unlock()
	go s.runPump(sub)
	s.log.Info("room opened", "messages", s.store.Len())
	return nil
}

func (s *Session) runPump(sub *realtime.Subscription) {
	defer s.pump.Done()
	for ev := range sub.Events() {
		if ev.RoomID != s.roomID || s.ctx.Err() != nil {
			s.metrics.IncPushEvent(string(ev.Kind), "ignored")
			continue
		}
		applied := false
		switch ev.Kind {
		case realtime.EventCreated:
			applied = s.store.ApplyCreated(ev.Message)
		case realtime.EventUpdated:
			applied = s.store.ApplyUpdated(ev.Message)
		}
		result := "ignored"
		if applied {
			result = "applied"
		}
		s.metrics.IncPushEvent(string(ev.Kind), result)
	}
}

func (s *Session) RoomID() string { return s.roomID }

// active reports whether results for this session should still be applied.
func (s *Session) active() bool {
	return s.ctx.Err() == nil && s.mgr.isCurrent(s)
}

// Messages returns the visible log in order.
func (s *Session) Messages() []chat.Message { return s.store.Visible() }

// EmptyText is the placeholder shown when the room has nothing to display.
func (s *Session) EmptyText() string {
	if len(s.store.Visible()) == 0 {
		return EmptyRoomText
	}
	return ""
}

func (s *Session) Conversation() *conversation.Machine { return s.machine }

func (s *Session) Notices() <-chan conversation.Notice { return s.machine.Notices() }

func (s *Session) CanSend() bool { return s.machine.CanSend() }

func (s *Session) HasMore() bool { return s.pager.HasMore() }

// Refresh refetches the room record so blocks and unblocks made by the peer
// reach an open session.
func (s *Session) Refresh(ctx context.Context) error {
	r, err := s.backend.GetRoom(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("refresh room %s: %w", s.roomID, err)
	}
	if !s.active() {
		return ErrSessionClosed
	}
	if err := s.machine.Reset(r); err != nil {
		return fmt.Errorf("refresh room %s: %w", s.roomID, err)
	}
	s.log.Debug("room refreshed", "status", string(r.Status), "blocked_by", r.BlockedBy)
	return nil
}

// LoadMore prepends the next older page.
func (s *Session) LoadMore(ctx context.Context) (int, error) {
	if !s.active() {
		return 0, ErrSessionClosed
	}
	return s.pager.LoadMore(ctx)
}

// Observe forwards a visibility observation to the read receipt tracker.
func (s *Session) Observe(m chat.Message, fraction float64) {
	if s.ctx.Err() != nil {
		return
	}
	s.tracker.Observe(m, fraction)
}

// Divider labels the newest day currently on screen.
func (s *Session) Divider() string { return s.tracker.Divider(s.now()) }

// SendText trims text and sends it optimistically.
func (s *Session) SendText(ctx context.Context, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	if err := s.canSend(); err != nil {
		return chat.Message{}, err
	}
	pending := chat.NewPending(s.roomID, s.self, chat.EntityText, text, nil, s.now())
	if err := s.store.AppendOptimistic(pending); err != nil {
		return chat.Message{}, err
	}
	return s.deliver(ctx, pending)
}

// SendAttachments shows a placeholder, uploads files, then sends one
// attachment message referencing every uploaded object. Nothing is sent if
// any file fails; completed uploads are left in place.
func (s *Session) SendAttachments(ctx context.Context, files []upload.File, progress *upload.Progress) (chat.Message, error) {
	if len(files) == 0 {
		return chat.Message{}, ErrEmptyMessage
	}
	if err := s.canSend(); err != nil {
		return chat.Message{}, err
	}
	if s.mgr.uploader == nil {
		return chat.Message{}, ErrNoUploader
	}
	if err := upload.Validate(files, upload.MaxFileSize); err != nil {
		return chat.Message{}, err
	}

	et := upload.ResolveEntityType(files)
	pending := chat.NewPending(s.roomID, s.self, et, "", nil, s.now())
	pending.Content = chat.AttachmentContent{Type: et, Name: files[0].Name, MimeType: files[0].ContentType}
	if err := s.store.AppendOptimistic(pending); err != nil {
		return chat.Message{}, err
	}

	opts := []upload.BatchOption{upload.WithRoom(s.roomID)}
	if progress != nil {
		opts = append(opts, upload.WithProgress(progress))
	}
	res, err := s.mgr.uploader.UploadBatch(ctx, files, opts...)
	if !s.active() {
		return chat.Message{}, ErrSessionClosed
	}
	if err != nil {
		s.store.MarkFailed(pending.TempID, err)
		s.metrics.IncSend(string(et), "upload_error")
		return chat.Message{}, err
	}

	et, body, payload, err := upload.AttachmentMessage(files, res.Locations())
	if err != nil {
		s.store.MarkFailed(pending.TempID, err)
		return chat.Message{}, err
	}
	// The store copy carries the urls so a failed send can be retried.
	if !s.store.SetAttachment(pending.TempID, et, body, payload) {
		return chat.Message{}, ErrSessionClosed
	}
	pending.EntityType = et
	pending.Body = body
	pending.Payload = payload
	return s.deliver(ctx, pending)
}

// Retry resends a failed optimistic message.
func (s *Session) Retry(ctx context.Context, tempID string) (chat.Message, error) {
	m, ok := s.store.Get(tempID)
	if !ok || m.ID != "" || m.Delivery != chat.DeliveryFailed || m.Body == "" {
		return chat.Message{}, ErrUnknownTarget
	}
	if err := s.canSend(); err != nil {
		return chat.Message{}, err
	}
	s.store.Discard(tempID)
	m.Delivery = chat.DeliveryPending
	m.SendErr = ""
	if err := s.store.AppendOptimistic(m); err != nil {
		return chat.Message{}, err
	}
	return s.deliver(ctx, m)
}

func (s *Session) deliver(ctx context.Context, pending chat.Message) (chat.Message, error) {
	confirmed, err := s.backend.SendMessage(ctx, chatapi.SendRequest{
		RoomID:     s.roomID,
		EntityType: pending.EntityType,
		Body:       pending.Body,
		Payload:    pending.Payload,
	})
	if !s.active() {
		return chat.Message{}, ErrSessionClosed
	}
	if err != nil {
		s.store.MarkFailed(pending.TempID, err)
		s.metrics.IncSend(string(pending.EntityType), "error")
		s.log.Warn("send failed", "temp_id", pending.TempID, "error", err)
		return chat.Message{}, err
	}
	if confirmed.SenderID == "" {
		confirmed.SenderID = s.self
	}
	if !s.store.Reconcile(confirmed, pending.TempID) {
		// Push delivered it first and the pending entry was adopted.
		s.store.ApplyCreated(confirmed)
	}
	s.metrics.IncSend(string(pending.EntityType), "ok")
	if m, ok := s.store.Get(confirmed.ID); ok {
		return m, nil
	}
	return confirmed, nil
}

// Delete removes one of the participant's own messages.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	m, ok := s.store.Get(messageID)
	if !ok || m.ID == "" {
		return ErrUnknownTarget
	}
	if err := s.backend.DeleteMessage(ctx, messageID, s.roomID, m.CreatedAt); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	if !s.active() {
		return ErrSessionClosed
	}
	s.store.Remove(messageID)
	return nil
}

// React stores emoji as the message's reaction. An empty emoji clears it.
func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	m, ok := s.store.Get(messageID)
	if !ok || m.ID == "" {
		return ErrUnknownTarget
	}
	payload, err := json.Marshal(struct {
		Reaction string `json:"reaction"`
	}{Reaction: strings.TrimSpace(emoji)})
	if err != nil {
		return err
	}
	updated, err := s.backend.UpdateMessage(ctx, messageID, chatapi.MessageUpdate{Payload: payload})
	if err != nil {
		return fmt.Errorf("react to %s: %w", messageID, err)
	}
	if !s.active() {
		return ErrSessionClosed
	}
	if updated.ID == messageID {
		s.store.ApplyUpdated(updated)
	} else {
		s.store.SetPayload(messageID, payload)
	}
	return nil
}

func (s *Session) canSend() error {
	if !s.active() {
		return ErrSessionClosed
	}
	if !s.machine.CanSend() {
		return ErrSendDisabled
	}
	return nil
}

func (s *Session) applyCutoff(cutoff time.Time) {
	s.pager.SetCutoff(cutoff)
	dropped := s.store.DropThrough(cutoff)
	s.log.Info("history cleared", "dropped", dropped)
}

// Close unsubscribes, stops the event pump and waits for pending read acks.
// It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.subMu.Lock()
		s.closed = true
		sub := s.sub
		s.subMu.Unlock()
		if sub != nil {
			sub.Close()
		}
		s.pump.Wait()
		s.machine.Close()
		s.tracker.Wait()
		s.log.Debug("room closed")
	})
}
