package receipts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// VisibleThreshold is the fraction of a message that must be on screen for it to count as seen.
const VisibleThreshold = 0.5

type Acker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// Tracker turns visibility observations into at-most-once read acks and
// keeps the set of dates currently on screen.
type Tracker struct {
	ctx           context.Context
	acker         Acker
	participantID string
	log           *logger.Logger
	metrics       *observability.Metrics
	loc           *time.Location
	onAck         func(messageID string)
	ackTimeout    time.Duration

	mu       sync.Mutex
	visible  map[string]string // visibility key -> day
	days     map[string]int    // day -> visible count
	acked    map[string]bool
	inFlight map[string]bool
	wg       sync.WaitGroup
}

type Option func(*Tracker)

// WithLocation sets the zone used for day grouping. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) { t.loc = loc }
}

// WithOnAck registers a callback run after each successful ack.
func WithOnAck(fn func(messageID string)) Option {
	return func(t *Tracker) { t.onAck = fn }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithAckTimeout bounds each read ack. Zero leaves acks bound only by ctx.
func WithAckTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.ackTimeout = d }
}

// New binds the tracker to ctx: acks issued after ctx is done fail fast.
func New(ctx context.Context, acker Acker, participantID string, log *logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		ctx:           ctx,
		acker:         acker,
		participantID: participantID,
		log:           log.With("component", "ReadReceiptTracker"),
		loc:           time.Local,
		visible:       make(map[string]string),
		days:          make(map[string]int),
		acked:         make(map[string]bool),
		inFlight:      make(map[string]bool),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Observe records the visible fraction of msg. Entering view may fire one ack.
func (t *Tracker) Observe(msg chat.Message, fraction float64) {
	key := visibilityKey(msg)
	if key == "" {
		return
	}
	isVisible := fraction >= VisibleThreshold

	t.mu.Lock()
	prev, was := t.visible[key]
	switch {
	case isVisible && !was:
		day := msg.Day(t.loc)
		t.visible[key] = day
		t.days[day]++
	case isVisible && was:
		// The server timestamp of a confirmed send can land on another day.
		if day := msg.Day(t.loc); day != prev {
			t.visible[key] = day
			t.dropDayLocked(prev)
			t.days[day]++
		}
	case !isVisible && was:
		delete(t.visible, key)
		t.dropDayLocked(prev)
	}
	fire := isVisible && !was && t.shouldAckLocked(msg)
	if fire {
		t.inFlight[msg.ID] = true
		t.wg.Add(1)
	}
	t.mu.Unlock()

	if fire {
		go t.ack(msg.ID)
	}
}

func (t *Tracker) dropDayLocked(day string) {
	if t.days[day]--; t.days[day] <= 0 {
		delete(t.days, day)
	}
}

// visibilityKey stays the same across reconciliation: a confirmed message
// keeps the temp id of the pending entry it replaced.
func visibilityKey(msg chat.Message) string {
	if msg.TempID != "" {
		return msg.TempID
	}
	return msg.ID
}

func (t *Tracker) shouldAckLocked(msg chat.Message) bool {
	if msg.ID == "" || msg.IsRead || msg.IsDeleted {
		return false
	}
	if msg.AuthoredBy(t.participantID) {
		return false
	}
	return !t.acked[msg.ID] && !t.inFlight[msg.ID]
}

func (t *Tracker) ack(id string) {
	defer t.wg.Done()
	ctx := t.ctx
	if t.ackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.ackTimeout)
		defer cancel()
	}
	err := t.acker.MarkRead(ctx, id)

	t.mu.Lock()
	delete(t.inFlight, id)
	if err == nil {
		t.acked[id] = true
	}
	t.mu.Unlock()

	if err != nil {
		t.metrics.IncReadAck("error")
		t.log.Warn("read ack failed", "message_id", id, "error", err)
		return
	}
	t.metrics.IncReadAck("ok")
	if t.onAck != nil {
		t.onAck(id)
	}
}

// Acked reports whether id was acknowledged by this tracker.
func (t *Tracker) Acked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acked[id]
}

// VisibleDays returns the days on screen, oldest first.
func (t *Tracker) VisibleDays() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.days))
	for d := range t.days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Divider labels the most recent visible day: "Today" or "January 2, 2006".
// Empty when nothing is visible.
func (t *Tracker) Divider(now time.Time) string {
	days := t.VisibleDays()
	if len(days) == 0 {
		return ""
	}
	return FormatDay(days[len(days)-1], now, t.loc)
}

// FormatDay renders a "2006-01-02" day key relative to now.
func FormatDay(day string, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return ""
	}
	if now.In(loc).Format("2006-01-02") == day {
		return "Today"
	}
	return d.Format("January 2, 2006")
}

// Wait blocks until every in-flight ack has resolved.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
