package receipts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type fakeAcker struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]int // remaining failures per id
}

func newFakeAcker() *fakeAcker {
	return &fakeAcker{calls: map[string]int{}, fail: map[string]int{}}
}

func (f *fakeAcker) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.fail[id] > 0 {
		f.fail[id]--
		return errors.New("503")
	}
	return nil
}

func (f *fakeAcker) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func unread(id, sender string, at time.Time) chat.Message {
	return chat.Message{ID: id, SenderID: sender, CreatedAt: at, Delivery: chat.DeliveryConfirmed}
}

var now = time.Date(2024, 7, 15, 18, 0, 0, 0, time.UTC)

func TestAckFiresExactlyOnce(t *testing.T) {
	a := newFakeAcker()
	tr := New(context.Background(), a, "me", logger.NewNop(), WithLocation(time.UTC))
	m := unread("m1", "peer", now)
	tr.Observe(m, 0.6)
	tr.Observe(m, 0.9)
	tr.Observe(m, 0.1)
	tr.Observe(m, 0.7)
	tr.Wait()
	if got := a.count("m1"); got != 1 {
		t.Fatalf("acks: want=1 got=%d", got)
	}
	if !tr.Acked("m1") {
		t.Fatalf("Acked(m1): want true")
	}
}

func TestAckSkipsOwnReadAndHidden(t *testing.T) {
	a := newFakeAcker()
	tr := New(context.Background(), a, "me", logger.NewNop())
	tr.Observe(unread("own", "me", now), 1)
	read := unread("read", "peer", now)
	read.IsRead = true
	tr.Observe(read, 1)
	tr.Observe(unread("half", "peer", now), 0.49)
	tr.Observe(chat.NewPending("r", "peer", chat.EntityText, "x", nil, now), 1)
	tr.Wait()
	for _, id := range []string{"own", "read", "half"} {
		if got := a.count(id); got != 0 {
			t.Fatalf("%s acks: want=0 got=%d", id, got)
		}
	}
	tr.Observe(unread("edge", "peer", now), VisibleThreshold)
	tr.Wait()
	if got := a.count("edge"); got != 1 {
		t.Fatalf("threshold ack: want=1 got=%d", got)
	}
}

func TestFailedAckRetriesOnNextTransition(t *testing.T) {
	a := newFakeAcker()
	a.fail["m1"] = 1
	var acked []string
	tr := New(context.Background(), a, "me", logger.NewNop(), WithOnAck(func(id string) { acked = append(acked, id) }))
	m := unread("m1", "peer", now)
	tr.Observe(m, 1)
	tr.Wait()
	if tr.Acked("m1") {
		t.Fatalf("Acked after failure: want false")
	}
	tr.Observe(m, 1)
	tr.Wait()
	if got := a.count("m1"); got != 1 {
		t.Fatalf("still-visible re-observe must not retry: calls=%d", got)
	}
	tr.Observe(m, 0)
	tr.Observe(m, 1)
	tr.Wait()
	if got := a.count("m1"); got != 2 {
		t.Fatalf("calls after retry: want=2 got=%d", got)
	}
	if len(acked) != 1 || acked[0] != "m1" {
		t.Fatalf("onAck: got %v", acked)
	}
}

func TestDivider(t *testing.T) {
	tr := New(context.Background(), newFakeAcker(), "me", logger.NewNop(), WithLocation(time.UTC))
	if got := tr.Divider(now); got != "" {
		t.Fatalf("empty divider: got %q", got)
	}
	old := unread("a", "me", time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC))
	tr.Observe(old, 1)
	if got := tr.Divider(now); got != "March 9, 2024" {
		t.Fatalf("divider: want=%q got=%q", "March 9, 2024", got)
	}
	today := unread("b", "me", now.Add(-time.Hour))
	tr.Observe(today, 1)
	if got := tr.Divider(now); got != "Today" {
		t.Fatalf("divider: want=%q got=%q", "Today", got)
	}
	sameDay := unread("c", "me", now.Add(-2*time.Hour))
	tr.Observe(sameDay, 1)
	tr.Observe(today, 0)
	if got := tr.Divider(now); got != "Today" {
		t.Fatalf("divider with one of two today hidden: want=%q got=%q", "Today", got)
	}
	tr.Observe(sameDay, 0)
	if got := tr.Divider(now); got != "March 9, 2024" {
		t.Fatalf("divider after hiding today: want=%q got=%q", "March 9, 2024", got)
	}
}

func TestReconciledMessageKeepsOneVisibilityEntry(t *testing.T) {
	tr := New(context.Background(), newFakeAcker(), "me", logger.NewNop(), WithLocation(time.UTC))
	yesterday := time.Date(2024, 7, 14, 23, 59, 0, 0, time.UTC)
	pending := chat.NewPending("r", "me", chat.EntityText, "hi", nil, yesterday)
	tr.Observe(pending, 1)
	if got := tr.Divider(now); got != "July 14, 2024" {
		t.Fatalf("pending divider: want=%q got=%q", "July 14, 2024", got)
	}

	confirmed := pending
	confirmed.ID = "srv-1"
	confirmed.CreatedAt = now.Add(-time.Hour)
	confirmed.Delivery = chat.DeliveryConfirmed
	tr.Observe(confirmed, 1)
	if got := tr.VisibleDays(); len(got) != 1 || got[0] != "2024-07-15" {
		t.Fatalf("visible days after reconcile: got %v", got)
	}

	tr.Observe(confirmed, 0)
	if got := tr.Divider(now); got != "" {
		t.Fatalf("divider after hiding confirmed entry: want empty got %q", got)
	}
}

type blockingAcker struct {
	mu   sync.Mutex
	errs []error
}

func (b *blockingAcker) MarkRead(ctx context.Context, id string) error {
	<-ctx.Done()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, ctx.Err())
	return ctx.Err()
}

func TestAckTimeout(t *testing.T) {
	a := &blockingAcker{}
	tr := New(context.Background(), a, "me", logger.NewNop(), WithAckTimeout(20*time.Millisecond))
	tr.Observe(unread("m1", "peer", now), 1)
	tr.Wait()
	if tr.Acked("m1") {
		t.Fatalf("Acked after timeout: want false")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) != 1 || !errors.Is(a.errs[0], context.DeadlineExceeded) {
		t.Fatalf("ack error: want deadline exceeded got %v", a.errs)
	}
}
