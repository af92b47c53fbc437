package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/chat/store"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeFetcher serves a fixed history newest-first in pages of size.
type fakeFetcher struct {
	mu      sync.Mutex
	history []chat.Message // ascending
	size    int
	calls   []string
	failOn  map[int]error
	block   chan struct{}
}

func (f *fakeFetcher) ListMessages(ctx context.Context, roomID, next string) ([]chat.Message, string, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, next)
	err := f.failOn[call]
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, "", err
	}
	end := len(f.history)
	if next != "" {
		fmt.Sscanf(next, "%d", &end)
	}
	start := end - f.size
	if start < 0 {
		start = 0
	}
	out := make([]chat.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, f.history[i])
	}
	nt := ""
	if start > 0 {
		nt = fmt.Sprint(start)
	}
	return out, nt, nil
}

func history(n int) []chat.Message {
	out := make([]chat.Message, n)
	for i := range out {
		out[i] = chat.Message{
			ID:        fmt.Sprintf("m%03d", i),
			RoomID:    "r",
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
			Delivery:  chat.DeliveryConfirmed,
		}
	}
	return out
}

func newPager(f Fetcher, cutoff time.Time) (*Pager, *store.Store) {
	st := store.New("r")
	return New(f, st, cutoff, logger.NewNop(), nil), st
}

func TestLoadInitialAndMore(t *testing.T) {
	f := &fakeFetcher{history: history(25), size: 10}
	p, st := newPager(f, time.Time{})
	if err := p.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	snap := st.Snapshot()
	if len(snap) != 10 || snap[0].ID != "m015" || snap[9].ID != "m024" {
		t.Fatalf("initial page: len=%d first=%s", len(snap), snap[0].ID)
	}
	for p.HasMore() {
		if _, err := p.LoadMore(context.Background()); err != nil {
			t.Fatalf("LoadMore: %v", err)
		}
	}
	if st.Len() != 25 {
		t.Fatalf("len: want=25 got=%d", st.Len())
	}
	if n, err := p.LoadMore(context.Background()); n != 0 || err != nil {
		t.Fatalf("LoadMore past end: n=%d err=%v", n, err)
	}
	if len(f.calls) != 3 {
		t.Fatalf("calls: want=3 got=%d", len(f.calls))
	}
}

func TestCutoffDropsOlderAndEnds(t *testing.T) {
	f := &fakeFetcher{history: history(25), size: 10}
	cutoff := t0.Add(12 * time.Minute)
	p, st := newPager(f, cutoff)
	_ = p.LoadInitial(context.Background())
	_, _ = p.LoadMore(context.Background())
	for _, m := range st.Snapshot() {
		if !m.CreatedAt.After(cutoff) {
			t.Fatalf("message %s at %v not after cutoff", m.ID, m.CreatedAt)
		}
	}
	if st.Len() != 12 {
		t.Fatalf("len: want=12 got=%d", st.Len())
	}
	if p.HasMore() {
		t.Fatalf("HasMore after crossing cutoff: want false")
	}
}

func TestFailedFetchDoesNotAdvance(t *testing.T) {
	f := &fakeFetcher{history: history(25), size: 10, failOn: map[int]error{1: errors.New("503")}}
	p, st := newPager(f, time.Time{})
	_ = p.LoadInitial(context.Background())
	if _, err := p.LoadMore(context.Background()); err == nil {
		t.Fatalf("LoadMore: want error")
	}
	if _, err := p.LoadMore(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.calls[1] != f.calls[2] {
		t.Fatalf("retry token: want=%q got=%q", f.calls[1], f.calls[2])
	}
	if st.Len() != 20 {
		t.Fatalf("len: want=20 got=%d", st.Len())
	}
}

func TestConcurrentLoadMoreRejected(t *testing.T) {
	f := &fakeFetcher{history: history(25), size: 10}
	p, _ := newPager(f, time.Time{})
	_ = p.LoadInitial(context.Background())

	f.mu.Lock()
	f.block = make(chan struct{})
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := p.LoadMore(context.Background())
		done <- err
	}()
	deadline := time.Now().Add(time.Second)
	for {
		f.mu.Lock()
		n := len(f.calls)
		f.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first LoadMore never reached the fetcher")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := p.LoadMore(context.Background()); !errors.Is(err, ErrFetchInFlight) {
		t.Fatalf("second LoadMore: want ErrFetchInFlight got %v", err)
	}
	close(f.block)
	if err := <-done; err != nil {
		t.Fatalf("first LoadMore: %v", err)
	}
}

func TestSamePageTwiceIsIdempotent(t *testing.T) {
	f := &fakeFetcher{history: history(5), size: 10}
	p, st := newPager(f, time.Time{})
	page, err := p.FetchPage(context.Background(), "r", Start(), time.Time{})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !page.Next.End() {
		t.Fatalf("single page history: want end token")
	}
	st.Seed(page.Messages)
	if n := st.Prepend(page.Messages); n != 0 {
		t.Fatalf("prepend same page: want=0 got=%d", n)
	}
}
