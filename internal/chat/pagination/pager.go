package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/chat/store"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

var ErrFetchInFlight = errors.New("page fetch already in flight")

// Token is the opaque server continuation. The zero Token requests the newest page.
type Token struct {
	value string
	end   bool
}

func Start() Token { return Token{} }

// TokenFrom wraps a server next-token; an empty string marks the last page.
func TokenFrom(next string) Token {
	if next == "" {
		return Token{end: true}
	}
	return Token{value: next}
}

func (t Token) String() string { return t.value }

// End reports that the server has no older page.
func (t Token) End() bool { return t.end }

// Fetcher returns one page, newest first, and the server's next token.
type Fetcher interface {
	ListMessages(ctx context.Context, roomID, nextToken string) ([]chat.Message, string, error)
}

type Page struct {
	RoomID   string
	Messages []chat.Message
	Next     Token
}

// Pager walks a room's history backwards into a store.
type Pager struct {
	fetcher Fetcher
	store   *store.Store
	log     *logger.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	cutoff   time.Time
	next     Token
	started  bool
	inFlight bool
}

func New(f Fetcher, st *store.Store, cutoff time.Time, log *logger.Logger, metrics *observability.Metrics) *Pager {
	return &Pager{
		fetcher: f,
		store:   st,
		cutoff:  cutoff,
		log:     log.With("component", "Pager").Room(st.RoomID()),
		metrics: metrics,
	}
}

// FetchPage fetches one page, reverses it to ascending order and drops
// anything at or before cutoff. When a page crosses the cutoff the returned
// token is marked as the end.
func (p *Pager) FetchPage(ctx context.Context, roomID string, token Token, cutoff time.Time) (Page, error) {
	if token.End() {
		return Page{RoomID: roomID, Next: token}, nil
	}
	raw, next, err := p.fetcher.ListMessages(ctx, roomID, token.String())
	if err != nil {
		p.metrics.IncPageFetch("error")
		return Page{}, fmt.Errorf("list messages room=%s: %w", roomID, err)
	}
	p.metrics.IncPageFetch("ok")
	out := make([]chat.Message, 0, len(raw))
	crossed := false
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if !cutoff.IsZero() && !m.CreatedAt.After(cutoff) {
			crossed = true
			continue
		}
		out = append(out, m)
	}
	nt := TokenFrom(next)
	if crossed {
		nt = Token{end: true}
	}
	return Page{RoomID: roomID, Messages: out, Next: nt}, nil
}

// LoadInitial fetches the newest page and seeds the store.
func (p *Pager) LoadInitial(ctx context.Context) error {
	cutoff, ok := p.begin()
	if !ok {
		return ErrFetchInFlight
	}
	page, err := p.FetchPage(ctx, p.store.RoomID(), Start(), cutoff)
	p.finish(page, err)
	if err != nil {
		return err
	}
	p.store.Seed(page.Messages)
	p.log.Debug("initial page loaded", "count", len(page.Messages), "has_more", !page.Next.End())
	return nil
}

// LoadMore prepends the next older page and returns how many messages were
// new. It is a no-op once the history is exhausted.
func (p *Pager) LoadMore(ctx context.Context) (int, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return 0, p.LoadInitial(ctx)
	}
	if p.next.End() {
		p.mu.Unlock()
		return 0, nil
	}
	p.mu.Unlock()

	cutoff, ok := p.begin()
	if !ok {
		return 0, ErrFetchInFlight
	}
	p.mu.Lock()
	token := p.next
	p.mu.Unlock()
	page, err := p.FetchPage(ctx, p.store.RoomID(), token, cutoff)
	p.finish(page, err)
	if err != nil {
		return 0, err
	}
	added := p.store.Prepend(page.Messages)
	p.log.Debug("older page loaded", "count", len(page.Messages), "added", added, "has_more", !page.Next.End())
	return added, nil
}

func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.started || !p.next.End()
}

// SetCutoff moves the history lower bound after the room was cleared.
func (p *Pager) SetCutoff(t time.Time) {
	p.mu.Lock()
	p.cutoff = t
	p.mu.Unlock()
}

func (p *Pager) begin() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return time.Time{}, false
	}
	p.inFlight = true
	return p.cutoff, true
}

// finish advances the token only on success so a retry reuses it.
func (p *Pager) finish(page Page, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	if err != nil {
		return
	}
	p.started = true
	p.next = page.Next
}
