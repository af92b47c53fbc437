package upload

import (
	"io"
	"math"
	"sync"
)

// Progress tracks per-file byte progress across concurrently uploading parts.
type Progress struct {
	mu       sync.Mutex
	total    map[string]int64
	loaded   map[string]int64
	last     map[string]int
	onChange func(name string, percent int)
}

func NewProgress(onChange func(name string, percent int)) *Progress {
	return &Progress{
		total:    map[string]int64{},
		loaded:   map[string]int64{},
		last:     map[string]int{},
		onChange: onChange,
	}
}

func (p *Progress) Register(name string, total int64) {
	p.mu.Lock()
	p.total[name] = total
	p.loaded[name] = 0
	p.last[name] = 0
	p.mu.Unlock()
}

// Add records n more bytes for name and fires onChange when the percentage moves.
func (p *Progress) Add(name string, n int64) {
	p.mu.Lock()
	p.loaded[name] += n
	pct := percent(p.loaded[name], p.total[name])
	changed := pct != p.last[name]
	p.last[name] = pct
	cb := p.onChange
	p.mu.Unlock()
	if changed && cb != nil {
		cb(name, pct)
	}
}

func (p *Progress) Percent(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return percent(p.loaded[name], p.total[name])
}

func (p *Progress) Snapshot() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.total))
	for name, total := range p.total {
		out[name] = percent(p.loaded[name], total)
	}
	return out
}

func percent(loaded, total int64) int {
	if total <= 0 {
		return 0
	}
	if loaded > total {
		loaded = total
	}
	return int(math.Round(float64(loaded) / float64(total) * 100))
}

type progressReader struct {
	r    io.Reader
	name string
	p    *Progress
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 && pr.p != nil {
		pr.p.Add(pr.name, int64(n))
	}
	return n, err
}
