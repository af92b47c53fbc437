package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrIncompleteParts = errors.New("multipart upload is missing parts")

// Session is one file's multipart upload. Complete only succeeds once every
// planned part has reported its etag.
type Session struct {
	store       ObjectStore
	Key         string
	UploadID    string
	ContentType string
	planned     int

	mu      sync.Mutex
	parts   map[int]string
	aborted bool
}

func StartSession(ctx context.Context, store ObjectStore, key, contentType string, planned int) (*Session, error) {
	id, err := store.CreateMultipartUpload(ctx, key, contentType)
	if err != nil {
		return nil, fmt.Errorf("create multipart upload %s: %w", key, err)
	}
	return &Session{
		store:       store,
		Key:         key,
		UploadID:    id,
		ContentType: contentType,
		planned:     planned,
		parts:       make(map[int]string, planned),
	}, nil
}

func (s *Session) Record(partNumber int, etag string) {
	s.mu.Lock()
	s.parts[partNumber] = etag
	s.mu.Unlock()
}

// Parts returns the recorded parts in order.
func (s *Session) Parts() []CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CompletedPart, 0, len(s.parts))
	for n, etag := range s.parts {
		out = append(out, CompletedPart{PartNumber: n, ETag: etag})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}

func (s *Session) Complete(ctx context.Context) (string, error) {
	parts := s.Parts()
	if len(parts) != s.planned {
		return "", fmt.Errorf("%w: have %d of %d", ErrIncompleteParts, len(parts), s.planned)
	}
	for i, p := range parts {
		if p.PartNumber != i+1 || p.ETag == "" {
			return "", fmt.Errorf("%w: part %d", ErrIncompleteParts, i+1)
		}
	}
	loc, err := s.store.CompleteMultipartUpload(ctx, s.Key, s.UploadID, parts)
	if err != nil {
		return "", fmt.Errorf("complete multipart upload %s: %w", s.Key, err)
	}
	return loc, nil
}

// Abort discards the session's parts. Repeated calls are no-ops.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return nil
	}
	s.aborted = true
	s.mu.Unlock()
	return s.store.AbortMultipartUpload(ctx, s.Key, s.UploadID)
}
