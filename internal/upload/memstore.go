package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ObjectStore for dry runs and tests.
type MemoryStore struct {
	// FailPart, when set, is consulted before each part is stored.
	FailPart func(key string, partNumber int) error
	BaseURL  string

	mu       sync.Mutex
	uploads  map[string]*memUpload
	objects  map[string][]byte
	aborted  []string
	received atomic.Int64
}

type memUpload struct {
	key         string
	contentType string
	parts       map[int][]byte
	etags       map[int]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		BaseURL: "memory://chat-media",
		uploads: map[string]*memUpload{},
		objects: map[string][]byte{},
	}
}

func (m *MemoryStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.uploads[id] = &memUpload{key: key, contentType: contentType, parts: map[int][]byte{}, etags: map[int]string{}}
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.FailPart != nil {
		if err := m.FailPart(key, partNumber); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.received.Add(int64(len(data)))
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return "", fmt.Errorf("unknown upload %s for %s", uploadID, key)
	}
	up.parts[partNumber] = data
	up.etags[partNumber] = etag
	return etag, nil
}

func (m *MemoryStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return "", fmt.Errorf("unknown upload %s for %s", uploadID, key)
	}
	sorted := append([]CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	var buf bytes.Buffer
	for _, p := range sorted {
		if up.etags[p.PartNumber] != p.ETag {
			return "", fmt.Errorf("part %d etag mismatch", p.PartNumber)
		}
		buf.Write(up.parts[p.PartNumber])
	}
	m.objects[key] = buf.Bytes()
	delete(m.uploads, uploadID)
	return m.BaseURL + "/" + key, nil
}

func (m *MemoryStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, key)
	return nil
}

// Object returns a completed object's bytes.
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

func (m *MemoryStore) Aborted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aborted...)
}

// BytesReceived counts every byte accepted by UploadPart.
func (m *MemoryStore) BytesReceived() int64 { return m.received.Load() }

// OpenUploads counts sessions neither completed nor aborted.
func (m *MemoryStore) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}
