package upload

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

func memFile(name string, size int) File {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return File{Name: name, Size: int64(size), Reader: bytes.NewReader(data)}
}

func TestPlan(t *testing.T) {
	cases := []struct {
		size, chunk int64
		want        int
		last        int64
	}{
		{12 << 20, ChunkSize, 3, 2 << 20},
		{10 << 20, ChunkSize, 2, 5 << 20},
		{1, ChunkSize, 1, 1},
		{0, ChunkSize, 0, 0},
		{ChunkSize + 1, ChunkSize, 2, 1},
	}
	for _, tc := range cases {
		parts := Plan(tc.size, tc.chunk)
		if len(parts) != tc.want {
			t.Fatalf("Plan(%d): want=%d parts got=%d", tc.size, tc.want, len(parts))
		}
		if tc.want == 0 {
			continue
		}
		var total int64
		for i, p := range parts {
			if p.Number != i+1 {
				t.Fatalf("part %d numbered %d", i, p.Number)
			}
			total += p.Size
		}
		if total != tc.size {
			t.Fatalf("Plan(%d): parts cover %d bytes", tc.size, total)
		}
		if got := parts[len(parts)-1].Size; got != tc.last {
			t.Fatalf("Plan(%d) last part: want=%d got=%d", tc.size, tc.last, got)
		}
	}
}

func TestUploadBatchSingleFile(t *testing.T) {
	store := NewMemoryStore()
	var mu sync.Mutex
	var seen []int
	progress := NewProgress(func(name string, pct int) {
		mu.Lock()
		seen = append(seen, pct)
		mu.Unlock()
	})
	u := New(store, logger.NewNop(), WithPartConcurrency(1))
	f := memFile("clip.mp4", 12<<20)
	res, err := u.UploadBatch(context.Background(), []File{f}, WithProgress(progress), WithRoom("r1"))
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	fr := res.Files[0]
	if fr.Parts != 3 {
		t.Fatalf("parts: want=3 got=%d", fr.Parts)
	}
	if !strings.HasPrefix(fr.Key, "chat-media/rooms/r1/") || !strings.HasSuffix(fr.Key, "/clip.mp4") {
		t.Fatalf("key: got %q", fr.Key)
	}
	obj, ok := store.Object(fr.Key)
	if !ok || int64(len(obj)) != f.Size {
		t.Fatalf("object size: want=%d got=%d", f.Size, len(obj))
	}
	want := make([]byte, f.Size)
	_, _ = f.Reader.ReadAt(want, 0)
	if !bytes.Equal(obj, want) {
		t.Fatalf("object content differs from source")
	}
	if got := progress.Percent("clip.mp4"); got != 100 {
		t.Fatalf("progress: want=100 got=%d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
	if len(res.Locations()) != 1 {
		t.Fatalf("locations: got %v", res.Locations())
	}
}

func TestUploadBatchRejectsOversizeBeforeNetwork(t *testing.T) {
	store := NewMemoryStore()
	u := New(store, logger.NewNop())
	files := []File{memFile("ok.png", 1024), {Name: "huge.mov", Size: MaxFileSize + 1, Reader: bytes.NewReader(nil)}}
	res, err := u.UploadBatch(context.Background(), files)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want *ValidationError got %v", err)
	}
	if res != nil {
		t.Fatalf("result: want nil got %+v", res)
	}
	if names := verr.Names(); len(names) != 1 || names[0] != "huge.mov" {
		t.Fatalf("offending names: got %v", names)
	}
	if !strings.Contains(verr.Error(), "100 MiB") {
		t.Fatalf("error should name the limit: %v", verr)
	}
	if store.BytesReceived() != 0 || store.OpenUploads() != 0 {
		t.Fatalf("network touched: bytes=%d open=%d", store.BytesReceived(), store.OpenUploads())
	}
}

func TestValidateRejectsEmptyAndDuplicate(t *testing.T) {
	err := Validate([]File{memFile("a", 1), memFile("a", 1), {Name: "empty", Reader: bytes.NewReader(nil)}}, MaxFileSize)
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Problems) != 2 {
		t.Fatalf("want two problems got %v", err)
	}
}

func TestUploadBatchPartialFailure(t *testing.T) {
	store := NewMemoryStore()
	store.FailPart = func(key string, part int) error {
		if strings.HasSuffix(key, "/bad.pdf") && part == 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	u := New(store, logger.NewNop(), WithPartConcurrency(1))
	files := []File{memFile("good.png", 6<<20), memFile("bad.pdf", 11<<20)}
	res, err := u.UploadBatch(context.Background(), files)
	var berr *BatchError
	if !errors.As(err, &berr) {
		t.Fatalf("want *BatchError got %v", err)
	}
	if len(berr.Failed) != 1 || berr.Failed[0].Name != "bad.pdf" {
		t.Fatalf("failed files: %+v", berr.Failed)
	}
	if res == nil || res.Files[0].Err != nil || res.Files[0].Location == "" {
		t.Fatalf("sibling should complete: %+v", res)
	}
	if _, ok := store.Object(res.Files[0].Key); !ok {
		t.Fatalf("completed sibling was rolled back")
	}
	if _, ok := store.Object(res.Files[1].Key); ok {
		t.Fatalf("failed file must not be completed")
	}
	aborted := store.Aborted()
	if len(aborted) != 1 || aborted[0] != res.Files[1].Key {
		t.Fatalf("aborted: got %v", aborted)
	}
	if store.OpenUploads() != 0 {
		t.Fatalf("open uploads: want=0 got=%d", store.OpenUploads())
	}
}

func TestSessionCompleteRequiresAllParts(t *testing.T) {
	store := NewMemoryStore()
	sess, err := StartSession(context.Background(), store, "k", "text/plain", 3)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for _, n := range []int{1, 3} {
		etag, _ := store.UploadPart(context.Background(), "k", sess.UploadID, n, strings.NewReader("x"), 1)
		sess.Record(n, etag)
	}
	if _, err := sess.Complete(context.Background()); !errors.Is(err, ErrIncompleteParts) {
		t.Fatalf("Complete with gap: want ErrIncompleteParts got %v", err)
	}
	etag, _ := store.UploadPart(context.Background(), "k", sess.UploadID, 2, strings.NewReader("y"), 1)
	sess.Record(2, etag)
	if _, err := sess.Complete(context.Background()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	obj, _ := store.Object("k")
	if string(obj) != "xyx" {
		t.Fatalf("object: want=%q got=%q", "xyx", obj)
	}
}

func TestResolveEntityType(t *testing.T) {
	cases := []struct {
		name  string
		files []File
		want  chat.EntityType
	}{
		{"pdf", []File{{Name: "a.pdf", ContentType: "application/pdf"}}, chat.EntityDocument},
		{"xlsx by extension", []File{{Name: "sheet.xlsx"}}, chat.EntityDocument},
		{"photo", []File{{Name: "a.jpg", ContentType: "image/jpeg"}}, chat.EntityPhoto},
		{"picker video", []File{{Name: "a.bin", Kind: chat.EntityVideo}}, chat.EntityVideo},
		{"video mime", []File{{Name: "a.mp4", ContentType: "video/mp4"}}, chat.EntityVideo},
		{"many", []File{{Name: "a.jpg"}, {Name: "b.pdf"}}, chat.EntityMedia},
	}
	for _, tc := range cases {
		if got := ResolveEntityType(tc.files); got != tc.want {
			t.Fatalf("%s: want=%q got=%q", tc.name, tc.want, got)
		}
	}
}

func TestAttachmentMessage(t *testing.T) {
	et, body, payload, err := AttachmentMessage(
		[]File{{Name: "a.pdf", ContentType: "application/pdf"}},
		[]string{"https://cdn/a.pdf"},
	)
	if err != nil {
		t.Fatalf("AttachmentMessage: %v", err)
	}
	if et != chat.EntityDocument {
		t.Fatalf("entity: want=%q got=%q", chat.EntityDocument, et)
	}
	c := chat.DecodeContent(et, body, payload)
	ac, ok := c.(chat.AttachmentContent)
	if !ok || len(ac.URLs) != 1 || ac.Name != "a.pdf" || ac.MimeType != "application/pdf" {
		t.Fatalf("decoded: %#v", c)
	}
}
