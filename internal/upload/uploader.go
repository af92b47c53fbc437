package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type Uploader struct {
	store           ObjectStore
	log             *logger.Logger
	metrics         *observability.Metrics
	chunkSize       int64
	maxFileSize     int64
	partConcurrency int
	fileConcurrency int
	keyPrefix       string
}

type Option func(*Uploader)

func WithChunkSize(n int64) Option       { return func(u *Uploader) { u.chunkSize = n } }
func WithMaxFileSize(n int64) Option     { return func(u *Uploader) { u.maxFileSize = n } }
func WithPartConcurrency(n int) Option   { return func(u *Uploader) { u.partConcurrency = n } }
func WithFileConcurrency(n int) Option   { return func(u *Uploader) { u.fileConcurrency = n } }
func WithKeyPrefix(prefix string) Option { return func(u *Uploader) { u.keyPrefix = prefix } }
func WithMetrics(m *observability.Metrics) Option {
	return func(u *Uploader) { u.metrics = m }
}

func New(store ObjectStore, log *logger.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		store:           store,
		log:             log.With("service", "ChunkedUploader"),
		chunkSize:       ChunkSize,
		maxFileSize:     MaxFileSize,
		partConcurrency: 4,
		fileConcurrency: 4,
		keyPrefix:       "chat-media",
	}
	for _, o := range opts {
		o(u)
	}
	if u.partConcurrency <= 0 {
		u.partConcurrency = 1
	}
	if u.fileConcurrency <= 0 {
		u.fileConcurrency = 1
	}
	return u
}

type batchConfig struct {
	progress *Progress
	prefix   string
}

type BatchOption func(*batchConfig)

// WithProgress reports per-file percentages into p.
func WithProgress(p *Progress) BatchOption {
	return func(c *batchConfig) { c.progress = p }
}

// WithRoom namespaces object keys under the room.
func WithRoom(roomID string) BatchOption {
	return func(c *batchConfig) {
		if roomID != "" {
			c.prefix = path.Join(c.prefix, "rooms", roomID)
		}
	}
}

// UploadBatch validates every file, then uploads them concurrently. A
// *ValidationError means nothing was sent. A *BatchError means some files
// failed; the result still lists the ones that completed.
func (u *Uploader) UploadBatch(ctx context.Context, files []File, opts ...BatchOption) (*BatchResult, error) {
	if err := Validate(files, u.maxFileSize); err != nil {
		u.log.Warn("upload batch rejected", "files", len(files), "error", err)
		return nil, err
	}
	cfg := batchConfig{prefix: u.keyPrefix}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, span := observability.StartSpan(ctx, "upload.batch", attribute.Int("files", len(files)))

	res := &BatchResult{Files: make([]FileResult, len(files))}
	var g errgroup.Group
	g.SetLimit(u.fileConcurrency)
	for i := range files {
		i, f := i, files[i]
		key := u.objectKey(cfg.prefix, f.Name)
		if cfg.progress != nil {
			cfg.progress.Register(f.Name, f.Size)
		}
		g.Go(func() error {
			fr := FileResult{Name: f.Name, Key: key, Size: f.Size, Parts: len(Plan(f.Size, u.chunkSize))}
			fr.Location, fr.Err = u.uploadFile(ctx, f, key, cfg.progress)
			if fr.Err != nil {
				u.metrics.IncUploadFile("error")
				u.log.Warn("file upload failed", "file", f.Name, "key", key, "error", fr.Err)
			} else {
				u.metrics.IncUploadFile("ok")
			}
			res.Files[i] = fr
			return nil
		})
	}
	_ = g.Wait()

	var failed []FileResult
	for _, fr := range res.Files {
		if fr.Err != nil {
			failed = append(failed, fr)
		}
	}
	if len(failed) > 0 {
		err := &BatchError{Failed: failed}
		observability.EndSpan(span, err)
		return res, err
	}
	observability.EndSpan(span, nil)
	u.log.Info("upload batch complete", "files", len(files))
	return res, nil
}

func (u *Uploader) uploadFile(ctx context.Context, f File, key string, progress *Progress) (string, error) {
	parts := Plan(f.Size, u.chunkSize)
	sess, err := StartSession(ctx, u.store, key, contentTypeOf(f), len(parts))
	if err != nil {
		return "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.partConcurrency)
	for _, p := range parts {
		p := p
		g.Go(func() error {
			var r io.Reader = io.NewSectionReader(f.Reader, p.Offset, p.Size)
			r = &progressReader{r: r, name: f.Name, p: progress}
			etag, err := u.store.UploadPart(gctx, key, sess.UploadID, p.Number, r, p.Size)
			if err != nil {
				u.metrics.ObserveUploadPart("error", p.Size)
				return fmt.Errorf("part %d/%d: %w", p.Number, len(parts), err)
			}
			u.metrics.ObserveUploadPart("ok", p.Size)
			sess.Record(p.Number, etag)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		u.abort(ctx, sess)
		return "", err
	}
	loc, err := sess.Complete(ctx)
	if err != nil {
		u.abort(ctx, sess)
		return "", err
	}
	return loc, nil
}

func (u *Uploader) abort(ctx context.Context, sess *Session) {
	if err := sess.Abort(context.WithoutCancel(ctx)); err != nil {
		u.log.Warn("abort multipart upload failed", "key", sess.Key, "upload_id", sess.UploadID, "error", err)
	}
}

func (u *Uploader) objectKey(prefix, name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	return path.Join(prefix, uuid.NewString(), base)
}

func contentTypeOf(f File) string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(f.Name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
