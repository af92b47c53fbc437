package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// maxComposeSources is the GCS limit on sources per compose request.
const maxComposeSources = 32

var ErrUnknownUpload = errors.New("unknown multipart upload")

type CompletedPart struct {
	PartNumber int
	ETag       string
}

// MediaBucket stores chat attachments. GCS has no multipart API, so each part
// is written as a temporary object under <key>.parts/<uploadID>/ and the parts
// are composed into the final object on completion.
type MediaBucket struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	emulatorHost  string
	bucket        string
	cdnDomain     string
	publicBaseURL string

	mu      sync.Mutex
	uploads map[string]pendingUpload
}

type pendingUpload struct {
	key         string
	contentType string
}

func NewMediaBucket(ctx context.Context, log *logger.Logger, storageCfg ObjectStorageConfig) (*MediaBucket, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	if storageCfg.Mode == ObjectStorageModeMemory {
		return nil, fmt.Errorf("object storage mode %q has no bucket", storageCfg.Mode)
	}
	serviceLog := log.With("service", "MediaBucket")

	publicBaseURL, publicBaseSource, err := resolveObjectStoragePublicBaseURL(storageCfg)
	if err != nil {
		return nil, err
	}
	stClient, err := newStorageClientForMode(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"public_base_source", publicBaseSource,
		"public_base_url", publicBaseURL,
		"bucket", storageCfg.Bucket,
	)

	return &MediaBucket{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"),
		bucket:        storageCfg.Bucket,
		cdnDomain:     storageCfg.CDNDomain,
		publicBaseURL: publicBaseURL,
		uploads:       make(map[string]pendingUpload),
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
		if creds := strings.TrimSpace(storageCfg.Credentials); strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else if creds != "" {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

func resolveObjectStoragePublicBaseURL(storageCfg ObjectStorageConfig) (baseURL string, source string, err error) {
	raw := strings.TrimSpace(storageCfg.PublicBaseURL)
	if raw != "" {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return "", "", fmt.Errorf(
				"invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443",
				raw,
			)
		}
		return strings.TrimRight(raw, "/"), "object_storage_public_base_url", nil
	}
	if storageCfg.IsEmulatorMode() {
		return strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"), "storage_emulator_host", nil
	}
	return "", "gcs_default", nil
}

func partPrefix(key, uploadID string) string {
	return fmt.Sprintf("%s.parts/%s/", key, uploadID)
}

func partKey(key, uploadID string, partNumber int) string {
	return fmt.Sprintf("%s%05d", partPrefix(key, uploadID), partNumber)
}

// CreateMultipartUpload registers an upload session and returns its id.
func (mb *MediaBucket) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("object key required")
	}
	id := uuid.NewString()
	mb.mu.Lock()
	mb.uploads[id] = pendingUpload{key: key, contentType: contentType}
	mb.mu.Unlock()
	mb.log.Debug("multipart upload created", "key", key, "upload_id", id)
	return id, nil
}

func (mb *MediaBucket) lookup(key, uploadID string) (pendingUpload, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	up, ok := mb.uploads[uploadID]
	if !ok || up.key != strings.TrimLeft(strings.TrimSpace(key), "/") {
		return pendingUpload{}, fmt.Errorf("%w: key=%s upload_id=%s", ErrUnknownUpload, key, uploadID)
	}
	return up, nil
}

// UploadPart writes one part object and returns its etag.
func (mb *MediaBucket) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	up, err := mb.lookup(key, uploadID)
	if err != nil {
		return "", err
	}
	if partNumber < 1 {
		return "", fmt.Errorf("part number must be >= 1, got %d", partNumber)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := mb.storageClient.Bucket(mb.bucket).Object(partKey(up.key, uploadID, partNumber)).NewWriter(ctx)
	w.ChunkSize = 0
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write part %d to GCS: %w", partNumber, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for part %d: %w", partNumber, err)
	}
	if size > 0 && n != size {
		return "", fmt.Errorf("part %d: wrote %d bytes, want %d", partNumber, n, size)
	}
	return w.Attrs().Etag, nil
}

// CompleteMultipartUpload checks every part's etag, composes the parts into
// the final object and deletes them. It returns the public URL.
func (mb *MediaBucket) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	up, err := mb.lookup(key, uploadID)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("complete %s: no parts", up.key)
	}
	sorted := append([]CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	for i, p := range sorted {
		if p.PartNumber != i+1 {
			return "", fmt.Errorf("complete %s: parts not contiguous at %d", up.key, p.PartNumber)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	stored, err := mb.listETags(ctx, partPrefix(up.key, uploadID))
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(sorted))
	for _, p := range sorted {
		name := partKey(up.key, uploadID, p.PartNumber)
		etag, ok := stored[name]
		if !ok {
			return "", fmt.Errorf("complete %s: part %d missing", up.key, p.PartNumber)
		}
		if etag != p.ETag {
			return "", fmt.Errorf("complete %s: part %d etag mismatch", up.key, p.PartNumber)
		}
		names = append(names, name)
	}

	if err := mb.compose(ctx, up, uploadID, names); err != nil {
		return "", err
	}
	mb.cleanup(ctx, up.key, uploadID)
	mb.mu.Lock()
	delete(mb.uploads, uploadID)
	mb.mu.Unlock()
	return mb.GetPublicURL(up.key), nil
}

// compose folds names into the final object, in rounds of at most 32 sources.
func (mb *MediaBucket) compose(ctx context.Context, up pendingUpload, uploadID string, names []string) error {
	bkt := mb.storageClient.Bucket(mb.bucket)
	round := 0
	for len(names) > maxComposeSources {
		groups := ComposeGroups(names, maxComposeSources)
		next := make([]string, 0, len(groups))
		for i, g := range groups {
			dst := fmt.Sprintf("%scompose-%02d-%05d", partPrefix(up.key, uploadID), round, i)
			if _, err := bkt.Object(dst).ComposerFrom(objectHandles(bkt, g)...).Run(ctx); err != nil {
				return fmt.Errorf("compose round %d group %d: %w", round, i, err)
			}
			next = append(next, dst)
		}
		names = next
		round++
	}
	c := bkt.Object(up.key).ComposerFrom(objectHandles(bkt, names)...)
	if up.contentType != "" {
		c.ContentType = up.contentType
	}
	if _, err := c.Run(ctx); err != nil {
		return fmt.Errorf("compose %s: %w", up.key, err)
	}
	return nil
}

// ComposeGroups splits names into consecutive groups of at most size.
func ComposeGroups(names []string, size int) [][]string {
	if size <= 0 {
		size = maxComposeSources
	}
	out := make([][]string, 0, (len(names)+size-1)/size)
	for start := 0; start < len(names); start += size {
		end := start + size
		if end > len(names) {
			end = len(names)
		}
		out = append(out, names[start:end])
	}
	return out
}

func objectHandles(bkt *storage.BucketHandle, names []string) []*storage.ObjectHandle {
	out := make([]*storage.ObjectHandle, 0, len(names))
	for _, n := range names {
		out = append(out, bkt.Object(n))
	}
	return out
}

// AbortMultipartUpload deletes every part written so far.
func (mb *MediaBucket) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	up, err := mb.lookup(key, uploadID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	mb.cleanup(ctx, up.key, uploadID)
	mb.mu.Lock()
	delete(mb.uploads, uploadID)
	mb.mu.Unlock()
	mb.log.Debug("multipart upload aborted", "key", up.key, "upload_id", uploadID)
	return nil
}

func (mb *MediaBucket) cleanup(ctx context.Context, key, uploadID string) {
	keys, err := mb.ListKeys(ctx, partPrefix(key, uploadID))
	if err != nil {
		mb.log.Warn("list multipart parts failed", "key", key, "upload_id", uploadID, "error", err)
		return
	}
	bkt := mb.storageClient.Bucket(mb.bucket)
	for _, k := range keys {
		if err := bkt.Object(k).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			mb.log.Warn("delete multipart part failed", "object", k, "error", err)
		}
	}
}

func (mb *MediaBucket) listETags(ctx context.Context, prefix string) (map[string]string, error) {
	it := mb.storageClient.Bucket(mb.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := map[string]string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list parts %s: %w", prefix, err)
		}
		out[attrs.Name] = attrs.Etag
	}
	return out, nil
}

func (mb *MediaBucket) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	etags, err := mb.listETags(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(etags))
	for k := range etags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (mb *MediaBucket) GetPublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if mb.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", mb.cdnDomain, key)
	}
	if mb.storageMode == ObjectStorageModeGCSEmulator {
		if u := mb.publicEmulatorObjectMediaURL(key); u != "" {
			return u
		}
	}
	if mb.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", mb.publicBaseURL, mb.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", mb.bucket, key)
}

func (mb *MediaBucket) publicEmulatorObjectMediaURL(key string) string {
	base := strings.TrimRight(strings.TrimSpace(mb.publicBaseURL), "/")
	if base == "" {
		base = strings.TrimRight(strings.TrimSpace(mb.emulatorHost), "/")
	}
	if base == "" {
		return ""
	}
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		base,
		url.PathEscape(mb.bucket),
		url.PathEscape(key),
	)
}

func (mb *MediaBucket) Close() error {
	if mb == nil || mb.storageClient == nil {
		return nil
	}
	return mb.storageClient.Close()
}
