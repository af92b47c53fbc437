package upload

import (
	"context"
	"io"

	"github.com/yungbote/neurobridge-chat/internal/platform/gcp"
)

type CompletedPart = gcp.CompletedPart

// ObjectStore is the multipart surface the uploader needs. *gcp.MediaBucket
// and *MemoryStore implement it.
type ObjectStore interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}
