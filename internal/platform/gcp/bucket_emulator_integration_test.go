package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

func TestMediaBucketEmulatorMultipartLifecycle(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("CHAT_RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set CHAT_RUN_GCS_EMULATOR_INTEGRATION=true to run emulator integration tests")
	}

	emulatorHost := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST"))
	if emulatorHost == "" {
		emulatorHost = "http://127.0.0.1:4443"
	}
	emulatorHost = strings.TrimRight(emulatorHost, "/")
	if !isEmulatorReachable(t, emulatorHost) {
		t.Skipf("storage emulator not reachable at %s", emulatorHost)
	}

	suffix := time.Now().UnixNano()
	bucketName := fmt.Sprintf("chat-it-media-%d", suffix)
	createBucketIfMissing(t, emulatorHost, bucketName)

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	defer log.Sync()

	ctx := context.Background()
	mb, err := NewMediaBucket(ctx, log, ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		EmulatorHost: emulatorHost,
		Bucket:       bucketName,
	})
	if err != nil {
		t.Fatalf("NewMediaBucket: %v", err)
	}
	defer mb.Close()

	key := fmt.Sprintf("rooms/it/%d/file.txt", suffix)
	chunks := []string{"alpha-", "beta-", "gamma"}

	uploadID, err := mb.CreateMultipartUpload(ctx, key, "text/plain")
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	parts := make([]CompletedPart, 0, len(chunks))
	for i, c := range chunks {
		etag, err := mb.UploadPart(ctx, key, uploadID, i+1, strings.NewReader(c), int64(len(c)))
		if err != nil {
			t.Fatalf("UploadPart(%d): %v", i+1, err)
		}
		parts = append(parts, CompletedPart{PartNumber: i + 1, ETag: etag})
	}
	location, err := mb.CompleteMultipartUpload(ctx, key, uploadID, parts)
	if err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}
	if !strings.Contains(location, bucketName) {
		t.Fatalf("location should reference bucket: %s", location)
	}

	r, err := mb.storageClient.Bucket(bucketName).Object(key).NewReader(ctx)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	body, _ := io.ReadAll(r)
	_ = r.Close()
	if string(body) != strings.Join(chunks, "") {
		t.Fatalf("composed body: want=%q got=%q", strings.Join(chunks, ""), string(body))
	}

	left, err := mb.ListKeys(ctx, partPrefix(key, uploadID))
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("parts should be deleted after completion: %v", left)
	}

	abortID, _ := mb.CreateMultipartUpload(ctx, key+".2", "text/plain")
	if _, err := mb.UploadPart(ctx, key+".2", abortID, 1, strings.NewReader("x"), 1); err != nil {
		t.Fatalf("UploadPart before abort: %v", err)
	}
	if err := mb.AbortMultipartUpload(ctx, key+".2", abortID); err != nil {
		t.Fatalf("AbortMultipartUpload: %v", err)
	}
	left, _ = mb.ListKeys(ctx, partPrefix(key+".2", abortID))
	if len(left) != 0 {
		t.Fatalf("parts should be deleted after abort: %v", left)
	}
}

func isEmulatorReachable(t *testing.T, emulatorHost string) bool {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(emulatorHost + "/storage/v1/b?project=local-dev")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func createBucketIfMissing(t *testing.T, emulatorHost string, bucket string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"name": bucket})
	if err != nil {
		t.Fatalf("json.Marshal(bucket): %v", err)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(
		http.MethodPost,
		emulatorHost+"/storage/v1/b?project=local-dev",
		bytes.NewReader(payload),
	)
	if err != nil {
		t.Fatalf("http.NewRequest(create bucket): %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("create bucket %q: %v", bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
		return
	}
	b, _ := io.ReadAll(resp.Body)
	t.Fatalf("create bucket %q failed: status=%d body=%s", bucket, resp.StatusCode, strings.TrimSpace(string(b)))
}
