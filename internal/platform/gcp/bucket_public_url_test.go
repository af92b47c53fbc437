package gcp

import (
	"fmt"
	"testing"
)

func TestResolveObjectStoragePublicBaseURLGCSDefault(t *testing.T) {
	baseURL, source, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode: ObjectStorageModeGCS,
	})
	if err != nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: %v", err)
	}
	if baseURL != "" {
		t.Fatalf("baseURL: want empty got=%q", baseURL)
	}
	if source != "gcs_default" {
		t.Fatalf("source: want=%q got=%q", "gcs_default", source)
	}
}

func TestResolveObjectStoragePublicBaseURLEmulatorFallback(t *testing.T) {
	baseURL, source, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		EmulatorHost: "http://fake-gcs:4443",
	})
	if err != nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: %v", err)
	}
	if baseURL != "http://fake-gcs:4443" {
		t.Fatalf("baseURL: want=%q got=%q", "http://fake-gcs:4443", baseURL)
	}
	if source != "storage_emulator_host" {
		t.Fatalf("source: want=%q got=%q", "storage_emulator_host", source)
	}
}

func TestResolveObjectStoragePublicBaseURLOverride(t *testing.T) {
	baseURL, source, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode:          ObjectStorageModeGCSEmulator,
		EmulatorHost:  "http://fake-gcs:4443",
		PublicBaseURL: "http://localhost:4443/",
	})
	if err != nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: %v", err)
	}
	if baseURL != "http://localhost:4443" {
		t.Fatalf("baseURL: want=%q got=%q", "http://localhost:4443", baseURL)
	}
	if source != "object_storage_public_base_url" {
		t.Fatalf("source: want=%q got=%q", "object_storage_public_base_url", source)
	}
}

func TestResolveObjectStoragePublicBaseURLInvalid(t *testing.T) {
	_, _, err := resolveObjectStoragePublicBaseURL(ObjectStorageConfig{
		Mode:          ObjectStorageModeGCSEmulator,
		EmulatorHost:  "http://fake-gcs:4443",
		PublicBaseURL: "localhost:4443",
	})
	if err == nil {
		t.Fatalf("resolveObjectStoragePublicBaseURL: expected error, got nil")
	}
}

func TestGetPublicURL(t *testing.T) {
	cases := []struct {
		name string
		mb   *MediaBucket
		key  string
		want string
	}{
		{
			name: "gcs default",
			mb:   &MediaBucket{bucket: "chat-media"},
			key:  "rooms/r1/a.png",
			want: "https://storage.googleapis.com/chat-media/rooms/r1/a.png",
		},
		{
			name: "cdn domain",
			mb:   &MediaBucket{bucket: "chat-media", cdnDomain: "cdn.example.com"},
			key:  "rooms/r1/a.pdf",
			want: "https://cdn.example.com/rooms/r1/a.pdf",
		},
		{
			name: "public base url",
			mb:   &MediaBucket{bucket: "chat-media", publicBaseURL: "http://localhost:4443"},
			key:  "/rooms/r1/a.pdf",
			want: "http://localhost:4443/chat-media/rooms/r1/a.pdf",
		},
		{
			name: "emulator media endpoint",
			mb:   &MediaBucket{bucket: "chat-media", storageMode: ObjectStorageModeGCSEmulator, emulatorHost: "http://fake-gcs:4443"},
			key:  "/rooms/r1/a.png",
			want: "http://fake-gcs:4443/storage/v1/b/chat-media/o/rooms%2Fr1%2Fa.png?alt=media",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.mb.GetPublicURL(tc.key); got != tc.want {
				t.Fatalf("GetPublicURL: want=%q got=%q", tc.want, got)
			}
		})
	}
}

func TestPartKeysSortWithinUpload(t *testing.T) {
	a := partKey("rooms/r1/v.mp4", "u1", 2)
	b := partKey("rooms/r1/v.mp4", "u1", 10)
	if a >= b {
		t.Fatalf("part keys must sort numerically: %q >= %q", a, b)
	}
	if want := "rooms/r1/v.mp4.parts/u1/00002"; a != want {
		t.Fatalf("partKey: want=%q got=%q", want, a)
	}
}

func TestComposeGroups(t *testing.T) {
	names := make([]string, 70)
	for i := range names {
		names[i] = fmt.Sprint(i)
	}
	groups := ComposeGroups(names, maxComposeSources)
	if len(groups) != 3 {
		t.Fatalf("groups: want=3 got=%d", len(groups))
	}
	if len(groups[0]) != 32 || len(groups[2]) != 6 {
		t.Fatalf("group sizes: %d, %d", len(groups[0]), len(groups[2]))
	}
	if groups[1][0] != "32" {
		t.Fatalf("second group starts at: want=32 got=%s", groups[1][0])
	}
	if got := ComposeGroups(nil, 32); len(got) != 0 {
		t.Fatalf("empty input: want no groups got %d", len(got))
	}
}

func TestLookupRejectsUnknownUpload(t *testing.T) {
	mb := &MediaBucket{uploads: map[string]pendingUpload{"u1": {key: "a"}}}
	if _, err := mb.lookup("a", "u2"); err == nil {
		t.Fatalf("unknown upload id: want error")
	}
	if _, err := mb.lookup("b", "u1"); err == nil {
		t.Fatalf("key mismatch: want error")
	}
	if _, err := mb.lookup("/a", "u1"); err != nil {
		t.Fatalf("leading slash should be ignored: %v", err)
	}
}
