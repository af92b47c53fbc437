package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsAndHashes(t *testing.T) {
	t.Setenv("LOG_REDACTION_ENABLED", "true")

	out := sanitizeKVs([]interface{}{
		"body", "hello there",
		"user_id", "u-123",
		"next_token", "abc",
		"room_id", "r-1",
	})
	if len(out) != 8 {
		t.Fatalf("len: want=8 got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("body: want redacted got=%v", out[1])
	}
	if s, _ := out[3].(string); !strings.HasPrefix(s, "hash:") {
		t.Fatalf("user_id: want hashed got=%v", out[3])
	}
	if out[5] != "abc" {
		t.Fatalf("next_token: want passthrough got=%v", out[5])
	}
	if out[7] != "r-1" {
		t.Fatalf("room_id: want passthrough got=%v", out[7])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"room_id", "r", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("odd kv: got=%v", out)
	}
}

func TestLooksLikeJWT(t *testing.T) {
	if !looksLikeJWT("eyJhbGciOiJIUzI1.eyJzdWIiOiIxMjM0NTY3.sig") {
		t.Fatalf("expected jwt-shaped string to match")
	}
	if looksLikeJWT("a.b.c") {
		t.Fatalf("short segments should not match")
	}
}
