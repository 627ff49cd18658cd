package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestValidKey(t *testing.T) {
	cases := map[string]bool{
		"files/f1/cover.png": true,
		"cover.png":          true,
		"":                   false,
		"/files/f1/x":        false,
		"files/../secrets":   false,
		"files//x":           false,
		"files/./x":          false,
	}
	for key, want := range cases {
		if got := ValidKey(key); got != want {
			t.Fatalf("ValidKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Config{Bucket: "b"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := New(Config{Endpoint: "localhost:9000"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestInvalidKeysFailBeforeNetwork(t *testing.T) {
	s, err := New(Config{Endpoint: "localhost:1", Bucket: "files"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, "../x", strings.NewReader("x"), 1, "text/plain"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Put error = %v", err)
	}
	if err := s.Remove(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Remove error = %v", err)
	}
	if _, err := s.PresignedURL(ctx, "/abs", time.Minute); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("PresignedURL error = %v", err)
	}
}
