package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"forestcensus/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	meta := map[string]string{"purpose": "crown"}
	if _, err := s.Put(ctx, "photos/tc1/ph1/full", strings.NewReader("abc"), core.PutOptions{Metadata: meta}); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["purpose"] = "mutated"
	if _, err := s.Put(ctx, "photos/tc1/ph1/full", strings.NewReader("abc"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	info, rc, err := s.Get(ctx, "photos/tc1/ph1/full")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "abc" || info.Metadata["purpose"] != "crown" || info.ETag == "" {
		t.Fatalf("unexpected blob %+v %q", info, b)
	}
	if _, err := s.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.PresignURL(ctx, "photos/tc1/ph1/full", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
	list, _ := s.List(ctx, "photos/")
	if len(list) != 1 || s.Len() != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, _ := s.Delete(ctx, "photos/tc1/ph1/full"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "photos/tc1/ph1/full"); ok {
		t.Fatalf("expected second delete to report missing")
	}
}
