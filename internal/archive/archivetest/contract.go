// Package archivetest holds the behaviour every archive backend must share.
package archivetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"shift2me/internal/archive/core"
)

// RunContract exercises put, head, get, list and delete against store.
func RunContract(t *testing.T, store core.Store) { //nolint:cyclop
	t.Helper()
	ctx := context.Background()
	opts := core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"step": "0"}}
	info, err := store.Put(ctx, "titrations/a/step0.list", bytes.NewReader([]byte("1N-H 8.0 120.0\n")), opts)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "titrations/a/step0.list" || info.Size != 15 {
		t.Fatalf("unexpected put info %+v", info)
	}
	if _, err := store.Put(ctx, "titrations/a/step0.list", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists on duplicate put, got %v", err)
	}
	if _, err := store.Put(ctx, "titrations/a/step1.list", bytes.NewReader([]byte("1N-H 8.1 120.0\n")), core.PutOptions{}); err != nil {
		t.Fatalf("put step1: %v", err)
	}
	if _, err := store.Put(ctx, "titrations/b/step0.list", bytes.NewReader([]byte("other")), core.PutOptions{}); err != nil {
		t.Fatalf("put other titration: %v", err)
	}

	head, err := store.Head(ctx, "titrations/a/step0.list")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != 15 || head.ContentType != "text/plain" || head.Metadata["step"] != "0" {
		t.Fatalf("unexpected head %+v", head)
	}

	got, rc, err := store.Get(ctx, "titrations/a/step0.list")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "1N-H 8.0 120.0\n" || got.Key != "titrations/a/step0.list" {
		t.Fatalf("unexpected get %q %+v", body, got)
	}

	if _, err := store.Head(ctx, "titrations/a/missing.list"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "titrations/a/missing.list"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}

	listed, err := store.List(ctx, "titrations/a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].Key != "titrations/a/step0.list" || listed[1].Key != "titrations/a/step1.list" {
		t.Fatalf("unexpected listing %+v", listed)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 objects, got %d (%v)", len(all), err)
	}

	removed, err := store.Delete(ctx, "titrations/a/step0.list")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, "titrations/a/step0.list")
	if err != nil || removed {
		t.Fatalf("second delete should report missing: removed=%v err=%v", removed, err)
	}
}
