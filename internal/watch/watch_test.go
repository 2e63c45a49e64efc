package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestScanOrdersByStep(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"titr10.list", "titr2.list", "notes.md", "titr0.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("1 8 120\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "titr3.list"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{filepath.Join(dir, "titr0.txt"), filepath.Join(dir, "titr2.list"), filepath.Join(dir, "titr10.list")}
	if !slices.Equal(got, want) {
		t.Fatalf("scan = %v, want %v", got, want)
	}
	if _, err := Scan(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestWatchReportsSettledStepFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := make(chan string, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, dir, func(path string) { seen <- path }, WithDebounce(100*time.Millisecond))
	}()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "ignored.csv"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	target := filepath.Join(dir, "titr0.list")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte("1 8 120\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case got := <-seen:
		if got != target {
			t.Fatalf("unexpected file %s", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for step file")
	}
	select {
	case extra := <-seen:
		t.Fatalf("rapid writes must be debounced, got extra %s", extra)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected watch result %v", err)
	}
}

func TestWatchReportsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"titr1.list", "titr0.list"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("1 8 120\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	err := Watch(ctx, dir, func(path string) {
		seen = append(seen, filepath.Base(path))
		if len(seen) == 2 {
			cancel()
		}
	}, WithExisting())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected watch result %v", err)
	}
	if !slices.Equal(seen, []string{"titr0.list", "titr1.list"}) {
		t.Fatalf("unexpected existing files %v", seen)
	}
}

func TestWatchMissingDir(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope"), func(string) {})
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
