package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRelevant(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "pypi.allowlist")
	if err := os.WriteFile(watched, []byte("numpy\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	trigger, err := New([]string{watched}, time.Second, time.Hour, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer trigger.Close()

	if !trigger.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Write}) {
		t.Error("write to watched file should be relevant")
	}
	if !trigger.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Create}) {
		t.Error("atomic replace (create) should be relevant")
	}
	if trigger.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Chmod}) {
		t.Error("chmod must not trigger reconciliation")
	}
	if trigger.relevant(fsnotify.Event{Name: filepath.Join(dir, "other.txt"), Op: fsnotify.Write}) {
		t.Error("unrelated file in the same directory must be ignored")
	}
}

func TestRun_ResyncTick(t *testing.T) {
	trigger, err := New(nil, 10*time.Millisecond, 20*time.Millisecond, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer trigger.Close()

	var fires atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_ = trigger.Run(ctx, func(ctx context.Context) {
		fires.Add(1)
	})
	if fires.Load() < 2 {
		t.Fatalf("expected periodic resync to fire repeatedly, got %d", fires.Load())
	}
}

func TestRun_DebouncedFileChange(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "pypi.allowlist")
	if err := os.WriteFile(watched, []byte("numpy\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	trigger, err := New([]string{watched}, 30*time.Millisecond, time.Hour, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer trigger.Close()

	var fires atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = trigger.Run(ctx, func(ctx context.Context) {
			fires.Add(1)
		})
	}()

	// A burst of writes should coalesce into one firing.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(watched, []byte("numpy\npandas\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	<-done
	if got := fires.Load(); got != 1 {
		t.Fatalf("expected one debounced firing for the burst, got %d", got)
	}
}
