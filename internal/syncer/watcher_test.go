package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFileWatcherReportsDataFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	watcher := NewFileWatcher(path, zerolog.Nop())
	changes := make(chan struct{}, 4)
	watcher.OnChange = func() { changes <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	// Give the watch time to attach before writing.
	time.Sleep(200 * time.Millisecond)

	// An unrelated sibling must not fire the callback.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"contacts": []}`), 0o644); err != nil {
		t.Fatalf("write data file: %v", err)
	}

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a change callback for the data file")
	}
	select {
	case <-changes:
		t.Fatalf("sibling write must not produce a second callback")
	case <-time.After(time.Second):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watcher exited with error: %v", err)
	}
}
