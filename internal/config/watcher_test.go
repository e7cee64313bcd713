package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/spellcast/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
keyword:
  spells:
    - trigger: fire ball
`

const watcherUpdatedYAML = `
server:
  log_level: debug
keyword:
  spells:
    - trigger: fire ball
    - trigger: magic missile
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite writes content and moves the mtime forward so that the change is
// visible on filesystems with coarse timestamps.
func rewrite(t *testing.T, path, content string, step int) {
	t.Helper()
	writeFile(t, path, content)
	at := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
}

func newWatchedFile(t *testing.T) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	return cfgPath
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, err := config.NewWatcher(newWatchedFile(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if len(cfg.Keyword.Spells) != 1 {
		t.Errorf("spells: got %d, want 1", len(cfg.Keyword.Spells))
	}
}

func TestWatcher_CheckDetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := newWatchedFile(t)

	var callbackOld, callbackNew *config.Config
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		callbackOld, callbackNew = old, new
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.Check() {
		t.Fatal("Check reported a reload before the file changed")
	}

	rewrite(t, cfgPath, watcherUpdatedYAML, 1)
	if !w.Check() {
		t.Fatal("Check did not report the reload")
	}

	if callbackOld == nil || callbackNew == nil {
		t.Fatal("callback received nil configs")
	}
	if callbackOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", callbackOld.Server.LogLevel, config.LogInfo)
	}
	if callbackNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", callbackNew.Server.LogLevel, config.LogDebug)
	}
	if w.Current() != callbackNew {
		t.Error("Current() should return the reloaded config")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := newWatchedFile(t)

	calls := 0
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) { calls++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := w.Current()

	rewrite(t, cfgPath, watcherInvalidYAML, 1)
	if w.Check() {
		t.Error("Check should not reload an invalid config")
	}
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if w.Current() != before {
		t.Error("Current() should still be the old config")
	}

	// Fixing the file recovers.
	rewrite(t, cfgPath, watcherUpdatedYAML, 2)
	if !w.Check() || calls != 1 {
		t.Errorf("expected recovery after a valid edit, calls = %d", calls)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := newWatchedFile(t)

	calls := 0
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) { calls++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	if w.Check() || calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}

func TestWatcher_MissingFileDuringCheck(t *testing.T) {
	t.Parallel()
	cfgPath := newWatchedFile(t)
	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Remove(cfgPath); err != nil {
		t.Fatal(err)
	}
	if w.Check() {
		t.Error("Check should not reload a missing file")
	}
	if w.Current() == nil {
		t.Error("Current() should keep the last valid config")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	cfgPath := newWatchedFile(t)

	var mu sync.Mutex
	var got *config.Config
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		got = new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, cfgPath, watcherUpdatedYAML, 1)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	mu.Lock()
	if got == nil || got.Server.LogLevel != config.LogDebug {
		t.Errorf("reloaded config = %+v", got)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
