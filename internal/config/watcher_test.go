package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForUpdate(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Updates():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  max_iterations: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := NewWatcher(path, initial, WithWatchDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Engine.MaxIterations; got != 5 {
		t.Fatalf("initial max iterations = %d", got)
	}

	if err := os.WriteFile(path, []byte("engine:\n  max_iterations: 9\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	waitForUpdate(t, w)
	if got := w.Current().Engine.MaxIterations; got != 9 {
		t.Errorf("max iterations after reload = %d, want 9", got)
	}
}

func TestWatcherKeepsConfigOnBrokenEdit(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  max_iterations: 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := NewWatcher(path, initial, WithWatchDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("engine: [broken\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	// Give the debounced reload time to run and fail.
	time.Sleep(400 * time.Millisecond)
	select {
	case <-w.Updates():
		t.Fatal("broken config should not publish an update")
	default:
	}
	if got := w.Current().Engine.MaxIterations; got != 7 {
		t.Errorf("max iterations = %d, want unchanged 7", got)
	}
}

func TestWatcherOnChangeHook(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	changed := make(chan int, 1)
	w, err := NewWatcher(path, initial,
		WithWatchDebounce(50*time.Millisecond),
		WithOnChange(func(cfg *Config) { changed <- cfg.Server.Port }))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("server:\n  port: 9002\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case port := <-changed:
		if port != 9002 {
			t.Errorf("hook port = %d, want 9002", port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change hook")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	clearKeyEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9003\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := NewWatcher(path, initial)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestNewWatcherRequiresInputs(t *testing.T) {
	if _, err := NewWatcher("", Default()); err == nil {
		t.Error("empty path should fail")
	}
	if _, err := NewWatcher("/tmp/aide.yaml", nil); err == nil {
		t.Error("nil initial config should fail")
	}
}
