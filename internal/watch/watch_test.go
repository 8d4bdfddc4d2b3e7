package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string, calls *atomic.Int64) *Watcher {
	t.Helper()
	w, err := New(path, func() { calls.Add(1) }, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return w
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWritesAreDebounced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats-user.db")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	var calls atomic.Int64
	startWatcher(t, path, &calls)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path+"-wal", []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if !waitFor(func() bool { return calls.Load() >= 1 }, 2*time.Second) {
		t.Fatalf("expected a trigger after writes")
	}
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n > 2 {
		t.Fatalf("expected writes to be coalesced, got %d triggers", n)
	}
}

func TestUnrelatedFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats-user.db")
	var calls atomic.Int64
	startWatcher(t, path, &calls)

	if err := os.WriteFile(filepath.Join(dir, "prefs-user.db"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("expected no trigger, got %d", n)
	}
}

func TestStartTwice(t *testing.T) {
	var calls atomic.Int64
	w := startWatcher(t, filepath.Join(t.TempDir(), "stats.db"), &calls)
	if err := w.Start(); err == nil {
		t.Fatalf("expected second Start to fail")
	}
}
