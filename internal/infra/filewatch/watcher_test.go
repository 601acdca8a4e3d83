package filewatch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := New(path,
		WithDebounce(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return w
}

func TestWatcher_IsRelevant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickets.json")
	w := newTestWatcher(t, path)

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{name: "write", event: fsnotify.Event{Name: path, Op: fsnotify.Write}, want: true},
		{name: "create", event: fsnotify.Event{Name: path, Op: fsnotify.Create}, want: true},
		{name: "write and chmod", event: fsnotify.Event{Name: path, Op: fsnotify.Write | fsnotify.Chmod}, want: true},
		{name: "chmod only", event: fsnotify.Event{Name: path, Op: fsnotify.Chmod}, want: false},
		{name: "remove", event: fsnotify.Event{Name: path, Op: fsnotify.Remove}, want: false},
		{name: "other file", event: fsnotify.Event{Name: filepath.Join(dir, "other.json"), Op: fsnotify.Write}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.isRelevant(tt.event))
		})
	}
}

func TestWatcher_RunDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickets.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))
	w := newTestWatcher(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	// 監視開始を待ってから連続で書き込む
	time.Sleep(100 * time.Millisecond)
	for range 3 {
		require.NoError(t, os.WriteFile(path, []byte(`[{"id":"t1"}]`), 0o600))
	}
	// 無関係なファイルは無視される
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("[]"), 0o600))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
