package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("job:\n  activeDeadlineSeconds: 100\n"), 0o600))

	initial, err := LoadFile(path)
	require.NoError(t, err)
	provider := NewAtomicProvider(initial)

	w := NewWatcher(path, provider, 20*time.Millisecond)
	var reloads atomic.Int32
	w.OnReload(func(*ControllerConfig) { reloads.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("job:\n  activeDeadlineSeconds: 200\n"), 0o600))

	assert.Eventually(t, func() bool {
		return provider.Current().Job.ActiveDeadlineSeconds == 200
	}, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_KeepsLastGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("job:\n  activeDeadlineSeconds: 100\n"), 0o600))

	initial, err := LoadFile(path)
	require.NoError(t, err)
	provider := NewAtomicProvider(initial)

	w := NewWatcher(path, provider, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("job:\n  activeDeadlineSeconds: -1\n"), 0o600))
	w.reload()

	assert.Equal(t, int64(100), provider.Current().Job.ActiveDeadlineSeconds)
}
