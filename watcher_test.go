// watcher_test.go: change detection pipeline tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWatcherOptions() WatcherOptions {
	return WatcherOptions{
		PollInterval:      40 * time.Millisecond,
		CacheTTL:          20 * time.Millisecond,
		DebounceDelay:     40 * time.Millisecond,
		WriteIgnoreMargin: 300 * time.Millisecond,
		Breaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         time.Hour,
		},
		MaxRestartAttempts: 3,
		RestartBackoff:     50 * time.Millisecond,
		MaxWatchedFiles:    16,
	}
}

func watchedTempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {}}`), 0o644))
	return path
}

// settle lets the polling baseline establish itself so a test only observes
// the events it generates afterwards.
func settle() {
	time.Sleep(200 * time.Millisecond)
}

func modifyFile(t *testing.T, path string, generation int) {
	t.Helper()
	content := fmt.Sprintf(`{"mcpServers": {"gen%d": {"command": "node"}}}`, generation)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewFileWatcher_RequiresOnProcess(t *testing.T) {
	_, err := NewFileWatcher(FileWatcherConfig{})
	require.Error(t, err)

	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error { return nil },
	})
	require.NoError(t, err)
	require.NotNil(t, fw)
}

func TestFileWatcher_RejectsRelativePaths(t *testing.T) {
	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error { return nil },
		Options:   fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	err = fw.StartWatching("relative/settings.json")
	require.Error(t, err)
}

func TestFileWatcher_DetectsExternalChange(t *testing.T) {
	path := watchedTempFile(t)
	var calls atomic.Int64

	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(p string) error {
			assert.Equal(t, path, p)
			calls.Add(1)
			return nil
		},
		Logger:  NewTestLogger(),
		Options: fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	settle()
	calls.Store(0)

	modifyFile(t, path, 1)
	assert.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond, "external change must reach OnProcess")
}

func TestFileWatcher_StartWatchingIsIdempotentPerPath(t *testing.T) {
	path := watchedTempFile(t)
	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error { return nil },
		Options:   fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	require.NoError(t, fw.StartWatching(path))
	assert.Equal(t, 1, fw.Stats().WatchedFiles)
}

func TestFileWatcher_SelfWriteIsSuppressed(t *testing.T) {
	path := watchedTempFile(t)
	var calls atomic.Int64

	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error {
			calls.Add(1)
			return nil
		},
		Logger:  NewTestLogger(),
		Options: fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	settle()
	calls.Store(0)

	// Simulate our own persist: record the write right before touching the
	// file, the way the transformer does.
	fw.RecordWrite(path)
	modifyFile(t, path, 2)

	// Long enough for the event and debounce to have fired if suppression
	// failed.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, int64(0), calls.Load(), "echo of a recorded self-write must not re-enter processing")
	assert.GreaterOrEqual(t, fw.Stats().SelfWritesIgnored, int64(1))
}

func TestFileWatcher_ExternalChangeAfterIgnoreWindow(t *testing.T) {
	path := watchedTempFile(t)
	var calls atomic.Int64

	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error {
			calls.Add(1)
			return nil
		},
		Options: fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	settle()

	fw.RecordWrite(path)
	// Wait out the ignore window, then make a genuine external change.
	time.Sleep(fastWatcherOptions().writeIgnoreWindow() + 100*time.Millisecond)
	calls.Store(0)
	modifyFile(t, path, 3)

	assert.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond, "edits after the ignore window are real changes")
}

func TestFileWatcher_SingleFlightPerPath(t *testing.T) {
	path := watchedTempFile(t)
	release := make(chan struct{})
	var calls atomic.Int64

	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error {
			calls.Add(1)
			<-release
			return nil
		},
		Options: fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	settle()
	calls.Store(0)

	modifyFile(t, path, 4)
	require.Eventually(t, func() bool {
		return fw.IsProcessing(path)
	}, 3*time.Second, 20*time.Millisecond)

	// Changes observed while processing is in flight are dropped, not queued.
	modifyFile(t, path, 5)
	modifyFile(t, path, 6)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool {
		return !fw.IsProcessing(path)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFileWatcher_CircuitBreakerBoundsFailureStorm(t *testing.T) {
	path := watchedTempFile(t)
	opts := fastWatcherOptions()
	opts.Breaker.FailureThreshold = 2
	var calls atomic.Int64

	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error {
			calls.Add(1)
			return NewConfigParseError(path, fmt.Errorf("persistently broken"))
		},
		Logger:  NewTestLogger(),
		Options: opts,
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	settle()
	calls.Store(0)

	modifyFile(t, path, 7)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	modifyFile(t, path, 8)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 3*time.Second, 20*time.Millisecond)

	// The second failed attempt tripped the breaker; further changes are
	// skipped without reaching the callback.
	modifyFile(t, path, 9)
	assert.Eventually(t, func() bool {
		return fw.Stats().BreakerSkips >= 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(2), fw.Stats().ProcessFailures)
}

func TestFileWatcher_DeleteAndRecreate(t *testing.T) {
	path := watchedTempFile(t)
	var processed, deleted atomic.Int64

	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error {
			processed.Add(1)
			return nil
		},
		OnDelete: func(p string) {
			assert.Equal(t, path, p)
			deleted.Add(1)
		},
		Logger:  NewTestLogger(),
		Options: fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	settle()
	processed.Store(0)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return deleted.Load() == 1
	}, 3*time.Second, 20*time.Millisecond, "removal must surface through OnDelete")

	// Membership survives deletion: the file coming back is detected again.
	modifyFile(t, path, 10)
	assert.Eventually(t, func() bool {
		return processed.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond, "recreated file must be processed")
}

func TestFileWatcher_StopWatchingIsSafe(t *testing.T) {
	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error { return nil },
		Options:   fastWatcherOptions(),
	})
	require.NoError(t, err)

	// Never started: stop must not panic or block.
	fw.StopWatching()

	path := watchedTempFile(t)
	require.NoError(t, fw.StartWatching(path))
	fw.StopWatching()
	assert.Equal(t, 0, fw.Stats().WatchedFiles)

	// Stopping twice is fine.
	fw.StopWatching()
}

func TestFileWatcher_CleanupAllState(t *testing.T) {
	path := watchedTempFile(t)
	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error { return nil },
		Options:   fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))
	fw.RecordWrite(path)

	fw.CleanupAllState()
	assert.Equal(t, 0, fw.Stats().WatchedFiles)
	assert.False(t, fw.IsProcessing(path))
}

func TestFileWatcher_StatsSnapshot(t *testing.T) {
	path := watchedTempFile(t)
	fw, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: func(string) error { return nil },
		Options:   fastWatcherOptions(),
	})
	require.NoError(t, err)
	defer fw.StopWatching()

	require.NoError(t, fw.StartWatching(path))

	stats := fw.Stats()
	assert.Equal(t, 1, stats.WatchedFiles)
	assert.False(t, stats.Disabled)
	assert.Equal(t, 0, stats.RestartAttempts)
}
