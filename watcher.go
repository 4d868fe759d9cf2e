// watcher.go: debounced, loop-safe, self-healing configuration file watcher
//
// This module implements change detection for watched configuration files on
// top of Argus polling. Polling is a deliberate choice over native OS
// notification APIs: editors that replace files atomically or hold them with
// locked-file semantics on some platforms defeat inode-based watchers, while
// a fresh stat per poll cycle sees every variant of "the file changed".
//
// Per detected change the watcher applies, in order: self-write suppression
// (echoes of our own writes are not external edits), per-path single-flight,
// debouncing (an editor autosave plus formatter burst collapses into one
// callback), a liveness re-check, and a per-path circuit breaker. Argus-level
// infrastructure errors trigger bounded re-creation of the underlying watch
// with exponential backoff; when the attempt cap is exhausted watching is
// disabled and a single user-visible error is raised.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// WatcherOptions tunes the change-detection pipeline.
type WatcherOptions struct {
	// PollInterval is the Argus polling interval.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// CacheTTL bounds how long Argus caches os.Stat results.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// DebounceDelay is how long a path must stay quiet after a detected
	// change before processing fires.
	DebounceDelay time.Duration `json:"debounce_delay" yaml:"debounce_delay"`

	// WriteIgnoreMargin is added to PollInterval to form the self-write
	// ignore window. The margin keeps the window strictly larger than one
	// poll cycle, so the echo of our own write is always caught.
	WriteIgnoreMargin time.Duration `json:"write_ignore_margin" yaml:"write_ignore_margin"`

	// Breaker configures the per-file circuit breaker.
	Breaker CircuitBreakerConfig `json:"breaker" yaml:"breaker"`

	// MaxRestartAttempts caps automatic re-creation of the underlying watch
	// after infrastructure errors. Once exhausted, watching is disabled.
	MaxRestartAttempts int `json:"max_restart_attempts" yaml:"max_restart_attempts"`

	// RestartBackoff is the base delay for watcher re-creation; each attempt
	// doubles it.
	RestartBackoff time.Duration `json:"restart_backoff" yaml:"restart_backoff"`

	// MaxWatchedFiles is passed through to Argus.
	MaxWatchedFiles int `json:"max_watched_files" yaml:"max_watched_files"`
}

// DefaultWatcherOptions returns production defaults for configuration files
// edited at human pace.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		PollInterval:      1 * time.Second,
		CacheTTL:          500 * time.Millisecond,
		DebounceDelay:     300 * time.Millisecond,
		WriteIgnoreMargin: 750 * time.Millisecond,
		Breaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		MaxRestartAttempts: 5,
		RestartBackoff:     1 * time.Second,
		MaxWatchedFiles:    32,
	}
}

// writeIgnoreWindow is the self-write suppression window: events arriving
// within it after RecordWrite are treated as echoes of our own write.
func (o WatcherOptions) writeIgnoreWindow() time.Duration {
	return o.PollInterval + o.WriteIgnoreMargin
}

// FileWatcherConfig wires a FileWatcher to its host.
type FileWatcherConfig struct {
	// OnProcess is invoked once per settled external change. Required.
	OnProcess func(path string) error

	// OnDelete is invoked when a watched file is removed. Optional.
	OnDelete func(path string)

	// Logger receives watcher diagnostics. A nil logger is silent.
	Logger Logger

	// Notifier receives the single user-visible error raised when watching
	// is permanently disabled. Optional.
	Notifier Notifier

	// Options tunes polling, debouncing and the circuit breaker.
	Options WatcherOptions
}

// watchState is the per-path transient state owned exclusively by the
// watcher. It exists from the first event (or RecordWrite) for a path until
// the path is removed or the watcher state is cleaned up.
type watchState struct {
	lastSelfWrite time.Time
	debounce      *time.Timer
	processing    bool
	breaker       *CircuitBreaker
}

// FileWatcher detects settled external changes to a set of absolute paths.
//
// All maps are guarded by a single mutex; OnProcess and OnDelete callbacks
// are always invoked without the lock held, so they may freely call back
// into RecordWrite or IsProcessing. Events for one path are strictly
// serialized; distinct paths proceed in parallel.
type FileWatcher struct {
	onProcess func(path string) error
	onDelete  func(path string)
	logger    Logger
	notifier  Notifier
	opts      WatcherOptions

	mu              sync.Mutex
	watcher         *argus.Watcher
	started         bool
	disabled        bool
	watched         map[string]bool
	states          map[string]*watchState
	restartAttempts int
	restartTimer    *time.Timer
	stats           WatcherStats
}

// WatcherStats is a snapshot of watcher activity counters.
type WatcherStats struct {
	WatchedFiles      int   `json:"watched_files"`
	EventsSeen        int64 `json:"events_seen"`
	SelfWritesIgnored int64 `json:"self_writes_ignored"`
	ProcessCalls      int64 `json:"process_calls"`
	ProcessFailures   int64 `json:"process_failures"`
	BreakerSkips      int64 `json:"breaker_skips"`
	RestartAttempts   int   `json:"restart_attempts"`
	Disabled          bool  `json:"disabled"`
}

// NewFileWatcher creates a watcher that is not yet observing anything.
func NewFileWatcher(config FileWatcherConfig) (*FileWatcher, error) {
	if config.OnProcess == nil {
		return nil, NewWatcherError("OnProcess callback is required", nil)
	}

	logger := config.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = NewNoOpNotifier()
	}

	return &FileWatcher{
		onProcess: config.OnProcess,
		onDelete:  config.OnDelete,
		logger:    logger,
		notifier:  notifier,
		opts:      config.Options,
		watched:   make(map[string]bool),
		states:    make(map[string]*watchState),
	}, nil
}

// StartWatching begins observing the given absolute paths.
//
// Registration is idempotent per path: re-registering an already watched
// path is a no-op. The underlying Argus watcher is created lazily on first
// use and started once.
func (fw *FileWatcher) StartWatching(paths ...string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.disabled {
		return NewWatcherDisabledError(fw.restartAttempts)
	}

	if fw.watcher == nil {
		fw.watcher = argus.New(fw.argusConfig())
	}

	for _, path := range paths {
		if !filepath.IsAbs(path) {
			return NewWatcherError("watch paths must be absolute: "+path, nil)
		}
		clean := filepath.Clean(path)
		if fw.watched[clean] {
			continue
		}
		if err := fw.watcher.Watch(clean, fw.handleEvent); err != nil {
			return NewWatcherError("failed to watch "+clean, err)
		}
		fw.watched[clean] = true
		fw.logger.Debug("Watching configuration file", "path", clean)
	}

	if !fw.started {
		if err := fw.watcher.Start(); err != nil {
			return NewWatcherError("failed to start polling watcher", err)
		}
		fw.started = true
		fw.logger.Info("File watching started",
			"files", len(fw.watched),
			"poll_interval", fw.opts.PollInterval,
			"debounce_delay", fw.opts.DebounceDelay)
	}
	return nil
}

// StopWatching releases the underlying watcher and cancels every pending
// debounce and restart timer. Safe to call when not started. An in-flight
// OnProcess callback is allowed to run to completion.
func (fw *FileWatcher) StopWatching() {
	fw.mu.Lock()
	if fw.restartTimer != nil {
		fw.restartTimer.Stop()
		fw.restartTimer = nil
	}
	for _, st := range fw.states {
		if st.debounce != nil {
			st.debounce.Stop()
			st.debounce = nil
		}
	}
	watcher := fw.watcher
	fw.watcher = nil
	fw.started = false
	fw.watched = make(map[string]bool)
	fw.states = make(map[string]*watchState)
	fw.mu.Unlock()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			fw.logger.Warn("Failed to stop polling watcher", "error", err)
		}
		fw.logger.Info("File watching stopped")
	}
}

// RecordWrite marks the current instant as the last self-write for path.
//
// The external writer calls this immediately after persisting its own
// change, so the resulting filesystem event is recognized as an echo and
// does not re-enter processing.
func (fw *FileWatcher) RecordWrite(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.stateLocked(filepath.Clean(path)).lastSelfWrite = timecache.CachedTime()
}

// IsProcessing reports whether an OnProcess invocation for path is in flight.
func (fw *FileWatcher) IsProcessing(path string) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	st, ok := fw.states[filepath.Clean(path)]
	return ok && st.processing
}

// CleanupAllState clears all per-path maps without stopping the underlying
// watch. Subsequent events are ignored until paths are registered again.
func (fw *FileWatcher) CleanupAllState() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, st := range fw.states {
		if st.debounce != nil {
			st.debounce.Stop()
			st.debounce = nil
		}
	}
	fw.watched = make(map[string]bool)
	fw.states = make(map[string]*watchState)
}

// Stats returns a snapshot of watcher activity counters.
func (fw *FileWatcher) Stats() WatcherStats {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	stats := fw.stats
	stats.WatchedFiles = len(fw.watched)
	stats.RestartAttempts = fw.restartAttempts
	stats.Disabled = fw.disabled
	return stats
}

// stateLocked returns the watchState for path, creating it if needed.
// Callers must hold fw.mu.
func (fw *FileWatcher) stateLocked(path string) *watchState {
	st, ok := fw.states[path]
	if !ok {
		st = &watchState{breaker: NewCircuitBreaker(fw.opts.Breaker)}
		fw.states[path] = st
	}
	return st
}

func (fw *FileWatcher) argusConfig() argus.Config {
	return argus.Config{
		PollInterval:         fw.opts.PollInterval,
		CacheTTL:             fw.opts.CacheTTL,
		MaxWatchedFiles:      fw.opts.MaxWatchedFiles,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler:         fw.handleWatcherError,
	}
}

// handleEvent is the Argus callback for every tracked path.
func (fw *FileWatcher) handleEvent(event argus.ChangeEvent) {
	fw.mu.Lock()
	if !fw.watched[event.Path] {
		fw.mu.Unlock()
		return
	}
	fw.stats.EventsSeen++

	if event.IsDelete {
		// Clear transient state but keep watch membership, so recreation
		// of the file is still detected.
		if st, ok := fw.states[event.Path]; ok {
			if st.debounce != nil {
				st.debounce.Stop()
			}
			delete(fw.states, event.Path)
		}
		onDelete := fw.onDelete
		fw.mu.Unlock()

		fw.logger.Info("Watched configuration file removed", "path", event.Path)
		if onDelete != nil {
			onDelete(event.Path)
		}
		return
	}

	st := fw.stateLocked(event.Path)

	// An event inside the ignore window is almost certainly the echo of our
	// own write, not an external edit.
	if !st.lastSelfWrite.IsZero() &&
		timecache.CachedTime().Sub(st.lastSelfWrite) < fw.opts.writeIgnoreWindow() {
		fw.stats.SelfWritesIgnored++
		fw.mu.Unlock()
		fw.logger.Debug("Ignoring echo of self-write", "path", event.Path)
		return
	}

	// Single-flight per path.
	if st.processing {
		fw.mu.Unlock()
		fw.logger.Debug("Change during in-flight processing, ignoring", "path", event.Path)
		return
	}

	// Collapse bursts of rapid edits into one processing call.
	if st.debounce != nil {
		st.debounce.Stop()
	}
	path := event.Path
	st.debounce = time.AfterFunc(fw.opts.DebounceDelay, func() {
		fw.processPath(path)
	})
	fw.mu.Unlock()
}

// processPath runs when the debounce timer for path fires.
func (fw *FileWatcher) processPath(path string) {
	fw.mu.Lock()
	st, ok := fw.states[path]
	if !ok || !fw.watched[path] {
		fw.mu.Unlock()
		return
	}
	st.debounce = nil

	// The file may have raced with deletion since the event was seen.
	if _, err := os.Stat(path); err != nil {
		fw.mu.Unlock()
		fw.logger.Debug("File vanished before processing, skipping", "path", path)
		return
	}

	if !st.breaker.AllowRequest() {
		fw.stats.BreakerSkips++
		fw.mu.Unlock()
		fw.logger.Warn("Circuit open for file, skipping processing", "path", path)
		return
	}
	st.breaker.RecordAttempt()
	st.processing = true
	fw.stats.ProcessCalls++
	onProcess := fw.onProcess
	fw.mu.Unlock()

	err := onProcess(path)

	fw.mu.Lock()
	if st, ok := fw.states[path]; ok {
		st.processing = false
		if err == nil {
			st.breaker.RecordSuccess()
		}
	}
	if err != nil {
		fw.stats.ProcessFailures++
	}
	fw.mu.Unlock()

	if err != nil {
		fw.logger.Error("Processing watched file failed", "path", path, "error", err)
	}
}

// handleWatcherError is the Argus error handler. Infrastructure errors are
// escalated into bounded watcher re-creation with exponential backoff.
func (fw *FileWatcher) handleWatcherError(err error, path string) {
	fw.logger.Error("File watching infrastructure error", "path", path, "error", err)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.scheduleRestartLocked()
}

// scheduleRestartLocked arms a one-shot watcher re-creation timer, or
// disables watching once the attempt cap is exhausted. Callers must hold fw.mu.
func (fw *FileWatcher) scheduleRestartLocked() {
	if !fw.started || fw.disabled || fw.restartTimer != nil {
		return
	}

	if fw.restartAttempts >= fw.opts.MaxRestartAttempts {
		fw.disabled = true
		fw.started = false
		watcher := fw.watcher
		fw.watcher = nil
		attempts := fw.restartAttempts

		go func() {
			if watcher != nil {
				_ = watcher.Stop()
			}
			disabledErr := NewWatcherDisabledError(attempts)
			fw.logger.Error("File watching disabled after repeated failures",
				"attempts", attempts)
			fw.notifier.ShowError(disabledErr.Error())
		}()
		return
	}

	delay := fw.opts.RestartBackoff << uint(fw.restartAttempts)
	fw.restartAttempts++
	fw.restartTimer = time.AfterFunc(delay, fw.restartWatcher)
	fw.logger.Warn("Scheduling watcher re-creation",
		"attempt", fw.restartAttempts,
		"delay", delay)
}

// restartWatcher replaces the underlying Argus watcher and re-registers
// every watched path.
func (fw *FileWatcher) restartWatcher() {
	fw.mu.Lock()
	fw.restartTimer = nil
	if fw.disabled || !fw.started {
		fw.mu.Unlock()
		return
	}

	old := fw.watcher
	replacement := argus.New(fw.argusConfig())

	var watchErr error
	for path := range fw.watched {
		if err := replacement.Watch(path, fw.handleEvent); err != nil {
			watchErr = err
			break
		}
	}
	if watchErr == nil {
		watchErr = replacement.Start()
	}

	if watchErr != nil {
		fw.logger.Error("Watcher re-creation failed", "error", watchErr)
		fw.scheduleRestartLocked()
		fw.mu.Unlock()
		_ = replacement.Stop()
		return
	}

	fw.watcher = replacement
	fw.restartAttempts = 0
	fw.mu.Unlock()

	if old != nil {
		_ = old.Stop()
	}
	fw.logger.Info("Watcher re-created successfully")
}
