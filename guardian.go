// guardian.go: lifecycle manager tying watcher, transformer and registry together
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agilira/argus"
)

// Guardian owns the complete wrap lifecycle for one host instance: it wraps
// the configured files, keeps them wrapped as they change on disk, records
// ownership in the wrap registry, and restores exactly the files it owns at
// teardown.
//
// Control flow: the watcher detects a settled change, the transformer
// rewraps the file, the watcher is told to ignore the resulting self-write,
// and the registry is updated.
//
// Usage example:
//
//	guardian, err := NewGuardian(DefaultGuardOptions("vscode-stable"), logger, nil)
//	if err != nil {
//	    return err
//	}
//	if err := guardian.Start(ctx, configPath); err != nil {
//	    return err
//	}
//	defer guardian.Teardown()
type Guardian struct {
	opts        GuardOptions
	logger      Logger
	notifier    Notifier
	registry    *Registry
	transformer *Transformer
	watcher     *FileWatcher
	auditLogger *argus.AuditLogger

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	mutex    sync.Mutex
}

// GuardianStats aggregates the activity counters of all subsystems.
type GuardianStats struct {
	Watcher   WatcherStats   `json:"watcher"`
	Transform TransformStats `json:"transform"`
}

// NewGuardian creates a guardian from options. The logger may be a Logger
// implementation or nil; the notifier is optional.
func NewGuardian(opts GuardOptions, logger any, notifier Notifier) (*Guardian, error) {
	opts.applyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	internalLogger := NewLogger(logger)
	if notifier == nil {
		notifier = NewNoOpNotifier()
	}

	var auditLogger *argus.AuditLogger
	if opts.Audit.Enabled {
		var err error
		auditLogger, err = argus.NewAuditLogger(opts.Audit)
		if err != nil {
			return nil, NewAuditError("failed to create audit logger", err)
		}
	}

	g := &Guardian{
		opts:        opts,
		logger:      internalLogger,
		notifier:    notifier,
		registry:    NewRegistry(opts.RegistryRoot, internalLogger),
		auditLogger: auditLogger,
	}

	watcher, err := NewFileWatcher(FileWatcherConfig{
		OnProcess: g.processFile,
		OnDelete:  g.handleDelete,
		Logger:    internalLogger,
		Notifier:  notifier,
		Options:   opts.Watcher,
	})
	if err != nil {
		return nil, err
	}
	g.watcher = watcher

	g.transformer = NewTransformer(TransformerConfig{
		Resolver:     opts.resolver(),
		Registry:     g.registry,
		HostIdentity: opts.HostIdentity,
		Recorder:     watcher,
		Logger:       internalLogger,
		Notifier:     notifier,
	})

	return g, nil
}

// Start wraps every given configuration file and begins watching them.
// Per-file failures are logged and do not abort the remaining files.
func (g *Guardian) Start(ctx context.Context, paths ...string) error {
	if g.stopped.Load() {
		return NewWatcherStoppedError("guardian has been torn down and cannot be restarted")
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if !g.enabled.CompareAndSwap(false, true) {
		return NewWatcherError("guardian is already running", nil)
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			g.enabled.Store(false)
			return NewWatcherError("start cancelled", err)
		}
		changed, err := g.transformer.Wrap(path)
		if err != nil {
			g.logger.Error("Initial wrap failed", "path", path, "error", err)
			continue
		}
		if changed {
			g.auditEvent("file_wrapped", map[string]interface{}{
				"path": path, "host": g.opts.HostIdentity, "source": "initial_wrap",
			})
		}
	}

	if err := g.watcher.StartWatching(paths...); err != nil {
		g.enabled.Store(false)
		return err
	}

	g.logger.Info("Guardian started",
		"host", g.opts.HostIdentity,
		"files", len(paths))
	g.auditEvent("guardian_started", map[string]interface{}{
		"host": g.opts.HostIdentity, "files": len(paths),
	})
	return nil
}

// WrapFile wraps a single file now, outside the watch loop.
func (g *Guardian) WrapFile(path string) (bool, error) {
	return g.transformer.Wrap(path)
}

// UnwrapFile restores a single file now, outside the watch loop.
func (g *Guardian) UnwrapFile(path string) (bool, error) {
	return g.transformer.Unwrap(path)
}

// WrappedFiles lists the files currently recorded as wrapped by this
// guardian's host identity.
func (g *Guardian) WrappedFiles() ([]string, error) {
	return g.registry.List(g.opts.HostIdentity)
}

// Stats returns a snapshot of all subsystem counters.
func (g *Guardian) Stats() GuardianStats {
	return GuardianStats{
		Watcher:   g.watcher.Stats(),
		Transform: g.transformer.Stats(),
	}
}

// Teardown restores every file this host identity wrapped and stops
// watching. The operation is permanent for this instance; per-file restore
// failures are logged and do not abort the remaining files.
func (g *Guardian) Teardown() error {
	var teardownErr error
	g.stopOnce.Do(func() {
		g.mutex.Lock()
		defer g.mutex.Unlock()

		g.stopped.Store(true)
		g.enabled.Store(false)

		// Stop watching first so restores are not re-detected as changes.
		g.watcher.StopWatching()

		paths, err := g.registry.List(g.opts.HostIdentity)
		if err != nil {
			g.logger.Error("Cannot list wrapped files for teardown", "error", err)
			teardownErr = err
		}
		for _, path := range paths {
			if _, err := g.transformer.Unwrap(path); err != nil {
				g.logger.Error("Restore failed during teardown", "path", path, "error", err)
				if teardownErr == nil {
					teardownErr = err
				}
				continue
			}
			g.auditEvent("file_restored", map[string]interface{}{
				"path": path, "host": g.opts.HostIdentity, "source": "teardown",
			})
		}

		g.logger.Info("Guardian teardown complete",
			"host", g.opts.HostIdentity,
			"restored", len(paths))
		g.auditEvent("guardian_stopped", map[string]interface{}{
			"host": g.opts.HostIdentity, "clean": teardownErr == nil,
		})

		if g.auditLogger != nil {
			if err := g.auditLogger.Close(); err != nil {
				g.logger.Warn("Failed to close audit logger", "error", err)
			}
		}
	})
	return teardownErr
}

// IsRunning reports whether the guardian is actively watching.
func (g *Guardian) IsRunning() bool {
	return g.enabled.Load() && !g.stopped.Load()
}

// processFile is the watcher's OnProcess callback.
func (g *Guardian) processFile(path string) error {
	changed, err := g.transformer.Wrap(path)
	if err != nil {
		return err
	}
	if changed {
		g.auditEvent("file_wrapped", map[string]interface{}{
			"path": path, "host": g.opts.HostIdentity, "source": "watch",
		})
	}
	return nil
}

// handleDelete is the watcher's OnDelete callback. A removed file no longer
// needs restoring, so its registry record is dropped.
func (g *Guardian) handleDelete(path string) {
	if err := g.registry.Remove(g.opts.HostIdentity, path); err != nil {
		g.logger.Warn("Failed to drop wrap record for removed file", "path", path, "error", err)
	}
	g.auditEvent("file_removed", map[string]interface{}{
		"path": path, "host": g.opts.HostIdentity,
	})
}

func (g *Guardian) auditEvent(eventType string, context map[string]interface{}) {
	if g.auditLogger != nil {
		g.auditLogger.LogSecurityEvent(eventType, "Configuration guard event", context)
	}
}
