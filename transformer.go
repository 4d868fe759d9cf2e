// transformer.go: structural, comment-preserving entry wrapping and unwrapping
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"encoding/json"
	"os"
	"sync/atomic"
)

// WriteRecorder is notified immediately after the transformer persists a
// rewritten file, so the write is not re-detected as an external change.
// FileWatcher implements it.
type WriteRecorder interface {
	RecordWrite(path string)
}

// TransformerConfig wires a Transformer to its collaborators.
type TransformerConfig struct {
	// Resolver supplies the routing-proxy invocation. Defaults to
	// DefaultCommandResolver.
	Resolver CommandResolver

	// Registry records wrapped files per host identity. Optional; without a
	// registry no wrap records are kept.
	Registry *Registry

	// HostIdentity scopes registry records to this running instance.
	HostIdentity string

	// Recorder is told about every persisted write. Optional.
	Recorder WriteRecorder

	// Logger receives transformer diagnostics. A nil logger is silent.
	Logger Logger

	// Notifier surfaces parse failures to the user. Optional.
	Notifier Notifier
}

// Transformer wraps and unwraps individual server entries inside
// JSON-with-comments configuration files.
//
// Wrapping replaces an entry's command/args with a routing-proxy invocation
// that carries the original entry text verbatim in its argument list;
// unwrapping splices that text back over the wrapped entry's exact source
// span. Text outside the edited spans is never touched, which is what makes
// wrap/unwrap round-trips byte-identical, comments and formatting included.
//
// The structural tree is re-derived from the current text before every
// query; a tree is never reused across edits, since edits invalidate its
// byte offsets.
type Transformer struct {
	resolver CommandResolver
	registry *Registry
	hostID   string
	recorder WriteRecorder
	logger   Logger
	notifier Notifier

	// Activity counters. The watcher invokes the transformer from one
	// goroutine per path, so plain increments would race.
	filesWrapped    atomic.Int64
	filesUnwrapped  atomic.Int64
	entriesWrapped  atomic.Int64
	entriesRestored atomic.Int64
	entriesSkipped  atomic.Int64
	parseFailures   atomic.Int64
}

// TransformStats counts transformer activity for observability.
type TransformStats struct {
	FilesWrapped    int64 `json:"files_wrapped"`
	FilesUnwrapped  int64 `json:"files_unwrapped"`
	EntriesWrapped  int64 `json:"entries_wrapped"`
	EntriesRestored int64 `json:"entries_restored"`
	EntriesSkipped  int64 `json:"entries_skipped"`
	ParseFailures   int64 `json:"parse_failures"`
}

// NewTransformer creates a transformer.
func NewTransformer(config TransformerConfig) *Transformer {
	resolver := config.Resolver
	if resolver == nil {
		resolver = DefaultCommandResolver()
	}
	logger := config.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = NewNoOpNotifier()
	}

	return &Transformer{
		resolver: resolver,
		registry: config.Registry,
		hostID:   config.HostIdentity,
		recorder: config.Recorder,
		logger:   logger,
		notifier: notifier,
	}
}

// Stats returns a snapshot of transformer activity counters.
func (t *Transformer) Stats() TransformStats {
	return TransformStats{
		FilesWrapped:    t.filesWrapped.Load(),
		FilesUnwrapped:  t.filesUnwrapped.Load(),
		EntriesWrapped:  t.entriesWrapped.Load(),
		EntriesRestored: t.entriesRestored.Load(),
		EntriesSkipped:  t.entriesSkipped.Load(),
		ParseFailures:   t.parseFailures.Load(),
	}
}

// Wrap rewrites every unwrapped (or version-stale) entry in the file at
// path to route through the guard proxy. It reports whether any entry
// changed. A missing file is a transient no-op; a parse failure leaves the
// file untouched and is reported. Entries that cannot be handled
// individually are skipped with a warning, never aborting the rest of the
// file.
func (t *Transformer) Wrap(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, NewConfigFileError(path, "cannot read configuration", err)
	}

	return t.rewrite(path, raw, t.wrapEntry, func() {
		t.filesWrapped.Add(1)
		if t.registry != nil {
			if err := t.registry.Add(t.hostID, path); err != nil {
				t.logger.Warn("Failed to record wrapped file", "path", path, "error", err)
			}
		}
	})
}

// Unwrap restores every wrapped entry in the file at path to its exact
// pre-wrap text and reports whether any entry changed. On success the
// file's wrap registry record is removed.
func (t *Transformer) Unwrap(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, NewConfigFileError(path, "cannot read configuration", err)
	}

	return t.rewrite(path, raw, t.unwrapEntry, func() {
		t.filesUnwrapped.Add(1)
		if t.registry != nil {
			if err := t.registry.Remove(t.hostID, path); err != nil {
				t.logger.Warn("Failed to remove wrap record", "path", path, "error", err)
			}
		}
	})
}

// rewrite drives the edit loop shared by Wrap and Unwrap. Each entry is
// considered exactly once, against a tree freshly parsed from the current
// text, because a splice invalidates every offset derived before it.
func (t *Transformer) rewrite(
	path string,
	raw []byte,
	editEntry func(doc *configDocument, span entrySpan) (string, bool),
	onPersist func(),
) (bool, error) {
	changed := false
	handled := 0
	processed := make(map[string]int)

	for {
		doc, err := parseConfigDocument(path, raw)
		if err != nil {
			t.parseFailures.Add(1)
			t.logger.Error("Configuration parse failed", "path", path, "error", err)
			t.notifier.ShowError("Cannot parse configuration file: " + path)
			return false, err
		}

		span, ok := nextEntry(doc.entries(), processed)
		if !ok {
			if handled == 0 {
				if _, _, found := doc.container(); !found {
					t.logger.Debug("No recognized server container", "path", path,
						"error", NewContainerNotFoundError(path))
				}
			}
			break
		}
		processed[span.name]++
		handled++

		replacement, edited := editEntry(doc, span)
		if !edited {
			continue
		}
		raw = doc.splice(span, replacement)
		changed = true
	}

	if !changed {
		return false, nil
	}

	if err := t.persist(path, raw); err != nil {
		return false, err
	}
	onPersist()
	return true, nil
}

// wrapEntry produces the wrapped replacement text for one entry, or reports
// edited=false when the entry needs no change or must be skipped.
func (t *Transformer) wrapEntry(doc *configDocument, span entrySpan) (string, bool) {
	rawFragment := doc.fragment(span)
	entry, err := parseServerEntry(rawFragment)
	if err != nil {
		t.skipEntry(span.name, NewFragmentInvalidError(span.name, err))
		return "", false
	}

	fragment := rawFragment
	backup := ""

	if HasWrapMarker(entry.Args) {
		if versionTokenOf(entry.Args) == t.resolver.VersionToken() {
			// Already wrapped by the current proxy version.
			return "", false
		}

		// A wrap produced by a different proxy version: recover the original
		// fragment from the existing marker (or the backup field) instead of
		// the current tree span, then re-wrap.
		recovered, ok := wrappedFragment(entry.Args)
		if !ok {
			if entry.Backup == "" {
				t.skipEntry(span.name, NewMarkerMalformedError(span.name))
				return "", false
			}
			recovered = entry.Backup
		}
		fragment = recovered
		backup = entry.Backup
	}

	inner, err := parseServerEntry(fragment)
	if err != nil {
		t.skipEntry(span.name, NewFragmentInvalidError(span.name, err))
		return "", false
	}

	// Remote URL-based entries cannot be fronted by a command-line proxy
	// directly; synthesize a local bridge first and keep the pre-synthesis
	// fragment for byte-exact restore.
	if inner.URL != "" && inner.Command == "" && IsRemoteURL(inner.URL) {
		backup = fragment
		inner = synthesizeLocalBridge(inner)
		bridgeJSON, err := json.Marshal(inner)
		if err != nil {
			t.skipEntry(span.name, NewFragmentInvalidError(span.name, err))
			return "", false
		}
		fragment = string(bridgeJSON)
	}

	command := t.resolver.Resolve()
	args := make([]string, 0, len(command.Args)+4)
	args = append(args, command.Args...)
	args = append(args, WrappedConfigFlag, fragment, WrappedNameFlag, span.name)

	wrapped := ServerEntry{
		Command:  command.Executable,
		Args:     args,
		Env:      inner.Env,
		Disabled: inner.Disabled,
		Backup:   backup,
	}

	prefix, unit := doc.indentFor(span)
	text, err := marshalEntryIndented(wrapped, prefix, unit)
	if err != nil {
		t.skipEntry(span.name, NewFragmentInvalidError(span.name, err))
		return "", false
	}

	t.entriesWrapped.Add(1)
	t.logger.Debug("Entry wrapped", "entry", span.name, "path", doc.path)
	return text, true
}

// unwrapEntry produces the restored replacement text for one wrapped entry.
// The restored text is inserted unmodified (the backup field verbatim when
// present, else the fragment preserved after the marker flag), which is what
// yields byte-exact round-tripping.
func (t *Transformer) unwrapEntry(doc *configDocument, span entrySpan) (string, bool) {
	entry, err := parseServerEntry(doc.fragment(span))
	if err != nil {
		t.skipEntry(span.name, NewFragmentInvalidError(span.name, err))
		return "", false
	}

	if !HasWrapMarker(entry.Args) {
		return "", false
	}

	restore := entry.Backup
	if restore == "" {
		fragment, ok := wrappedFragment(entry.Args)
		if !ok {
			t.skipEntry(span.name, NewMarkerMalformedError(span.name))
			return "", false
		}
		restore = fragment
	}

	t.entriesRestored.Add(1)
	t.logger.Debug("Entry restored", "entry", span.name, "path", doc.path)
	return restore, true
}

// persist writes the rewritten document back, preserving the file's mode,
// and records the write so the watcher ignores its echo.
func (t *Transformer) persist(path string, raw []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, raw, mode); err != nil {
		return NewPersistFailedError(path, err)
	}
	if t.recorder != nil {
		t.recorder.RecordWrite(path)
	}
	return nil
}

func (t *Transformer) skipEntry(name string, cause error) {
	t.entriesSkipped.Add(1)
	t.logger.Warn("Skipping entry", "entry", name, "reason", cause)
}

// nextEntry returns the first span not handled yet. Spans are tracked by
// name occurrence, not name alone, so a container with duplicate keys still
// has every occurrence visited. Offsets cannot serve as keys here because
// each splice shifts the offsets of everything after it.
func nextEntry(spans []entrySpan, processed map[string]int) (entrySpan, bool) {
	seen := make(map[string]int)
	for _, span := range spans {
		occurrence := seen[span.name]
		seen[span.name]++
		if occurrence >= processed[span.name] {
			return span, true
		}
	}
	return entrySpan{}, false
}
