// guardian_test.go: guardian lifecycle tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuardOptions(t *testing.T) GuardOptions {
	t.Helper()
	opts := DefaultGuardOptions("test-host")
	opts.RegistryRoot = t.TempDir()
	opts.Watcher.PollInterval = 40 * time.Millisecond
	opts.Watcher.CacheTTL = 20 * time.Millisecond
	opts.Watcher.DebounceDelay = 40 * time.Millisecond
	return opts
}

func TestNewGuardian_Validation(t *testing.T) {
	opts := testGuardOptions(t)
	opts.HostIdentity = ""
	_, err := NewGuardian(opts, nil, nil)
	require.Error(t, err)

	guardian, err := NewGuardian(testGuardOptions(t), NewTestLogger(), NewTestNotifier())
	require.NoError(t, err)
	require.NotNil(t, guardian)
	assert.False(t, guardian.IsRunning())
}

func TestGuardian_StartWrapsAndTeardownRestores(t *testing.T) {
	path := writeConfig(t, mixedConfig)
	guardian, err := NewGuardian(testGuardOptions(t), NewTestLogger(), nil)
	require.NoError(t, err)

	require.NoError(t, guardian.Start(context.Background(), path))
	assert.True(t, guardian.IsRunning())

	// Every entry in the file now routes through the proxy.
	doc := readConfigDoc(t, path)
	for _, span := range doc.entries() {
		entry, err := parseServerEntry(doc.fragment(span))
		require.NoError(t, err)
		assert.Equal(t, "mcpguard-proxy", entry.Command)
	}

	wrapped, err := guardian.WrappedFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, wrapped)

	require.NoError(t, guardian.Teardown())
	assert.False(t, guardian.IsRunning())
	assert.Equal(t, mixedConfig, readConfig(t, path), "teardown must restore the exact original bytes")

	wrapped, err = guardian.WrappedFiles()
	require.NoError(t, err)
	assert.Empty(t, wrapped)
}

func TestGuardian_RewrapsExternalEdit(t *testing.T) {
	path := writeConfig(t, mixedConfig)
	guardian, err := NewGuardian(testGuardOptions(t), NewTestLogger(), nil)
	require.NoError(t, err)
	defer guardian.Teardown()

	require.NoError(t, guardian.Start(context.Background(), path))

	// Give the initial wrap's self-write echo time to pass through polling.
	time.Sleep(guardian.opts.Watcher.writeIgnoreWindow() + 200*time.Millisecond)

	// A user adds a new, unwrapped entry by hand.
	edited := `{
  "mcpServers": {
    "fresh": {
      "command": "python",
      "args": ["-m", "fresh_server"]
    }
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	assert.Eventually(t, func() bool {
		raw, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		doc, err := parseConfigDocument(path, raw)
		if err != nil {
			return false
		}
		spans := doc.entries()
		if len(spans) != 1 {
			return false
		}
		entry, err := parseServerEntry(doc.fragment(spans[0]))
		return err == nil && entry.Command == "mcpguard-proxy" && HasWrapMarker(entry.Args)
	}, 5*time.Second, 50*time.Millisecond, "the watcher must re-wrap an external edit")
}

func TestGuardian_StartTwiceFails(t *testing.T) {
	path := writeConfig(t, mixedConfig)
	guardian, err := NewGuardian(testGuardOptions(t), nil, nil)
	require.NoError(t, err)
	defer guardian.Teardown()

	require.NoError(t, guardian.Start(context.Background(), path))
	require.Error(t, guardian.Start(context.Background(), path))
}

func TestGuardian_CannotRestartAfterTeardown(t *testing.T) {
	path := writeConfig(t, mixedConfig)
	guardian, err := NewGuardian(testGuardOptions(t), nil, nil)
	require.NoError(t, err)

	require.NoError(t, guardian.Start(context.Background(), path))
	require.NoError(t, guardian.Teardown())

	err = guardian.Start(context.Background(), path)
	require.Error(t, err)
}

func TestGuardian_TeardownIsIdempotent(t *testing.T) {
	path := writeConfig(t, mixedConfig)
	guardian, err := NewGuardian(testGuardOptions(t), nil, nil)
	require.NoError(t, err)

	require.NoError(t, guardian.Start(context.Background(), path))
	require.NoError(t, guardian.Teardown())
	require.NoError(t, guardian.Teardown())
	assert.Equal(t, mixedConfig, readConfig(t, path))
}

func TestGuardian_TeardownRestoresOnlyOwnIdentity(t *testing.T) {
	registryRoot := t.TempDir()
	pathA := writeConfig(t, mixedConfig)
	pathB := writeConfig(t, mixedConfig)

	optsA := testGuardOptions(t)
	optsA.HostIdentity = "host-a"
	optsA.RegistryRoot = registryRoot
	optsB := testGuardOptions(t)
	optsB.HostIdentity = "host-b"
	optsB.RegistryRoot = registryRoot

	guardianA, err := NewGuardian(optsA, nil, nil)
	require.NoError(t, err)
	guardianB, err := NewGuardian(optsB, nil, nil)
	require.NoError(t, err)
	defer guardianB.Teardown()

	require.NoError(t, guardianA.Start(context.Background(), pathA))
	require.NoError(t, guardianB.Start(context.Background(), pathB))

	require.NoError(t, guardianA.Teardown())

	// A's file is restored, B's file stays wrapped.
	assert.Equal(t, mixedConfig, readConfig(t, pathA))
	doc := readConfigDoc(t, pathB)
	entry, err := parseServerEntry(doc.fragment(doc.entries()[0]))
	require.NoError(t, err)
	assert.Equal(t, "mcpguard-proxy", entry.Command)
}

func TestGuardian_WrapAndUnwrapFile(t *testing.T) {
	path := writeConfig(t, mixedConfig)
	guardian, err := NewGuardian(testGuardOptions(t), nil, nil)
	require.NoError(t, err)

	changed, err := guardian.WrapFile(path)
	require.NoError(t, err)
	assert.True(t, changed)

	stats := guardian.Stats()
	assert.Equal(t, int64(1), stats.Transform.FilesWrapped)
	assert.Equal(t, int64(3), stats.Transform.EntriesWrapped)

	changed, err = guardian.UnwrapFile(path)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, mixedConfig, readConfig(t, path))
}

func TestGuardian_StartToleratesMissingFiles(t *testing.T) {
	present := writeConfig(t, mixedConfig)
	absent := filepath.Join(t.TempDir(), "absent.json")

	guardian, err := NewGuardian(testGuardOptions(t), NewTestLogger(), nil)
	require.NoError(t, err)
	defer guardian.Teardown()

	// A missing file is a transient condition, not a startup failure.
	require.NoError(t, guardian.Start(context.Background(), present, absent))
	assert.True(t, guardian.IsRunning())
}

func TestGuardian_AuditDisabledByDefault(t *testing.T) {
	guardian, err := NewGuardian(testGuardOptions(t), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, guardian.auditLogger)
}
