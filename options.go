// options.go: runtime options with JSON/YAML file loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// maxOptionsFileSize bounds options files to keep a corrupted or hostile
// file from exhausting memory.
const maxOptionsFileSize = 1 * 1024 * 1024

// GuardOptions configures a Guardian instance.
type GuardOptions struct {
	// HostIdentity identifies this running integration instance and scopes
	// its wrap registry records.
	HostIdentity string `json:"host_identity" yaml:"host_identity"`

	// RegistryRoot overrides the wrap registry root directory.
	// Empty selects DefaultRegistryRoot.
	RegistryRoot string `json:"registry_root" yaml:"registry_root"`

	// Watcher tunes change detection.
	Watcher WatcherOptions `json:"watcher" yaml:"watcher"`

	// ProxyExecutable overrides the routing-proxy executable.
	// Empty selects the default resolver.
	ProxyExecutable string `json:"proxy_executable" yaml:"proxy_executable"`

	// ProxyArgs overrides the leading proxy arguments; the first element is
	// the proxy identifier token used for version-mismatch detection.
	ProxyArgs []string `json:"proxy_args" yaml:"proxy_args"`

	// Audit configures the optional audit trail of wrap/unwrap/watch events.
	Audit argus.AuditConfig `json:"audit" yaml:"audit"`
}

// DefaultGuardOptions returns production defaults for the given host identity.
func DefaultGuardOptions(hostIdentity string) GuardOptions {
	return GuardOptions{
		HostIdentity: hostIdentity,
		Watcher:      DefaultWatcherOptions(),
	}
}

// DefaultOptionsPath returns the conventional per-user options file location.
func DefaultOptionsPath() string {
	return filepath.Join(xdg.ConfigHome, "mcpguard", "options.json")
}

// LoadGuardOptions reads options from a JSON or YAML file (detected by
// extension), fills unset fields with defaults and validates the result.
func LoadGuardOptions(path string) (GuardOptions, error) {
	var opts GuardOptions

	cleanPath, err := validateOptionsPath(path)
	if err != nil {
		return opts, err
	}

	raw, err := readOptionsFile(cleanPath)
	if err != nil {
		return opts, err
	}

	format := argus.DetectFormat(cleanPath)
	switch format {
	case argus.FormatJSON:
		err = json.Unmarshal(raw, &opts)
	case argus.FormatYAML:
		err = yaml.Unmarshal(raw, &opts)
	default:
		return opts, NewUnsupportedFormatError(cleanPath, format.String())
	}
	if err != nil {
		return opts, NewOptionsParseError(cleanPath, err)
	}

	opts.applyDefaults()
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Validate checks option invariants.
func (o GuardOptions) Validate() error {
	if o.HostIdentity == "" {
		return NewOptionsInvalidError("host_identity is required", nil)
	}
	if strings.ContainsAny(o.HostIdentity, `/\`) {
		return NewOptionsInvalidError("host_identity must not contain path separators", nil)
	}
	if o.Watcher.PollInterval <= 0 {
		return NewOptionsInvalidError("watcher.poll_interval must be positive", nil)
	}
	if o.Watcher.DebounceDelay <= 0 {
		return NewOptionsInvalidError("watcher.debounce_delay must be positive", nil)
	}
	if o.Watcher.WriteIgnoreMargin <= 0 {
		return NewOptionsInvalidError("watcher.write_ignore_margin must be positive", nil)
	}
	if o.Watcher.Breaker.IsEnabled() && o.Watcher.Breaker.FailureThreshold < 1 {
		return NewOptionsInvalidError("watcher.breaker.failure_threshold must be at least 1", nil)
	}
	if o.Watcher.Breaker.IsEnabled() && o.Watcher.Breaker.Cooldown <= 0 {
		return NewOptionsInvalidError("watcher.breaker.cooldown must be positive", nil)
	}
	if o.Watcher.MaxRestartAttempts < 0 {
		return NewOptionsInvalidError("watcher.max_restart_attempts must not be negative", nil)
	}
	if len(o.ProxyArgs) > 0 && o.ProxyExecutable == "" {
		return NewOptionsInvalidError("proxy_args requires proxy_executable", nil)
	}
	return nil
}

// applyDefaults fills zero-valued fields from DefaultWatcherOptions.
func (o *GuardOptions) applyDefaults() {
	defaults := DefaultWatcherOptions()
	if o.Watcher.PollInterval == 0 {
		o.Watcher.PollInterval = defaults.PollInterval
	}
	if o.Watcher.CacheTTL == 0 {
		o.Watcher.CacheTTL = defaults.CacheTTL
	}
	if o.Watcher.DebounceDelay == 0 {
		o.Watcher.DebounceDelay = defaults.DebounceDelay
	}
	if o.Watcher.WriteIgnoreMargin == 0 {
		o.Watcher.WriteIgnoreMargin = defaults.WriteIgnoreMargin
	}
	// Breaker sub-fields default individually so an explicit
	// "enabled: false" in the options file survives loading.
	if o.Watcher.Breaker.FailureThreshold == 0 {
		o.Watcher.Breaker.FailureThreshold = defaults.Breaker.FailureThreshold
	}
	if o.Watcher.Breaker.Cooldown == 0 {
		o.Watcher.Breaker.Cooldown = defaults.Breaker.Cooldown
	}
	if o.Watcher.MaxRestartAttempts == 0 {
		o.Watcher.MaxRestartAttempts = defaults.MaxRestartAttempts
	}
	if o.Watcher.RestartBackoff == 0 {
		o.Watcher.RestartBackoff = defaults.RestartBackoff
	}
	if o.Watcher.MaxWatchedFiles == 0 {
		o.Watcher.MaxWatchedFiles = defaults.MaxWatchedFiles
	}
}

// resolver builds the command resolver selected by the options.
func (o GuardOptions) resolver() CommandResolver {
	if o.ProxyExecutable == "" {
		return DefaultCommandResolver()
	}
	return NewStaticCommandResolver(o.ProxyExecutable, o.ProxyArgs...)
}

func validateOptionsPath(path string) (string, error) {
	if path == "" {
		return "", NewConfigPathError(path, "empty options file path")
	}
	cleanPath := filepath.Clean(path)
	if strings.Contains(path, "..") {
		return "", NewConfigPathError(path, "unsafe options file path")
	}
	return cleanPath, nil
}

func readOptionsFile(cleanPath string) ([]byte, error) {
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, NewConfigFileError(cleanPath, "cannot access options file", err)
	}
	if !info.Mode().IsRegular() || info.Size() > maxOptionsFileSize {
		return nil, NewConfigFileError(cleanPath, "options file invalid or too large", nil)
	}

	raw, err := os.ReadFile(cleanPath) // #nosec G304 -- Path validated above
	if err != nil {
		return nil, NewConfigFileError(cleanPath, "cannot read options file", err)
	}
	if len(raw) == 0 {
		return nil, NewConfigFileError(cleanPath, "options file is empty", nil)
	}
	return raw, nil
}
