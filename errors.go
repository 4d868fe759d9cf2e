// errors.go: structured error definitions for the mcpguard system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"github.com/agilira/go-errors"
)

// Error codes for the mcpguard system
const (
	// Configuration document errors (1100-1199)
	ErrCodeConfigParseError   = "CONFIG_1101"
	ErrCodeConfigFileError    = "CONFIG_1102"
	ErrCodeConfigPathError    = "CONFIG_1103"
	ErrCodeContainerNotFound  = "CONFIG_1104"
	ErrCodeOptionsParseError  = "CONFIG_1105"
	ErrCodeOptionsInvalid     = "CONFIG_1106"
	ErrCodeUnsupportedFormat  = "CONFIG_1107"

	// Watcher errors (1200-1299)
	ErrCodeWatcherError    = "WATCH_1201"
	ErrCodeWatcherStopped  = "WATCH_1202"
	ErrCodeWatcherDisabled = "WATCH_1203"

	// Transform errors (1300-1399)
	ErrCodeMarkerMalformed = "TRANSFORM_1301"
	ErrCodeFragmentInvalid = "TRANSFORM_1302"
	ErrCodePersistFailed   = "TRANSFORM_1303"

	// Wrap registry errors (1400-1499)
	ErrCodeRegistryError    = "REGISTRY_1401"
	ErrCodeRegistryIdentity = "REGISTRY_1402"

	// Audit errors (1500-1599)
	ErrCodeAuditError = "AUDIT_1501"
)

// Configuration document error constructors

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("Failed to parse JSON-with-comments configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigFileError(path string, message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigFileError, "Configuration file error: "+message).
			WithUserMessage("Configuration file access failed").
			WithContext("config_path", path).
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigFileError, "Configuration file error: "+message).
		WithUserMessage("Configuration file access failed").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigPathError(path string, message string) *errors.Error {
	return errors.New(ErrCodeConfigPathError, "Configuration path error: "+message).
		WithUserMessage("Invalid configuration file path").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewContainerNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeContainerNotFound, "No recognized server container key").
		WithUserMessage("The configuration file has no recognized server container").
		WithContext("config_path", path).
		WithSeverity("warning")
}

func NewOptionsParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeOptionsParseError, "Options parse error").
		WithUserMessage("Failed to parse options file").
		WithContext("options_path", path).
		WithSeverity("error")
}

func NewOptionsInvalidError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeOptionsInvalid, "Invalid options: "+message).
			WithUserMessage("Options validation failed").
			WithSeverity("error")
	}
	return errors.New(ErrCodeOptionsInvalid, "Invalid options: "+message).
		WithUserMessage("Options validation failed").
		WithSeverity("error")
}

func NewUnsupportedFormatError(path string, format string) *errors.Error {
	return errors.New(ErrCodeUnsupportedFormat, "Unsupported options format: "+format).
		WithUserMessage("Options files must be JSON or YAML").
		WithContext("options_path", path).
		WithSeverity("error")
}

// Watcher error constructors

func NewWatcherError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeWatcherError, "File watcher error: "+message).
			WithUserMessage("Configuration file monitoring failed").
			WithSeverity("error")
	}
	return errors.New(ErrCodeWatcherError, "File watcher error: "+message).
		WithUserMessage("Configuration file monitoring failed").
		WithSeverity("error")
}

func NewWatcherStoppedError(message string) *errors.Error {
	return errors.New(ErrCodeWatcherStopped, "File watcher stopped: "+message).
		WithUserMessage("The file watcher is not running").
		WithSeverity("warning")
}

func NewWatcherDisabledError(attempts int) *errors.Error {
	return errors.New(ErrCodeWatcherDisabled, "File watching disabled after repeated failures").
		WithUserMessage("Configuration file watching has been disabled; restart to re-enable").
		WithContext("restart_attempts", attempts).
		WithSeverity("error")
}

// Transform error constructors

func NewMarkerMalformedError(entry string) *errors.Error {
	return errors.New(ErrCodeMarkerMalformed, "Malformed wrap marker").
		WithUserMessage("The wrapped entry carries a marker flag with no preserved fragment").
		WithContext("entry", entry).
		WithSeverity("warning")
}

func NewFragmentInvalidError(entry string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeFragmentInvalid, "Invalid entry fragment").
		WithUserMessage("The entry fragment is not a valid server entry object").
		WithContext("entry", entry).
		WithSeverity("warning")
}

func NewPersistFailedError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodePersistFailed, "Failed to persist configuration").
		WithUserMessage("The rewritten configuration could not be written back").
		WithContext("config_path", path).
		WithSeverity("error")
}

// Wrap registry error constructors

func NewRegistryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRegistryError, "Wrap registry error: "+message).
		WithUserMessage("Wrap registry operation failed").
		WithSeverity("error")
}

func NewRegistryIdentityError(identity string) *errors.Error {
	return errors.New(ErrCodeRegistryIdentity, "Invalid host identity").
		WithUserMessage("Host identity must be a non-empty path-safe name").
		WithContext("host_identity", identity).
		WithSeverity("error")
}

// Audit error constructors

func NewAuditError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAuditError, "Audit error: "+message).
		WithUserMessage("Audit logging failed").
		WithSeverity("warning")
}
