// Package mcpguard keeps declarative MCP server configuration files under
// continuous observation and transactionally rewrites individual server entries
// to route them through a guarding proxy, while guaranteeing that every rewrite
// can later be reversed byte-for-byte (comments and formatting included).
//
// Key Features:
//   - Polling-based file watching with debounce, self-write suppression,
//     per-file single-flight processing and a per-file circuit breaker
//   - Structural, comment-preserving JSON-with-comments rewriting: wrapping an
//     entry never touches unrelated text, and unwrapping restores the original
//     document exactly
//   - Automatic local-bridge synthesis for remote URL-based entries
//   - A per-host-identity wrap registry so teardown restores exactly the files
//     this instance wrapped
//   - Pluggable structured logging and optional UI notification
//   - Runtime options loadable from JSON or YAML and audit trail support
//
// Basic Usage:
//
//	guardian, err := mcpguard.NewGuardian(mcpguard.DefaultGuardOptions("vscode-stable"), logger, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Wrap the configured files and keep them wrapped as they change
//	if err := guardian.Start(ctx, "/home/user/.config/editor/mcp.json"); err != nil {
//		log.Fatal(err)
//	}
//
//	// On shutdown, restore every file this instance wrapped
//	defer guardian.Teardown()
//
// The lower-level building blocks (FileWatcher, Transformer, Registry and the
// locality classifier) are exported individually for hosts that need finer
// control than the Guardian lifecycle provides.
//
// Concurrency:
// Events for a given path are strictly serialized through debouncing and the
// per-path processing flag; operations on distinct paths proceed in parallel.
// The whole-file read-modify-write performed by the Transformer is the
// transaction unit; there is no file locking, so a genuinely concurrent
// external writer can still race a rewrite.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package mcpguard
