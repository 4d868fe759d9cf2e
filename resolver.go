// resolver.go: routing-proxy command resolution and local-bridge synthesis
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"sort"
)

// ProxyVersion is the guard proxy contract version this library targets.
const ProxyVersion = "0.3.0"

const defaultProxyExecutable = "mcpguard-proxy"

// Local bridge invocation used to adapt remote URL-only entries into
// command-based ones before wrapping.
const (
	bridgeExecutable = "npx"
	bridgePackage    = "mcp-remote"
	bridgeHeaderFlag = "--header"
)

// ProxyCommand is the resolved routing-proxy invocation. Args[0] is the
// proxy identifier token; comparing it against the token stored in a wrapped
// entry detects wraps produced by an older proxy version.
type ProxyCommand struct {
	Executable string
	Args       []string
}

// CommandResolver supplies the routing-proxy invocation for wrapped entries.
// Hosts that ship the proxy alongside the integration provide their own
// resolver pointing at the bundled executable.
type CommandResolver interface {
	// Resolve returns the proxy invocation to splice into wrapped entries.
	Resolve() ProxyCommand

	// VersionToken returns the identifier token expected as the first
	// wrapped argument of an up-to-date wrapped entry.
	VersionToken() string
}

// StaticCommandResolver resolves to a fixed proxy invocation.
type StaticCommandResolver struct {
	command ProxyCommand
}

// NewStaticCommandResolver creates a resolver for a fixed invocation.
// The first argument must be the proxy identifier token; when no arguments
// are given, an executable@version token is synthesized.
func NewStaticCommandResolver(executable string, args ...string) *StaticCommandResolver {
	if len(args) == 0 {
		args = []string{executable + "@" + ProxyVersion}
	}
	return &StaticCommandResolver{
		command: ProxyCommand{Executable: executable, Args: args},
	}
}

// DefaultCommandResolver resolves to the mcpguard-proxy executable expected
// on PATH.
func DefaultCommandResolver() *StaticCommandResolver {
	return NewStaticCommandResolver(defaultProxyExecutable)
}

// Resolve implements CommandResolver.
func (r *StaticCommandResolver) Resolve() ProxyCommand {
	args := make([]string, len(r.command.Args))
	copy(args, r.command.Args)
	return ProxyCommand{Executable: r.command.Executable, Args: args}
}

// VersionToken implements CommandResolver.
func (r *StaticCommandResolver) VersionToken() string {
	return versionTokenOf(r.command.Args)
}

// synthesizeLocalBridge converts a remote URL-based entry into an equivalent
// command-based entry that spawns a local bridge process forwarding to the
// URL endpoint. Headers become one CLI flag pair each (sorted by key for
// deterministic output); env and the disabled flag carry over.
func synthesizeLocalBridge(entry ServerEntry) ServerEntry {
	args := []string{"-y", bridgePackage, entry.URL}
	keys := make([]string, 0, len(entry.Headers))
	for key := range entry.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, bridgeHeaderFlag, key+":"+entry.Headers[key])
	}

	return ServerEntry{
		Command:  bridgeExecutable,
		Args:     args,
		Env:      entry.Env,
		Disabled: entry.Disabled,
	}
}
