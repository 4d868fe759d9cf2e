// types.go: server entry model and wrap marker convention
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

// Container keys recognized at the top level of a configuration document.
// The first key present wins; the order of this slice is the priority order.
var containerKeys = []string{"mcpServers", "servers", "contextServers"}

const (
	// WrappedConfigFlag marks an entry as wrapped. Its presence in an entry's
	// argument list is the single source of truth for wrap detection; the
	// argument following it holds the verbatim pre-wrap entry text.
	WrappedConfigFlag = "--wrapped-config"

	// WrappedNameFlag precedes the wrapped entry's own name in the argument
	// list, so the proxy can report which entry it fronts.
	WrappedNameFlag = "--name"
)

// ServerEntry is one named server configuration object inside a container key.
//
// Command-based entries populate Command/Args/Env; URL-based entries populate
// URL/Headers instead. Backup is reserved: it is present only on wrapped
// entries whose fragment required a pre-wrap transformation (local-bridge
// synthesis) and holds the verbatim pre-synthesis JSON fragment.
type ServerEntry struct {
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Backup   string            `json:"backup,omitempty"`
}

// HasWrapMarker reports whether the argument list carries the wrap marker
// flag. This tagged check is the only wrapped-detection signal; entry shape is
// never used to re-derive wrap state.
func HasWrapMarker(args []string) bool {
	for _, a := range args {
		if a == WrappedConfigFlag {
			return true
		}
	}
	return false
}

// wrappedFragment returns the preserved pre-wrap fragment stored after the
// wrap marker flag. ok is false when the marker is absent or malformed
// (marker present with no following argument).
func wrappedFragment(args []string) (fragment string, ok bool) {
	for i, a := range args {
		if a == WrappedConfigFlag {
			if i+1 >= len(args) {
				return "", false
			}
			return args[i+1], true
		}
	}
	return "", false
}

// versionTokenOf returns the first wrapped argument, which by convention is
// the proxy identifier token. Comparing it against the currently expected
// token detects wraps produced by an older proxy version.
func versionTokenOf(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
