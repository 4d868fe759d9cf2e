// notifier.go: optional user-visible notification capability
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

// Notifier is the optional UI-notification capability consumed by the
// library. Hosts embedded in an editor surface messages through their own
// notification system; headless hosts can use NoOpNotifier.
//
// Only genuinely user-actionable conditions are notified (a file whose
// configuration cannot be parsed, watching permanently disabled); routine
// diagnostics go to the Logger.
type Notifier interface {
	// ShowError surfaces an error message to the user.
	ShowError(message string)
}

// NoOpNotifier discards all notifications.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a notifier that discards all messages.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// ShowError implements Notifier (no-op)
func (n *NoOpNotifier) ShowError(message string) {}

// TestNotifier captures notifications for assertions in tests.
type TestNotifier struct {
	Errors []string
}

// NewTestNotifier creates a new test notifier.
func NewTestNotifier() *TestNotifier {
	return &TestNotifier{}
}

// ShowError implements Notifier (captures message)
func (t *TestNotifier) ShowError(message string) {
	t.Errors = append(t.Errors, message)
}
