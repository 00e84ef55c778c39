// Package tokenstore persists the exporter's OAuth credential between runs.
//
// Supports two storage backends with different security and deployment tradeoffs:
//   - File: JSON state file with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// The refresh-token grant requires writable storage, so no read-only backend
// is offered. Operators force a fresh browser authorization by clearing the
// stored state (deleting the state file or keyring entry).
//
// Absent state is a normal condition on first deployment. Corrupted state is
// surfaced as a CorruptError and treated by callers as absent, never as a
// reason to crash.
package tokenstore
