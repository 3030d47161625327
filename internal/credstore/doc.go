// Package credstore provides persistent storage for the agent's OAuth credential.
//
// Three backends with different security and deployment tradeoffs are supported:
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - File: local filesystem storage with atomic writes and secure permissions
//   - Env: read-only environment variable access for CI and scripted use
//
// Backends are combined with Chain, which tries them in priority order:
// reads stop at the first hit, writes stop at the first success, and deletes
// are attempted on every backend independently.
package credstore
