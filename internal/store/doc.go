// Package store provides persistent property storage for the gateway using
// SQLite.
//
// # Scopes
//
// Two persistence scopes exist, each a name/value table of opaque JSON:
//
//   - Conversation-scoped: keyed by channel conversation id. Holds the
//     session mapping between channel and agent conversations.
//   - User-scoped: keyed by user id. Holds per-user flags such as the
//     debug-mode toggle, which follow the user across conversations.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// The schema is created automatically on open. Use ":memory:" for tests.
//
// # Error Handling
//
// Reads of absent properties return ErrNotFound. All methods accept
// context.Context for cancellation support.
package store
