// ABOUTME: Store interface and errors for parley persistence.
// ABOUTME: Defines the two property scopes (per-conversation, per-user) keyed by name.

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested property does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for property persistence. Values are opaque
// blobs (typically JSON); callers own their encoding. A write is durable once
// Set returns.
type Store interface {
	// Conversation-scoped properties
	GetConversationProperty(ctx context.Context, conversationID, name string) ([]byte, error)
	SetConversationProperty(ctx context.Context, conversationID, name string, value []byte) error
	DeleteConversationProperty(ctx context.Context, conversationID, name string) error

	// User-scoped properties
	GetUserProperty(ctx context.Context, userID, name string) ([]byte, error)
	SetUserProperty(ctx context.Context, userID, name string, value []byte) error
	DeleteUserProperty(ctx context.Context, userID, name string) error

	// Close releases any resources held by the store
	Close() error
}
