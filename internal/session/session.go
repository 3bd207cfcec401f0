// ABOUTME: Maps channel conversations to backend agent conversations.
// ABOUTME: Invalidates the mapping when the channel thread changes so histories never mix.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/parley/internal/store"
)

// propertyName is the conversation-scoped property holding the mapping.
const propertyName = "agent_conversation_mapping"

// ErrNotFound is returned when no session exists for a conversation.
var ErrNotFound = errors.New("session not found")

// Session links a channel-level conversation to the backend agent
// conversation, plus the one-time disclaimer flag.
type Session struct {
	ChannelConversationID string `json:"channel_conversation_id"`
	AgentConversationID   string `json:"agent_conversation_id"`
	DisclaimerShown       bool   `json:"disclaimer_shown"`
}

// Properties defines what the session store needs from conversation-scoped
// persistence.
type Properties interface {
	GetConversationProperty(ctx context.Context, conversationID, name string) ([]byte, error)
	SetConversationProperty(ctx context.Context, conversationID, name string, value []byte) error
	DeleteConversationProperty(ctx context.Context, conversationID, name string) error
}

// Store resolves and persists conversation sessions. At most one session
// exists per channel conversation.
type Store struct {
	props  Properties
	logger *slog.Logger
}

// NewStore creates a session store over the given property store.
func NewStore(props Properties, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		props:  props,
		logger: logger.With("component", "session"),
	}
}

// Resolve returns the session for the channel conversation. A stored mapping
// whose channel id no longer matches is treated as stale and discarded: a
// changed channel thread must never reuse the prior agent conversation.
func (s *Store) Resolve(ctx context.Context, channelConversationID string) (*Session, error) {
	raw, err := s.props.GetConversationProperty(ctx, channelConversationID, propertyName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.logger.Warn("discarding unreadable session mapping",
			"channel_conversation_id", channelConversationID,
			"error", err,
		)
		return nil, ErrNotFound
	}

	if sess.ChannelConversationID != channelConversationID {
		s.logger.Info("channel conversation changed, discarding stale mapping",
			"stored", sess.ChannelConversationID,
			"current", channelConversationID,
		)
		return nil, ErrNotFound
	}

	return &sess, nil
}

// Save persists the session under its channel conversation id.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess.ChannelConversationID == "" {
		return fmt.Errorf("channel conversation id is required")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.props.SetConversationProperty(ctx, sess.ChannelConversationID, propertyName, raw); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.logger.Debug("session saved",
		"channel_conversation_id", sess.ChannelConversationID,
		"agent_conversation_id", sess.AgentConversationID,
	)
	return nil
}

// Reset clears the mapping entirely; the next message starts a fresh session.
func (s *Store) Reset(ctx context.Context, channelConversationID string) error {
	if err := s.props.DeleteConversationProperty(ctx, channelConversationID, propertyName); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resetting session: %w", err)
	}
	s.logger.Info("session reset", "channel_conversation_id", channelConversationID)
	return nil
}
