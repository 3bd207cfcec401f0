// ABOUTME: Inbound turn dispatch over HTTP.
// ABOUTME: Deduplicates redeliveries and serializes turns per conversation.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/2389/parley/internal/cards"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/dialog"
)

// turnErrorText is the plain message sent when a turn fails outside the
// reducer's own failure handling.
const turnErrorText = "Sorry, something went wrong while processing your message. Please try again."

// TurnHandler is what the gateway needs from the orchestrator.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn dialog.Turn, resp dialog.TurnResponder) error
}

// Server dispatches inbound turns to the orchestrator.
type Server struct {
	handler TurnHandler
	dupes   *dedupe.Cache
	logger  *slog.Logger

	// locks serializes turns per conversation. The orchestrator requires
	// at most one in-flight turn per conversation.
	locks conversationLocks
}

// NewServer creates a Server. dupes may be nil to disable deduplication.
func NewServer(handler TurnHandler, dupes *dedupe.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		dupes:   dupes,
		logger:  logger.With("component", "gateway"),
		locks:   conversationLocks{active: make(map[string]*conversationLock)},
	}
}

// RegisterRoutes registers the turn endpoint on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/turns", s.handleTurn)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// inboundTurn is the wire shape of one inbound channel event.
type inboundTurn struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Text           string `json:"text,omitempty"`
	Locale         string `json:"locale,omitempty"`
	// Value carries a card action payload when the turn is a button press.
	Value            json.RawMessage `json:"value,omitempty"`
	ReplyToMessageID string          `json:"reply_to_message_id,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var in inboundTurn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid turn payload", http.StatusBadRequest)
		return
	}
	if in.ConversationID == "" || in.UserID == "" {
		http.Error(w, "conversation_id and user_id are required", http.StatusBadRequest)
		return
	}

	if s.dupes != nil && in.MessageID != "" && s.dupes.Seen(in.MessageID) {
		s.logger.Info("dropping redelivered message", "message_id", in.MessageID)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]bool{"duplicate": true})
		return
	}

	turn := dialog.Turn{
		ChannelConversationID: in.ConversationID,
		UserID:                in.UserID,
		Text:                  in.Text,
		Locale:                in.Locale,
		ReplyToMessageID:      in.ReplyToMessageID,
	}

	if len(in.Value) > 0 {
		action, err := cards.DecodeAction(in.Value)
		switch {
		case err == nil:
			turn.Action = action
		case errors.Is(err, cards.ErrUnknownAction):
			// Unknown card payloads fall through to plain message handling.
			s.logger.Debug("ignoring unknown card action", "message_id", in.MessageID)
		default:
			http.Error(w, "invalid card action payload", http.StatusBadRequest)
			return
		}
	}

	resp, err := newSSEResponder(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	release := s.locks.acquire(in.ConversationID)
	defer release()

	if err := s.handler.HandleTurn(r.Context(), turn, resp); err != nil {
		s.logger.Error("turn failed",
			"conversation_id", in.ConversationID,
			"message_id", in.MessageID,
			"error", err)
		if sendErr := resp.sendError(turnErrorText); sendErr != nil {
			s.logger.Error("failed to send turn error", "error", sendErr)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// conversationLocks hands out per-conversation mutexes and drops an entry
// when its last holder releases, so the map does not grow with conversation
// churn over the process lifetime.
type conversationLocks struct {
	mu     sync.Mutex
	active map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func (l *conversationLocks) acquire(conversationID string) (release func()) {
	l.mu.Lock()
	lock := l.active[conversationID]
	if lock == nil {
		lock = &conversationLock{}
		l.active[conversationID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.active, conversationID)
		}
		l.mu.Unlock()
	}
}

func (l *conversationLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}
