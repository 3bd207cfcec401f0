// ABOUTME: Turn orchestrator mediating the user, the session store, and the backend.
// ABOUTME: Handles commands, suspension resumes, disclaimer, and outcome presentation.

package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/2389/parley/internal/cards"
	"github.com/2389/parley/internal/citations"
	"github.com/2389/parley/internal/session"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/stream"
)

// debugFlagProperty is the user-scoped property holding the debug toggle.
const debugFlagProperty = "debug_mode"

var (
	debugCommandPattern = regexp.MustCompile(`(?i)^\s*/debug\s+(on|off)\s*$`)
	resetCommandPattern = regexp.MustCompile(`(?i)^\s*/reset\s*$`)
)

const (
	workingStatusText  = "🚀 Working on your answer..."
	authNoticeText     = "Authentication to an external service is required to proceed."
	approvalNoticeText = "A tool is requesting your approval before it can run."
	resetAckText       = "🔄 Conversation has been reset. Your next message will start a new agent conversation."
	denialReasonText   = "User denied the tool invocation"
)

// Pending identifies which suspension kind an inbound turn resumes.
type Pending int

const (
	PendingNone Pending = iota
	PendingAuth
	PendingApproval
	PendingTicketForm
)

// pendingFor maps a decoded card action to the suspension it resumes.
func pendingFor(action *cards.ActionPayload) Pending {
	if action == nil {
		return PendingNone
	}
	switch action.Action {
	case cards.ActionAuthCompleted:
		return PendingAuth
	case cards.ActionToolApproved, cards.ActionToolDenied:
		return PendingApproval
	case cards.ActionTicketFormSubmitted:
		return PendingTicketForm
	default:
		return PendingNone
	}
}

// Turn is one inbound user event: a plain message or a card action.
type Turn struct {
	ChannelConversationID string
	UserID                string
	Text                  string
	Locale                string
	// Action is set when the turn is a card button press.
	Action *cards.ActionPayload
	// ReplyToMessageID is the channel handle of the card the action came
	// from, used to replace it with a read-only version.
	ReplyToMessageID string
}

// TurnResponder is the channel-side surface the orchestrator talks to. Chunk
// and Status satisfy stream.Output so the responder receives reduced text
// directly.
type TurnResponder interface {
	Chunk(ctx context.Context, text string) error
	Status(ctx context.Context, text string) error
	// SendText sends a standalone message outside the streamed response.
	SendText(ctx context.Context, text string) error
	// SendCard sends a card and returns its channel message handle.
	SendCard(ctx context.Context, card *cards.Card) (string, error)
	// UpdateCard replaces a previously sent card in place.
	UpdateCard(ctx context.Context, messageID string, card *cards.Card) error
	// CanUpdateCards reports whether the channel supports UpdateCard.
	CanUpdateCards() bool
	// Finish ends the streamed response, attaching citations and an
	// optional debug card to the final message.
	Finish(ctx context.Context, cits []citations.Citation, debug *cards.Card) error
}

// ApprovalResponse is the resumption item answering a tool approval request.
type ApprovalResponse struct {
	ApprovalRequestID string
	Approve           bool
	// Reason is set only on denial.
	Reason string
}

// InvokeRequest describes one backend invocation. Exactly one of
// ConversationID or PreviousResponseID carries the continuation context.
type InvokeRequest struct {
	Input              string
	ApprovalResponses  []ApprovalResponse
	ConversationID     string
	PreviousResponseID string
}

// ModelInvoker is what the orchestrator needs from the backend client.
type ModelInvoker interface {
	CreateConversation(ctx context.Context, input string) (string, error)
	Invoke(ctx context.Context, req InvokeRequest) (<-chan stream.Event, error)
	// AgentType resolves the configured agent's type. Implementations cache
	// the lookup.
	AgentType(ctx context.Context) (string, error)
}

// UserProperties defines what the orchestrator needs from user-scoped
// persistence.
type UserProperties interface {
	GetUserProperty(ctx context.Context, userID, name string) ([]byte, error)
	SetUserProperty(ctx context.Context, userID, name string, value []byte) error
}

// Config controls orchestration behavior.
type Config struct {
	// SuppressedActionIDs are workflow routing actions whose narration is
	// hidden from the user.
	SuppressedActionIDs []string
}

// Orchestrator drives one conversation turn end to end. It holds no
// per-turn state; callers must serialize turns within a conversation.
type Orchestrator struct {
	invoker    ModelInvoker
	sessions   *session.Store
	users      UserProperties
	suppressed []string
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(invoker ModelInvoker, sessions *session.Store, users UserProperties, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		invoker:    invoker,
		sessions:   sessions,
		users:      users,
		suppressed: cfg.SuppressedActionIDs,
		logger:     logger.With("component", "dialog"),
	}
}

// HandleTurn processes one inbound turn: commands first, then resume or
// fresh invocation, then outcome presentation. Errors returned here are
// turn-boundary failures; the caller sends a plain error message.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn Turn, resp TurnResponder) error {
	if handled, err := o.handleCommand(ctx, turn, resp); handled || err != nil {
		return err
	}

	pending := pendingFor(turn.Action)

	// Replace the approval card with its read-only decision before resuming,
	// so the buttons cannot be pressed twice.
	if pending == PendingApproval && resp.CanUpdateCards() && turn.ReplyToMessageID != "" {
		decision := cards.ApprovalDecision(cards.DecisionParams{
			Approved:      turn.Action.Approved(),
			ToolName:      turn.Action.ToolName,
			ToolArguments: turn.Action.ToolArguments,
			ServerLabel:   turn.Action.ServerLabel,
		})
		if err := resp.UpdateCard(ctx, turn.ReplyToMessageID, decision); err != nil {
			o.logger.Warn("failed to replace approval card", "error", err)
		}
	}

	req, inv, err := o.buildRequest(ctx, turn, pending, resp)
	if err != nil {
		return err
	}

	if err := resp.Status(ctx, workingStatusText); err != nil {
		return fmt.Errorf("sending initial status: %w", err)
	}

	agentType, err := o.invoker.AgentType(ctx)
	if err != nil {
		return fmt.Errorf("resolving agent type: %w", err)
	}

	// The reducer stops consuming on early exits (auth, approval, failure).
	// Cancelling the invoke context once Run returns releases the backend
	// stream reader instead of leaving it parked until the turn ends.
	invokeCtx, cancelInvoke := context.WithCancel(ctx)
	defer cancelInvoke()

	events, err := o.invoker.Invoke(invokeCtx, req)
	if err != nil {
		return fmt.Errorf("invoking backend: %w", err)
	}

	reducer := stream.NewReducer(stream.Config{
		SuppressedActionIDs: o.suppressed,
		AgentType:           agentType,
	}, o.logger)

	result, err := reducer.Run(ctx, events, resp, inv)
	if err != nil {
		return err
	}

	o.logger.Info("invocation finished",
		"conversation_id", inv.ConversationID,
		"outcome", result.Outcome.String(),
		"citations", len(result.Citations))

	return o.present(ctx, turn, resp, result)
}

// handleCommand short-circuits side-effecting commands. It reports whether
// the turn was consumed.
func (o *Orchestrator) handleCommand(ctx context.Context, turn Turn, resp TurnResponder) (bool, error) {
	if turn.Action != nil {
		return false, nil
	}
	text := strings.TrimSpace(turn.Text)

	if m := debugCommandPattern.FindStringSubmatch(text); m != nil {
		enabled := strings.EqualFold(m[1], "on")
		raw, err := json.Marshal(enabled)
		if err != nil {
			return true, fmt.Errorf("encoding debug flag: %w", err)
		}
		if err := o.users.SetUserProperty(ctx, turn.UserID, debugFlagProperty, raw); err != nil {
			return true, fmt.Errorf("persisting debug flag: %w", err)
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return true, resp.SendText(ctx, fmt.Sprintf("🐛 Debug mode **%s** for you across all conversations.", state))
	}

	if resetCommandPattern.MatchString(text) {
		if err := o.sessions.Reset(ctx, turn.ChannelConversationID); err != nil {
			return true, fmt.Errorf("resetting session: %w", err)
		}
		return true, resp.SendText(ctx, resetAckText)
	}

	return false, nil
}

// buildRequest assembles the invocation input for the turn's resume kind,
// handling session resolution and the one-time disclaimer on the fresh path.
func (o *Orchestrator) buildRequest(ctx context.Context, turn Turn, pending Pending, resp TurnResponder) (InvokeRequest, stream.Invocation, error) {
	switch pending {
	case PendingAuth:
		// Re-invoke the original query on the same conversation; the
		// backend retries the suspended step now that consent exists.
		req := InvokeRequest{
			Input:          turn.Action.InputQuery,
			ConversationID: turn.Action.ConversationID,
		}
		return req, invocationFor(req), nil

	case PendingApproval:
		approved := turn.Action.Approved()
		item := ApprovalResponse{
			ApprovalRequestID: turn.Action.ApprovalRequestID,
			Approve:           approved,
		}
		if !approved {
			item.Reason = denialReasonText
		}
		// Only the approval response continues from the raising response;
		// replaying the original input would raise the approval again.
		req := InvokeRequest{
			ApprovalResponses:  []ApprovalResponse{item},
			ConversationID:     turn.Action.ConversationID,
			PreviousResponseID: turn.Action.ResponseID,
		}
		inv := invocationFor(req)
		inv.InputQuery = turn.Action.InputQuery
		return req, inv, nil

	case PendingTicketForm:
		req := InvokeRequest{
			Input:          ticketDirective(turn.Action),
			ConversationID: turn.Action.ConversationID,
		}
		return req, invocationFor(req), nil
	}

	// Fresh message: resolve or create the session mapping.
	req := InvokeRequest{Input: turn.Text}
	showDisclaimer := false

	sess, err := o.sessions.Resolve(ctx, turn.ChannelConversationID)
	switch {
	case err == nil:
		req.ConversationID = sess.AgentConversationID
		showDisclaimer = !sess.DisclaimerShown
	case errors.Is(err, session.ErrNotFound):
		showDisclaimer = true
	default:
		return InvokeRequest{}, stream.Invocation{}, fmt.Errorf("resolving session: %w", err)
	}

	if showDisclaimer {
		if _, err := resp.SendCard(ctx, cards.Disclaimer(turn.Locale)); err != nil {
			return InvokeRequest{}, stream.Invocation{}, fmt.Errorf("sending disclaimer: %w", err)
		}
		if sess != nil {
			sess.DisclaimerShown = true
			if err := o.sessions.Save(ctx, sess); err != nil {
				return InvokeRequest{}, stream.Invocation{}, fmt.Errorf("persisting disclaimer flag: %w", err)
			}
		}
	}

	if req.ConversationID == "" {
		id, err := o.invoker.CreateConversation(ctx, req.Input)
		if err != nil {
			return InvokeRequest{}, stream.Invocation{}, fmt.Errorf("creating conversation: %w", err)
		}
		req.ConversationID = id
		newSess := &session.Session{
			ChannelConversationID: turn.ChannelConversationID,
			AgentConversationID:   id,
			DisclaimerShown:       true,
		}
		if err := o.sessions.Save(ctx, newSess); err != nil {
			return InvokeRequest{}, stream.Invocation{}, fmt.Errorf("persisting session: %w", err)
		}
	}

	return req, invocationFor(req), nil
}

// present sends the outcome-specific artifacts and finalizes the stream.
func (o *Orchestrator) present(ctx context.Context, turn Turn, resp TurnResponder, result *stream.Result) error {
	switch result.Outcome {
	case stream.OutcomeAuth:
		if err := resp.Chunk(ctx, authNoticeText); err != nil {
			return err
		}
		if err := resp.Finish(ctx, nil, nil); err != nil {
			return err
		}
		_, err := resp.SendCard(ctx, cards.Auth(cards.AuthParams{
			ConsentLink:    result.Auth.ConsentLink,
			ConversationID: result.Auth.ConversationID,
			InputQuery:     result.Auth.InputQuery,
		}))
		return err

	case stream.OutcomeApproval:
		if err := resp.Chunk(ctx, approvalNoticeText); err != nil {
			return err
		}
		if err := resp.Finish(ctx, nil, nil); err != nil {
			return err
		}
		_, err := resp.SendCard(ctx, cards.Approval(cards.ApprovalParams{
			ApprovalRequestID: result.Approval.ApprovalRequestID,
			ToolName:          result.Approval.ToolName,
			ToolArguments:     result.Approval.ToolArguments,
			ServerLabel:       result.Approval.ServerLabel,
			ConversationID:    result.Approval.ConversationID,
			InputQuery:        result.Approval.InputQuery,
			ResponseID:        result.Approval.ResponseID,
		}))
		return err

	case stream.OutcomeTicketForm:
		debug, err := o.debugCard(ctx, turn.UserID, result)
		if err != nil {
			return err
		}
		if err := resp.Finish(ctx, result.Citations, debug); err != nil {
			return err
		}
		_, err = resp.SendCard(ctx, cards.TicketForm(cards.TicketFormParams{
			ConversationID: result.TicketForm.ConversationID,
			InputQuery:     result.TicketForm.InputQuery,
		}))
		return err

	case stream.OutcomeFailure:
		// The reducer already emitted the apology text.
		return resp.Finish(ctx, result.Citations, nil)

	default:
		debug, err := o.debugCard(ctx, turn.UserID, result)
		if err != nil {
			return err
		}
		return resp.Finish(ctx, result.Citations, debug)
	}
}

// debugCard builds the debug card when the user has debug mode on.
func (o *Orchestrator) debugCard(ctx context.Context, userID string, result *stream.Result) (*cards.Card, error) {
	if result.Debug == nil {
		return nil, nil
	}
	enabled, err := o.debugEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}
	return cards.Debug(result.Debug), nil
}

func (o *Orchestrator) debugEnabled(ctx context.Context, userID string) (bool, error) {
	raw, err := o.users.GetUserProperty(ctx, userID, debugFlagProperty)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reading debug flag: %w", err)
	}
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err != nil {
		o.logger.Warn("discarding unreadable debug flag", "user_id", userID, "error", err)
		return false, nil
	}
	return enabled, nil
}

func invocationFor(req InvokeRequest) stream.Invocation {
	return stream.Invocation{
		InputQuery:         req.Input,
		ConversationID:     req.ConversationID,
		PreviousResponseID: req.PreviousResponseID,
	}
}

// ticketDirective synthesizes the system input instructing the backend to
// submit the ticket with exactly the user-provided values.
func ticketDirective(action *cards.ActionPayload) string {
	return strings.Join([]string{
		"[SYSTEM] The user has filled the IT ticket form with the following information:",
		"- Subject: " + action.Subject,
		"- Details: " + action.Details,
		"- Severity: " + action.Severity,
		"",
		"**YOU MUST** Call the submit_ticket tool now with exactly these values. Do not modify them.",
	}, "\n")
}
