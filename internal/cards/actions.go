// ABOUTME: Card action payloads posted back by button presses.
// ABOUTME: One wire shape per suspension kind, disambiguated by the action tag.

package cards

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action kinds carried in card submit payloads.
const (
	ActionAuthCompleted       = "auth_completed"
	ActionToolApproved        = "mcp_tool_approved"
	ActionToolDenied          = "mcp_tool_denied"
	ActionTicketFormSubmitted = "ticket_form_submitted"
)

// ErrUnknownAction is returned for payloads whose action tag is missing or
// unrecognized. Callers fall back to default message handling.
var ErrUnknownAction = errors.New("unknown card action")

// ActionPayload is the decision payload a card button posts back. Fields are
// populated per action kind; the resumption fields carry everything needed to
// re-enter the suspended invocation step.
type ActionPayload struct {
	Action string `json:"action"`

	// Common resumption context
	ConversationID string `json:"conversation_id"`
	InputQuery     string `json:"input_query"`

	// Tool approval decisions
	ApprovalRequestID string `json:"approval_request_id,omitempty"`
	ResponseID        string `json:"response_id,omitempty"`
	ToolName          string `json:"tool_name,omitempty"`
	ToolArguments     string `json:"tool_arguments,omitempty"`
	ServerLabel       string `json:"server_label,omitempty"`

	// Ticket form values
	Subject  string `json:"subject,omitempty"`
	Details  string `json:"details,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// DecodeAction parses a raw card submit payload. Unknown action tags return
// ErrUnknownAction so the caller can treat the turn as a plain message.
func DecodeAction(raw json.RawMessage) (*ActionPayload, error) {
	if len(raw) == 0 {
		return nil, ErrUnknownAction
	}

	var payload ActionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding card action: %w", err)
	}

	switch payload.Action {
	case ActionAuthCompleted, ActionToolApproved, ActionToolDenied, ActionTicketFormSubmitted:
		return &payload, nil
	default:
		return nil, ErrUnknownAction
	}
}

// IsApprovalDecision reports whether the payload is a tool approve/deny.
func (p *ActionPayload) IsApprovalDecision() bool {
	return p.Action == ActionToolApproved || p.Action == ActionToolDenied
}

// Approved reports whether an approval decision granted the tool call.
func (p *ActionPayload) Approved() bool {
	return p.Action == ActionToolApproved
}
