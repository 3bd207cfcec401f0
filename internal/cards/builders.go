// ABOUTME: Builders for the cards the dialog presents.
// ABOUTME: Auth consent, tool approval, approval decision, ticket form, disclaimer, debug.

package cards

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/2389/parley/internal/trace"
)

// AuthParams describe an OAuth consent suspension.
type AuthParams struct {
	ConsentLink    string
	ConversationID string
	InputQuery     string
}

// Auth builds the consent card: an open-url "Sign In" plus a "Continue"
// submit that resumes the suspended step.
func Auth(p AuthParams) *Card {
	return &Card{
		Title: "Authentication Required",
		Body: []Block{
			textBlock(`Please click "Sign In" to open the authentication page in a new window. After completing authentication, return here and click "Continue".`),
		},
		Actions: []Button{
			{Title: "Sign In", URL: p.ConsentLink},
			{Title: "Continue", Data: &ActionPayload{
				Action:         ActionAuthCompleted,
				ConversationID: p.ConversationID,
				InputQuery:     p.InputQuery,
			}},
		},
	}
}

// ApprovalParams describe a tool approval suspension. ResponseID is the
// resumption token required to continue without replaying the request.
type ApprovalParams struct {
	ApprovalRequestID string
	ToolName          string
	ToolArguments     string
	ServerLabel       string
	ConversationID    string
	InputQuery        string
	ResponseID        string
}

// Approval builds the tool approval card with Approve/Deny buttons, both
// carrying the full resumption payload.
func Approval(p ApprovalParams) *Card {
	payload := func(action string) *ActionPayload {
		return &ActionPayload{
			Action:            action,
			ApprovalRequestID: p.ApprovalRequestID,
			ConversationID:    p.ConversationID,
			InputQuery:        p.InputQuery,
			ResponseID:        p.ResponseID,
			ToolName:          p.ToolName,
			ToolArguments:     p.ToolArguments,
			ServerLabel:       p.ServerLabel,
		}
	}

	return &Card{
		Title: "Tool Approval Required",
		Body: []Block{
			textBlock(fmt.Sprintf("The server **%s** is requesting permission to run a tool.", p.ServerLabel)),
			factsBlock(
				Fact{Title: "Tool", Value: p.ToolName},
				Fact{Title: "Server", Value: p.ServerLabel},
			),
			textBlock("Arguments:"),
			monospaceBlock(formatArguments(p.ToolArguments)),
		},
		Actions: []Button{
			{Title: "Approve", Style: StylePositive, Data: payload(ActionToolApproved)},
			{Title: "Deny", Style: StyleDestructive, Data: payload(ActionToolDenied)},
		},
	}
}

// DecisionParams describe a recorded approval decision.
type DecisionParams struct {
	Approved      bool
	ToolName      string
	ToolArguments string
	ServerLabel   string
}

// ApprovalDecision builds the read-only replacement for an approval card
// once the user has decided. It has no actions.
func ApprovalDecision(p DecisionParams) *Card {
	status := "❌ Denied"
	if p.Approved {
		status = "✅ Approved"
	}

	return &Card{
		Title: "Tool Approval",
		Body: []Block{
			textBlock(fmt.Sprintf("Decision: **%s**", status)),
			factsBlock(
				Fact{Title: "Tool", Value: p.ToolName},
				Fact{Title: "Server", Value: p.ServerLabel},
			),
			textBlock("Arguments:"),
			monospaceBlock(formatArguments(p.ToolArguments)),
		},
	}
}

// TicketFormParams describe a ticket form suspension.
type TicketFormParams struct {
	ConversationID string
	InputQuery     string
}

// TicketForm builds the ticket submission form so the user provides exact
// values instead of the agent inferring them.
func TicketForm(p TicketFormParams) *Card {
	return &Card{
		Title: "🎫 Submit an IT Ticket",
		Body: []Block{
			textBlock("Please fill in the details below to create a new IT support ticket."),
			{Kind: BlockInput, InputID: "subject", Label: "Subject", Placeholder: "Brief summary of the issue", Required: true},
			{Kind: BlockInput, InputID: "details", Label: "Details", Placeholder: "Describe the problem in detail", Multiline: true, Required: true},
			{Kind: BlockChoice, InputID: "severity", Label: "Severity", Required: true, Choices: []Choice{
				{Title: "🔴 Critical", Value: "Critical"},
				{Title: "🟡 Medium", Value: "Medium"},
				{Title: "🟢 Low", Value: "Low"},
			}},
		},
		Actions: []Button{
			{Title: "Submit Ticket", Style: StylePositive, Data: &ActionPayload{
				Action:         ActionTicketFormSubmitted,
				ConversationID: p.ConversationID,
				InputQuery:     p.InputQuery,
			}},
		},
	}
}

// Debug builds the debug snapshot card: an overview fact set followed by the
// event timeline with per-event detail rendered as JSON.
func Debug(info *trace.Info) *Card {
	conversationID := info.ConversationID
	if conversationID == "" {
		conversationID = "(new)"
	}

	overview := []Fact{
		{Title: "Input", Value: clip(info.InputQuery, 120)},
		{Title: "Conversation ID", Value: conversationID},
	}
	if info.PreviousResponseID != "" {
		overview = append(overview, Fact{Title: "Previous Response ID", Value: info.PreviousResponseID})
	}
	overview = append(overview,
		Fact{Title: "Response ID", Value: orNA(info.ResponseID)},
		Fact{Title: "Duration", Value: fmt.Sprintf("%dms", info.TotalDurationMs)},
		Fact{Title: "Citations", Value: fmt.Sprintf("%d", info.CitationCount)},
		Fact{Title: "Events", Value: fmt.Sprintf("%d", len(info.Events))},
	)

	body := []Block{
		subtleBlock("Debug mode is on. Send `/debug off` to disable."),
		factsBlock(overview...),
		textBlock(fmt.Sprintf("⏱️ Event Timeline (%d)", len(info.Events))),
	}

	for _, evt := range info.Events {
		body = append(body, textBlock(fmt.Sprintf("`#%d` **+%dms** — %s", evt.Seq, evt.ElapsedMs, evt.Summary)))
		if len(evt.Detail) > 0 {
			body = append(body, monospaceBlock(formatDetail(evt.Detail)))
		}
	}

	return &Card{
		Title: "🐛 Debug Information",
		Body:  body,
	}
}

// formatArguments pretty-prints tool arguments JSON, falling back to the raw
// string when it is not valid JSON.
func formatArguments(args string) string {
	var parsed any
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return args
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(parsed); err != nil {
		return args
	}
	return buf.String()
}

func formatDetail(detail map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(detail); err != nil {
		return fmt.Sprintf("%v", detail)
	}
	return buf.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
