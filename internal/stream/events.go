// ABOUTME: Typed stream events received from the agent backend.
// ABOUTME: Mirrors the backend's streaming response wire shapes, read-only to the reducer.

package stream

import "encoding/json"

// Event type constants emitted by the backend's streaming responses API.
const (
	EventResponseCreated   = "response.created"
	EventOutputItemAdded   = "response.output_item.added"
	EventOutputItemDone    = "response.output_item.done"
	EventOutputTextDelta   = "response.output_text.delta"
	EventOutputTextDone    = "response.output_text.done"
	EventResponseCompleted = "response.completed"
	EventResponseFailed    = "response.failed"

	// ToolEventPrefix marks the tool-execution event family
	// (e.g. response.mcp_call.in_progress, response.mcp_list_tools.completed).
	ToolEventPrefix = "response.mcp_"
)

// Output item types and kinds used by the reducer.
const (
	ItemOAuthConsentRequest = "oauth_consent_request"
	ItemWorkflowAction      = "workflow_action"
	ItemApprovalRequest     = "mcp_approval_request"

	// KindEndConversation is the terminal output kind a workflow agent must
	// end with; anything else is an abnormal completion.
	KindEndConversation = "EndConversation"
)

// Event is one tagged event from the backend stream. Events arrive in strict
// order and are never mutated or reordered.
type Event struct {
	Type     string      `json:"type"`
	Response *Response   `json:"response,omitempty"`
	Item     *OutputItem `json:"item,omitempty"`
	Delta    string      `json:"delta,omitempty"`
	Text     string      `json:"text,omitempty"`
}

// Response is the response payload carried by lifecycle events.
type Response struct {
	ID     string          `json:"id"`
	Model  string          `json:"model,omitempty"`
	Status string          `json:"status,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	Output []OutputItem    `json:"output,omitempty"`
	Usage  map[string]any  `json:"usage,omitempty"`
}

// OutputItem is an output-item payload carried by item and tool events.
type OutputItem struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Name        string `json:"name,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	Arguments   string `json:"arguments,omitempty"`
	Output      string `json:"output,omitempty"`
	ServerLabel string `json:"server_label,omitempty"`
	ConsentLink string `json:"consent_link,omitempty"`
	ActionID    string `json:"action_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

// toolName returns the tool name from whichever field the backend used.
func (it *OutputItem) toolName() string {
	if it == nil {
		return ""
	}
	if it.Name != "" {
		return it.Name
	}
	return it.ToolName
}

// fields flattens the item into a map for debug summarization, omitting
// empty values.
func (it *OutputItem) fields() map[string]any {
	if it == nil {
		return nil
	}
	out := make(map[string]any)
	put := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	put("id", it.ID)
	put("type", it.Type)
	put("kind", it.Kind)
	put("name", it.Name)
	put("tool_name", it.ToolName)
	put("arguments", it.Arguments)
	put("output", it.Output)
	put("server_label", it.ServerLabel)
	put("consent_link", it.ConsentLink)
	put("action_id", it.ActionID)
	put("status", it.Status)
	put("error", it.Error)
	if len(out) == 0 {
		return nil
	}
	return out
}

// outputKind returns the terminal kind of an output item, falling back to its
// type when the backend omits the kind.
func (it OutputItem) outputKind() string {
	if it.Kind != "" {
		return it.Kind
	}
	if it.Type != "" {
		return it.Type
	}
	return "unknown"
}
