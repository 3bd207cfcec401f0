// ABOUTME: Per-invocation consumer of the backend event stream.
// ABOUTME: Drives link processing and debug tracing, returns exactly one outcome.

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/parley/internal/citations"
	"github.com/2389/parley/internal/trace"
)

// AgentTypeWorkflow marks workflow-style agents, which must terminate with an
// explicit end-conversation output.
const AgentTypeWorkflow = "workflow"

const (
	abnormalCompletionText = "Sorry, something went wrong while generating the response. The agent did not produce a final message."
	failureTextPrefix      = "Sorry, something went wrong while generating the response: \n"
)

// Outcome is the terminal result of consuming one invocation's stream.
type Outcome int

const (
	OutcomeNormal Outcome = iota
	OutcomeAuth
	OutcomeApproval
	OutcomeTicketForm
	OutcomeFailure
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeNormal:
		return "normal"
	case OutcomeAuth:
		return "auth"
	case OutcomeApproval:
		return "approval"
	case OutcomeTicketForm:
		return "ticket_form"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// AuthRequest is returned when the backend requires OAuth consent.
type AuthRequest struct {
	ConsentLink    string
	ConversationID string
	InputQuery     string
}

// ApprovalRequest is returned when a tool call needs user confirmation.
// ResponseID is the response that raised the request; resuming must continue
// from it rather than replaying the conversation.
type ApprovalRequest struct {
	ApprovalRequestID string
	ToolName          string
	ToolArguments     string
	ServerLabel       string
	ConversationID    string
	InputQuery        string
	ResponseID        string
}

// TicketFormRequest is returned when the agent asks for a ticket form.
type TicketFormRequest struct {
	ConversationID string
	InputQuery     string
}

// Result carries the single outcome of one invocation plus its artifacts.
type Result struct {
	Outcome    Outcome
	Auth       *AuthRequest
	Approval   *ApprovalRequest
	TicketForm *TicketFormRequest
	ResponseID string
	Citations  []citations.Citation
	Debug      *trace.Info
}

// Output receives display text in emission order. Chunk appends to the
// user-visible response stream; Status sends a transient informative update.
type Output interface {
	Chunk(ctx context.Context, text string) error
	Status(ctx context.Context, text string) error
}

// Invocation identifies one backend invocation for tracing.
type Invocation struct {
	InputQuery         string
	ConversationID     string
	PreviousResponseID string
}

// Config controls reduction behavior.
type Config struct {
	// SuppressedActionIDs are workflow routing actions whose narration is
	// hidden from the user.
	SuppressedActionIDs []string
	// AgentType is the backend agent's resolved type.
	AgentType string
}

// Reducer consumes backend event streams. It holds no per-invocation state;
// each Run owns its own buffers, so concurrent invocations are safe.
type Reducer struct {
	suppressed map[string]struct{}
	agentType  string
	logger     *slog.Logger
}

// NewReducer creates a Reducer with the given config.
func NewReducer(cfg Config, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	suppressed := make(map[string]struct{}, len(cfg.SuppressedActionIDs))
	for _, id := range cfg.SuppressedActionIDs {
		suppressed[id] = struct{}{}
	}
	return &Reducer{
		suppressed: suppressed,
		agentType:  cfg.AgentType,
		logger:     logger.With("component", "stream"),
	}
}

// run holds the mutable state of one invocation.
type run struct {
	proc        *citations.LinkProcessor
	rec         *trace.Recorder
	skipContent bool
	toolActive  bool
	fullText    strings.Builder
	responseID  string
	failed      bool
}

// Run consumes events in arrival order until the channel closes or an early
// outcome ends the invocation. Exactly one Result is returned; a nil error
// with OutcomeFailure means the backend reported the failure itself.
func (r *Reducer) Run(ctx context.Context, in <-chan Event, out Output, inv Invocation) (*Result, error) {
	st := &run{
		proc: citations.NewLinkProcessor(),
		rec:  trace.NewRecorder(),
	}
	st.rec.Record("stream.start", "Stream started", map[string]any{
		"input_query":          inv.InputQuery,
		"conversation_id":      inv.ConversationID,
		"previous_response_id": inv.PreviousResponseID,
	})

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt, ok := <-in:
			if !ok {
				return r.finalize(st, inv), nil
			}
			result, err := r.handle(ctx, st, out, inv, evt)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
			if st.failed {
				return &Result{
					Outcome:    OutcomeFailure,
					ResponseID: st.responseID,
					Citations:  st.proc.Citations(),
				}, nil
			}
		}
	}
}

// handle processes one event. A non-nil Result ends the invocation early.
func (r *Reducer) handle(ctx context.Context, st *run, out Output, inv Invocation, evt Event) (*Result, error) {
	switch {
	case evt.Type == EventResponseCreated:
		if evt.Response != nil {
			st.responseID = evt.Response.ID
		}
		detail := map[string]any{"response_id": st.responseID}
		if evt.Response != nil {
			if evt.Response.Model != "" {
				detail["model"] = evt.Response.Model
			}
			if evt.Response.Status != "" {
				detail["status"] = evt.Response.Status
			}
		}
		st.rec.Record(evt.Type, "Response created: "+st.responseID, detail)

	case evt.Type == EventOutputItemDone:
		if evt.Item != nil && evt.Item.Type == ItemOAuthConsentRequest && evt.Item.ConsentLink != "" {
			st.rec.Record(ItemOAuthConsentRequest, "OAuth consent required", mergeDetail(
				map[string]any{"consent_link": evt.Item.ConsentLink},
				trace.SummarizeItem(evt.Item.fields()),
			))
			r.logger.Info("oauth consent requested", "conversation_id", inv.ConversationID)
			return &Result{
				Outcome: OutcomeAuth,
				Auth: &AuthRequest{
					ConsentLink:    evt.Item.ConsentLink,
					ConversationID: inv.ConversationID,
					InputQuery:     inv.InputQuery,
				},
				ResponseID: st.responseID,
			}, nil
		}
		st.rec.Record(evt.Type, "Output item done: "+itemType(evt.Item), trace.SummarizeItem(evt.Item.fields()))

	case evt.Type == EventOutputItemAdded:
		return r.handleItemAdded(st, inv, evt)

	case evt.Type == EventOutputTextDelta:
		// Suppressed routing narration is dropped entirely: not buffered,
		// not emitted, not counted toward citations.
		if st.skipContent || evt.Delta == "" {
			return nil, nil
		}
		if chunk := st.proc.Process(evt.Delta); chunk != "" {
			if err := out.Chunk(ctx, chunk); err != nil {
				return nil, fmt.Errorf("emitting text chunk: %w", err)
			}
		}

	case evt.Type == EventOutputTextDone:
		if st.skipContent {
			st.rec.Record(evt.Type, "Text done (skipped due to suppressed action)", map[string]any{
				"text_length": len(evt.Text),
			})
			return nil, nil
		}
		st.fullText.WriteString(evt.Text)
		st.rec.Record(evt.Type, fmt.Sprintf("Text done (%d chars)", len(evt.Text)), map[string]any{
			"text_length":  len(evt.Text),
			"text_preview": preview(evt.Text),
		})
		if flushed := st.proc.Flush(); flushed != "" {
			if err := out.Chunk(ctx, flushed); err != nil {
				return nil, fmt.Errorf("flushing link buffer: %w", err)
			}
		}

	case evt.Type == EventResponseCompleted:
		if err := r.handleCompleted(ctx, st, out, evt); err != nil {
			return nil, err
		}

	case evt.Type == EventResponseFailed:
		errText := "unknown error"
		if evt.Response != nil && len(evt.Response.Error) > 0 {
			errText = string(evt.Response.Error)
		}
		st.rec.Record(evt.Type, "Response failed: "+errText, map[string]any{
			"error":       errText,
			"response_id": st.responseID,
		})
		r.logger.Error("response failed", "error", errText, "response_id", st.responseID)
		if err := out.Chunk(ctx, failureTextPrefix+errText); err != nil {
			return nil, fmt.Errorf("emitting failure chunk: %w", err)
		}
		st.failed = true

	case strings.HasPrefix(evt.Type, ToolEventPrefix):
		if err := r.handleToolEvent(ctx, st, out, evt); err != nil {
			return nil, err
		}

	default:
		summary := "Event: " + evt.Type
		if evt.Item != nil && evt.Item.Type != "" {
			summary += " (item: " + evt.Item.Type + ")"
		}
		st.rec.Record(evt.Type, summary, trace.SummarizeItem(evt.Item.fields()))
	}

	return nil, nil
}

// handleItemAdded covers workflow routing actions and tool approval requests.
func (r *Reducer) handleItemAdded(st *run, inv Invocation, evt Event) (*Result, error) {
	item := evt.Item
	switch {
	case item != nil && item.Type == ItemWorkflowAction && item.ActionID != "":
		_, suppressed := r.suppressed[item.ActionID]
		st.skipContent = suppressed
		summary := "Workflow action: " + item.ActionID
		if suppressed {
			summary += " (suppressed)"
		}
		st.rec.Record(ItemWorkflowAction, summary, mergeDetail(
			map[string]any{"action_id": item.ActionID, "suppressed": suppressed},
			trace.SummarizeItem(item.fields()),
		))
		r.logger.Debug("workflow action", "action_id", item.ActionID, "suppressed", suppressed)

	case item != nil && item.Type == ItemApprovalRequest:
		st.rec.Record(ItemApprovalRequest,
			fmt.Sprintf("Tool approval required: %s on %s", item.toolName(), item.ServerLabel),
			mergeDetail(
				map[string]any{"approval_id": item.ID},
				trace.SummarizeItem(item.fields()),
			))
		r.logger.Info("tool approval requested",
			"tool", item.toolName(),
			"server", item.ServerLabel,
			"approval_id", item.ID,
		)
		return &Result{
			Outcome: OutcomeApproval,
			Approval: &ApprovalRequest{
				ApprovalRequestID: item.ID,
				ToolName:          item.toolName(),
				ToolArguments:     item.Arguments,
				ServerLabel:       item.ServerLabel,
				ConversationID:    inv.ConversationID,
				InputQuery:        inv.InputQuery,
				ResponseID:        st.responseID,
			},
			ResponseID: st.responseID,
		}, nil

	default:
		st.rec.Record(evt.Type, "Output item added: "+itemType(item), trace.SummarizeItem(item.fields()))
	}
	return nil, nil
}

// handleCompleted checks workflow agents for an explicit terminal output.
func (r *Reducer) handleCompleted(ctx context.Context, st *run, out Output, evt Event) error {
	var last *OutputItem
	outputCount := 0
	if evt.Response != nil && len(evt.Response.Output) > 0 {
		outputCount = len(evt.Response.Output)
		last = &evt.Response.Output[outputCount-1]
	}

	if r.agentType == AgentTypeWorkflow && (last == nil || last.outputKind() != KindEndConversation) {
		lastKind := "unknown"
		if last != nil {
			lastKind = last.outputKind()
		}
		st.rec.Record(evt.Type, "Abnormal completion (last output: "+lastKind+")", map[string]any{
			"last_output_kind": lastKind,
			"output_count":     outputCount,
		})
		r.logger.Warn("abnormal completion", "last_output_kind", lastKind)
		if err := out.Chunk(ctx, abnormalCompletionText); err != nil {
			return fmt.Errorf("emitting abnormal-completion chunk: %w", err)
		}
		return nil
	}

	detail := map[string]any{"output_count": outputCount}
	if evt.Response != nil && evt.Response.Usage != nil {
		detail["usage"] = evt.Response.Usage
	}
	st.rec.Record(evt.Type, "Response completed", detail)
	return nil
}

// handleToolEvent records tool-execution progress and sends one informative
// status on first entry into an in-progress state.
func (r *Reducer) handleToolEvent(ctx context.Context, st *run, out Output, evt Event) error {
	toolName := evt.Item.toolName()

	if !st.toolActive {
		st.toolActive = true
		label := "🔍 Fetching data using remote tools..."
		if toolName != "" {
			label = fmt.Sprintf("🔍 Fetching data using tool %q...", toolName)
		}
		if err := out.Status(ctx, label); err != nil {
			return fmt.Errorf("sending tool status: %w", err)
		}
	}

	summary := evt.Type
	if toolName != "" {
		summary += " (" + toolName + ")"
	}
	st.rec.Record(evt.Type, summary, trace.ToolCallDetail(evt.Item.fields()))

	if strings.HasSuffix(evt.Type, ".completed") || strings.HasSuffix(evt.Type, ".failed") {
		st.toolActive = false
	}
	return nil
}

// finalize runs after the stream closes with no early outcome: snapshot the
// trace and decide between normal completion and the ticket form.
func (r *Reducer) finalize(st *run, inv Invocation) *Result {
	ticket := strings.HasSuffix(strings.TrimSpace(st.fullText.String()), citations.TicketMarker)
	if ticket {
		st.rec.Record("ticket_marker_detected", "Ticket form marker detected in response text", nil)
	}

	collected := st.proc.Citations()
	debug := st.rec.Snapshot(trace.SnapshotParams{
		InputQuery:         inv.InputQuery,
		ConversationID:     inv.ConversationID,
		PreviousResponseID: inv.PreviousResponseID,
		ResponseID:         st.responseID,
		CitationCount:      len(collected),
	})

	result := &Result{
		Outcome:    OutcomeNormal,
		ResponseID: st.responseID,
		Citations:  collected,
		Debug:      debug,
	}
	if ticket {
		result.Outcome = OutcomeTicketForm
		result.TicketForm = &TicketFormRequest{
			ConversationID: inv.ConversationID,
			InputQuery:     inv.InputQuery,
		}
	}

	r.logger.Debug("stream finalized",
		"outcome", result.Outcome.String(),
		"citations", len(collected),
		"events", st.rec.Len(),
	)
	return result
}

func itemType(item *OutputItem) string {
	if item == nil || item.Type == "" {
		return "unknown"
	}
	return item.Type
}

func preview(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// mergeDetail overlays extra keys onto a summarized detail map.
func mergeDetail(base, extra map[string]any) map[string]any {
	if base == nil {
		return extra
	}
	for k, v := range extra {
		if _, exists := base[k]; !exists {
			base[k] = v
		}
	}
	return base
}
