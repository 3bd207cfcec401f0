// ABOUTME: Append-only debug trace for one agent invocation.
// ABOUTME: Records sequenced, timestamped events and builds the final snapshot.

package trace

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxStringLen caps string fields in summarized event detail.
const maxStringLen = 300

// Event is a single recorded processing event. Seq is 1-based and strictly
// increasing within one invocation.
type Event struct {
	Seq       int            `json:"seq"`
	Timestamp string         `json:"timestamp"`
	ElapsedMs int64          `json:"elapsed_ms"`
	EventType string         `json:"event_type"`
	Summary   string         `json:"summary"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Info is the full debug snapshot for one invocation. It is retained by the
// caller until the next invocation replaces it.
type Info struct {
	InputQuery         string  `json:"input_query"`
	ConversationID     string  `json:"conversation_id"`
	PreviousResponseID string  `json:"previous_response_id,omitempty"`
	ResponseID         string  `json:"response_id,omitempty"`
	StreamStartedAt    string  `json:"stream_started_at"`
	StreamEndedAt      string  `json:"stream_ended_at"`
	TotalDurationMs    int64   `json:"total_duration_ms"`
	CitationCount      int     `json:"citation_count"`
	Events             []Event `json:"events"`
}

// Recorder collects debug events for one invocation. Not safe for concurrent
// use; each invocation owns its own Recorder.
type Recorder struct {
	started time.Time
	events  []Event
	seq     int
	now     func() time.Time
}

// NewRecorder creates a Recorder with the stream start time set to now.
func NewRecorder() *Recorder {
	r := &Recorder{now: time.Now}
	r.started = r.now()
	return r
}

// Record appends an event with automatic sequencing and elapsed timing.
func (r *Recorder) Record(eventType, summary string, detail map[string]any) {
	r.seq++
	now := r.now()
	r.events = append(r.events, Event{
		Seq:       r.seq,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		ElapsedMs: now.Sub(r.started).Milliseconds(),
		EventType: eventType,
		Summary:   summary,
		Detail:    detail,
	})
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []Event {
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	return len(r.events)
}

// SnapshotParams identifies the invocation a snapshot belongs to.
type SnapshotParams struct {
	InputQuery         string
	ConversationID     string
	PreviousResponseID string
	ResponseID         string
	CitationCount      int
}

// Snapshot finalizes the trace into an Info, stamping the end time.
func (r *Recorder) Snapshot(p SnapshotParams) *Info {
	ended := r.now()
	return &Info{
		InputQuery:         p.InputQuery,
		ConversationID:     p.ConversationID,
		PreviousResponseID: p.PreviousResponseID,
		ResponseID:         p.ResponseID,
		StreamStartedAt:    r.started.UTC().Format(time.RFC3339Nano),
		StreamEndedAt:      ended.UTC().Format(time.RFC3339Nano),
		TotalDurationMs:    ended.Sub(r.started).Milliseconds(),
		CitationCount:      p.CitationCount,
		Events:             r.Events(),
	}
}

// SummarizeItem builds a compact detail map from an arbitrary decoded item.
// Long strings are truncated, arrays are summarized by element count, and
// nil values are dropped. Returns nil when nothing remains.
func SummarizeItem(item map[string]any) map[string]any {
	if len(item) == 0 {
		return nil
	}
	summary := make(map[string]any)
	for key, value := range item {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			summary[key] = truncate(v)
		case []any:
			summary[key] = countLabel(len(v))
		case map[string]any:
			summary[key] = v
		default:
			summary[key] = v
		}
	}
	if len(summary) == 0 {
		return nil
	}
	return summary
}

// ToolCallDetail builds rich detail for tool-execution events. Arguments and
// output that are JSON-encoded strings are parsed into structured values so
// they render as trees; anything unparseable stays a raw string.
func ToolCallDetail(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	detail := make(map[string]any)
	for _, key := range []string{"id", "type", "server_label", "status", "error"} {
		if v, ok := fields[key]; ok && v != nil && v != "" {
			detail[key] = v
		}
	}
	if name, ok := firstNonEmpty(fields, "name", "tool_name"); ok {
		detail["tool_name"] = name
	}
	for _, key := range []string{"arguments", "output"} {
		v, ok := fields[key]
		if !ok || v == nil || v == "" {
			continue
		}
		detail[key] = parseStructured(v)
	}
	if len(detail) == 0 {
		return nil
	}
	return detail
}

// parseStructured decodes JSON-encoded strings into structured values,
// degrading to the raw input on failure.
func parseStructured(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return s
	}
	return parsed
}

func firstNonEmpty(fields map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := fields[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func truncate(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	return s[:maxStringLen] + "…"
}

func countLabel(n int) string {
	if n == 1 {
		return "[1 item]"
	}
	return fmt.Sprintf("[%d items]", n)
}
