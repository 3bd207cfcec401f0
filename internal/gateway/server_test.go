// ABOUTME: Tests for turn dispatch and the SSE responder.
// ABOUTME: Covers dedupe, action decoding, per-conversation serialization, and error turns.

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/cards"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/dialog"
)

type stubHandler struct {
	mu    sync.Mutex
	turns []dialog.Turn
	run   func(ctx context.Context, turn dialog.Turn, resp dialog.TurnResponder) error
}

func (h *stubHandler) HandleTurn(ctx context.Context, turn dialog.Turn, resp dialog.TurnResponder) error {
	h.mu.Lock()
	h.turns = append(h.turns, turn)
	h.mu.Unlock()
	if h.run != nil {
		return h.run(ctx, turn, resp)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func postTurn(t *testing.T, srv *Server, payload string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	req := httptest.NewRequest(http.MethodPost, "/api/turns", strings.NewReader(payload))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandleTurnStreamsResponderEvents(t *testing.T) {
	handler := &stubHandler{run: func(ctx context.Context, turn dialog.Turn, resp dialog.TurnResponder) error {
		if err := resp.Status(ctx, "🚀 Working on your answer..."); err != nil {
			return err
		}
		if err := resp.Chunk(ctx, "Hello"); err != nil {
			return err
		}
		return resp.Finish(ctx, nil, nil)
	}}
	srv := NewServer(handler, nil, testLogger())

	w := postTurn(t, srv, `{"message_id":"m1","conversation_id":"chan_1","user_id":"user_1","text":"hi"}`)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "status", events[0].name)
	assert.Equal(t, "chunk", events[1].name)
	assert.Contains(t, events[1].data, "Hello")
	assert.Equal(t, "done", events[2].name)

	require.Len(t, handler.turns, 1)
	assert.Equal(t, "chan_1", handler.turns[0].ChannelConversationID)
	assert.Equal(t, "hi", handler.turns[0].Text)
	assert.Nil(t, handler.turns[0].Action)
}

func TestHandleTurnRejectsMissingIdentifiers(t *testing.T) {
	srv := NewServer(&stubHandler{}, nil, testLogger())

	w := postTurn(t, srv, `{"message_id":"m1","text":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postTurn(t, srv, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTurnDeduplicatesRedeliveries(t *testing.T) {
	handler := &stubHandler{}
	dupes := dedupe.New(time.Minute, 100)
	defer dupes.Close()
	srv := NewServer(handler, dupes, testLogger())

	payload := `{"message_id":"m1","conversation_id":"chan_1","user_id":"user_1","text":"hi"}`
	postTurn(t, srv, payload)
	w := postTurn(t, srv, payload)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body["duplicate"])
	assert.Len(t, handler.turns, 1, "redelivered message must not reach the orchestrator")
}

func TestHandleTurnDecodesCardAction(t *testing.T) {
	handler := &stubHandler{}
	srv := NewServer(handler, nil, testLogger())

	postTurn(t, srv, `{
		"message_id":"m1","conversation_id":"chan_1","user_id":"user_1",
		"reply_to_message_id":"msg_9",
		"value":{"action":"mcp_tool_approved","approval_request_id":"mcpr_1","conversation_id":"conv_1","response_id":"resp_9"}
	}`)

	require.Len(t, handler.turns, 1)
	turn := handler.turns[0]
	require.NotNil(t, turn.Action)
	assert.Equal(t, cards.ActionToolApproved, turn.Action.Action)
	assert.Equal(t, "mcpr_1", turn.Action.ApprovalRequestID)
	assert.Equal(t, "msg_9", turn.ReplyToMessageID)
}

func TestHandleTurnUnknownActionFallsThrough(t *testing.T) {
	handler := &stubHandler{}
	srv := NewServer(handler, nil, testLogger())

	postTurn(t, srv, `{
		"message_id":"m1","conversation_id":"chan_1","user_id":"user_1",
		"text":"pressed something",
		"value":{"action":"imBack"}
	}`)

	require.Len(t, handler.turns, 1)
	assert.Nil(t, handler.turns[0].Action)
	assert.Equal(t, "pressed something", handler.turns[0].Text)
}

func TestHandleTurnErrorSendsPlainMessage(t *testing.T) {
	handler := &stubHandler{run: func(ctx context.Context, turn dialog.Turn, resp dialog.TurnResponder) error {
		return fmt.Errorf("backend unreachable")
	}}
	srv := NewServer(handler, nil, testLogger())

	w := postTurn(t, srv, `{"message_id":"m1","conversation_id":"chan_1","user_id":"user_1","text":"hi"}`)

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].name)
	assert.Contains(t, events[0].data, "something went wrong")
	assert.NotContains(t, events[0].data, "backend unreachable", "internal errors are not exposed")
}

func TestTurnsSerializedPerConversation(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex
	handler := &stubHandler{run: func(ctx context.Context, turn dialog.Turn, resp dialog.TurnResponder) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}}
	srv := NewServer(handler, nil, testLogger())

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			postTurn(t, srv, fmt.Sprintf(
				`{"message_id":"m%d","conversation_id":"chan_1","user_id":"user_1","text":"hi"}`, i))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "one in-flight turn per conversation")
	assert.Len(t, handler.turns, 5)
	assert.Zero(t, srv.locks.size(), "lock entries released after the last turn")
}

func TestConversationLocksEvictIdleEntries(t *testing.T) {
	srv := NewServer(&stubHandler{}, nil, testLogger())

	for i := range 50 {
		postTurn(t, srv, fmt.Sprintf(
			`{"message_id":"m%d","conversation_id":"chan_%d","user_id":"user_1","text":"hi"}`, i, i))
	}

	assert.Zero(t, srv.locks.size(), "idle conversations must not accumulate lock entries")
}

func TestSSEResponderCardRoundTrip(t *testing.T) {
	w := httptest.NewRecorder()
	resp, err := newSSEResponder(w)
	require.NoError(t, err)

	id, err := resp.SendCard(context.Background(), cards.Disclaimer("en-US"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, resp.UpdateCard(context.Background(), id, cards.ApprovalDecision(cards.DecisionParams{Approved: true})))

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "card", events[0].name)
	assert.Equal(t, "card_update", events[1].name)

	var envelope cardEnvelope
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &envelope))
	assert.Equal(t, id, envelope.MessageID)
	assert.True(t, resp.CanUpdateCards())
}

func TestSSEResponderRendersHTMLAlongsideMarkdown(t *testing.T) {
	w := httptest.NewRecorder()
	resp, err := newSSEResponder(w)
	require.NoError(t, err)

	require.NoError(t, resp.SendText(context.Background(), "🐛 Debug mode **enabled** for you across all conversations."))
	_, err = resp.SendCard(context.Background(), cards.Disclaimer("en-US"))
	require.NoError(t, err)

	events := parseSSE(t, w.Body.String())
	require.Len(t, events, 2)

	var text textEnvelope
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &text))
	assert.Contains(t, text.Text, "**enabled**")
	assert.Contains(t, text.HTML, "<strong>enabled</strong>")

	var card cardEnvelope
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &card))
	assert.NotEmpty(t, card.HTML)
	assert.NotContains(t, card.HTML, "**")
}

func TestHealthz(t *testing.T) {
	srv := NewServer(&stubHandler{}, nil, testLogger())
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
