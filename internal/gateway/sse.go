// ABOUTME: SSE writer that renders one turn's responder calls as a typed event stream.
// ABOUTME: Channel adapters replay these events into their platform's message primitives.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/cards"
	"github.com/2389/parley/internal/citations"
)

// SSE event names emitted on the turn stream.
const (
	eventStatus     = "status"
	eventChunk      = "chunk"
	eventText       = "text"
	eventCard       = "card"
	eventCardUpdate = "card_update"
	eventDone       = "done"
	eventError      = "error"
)

type textEnvelope struct {
	Text string `json:"text"`
	// HTML is the rendered form of Text for adapters whose channel cannot
	// display markdown.
	HTML string `json:"html,omitempty"`
}

type cardEnvelope struct {
	MessageID string      `json:"message_id,omitempty"`
	Card      *cards.Card `json:"card"`
	// HTML is the rendered form of the card's text blocks, for adapters
	// whose channel cannot display markdown inside cards.
	HTML string `json:"html,omitempty"`
}

type doneEnvelope struct {
	Citations []citations.Citation `json:"citations,omitempty"`
	Debug     *cards.Card          `json:"debug,omitempty"`
}

// sseResponder implements dialog.TurnResponder over an SSE response. Writes
// are serialized; the responder callbacks may arrive from the reducer
// goroutine and the orchestrator interleaved.
type sseResponder struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEResponder(w http.ResponseWriter) (*sseResponder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseResponder{w: w, flusher: flusher}, nil
}

func (r *sseResponder) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintf(r.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	r.flusher.Flush()
	return nil
}

func (r *sseResponder) Chunk(_ context.Context, text string) error {
	return r.send(eventChunk, map[string]string{"text": text})
}

func (r *sseResponder) Status(_ context.Context, text string) error {
	return r.send(eventStatus, map[string]string{"text": text})
}

func (r *sseResponder) SendText(_ context.Context, text string) error {
	env := textEnvelope{Text: text}
	// Text that fails to render ships as plain markdown only.
	if html, err := cards.RenderMarkdown(text); err == nil {
		env.HTML = html
	}
	return r.send(eventText, env)
}

func (r *sseResponder) SendCard(_ context.Context, card *cards.Card) (string, error) {
	id := uuid.NewString()
	if err := r.send(eventCard, newCardEnvelope(id, card)); err != nil {
		return "", err
	}
	return id, nil
}

func (r *sseResponder) UpdateCard(_ context.Context, messageID string, card *cards.Card) error {
	return r.send(eventCardUpdate, newCardEnvelope(messageID, card))
}

func newCardEnvelope(messageID string, card *cards.Card) cardEnvelope {
	env := cardEnvelope{MessageID: messageID, Card: card}
	if html, err := cards.RenderCardBody(card); err == nil {
		env.HTML = html
	}
	return env
}

// CanUpdateCards is true: SSE consumers correlate card_update events by
// message id.
func (r *sseResponder) CanUpdateCards() bool { return true }

func (r *sseResponder) Finish(_ context.Context, cits []citations.Citation, debug *cards.Card) error {
	return r.send(eventDone, doneEnvelope{Citations: cits, Debug: debug})
}

func (r *sseResponder) sendError(message string) error {
	return r.send(eventError, map[string]string{"message": message})
}
