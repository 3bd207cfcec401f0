// ABOUTME: Tests for card builders and action payload decoding.
// ABOUTME: Covers the resumption payloads buttons must round-trip.

package cards

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/trace"
)

func TestDecodeActionKnownKinds(t *testing.T) {
	for _, action := range []string{
		ActionAuthCompleted,
		ActionToolApproved,
		ActionToolDenied,
		ActionTicketFormSubmitted,
	} {
		raw := json.RawMessage(`{"action":"` + action + `","conversation_id":"conv_1"}`)
		payload, err := DecodeAction(raw)
		require.NoError(t, err, action)
		assert.Equal(t, action, payload.Action)
		assert.Equal(t, "conv_1", payload.ConversationID)
	}
}

func TestDecodeActionUnknown(t *testing.T) {
	_, err := DecodeAction(json.RawMessage(`{"action":"imBack","value":"hello"}`))
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecodeActionMissingTag(t *testing.T) {
	_, err := DecodeAction(json.RawMessage(`{"conversation_id":"conv_1"}`))
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecodeActionEmpty(t *testing.T) {
	_, err := DecodeAction(nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecodeActionMalformed(t *testing.T) {
	_, err := DecodeAction(json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownAction)
}

func TestApprovalDecisionHelpers(t *testing.T) {
	approve := &ActionPayload{Action: ActionToolApproved}
	deny := &ActionPayload{Action: ActionToolDenied}
	auth := &ActionPayload{Action: ActionAuthCompleted}

	assert.True(t, approve.IsApprovalDecision())
	assert.True(t, deny.IsApprovalDecision())
	assert.False(t, auth.IsApprovalDecision())
	assert.True(t, approve.Approved())
	assert.False(t, deny.Approved())
}

func TestAuthCard(t *testing.T) {
	card := Auth(AuthParams{
		ConsentLink:    "https://login.example.com/consent",
		ConversationID: "conv_1",
		InputQuery:     "list my files",
	})

	require.Len(t, card.Actions, 2)
	assert.Equal(t, "Sign In", card.Actions[0].Title)
	assert.Equal(t, "https://login.example.com/consent", card.Actions[0].URL)
	assert.Nil(t, card.Actions[0].Data)

	resume := card.Actions[1]
	assert.Equal(t, "Continue", resume.Title)
	require.NotNil(t, resume.Data)
	assert.Equal(t, ActionAuthCompleted, resume.Data.Action)
	assert.Equal(t, "conv_1", resume.Data.ConversationID)
	assert.Equal(t, "list my files", resume.Data.InputQuery)
}

func TestApprovalCardCarriesFullResumptionPayload(t *testing.T) {
	card := Approval(ApprovalParams{
		ApprovalRequestID: "mcpr_1",
		ToolName:          "directory_search",
		ToolArguments:     `{"query":"printers"}`,
		ServerLabel:       "corp-directory",
		ConversationID:    "conv_1",
		InputQuery:        "find printers",
		ResponseID:        "resp_9",
	})

	require.Len(t, card.Actions, 2)
	for i, want := range []string{ActionToolApproved, ActionToolDenied} {
		data := card.Actions[i].Data
		require.NotNil(t, data)
		assert.Equal(t, want, data.Action)
		assert.Equal(t, "mcpr_1", data.ApprovalRequestID)
		assert.Equal(t, "resp_9", data.ResponseID)
		assert.Equal(t, "conv_1", data.ConversationID)
		assert.Equal(t, "find printers", data.InputQuery)
		assert.Equal(t, "directory_search", data.ToolName)
		assert.Equal(t, "corp-directory", data.ServerLabel)
	}
	assert.Equal(t, StylePositive, card.Actions[0].Style)
	assert.Equal(t, StyleDestructive, card.Actions[1].Style)
}

func TestApprovalCardPrettyPrintsArguments(t *testing.T) {
	card := Approval(ApprovalParams{ToolArguments: `{"query":"printers"}`})

	var mono string
	for _, b := range card.Body {
		if b.Kind == BlockMonospace {
			mono = b.Text
		}
	}
	assert.Contains(t, mono, "\n")
	assert.Contains(t, mono, `"query": "printers"`)
}

func TestApprovalDecisionCardReadOnly(t *testing.T) {
	approved := ApprovalDecision(DecisionParams{Approved: true, ToolName: "directory_search"})
	denied := ApprovalDecision(DecisionParams{Approved: false, ToolName: "directory_search"})

	assert.Empty(t, approved.Actions)
	assert.Empty(t, denied.Actions)
	assert.Contains(t, approved.Body[0].Text, "✅ Approved")
	assert.Contains(t, denied.Body[0].Text, "❌ Denied")
}

func TestTicketFormCard(t *testing.T) {
	card := TicketForm(TicketFormParams{ConversationID: "conv_1", InputQuery: "my laptop is broken"})

	var inputs []string
	var severities []string
	for _, b := range card.Body {
		switch b.Kind {
		case BlockInput:
			inputs = append(inputs, b.InputID)
		case BlockChoice:
			inputs = append(inputs, b.InputID)
			for _, c := range b.Choices {
				severities = append(severities, c.Value)
			}
		}
	}
	assert.Equal(t, []string{"subject", "details", "severity"}, inputs)
	assert.Equal(t, []string{"Critical", "Medium", "Low"}, severities)

	require.Len(t, card.Actions, 1)
	require.NotNil(t, card.Actions[0].Data)
	assert.Equal(t, ActionTicketFormSubmitted, card.Actions[0].Data.Action)
	assert.Equal(t, "my laptop is broken", card.Actions[0].Data.InputQuery)
}

func TestDisclaimerLocales(t *testing.T) {
	en := Disclaimer("en-US")
	fr := Disclaimer("fr-FR")
	fallback := Disclaimer("de-DE")

	assert.NotEqual(t, en.Title, fr.Title)
	assert.Equal(t, en.Title, fallback.Title)
	assert.True(t, en.Body[0].Subtle)
}

func TestFormatArgumentsFallsBackToRaw(t *testing.T) {
	assert.Equal(t, "not json at all", formatArguments("not json at all"))
}

func TestDebugCard(t *testing.T) {
	info := &trace.Info{
		InputQuery:      "find printers",
		ConversationID:  "conv_1",
		ResponseID:      "resp_9",
		TotalDurationMs: 420,
		CitationCount:   2,
		Events: []trace.Event{
			{Seq: 1, ElapsedMs: 10, EventType: "response.created", Summary: "response.created"},
			{Seq: 2, ElapsedMs: 50, EventType: "response.output_item.done", Summary: "output item done",
				Detail: map[string]any{"type": "mcp_call", "name": "directory_search"}},
		},
	}

	card := Debug(info)

	assert.Equal(t, "🐛 Debug Information", card.Title)
	require.NotEmpty(t, card.Body)

	var facts []Fact
	var monos int
	joined := ""
	for _, b := range card.Body {
		if b.Kind == BlockFacts {
			facts = b.Facts
		}
		if b.Kind == BlockMonospace {
			monos++
		}
		joined += b.Text
	}
	require.NotEmpty(t, facts)
	assert.Equal(t, 1, monos, "only the event with detail gets a detail block")
	assert.Contains(t, joined, "#1")
	assert.Contains(t, joined, "#2")

	values := map[string]string{}
	for _, f := range facts {
		values[f.Title] = f.Value
	}
	assert.Equal(t, "resp_9", values["Response ID"])
	assert.Equal(t, "420ms", values["Duration"])
	assert.Equal(t, "2", values["Citations"])
	assert.Equal(t, "2", values["Events"])
}

func TestRenderMarkdown(t *testing.T) {
	html, err := RenderMarkdown("**bold** and [link](https://example.com)")
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.Contains(t, html, `<a href="https://example.com">link</a>`)
}

func TestRenderCardBodyRendersTextBlocksOnly(t *testing.T) {
	card := &Card{
		Title: "Tool Approval Required",
		Body: []Block{
			textBlock("A tool is requesting **your** approval."),
			monospaceBlock(`{"query": "test"}`),
			factsBlock(Fact{Title: "Tool", Value: "search"}),
		},
	}

	html, err := RenderCardBody(card)
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>your</strong>")
	assert.NotContains(t, html, "query", "monospace blocks keep native rendering")
	assert.NotContains(t, html, "search", "fact sets keep native rendering")
}
