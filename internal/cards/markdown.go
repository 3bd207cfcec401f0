// ABOUTME: Markdown rendering for card text destined for HTML-only channels.
// ABOUTME: Thin wrapper over goldmark with GFM extensions enabled.

package cards

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderMarkdown converts markdown text to HTML for channels that cannot
// display markdown natively.
func RenderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// RenderCardBody renders a card's text blocks into one HTML fragment.
// Structured blocks (facts, inputs, monospace) are skipped; those keep their
// native card rendering on every channel.
func RenderCardBody(card *Card) (string, error) {
	var out strings.Builder
	for _, block := range card.Body {
		if block.Kind != BlockText || block.Text == "" {
			continue
		}
		html, err := RenderMarkdown(block.Text)
		if err != nil {
			return "", err
		}
		out.WriteString(html)
	}
	return out.String(), nil
}
