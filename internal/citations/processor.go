// ABOUTME: Incremental markdown-link processor for streamed agent text.
// ABOUTME: Buffers chunk boundaries so links are never split and extracts numbered citations.

package citations

import (
	"fmt"
	"regexp"
	"strings"
)

// TicketMarker is the internal directive the agent appends to its final text
// when it wants the user to fill a ticket form. It is stripped before any
// text reaches the user.
const TicketMarker = "SUBMIT_ISSUE"

const (
	// maxBufferSize forces a flush when no link has formed, bounding latency.
	maxBufferSize = 500
	// keepTailSize is the minimum tail retained on a forced flush so a link
	// straddling the cut can still complete.
	keepTailSize = 100
	// linkStartWindow is how far from the end an unmatched "[" is treated as
	// a possible link opening worth holding back.
	linkStartWindow = 50
)

var (
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	markerTailPattern = regexp.MustCompile(`\s*` + TicketMarker + `\s*$`)
)

// Citation is a numbered reference extracted from an inline markdown link.
// Indices are 1-based and assigned in order of first full extraction.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// LinkProcessor rewrites markdown links in a chunked text stream into
// numbered citation markers. Create one per invocation; it is not safe for
// concurrent use.
type LinkProcessor struct {
	buffer    string
	citations []Citation
}

// NewLinkProcessor returns an empty processor.
func NewLinkProcessor() *LinkProcessor {
	return &LinkProcessor{}
}

// Process appends chunk to the internal buffer and returns text that is safe
// to display immediately. Complete links are replaced by "text[N]" and
// recorded as citations; a possibly-starting link at the buffer tail is held
// back until it completes or the buffer cap forces it out.
func (p *LinkProcessor) Process(chunk string) string {
	p.buffer += chunk

	matches := linkPattern.FindAllStringSubmatchIndex(p.buffer, -1)
	if len(matches) > 0 {
		var out strings.Builder
		last := 0
		for _, m := range matches {
			out.WriteString(p.buffer[last:m[0]])
			title := p.buffer[m[2]:m[3]]
			url := strings.TrimSpace(p.buffer[m[4]:m[5]])
			p.citations = append(p.citations, Citation{Title: title, URL: url})
			fmt.Fprintf(&out, "%s[%d]", title, len(p.citations))
			last = m[1]
		}

		remaining := p.buffer[last:]
		if idx := strings.LastIndex(remaining, "["); idx != -1 && idx > len(remaining)-linkStartWindow {
			out.WriteString(remaining[:idx])
			p.buffer = remaining[idx:]
		} else {
			out.WriteString(remaining)
			p.buffer = ""
		}
		return p.emit(out.String())
	}

	if len(p.buffer) > maxBufferSize {
		idx := strings.LastIndex(p.buffer, "[")
		var cut int
		if idx > keepTailSize {
			cut = idx
		} else {
			cut = len(p.buffer) - keepTailSize
		}
		emitted := p.buffer[:cut]
		p.buffer = p.buffer[cut:]
		return p.emit(emitted)
	}

	return ""
}

// emit returns text for display, minus any trailing suffix that could still
// grow into a ticket marker. The held suffix moves back in front of the
// buffer so the marker never reaches the display stream.
func (p *LinkProcessor) emit(text string) string {
	hold := markerHoldLen(text)
	if hold == 0 {
		return text
	}
	p.buffer = text[len(text)-hold:] + p.buffer
	return text[:len(text)-hold]
}

// markerHoldLen returns the length of the longest suffix of s that is
// optional whitespace followed by a prefix of the ticket marker, or the full
// marker followed only by whitespace.
func markerHoldLen(s string) int {
	start := len(s) - len(TicketMarker) - 16
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s); i++ {
		rest := strings.TrimLeft(s[i:], " \t\r\n")
		if rest == "" {
			continue
		}
		if strings.HasPrefix(TicketMarker, rest) {
			return len(s) - i
		}
		if strings.HasPrefix(rest, TicketMarker) && strings.TrimSpace(rest[len(TicketMarker):]) == "" {
			return len(s) - i
		}
	}
	return 0
}

// Flush strips a trailing ticket marker from the held buffer, runs the
// remainder through link extraction one final time, and returns everything,
// leaving the buffer empty.
func (p *LinkProcessor) Flush() string {
	remainder := markerTailPattern.ReplaceAllString(p.buffer, "")
	p.buffer = ""
	if remainder == "" {
		return ""
	}

	out := p.Process(remainder)
	out += p.buffer
	p.buffer = ""
	return out
}

// Citations returns the citations collected so far, in assignment order.
func (p *LinkProcessor) Citations() []Citation {
	out := make([]Citation, len(p.citations))
	copy(out, p.citations)
	return out
}

// Buffered returns the text currently held back awaiting link completion.
func (p *LinkProcessor) Buffered() string {
	return p.buffer
}
