// ABOUTME: Declarative, channel-agnostic card model for user interactions.
// ABOUTME: Cards carry titles, body blocks, and buttons with resumption payloads.

package cards

// Card is a declarative interaction card. How it is rendered is up to the
// channel binding; this core only describes structure.
type Card struct {
	Title   string   `json:"title"`
	Body    []Block  `json:"body"`
	Actions []Button `json:"actions,omitempty"`
}

// Block kinds.
const (
	BlockText      = "text"
	BlockFacts     = "facts"
	BlockMonospace = "monospace"
	BlockInput     = "input"
	BlockChoice    = "choice"
)

// Block is one body element of a card.
type Block struct {
	Kind string `json:"kind"`

	// Text / monospace blocks
	Text   string `json:"text,omitempty"`
	Subtle bool   `json:"subtle,omitempty"`

	// Fact sets
	Facts []Fact `json:"facts,omitempty"`

	// Input fields
	InputID     string   `json:"input_id,omitempty"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Multiline   bool     `json:"multiline,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Choices     []Choice `json:"choices,omitempty"`
}

// Fact is one row of a fact set.
type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Choice is one option of a choice input.
type Choice struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// Button styles.
const (
	StyleDefault     = ""
	StylePositive    = "positive"
	StyleDestructive = "destructive"
)

// Button is a card action. OpenURL buttons navigate; submit buttons post
// their Data payload back as a card decision on a later inbound turn.
type Button struct {
	Title string `json:"title"`
	Style string `json:"style,omitempty"`

	// Exactly one of URL or Data is set.
	URL  string         `json:"url,omitempty"`
	Data *ActionPayload `json:"data,omitempty"`
}

func textBlock(text string) Block {
	return Block{Kind: BlockText, Text: text}
}

func subtleBlock(text string) Block {
	return Block{Kind: BlockText, Text: text, Subtle: true}
}

func monospaceBlock(text string) Block {
	return Block{Kind: BlockMonospace, Text: text}
}

func factsBlock(facts ...Fact) Block {
	return Block{Kind: BlockFacts, Facts: facts}
}
