// ABOUTME: HTTP client for the agent backend's conversations and streaming responses API.
// ABOUTME: Parses the SSE response body into a channel of typed stream events.

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/2389/parley/internal/dialog"
	"github.com/2389/parley/internal/stream"
)

const (
	ssePrefix    = "data: "
	sseDone      = "[DONE]"
	agentRefType = "agent_reference"

	// maxEventSize bounds a single SSE data line. Output items can carry
	// large tool outputs.
	maxEventSize = 1 << 20
)

// Config describes the backend connection.
type Config struct {
	// Endpoint is the backend API base URL, without a trailing slash.
	Endpoint string
	// AgentName is the published agent this client invokes.
	AgentName string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
	// HTTPClient overrides the default client. The default has no overall
	// timeout; streams are bounded by the request context.
	HTTPClient *http.Client
}

// Client talks to the agent backend. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	endpoint  string
	agentName string
	apiKey    string
	logger    *slog.Logger

	mu        sync.Mutex
	agentType string
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		http:      httpClient,
		endpoint:  strings.TrimSuffix(cfg.Endpoint, "/"),
		agentName: cfg.AgentName,
		apiKey:    cfg.APIKey,
		logger:    logger.With("component", "backend"),
	}
}

type conversationRequest struct {
	Items    []inputItem       `json:"items"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type conversationResponse struct {
	ID string `json:"id"`
}

type inputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	ApprovalRequestID string `json:"approval_request_id,omitempty"`
	Approve           *bool  `json:"approve,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

type agentReference struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type responsesRequest struct {
	Input              any            `json:"input"`
	Stream             bool           `json:"stream"`
	Conversation       string         `json:"conversation,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Agent              agentReference `json:"agent"`
}

type agentInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CreateConversation creates a backend conversation seeded with the user's
// first message and returns its id.
func (c *Client) CreateConversation(ctx context.Context, input string) (string, error) {
	body := conversationRequest{
		Items: []inputItem{{
			Type:    "message",
			Role:    "user",
			Content: input,
		}},
		Metadata: map[string]string{"agent": c.agentName},
	}

	var created conversationResponse
	if err := c.postJSON(ctx, "/conversations", body, &created); err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("creating conversation: backend returned empty id")
	}

	c.logger.Info("conversation created", "conversation_id", created.ID)
	return created.ID, nil
}

// AgentType resolves the agent's type, cached after the first lookup.
func (c *Client) AgentType(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.agentType
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/agents/"+c.agentName, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching agent: %s", readErrorBody(resp))
	}

	var info agentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decoding agent: %w", err)
	}

	agentType := info.Type
	if agentType == "" {
		agentType = "unknown"
	}

	c.mu.Lock()
	c.agentType = agentType
	c.mu.Unlock()

	c.logger.Info("agent type resolved", "agent", c.agentName, "type", agentType)
	return agentType, nil
}

// Invoke starts a streaming response and returns the event channel. The
// channel closes when the backend finishes or the context is cancelled.
func (c *Client) Invoke(ctx context.Context, invReq dialog.InvokeRequest) (<-chan stream.Event, error) {
	body := responsesRequest{
		Input:  c.buildInput(invReq),
		Stream: true,
		Agent:  agentReference{Type: agentRefType, Name: c.agentName},
	}
	// Approval resumes continue from the raising response; replaying the
	// conversation would raise the approval request again.
	if invReq.PreviousResponseID != "" {
		body.PreviousResponseID = invReq.PreviousResponseID
	} else {
		body.Conversation = invReq.ConversationID
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding responses request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/responses", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("starting response stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("starting response stream: %s", readErrorBody(resp))
	}

	events := make(chan stream.Event)
	go c.readStream(ctx, resp.Body, events)
	return events, nil
}

// buildInput picks the request input: approval-response items when resuming
// an approval, the plain text query otherwise.
func (c *Client) buildInput(req dialog.InvokeRequest) any {
	if len(req.ApprovalResponses) == 0 {
		return req.Input
	}
	items := make([]inputItem, 0, len(req.ApprovalResponses))
	for _, ar := range req.ApprovalResponses {
		approve := ar.Approve
		items = append(items, inputItem{
			Type:              "mcp_approval_response",
			ApprovalRequestID: ar.ApprovalRequestID,
			Approve:           &approve,
			Reason:            ar.Reason,
		})
	}
	return items
}

// readStream scans SSE data lines into events until [DONE], EOF, or
// cancellation, then closes the channel. The consumer may stop reading
// before the stream drains; the send below then blocks until the caller
// cancels ctx, which bounds this goroutine's lifetime to the invocation.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- stream.Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, ssePrefix))
		if data == "" || data == sseDone {
			if data == sseDone {
				return
			}
			continue
		}

		var evt stream.Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			c.logger.Warn("skipping malformed stream event", "error", err)
			continue
		}

		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Error("stream read failed", "error", err)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s", readErrorBody(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readErrorBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Sprintf("backend returned %s", resp.Status)
	}
	return fmt.Sprintf("backend returned %s: %s", resp.Status, text)
}
