// Package serving is a client for Databricks Model Serving chat-completion
// endpoints. Endpoints are stateless: each call carries the full turn
// history, and there is no polling stage.
package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/calder-analytics/geniebot/internal/backend"
)

// Client queries a single serving endpoint.
type Client struct {
	host     string
	endpoint string
	client   *http.Client

	systemPrompt string
	maxTokens    int
	temperature  *float64
}

// Opts holds parameters for creating a Client.
type Opts struct {
	Host         string       // workspace URL
	Endpoint     string       // serving endpoint name
	HTTPClient   *http.Client // authenticated client; required
	SystemPrompt string       // optional model steering prompt
	MaxTokens    int          // optional response token cap
	Temperature  *float64     // optional sampling temperature
}

// New creates a serving-endpoint client.
func New(opts Opts) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("serving: host is required")
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("serving: endpoint name is required")
	}
	if opts.HTTPClient == nil {
		return nil, fmt.Errorf("serving: http client is required")
	}
	return &Client{
		host:         strings.TrimRight(opts.Host, "/"),
		endpoint:     opts.Endpoint,
		client:       opts.HTTPClient,
		systemPrompt: opts.SystemPrompt,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewConversationID returns a client-side conversation identifier. The
// endpoint itself is stateless; the ID only labels a thread locally.
func (c *Client) NewConversationID() string {
	return uuid.NewString()
}

// Ask sends one synchronous chat-completion call: optional system prompt,
// the thread's turn history, then the question. Any failure maps to a
// failure-tagged result; nothing is raised past this boundary.
func (c *Client) Ask(ctx context.Context, question string, thread backend.Thread) backend.ExchangeResult {
	messages := make([]chatMessage, 0, len(thread.History)+2)
	if c.systemPrompt != "" {
		messages = append(messages, chatMessage{Role: string(backend.RoleSystem), Content: c.systemPrompt})
	}
	for _, turn := range thread.History {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: string(backend.RoleUser), Content: question})

	body, err := json.Marshal(chatRequest{
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		log.Printf("serving: marshal request: %v", err)
		return backend.Failure("", "Failed to get response from endpoint")
	}

	url := fmt.Sprintf("%s/serving-endpoints/%s/invocations", c.host, c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("serving: create request: %v", err)
		return backend.Failure("", "Failed to get response from endpoint")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("serving: query endpoint %s: %v", c.endpoint, err)
		return backend.Failure("", "Failed to get response from endpoint")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		log.Printf("serving: read response: %v", err)
		return backend.Failure("", "Failed to get response from endpoint")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("serving: endpoint %s: status %d: %s", c.endpoint, resp.StatusCode, string(data))
		return backend.Failure("", "Failed to get response from endpoint")
	}

	var payload chatResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("serving: decode response: %v", err)
		return backend.Failure("", "Failed to get response from endpoint")
	}
	if len(payload.Choices) == 0 {
		log.Printf("serving: endpoint %s returned no choices", c.endpoint)
		return backend.Failure("", "Failed to get response from endpoint")
	}

	result := backend.ExchangeResult{
		Success: true,
		Answer:  payload.Choices[0].Message.Content,
	}
	if payload.Usage.TotalTokens > 0 {
		result.Usage = &backend.Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return result
}

// SendFeedback implements backend.FeedbackSender. Serving endpoints expose
// no feedback surface; results from this client never carry the message IDs
// the orchestrator requires before offering feedback controls, so this is
// unreachable in practice.
func (c *Client) SendFeedback(ctx context.Context, conversationID, messageID string, rating backend.Rating, text string) bool {
	return false
}
