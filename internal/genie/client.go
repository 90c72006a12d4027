// Package genie is a client for the Databricks Genie Spaces conversational
// API: message submission, completion polling, statement-result retrieval,
// answer extraction, and feedback submission.
package genie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/calder-analytics/geniebot/internal/backend"
)

// Terminal message statuses reported by the Genie API.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

const (
	defaultMaxWait      = 60 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Client talks to a single Genie space. Authentication is owned by the
// injected http.Client (static bearer token or OAuth M2M transport).
type Client struct {
	host    string
	spaceID string
	client  *http.Client

	maxWait      time.Duration
	pollInterval time.Duration

	// Clock seams for poll-loop tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Opts holds parameters for creating a Client.
type Opts struct {
	Host         string        // workspace URL, e.g. https://acme.cloud.databricks.com
	SpaceID      string        // Genie space ID
	HTTPClient   *http.Client  // authenticated client; required
	MaxWait      time.Duration // poll deadline (default 60s)
	PollInterval time.Duration // delay between status fetches (default 2s)
}

// New creates a Genie client.
func New(opts Opts) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("genie: host is required")
	}
	if opts.SpaceID == "" {
		return nil, fmt.Errorf("genie: space ID is required")
	}
	if opts.HTTPClient == nil {
		return nil, fmt.Errorf("genie: http client is required")
	}
	c := &Client{
		host:         strings.TrimRight(opts.Host, "/"),
		spaceID:      opts.SpaceID,
		client:       opts.HTTPClient,
		maxWait:      opts.MaxWait,
		pollInterval: opts.PollInterval,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	if c.maxWait <= 0 {
		c.maxWait = defaultMaxWait
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	return c, nil
}

// sleepCtx suspends for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// MessagePayload is the message object returned by the Genie API, unwrapped
// from its optional envelope.
type MessagePayload struct {
	ID                 string           `json:"id"`
	MessageID          string           `json:"message_id"`
	ConversationID     string           `json:"conversation_id"`
	Status             string           `json:"status"`
	Content            string           `json:"content"`
	Attachments        []WireAttachment `json:"attachments"`
	SuggestedQuestions []string         `json:"suggested_questions"`
	Error              *WireError       `json:"error"`
}

// WireError is the nested error object on FAILED/CANCELLED messages.
type WireError struct {
	Message string `json:"message"`
}

// WireAttachment is one element of a message's attachments array. The
// extraction pass keys on the Text/Query objects; chart and table
// attachments are tagged through the Type field instead.
type WireAttachment struct {
	Type  string          `json:"type"`
	Title string          `json:"title"`
	URL   string          `json:"url"`
	Data  []rowDict       `json:"data"`
	Text  *TextAttachment `json:"text"`
	Query *QueryAttachment `json:"query"`
}

// TextAttachment carries a textual answer fragment.
type TextAttachment struct {
	Content string `json:"content"`
}

// QueryAttachment carries a generated query's description and, when the
// query was executed, the statement handle for its result set.
type QueryAttachment struct {
	Description string `json:"description"`
	StatementID string `json:"statement_id"`
}

// messageEnvelope unwraps responses that nest the message object.
type messageEnvelope struct {
	Message *MessagePayload `json:"message"`
	MessagePayload
}

// statementResponse is the SQL statement result shape we consume.
type statementResponse struct {
	Result struct {
		DataArray [][]*string `json:"data_array"`
		RowCount  int         `json:"row_count"`
	} `json:"result"`
	Manifest struct {
		Schema struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
		} `json:"schema"`
	} `json:"manifest"`
}

// do performs one authenticated API call and decodes the JSON response into
// out. Failures are logged and reported as ok=false; nothing is raised past
// this boundary.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) bool {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Printf("genie: marshal %s %s: %v", method, path, err)
			return false
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, rdr)
	if err != nil {
		log.Printf("genie: create request %s %s: %v", method, path, err)
		return false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("genie: %s %s: %v", method, path, err)
		return false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		log.Printf("genie: read response %s %s: %v", method, path, err)
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("genie: %s %s: status %d: %s", method, path, resp.StatusCode, truncateBody(data))
		return false
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Printf("genie: decode response %s %s: %v", method, path, err)
			return false
		}
	}
	return true
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}

// SubmitMessage sends a question to the space. An empty conversationID
// starts a new conversation (the API creates it implicitly and returns its
// ID); otherwise the message is appended to the existing conversation.
// ok=false means the message could not be submitted; callers must not
// assume any partial server-side state.
func (c *Client) SubmitMessage(ctx context.Context, conversationID, text string) (convID, messageID string, ok bool) {
	var path string
	if conversationID == "" {
		path = fmt.Sprintf("/api/2.0/genie/spaces/%s/start-conversation", c.spaceID)
	} else {
		path = fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages", c.spaceID, conversationID)
	}

	var env messageEnvelope
	if !c.do(ctx, http.MethodPost, path, map[string]string{"content": text}, &env) {
		return "", "", false
	}

	msg := env.unwrap()
	messageID = msg.ID
	if messageID == "" {
		messageID = msg.MessageID
	}
	convID = msg.ConversationID
	if convID == "" {
		convID = conversationID
	}
	if messageID == "" {
		log.Printf("genie: submit returned no message ID (conversation %s)", convID)
		return "", "", false
	}
	return convID, messageID, true
}

// unwrap returns the nested message object when present, else the flat one.
func (e *messageEnvelope) unwrap() *MessagePayload {
	if e.Message != nil {
		return e.Message
	}
	return &e.MessagePayload
}

// GetMessageStatus fetches the current state of a message.
func (c *Client) GetMessageStatus(ctx context.Context, conversationID, messageID string) (*MessagePayload, bool) {
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages/%s",
		c.spaceID, conversationID, messageID)

	var env messageEnvelope
	if !c.do(ctx, http.MethodGet, path, nil, &env) {
		return nil, false
	}
	return env.unwrap(), true
}

// PollUntilComplete fetches the message status every poll interval until it
// reaches a terminal state (COMPLETED, FAILED, or CANCELLED) or the deadline
// elapses. It returns nil on timeout or transport failure — never a
// partially filled payload. Non-terminal statuses seen along the way are
// discarded.
func (c *Client) PollUntilComplete(ctx context.Context, conversationID, messageID string) *MessagePayload {
	start := c.now()

	for c.now().Sub(start) < c.maxWait {
		payload, ok := c.GetMessageStatus(ctx, conversationID, messageID)
		if !ok {
			return nil
		}

		switch payload.Status {
		case StatusCompleted:
			return payload
		case StatusFailed, StatusCancelled:
			log.Printf("genie: message %s reached %s", messageID, payload.Status)
			return payload
		}

		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil
		}
	}

	log.Printf("genie: timeout waiting for message %s", messageID)
	return nil
}

// GetStatementResult fetches the result rows and column schema of an
// executed SQL statement. Returns nil when the fetch fails.
func (c *Client) GetStatementResult(ctx context.Context, statementID string) *backend.TableResult {
	path := fmt.Sprintf("/api/2.0/sql/statements/%s", statementID)

	var resp statementResponse
	if !c.do(ctx, http.MethodGet, path, nil, &resp) {
		return nil
	}

	columns := make([]string, len(resp.Manifest.Schema.Columns))
	for i, col := range resp.Manifest.Schema.Columns {
		columns[i] = col.Name
	}
	total := resp.Result.RowCount
	if total == 0 {
		total = len(resp.Result.DataArray)
	}
	return &backend.TableResult{
		Columns:   columns,
		Rows:      resp.Result.DataArray,
		TotalRows: total,
	}
}

// SendFeedback submits a rating for an answered message. The rating is
// normalized to the API's uppercase vocabulary. Reports false on any
// failure.
func (c *Client) SendFeedback(ctx context.Context, conversationID, messageID string, rating backend.Rating, text string) bool {
	path := fmt.Sprintf("/api/2.0/genie/spaces/%s/conversations/%s/messages/%s/feedback",
		c.spaceID, conversationID, messageID)

	payload := map[string]string{"rating": strings.ToUpper(string(rating))}
	if text != "" {
		payload["feedback_text"] = text
	}
	if !c.do(ctx, http.MethodPost, path, payload, nil) {
		return false
	}
	log.Printf("genie: sent %s feedback for message %s", strings.ToUpper(string(rating)), messageID)
	return true
}

// Ask submits a question, waits for completion, and extracts the answer.
// It short-circuits to a failure result when submission or polling fails,
// skipping extraction entirely.
func (c *Client) Ask(ctx context.Context, question string, thread backend.Thread) backend.ExchangeResult {
	convID, messageID, ok := c.SubmitMessage(ctx, thread.ConversationID, question)
	if !ok {
		return backend.Failure(thread.ConversationID, "Failed to send message")
	}

	payload := c.PollUntilComplete(ctx, convID, messageID)
	if payload == nil {
		return backend.Failure(convID, "Failed to get response or timeout")
	}

	result := c.ExtractAnswer(ctx, payload)
	result.ConversationID = convID
	result.MessageID = messageID
	return result
}
