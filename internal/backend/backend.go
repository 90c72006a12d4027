// Package backend defines the contract shared by the question-answering
// backends (Genie conversations and stateless model-serving endpoints).
package backend

import "context"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single (role, content) exchange record. Turns are appended to a
// thread's history only for stateless backends; conversation-backed backends
// keep history server-side.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Rating is a feedback rating for a delivered answer.
type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
	RatingNone     Rating = "none"
)

// Attachment kinds as reported by the backend.
const (
	AttachmentText  = "text"
	AttachmentQuery = "query"
	AttachmentChart = "chart"
	AttachmentTable = "table"
)

// Attachment is a structured piece of a completed answer. Which fields are
// populated depends on Kind: text carries Content; query carries Description
// and optionally StatementID; chart carries Title and URL; table carries Rows.
type Attachment struct {
	Kind        string
	Content     string
	Description string
	StatementID string
	Title       string
	URL         string
	Rows        []map[string]string
}

// TableResult is the tabular payload of an executed query: column names plus
// fixed-arity rows of nullable scalar cells.
type TableResult struct {
	Columns   []string
	Rows      [][]*string
	TotalRows int
}

// Usage carries token accounting from a chat-completion response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ExchangeResult is the outcome of one question/answer exchange. It exists
// only for the duration of a single orchestration pass.
type ExchangeResult struct {
	Success            bool
	ConversationID     string
	MessageID          string
	Answer             string
	Attachments        []Attachment
	Table              *TableResult
	SuggestedQuestions []string
	Usage              *Usage
	Err                string
}

// Failure builds a failure-tagged result carrying an error description.
func Failure(conversationID, errMsg string) ExchangeResult {
	return ExchangeResult{ConversationID: conversationID, Err: errMsg}
}

// Thread is the per-thread context handed to a backend: the server-side
// conversation ID for conversation-backed backends, or the ordered turn
// history for stateless ones. A backend reads whichever field it needs.
type Thread struct {
	ConversationID string
	History        []Turn
}

// Querier answers a question in the context of a thread. Implementations
// signal failure through the result's Success flag, never through panics.
type Querier interface {
	Ask(ctx context.Context, question string, thread Thread) ExchangeResult
}

// FeedbackSender submits a rating for a previously delivered answer.
// It reports false on any transport or backend failure.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, conversationID, messageID string, rating Rating, text string) bool
}
