package genie

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/calder-analytics/geniebot/internal/backend"
)

// rowDict is a single row of a table-kind attachment, keyed by column name.
// Values arrive as arbitrary JSON scalars and are rendered as strings.
type rowDict map[string]any

// ExtractAnswer builds an ExchangeResult from a terminal message payload.
//
// Display text precedence: the content of every text attachment and the
// description of every query attachment, concatenated in encounter order
// with a blank line after each; when that concatenation trims to empty, the
// payload's top-level content; failing that, a fixed placeholder. A query
// attachment carrying a statement handle triggers a statement-result fetch.
func (c *Client) ExtractAnswer(ctx context.Context, payload *MessagePayload) backend.ExchangeResult {
	if payload.Status != StatusCompleted {
		msg := "Unknown error"
		if payload.Error != nil && payload.Error.Message != "" {
			msg = payload.Error.Message
		}
		return backend.Failure("", "Query failed: "+msg)
	}

	var b strings.Builder
	statementID := ""
	for _, att := range payload.Attachments {
		switch {
		case att.Text != nil:
			if att.Text.Content != "" {
				b.WriteString(att.Text.Content)
				b.WriteString("\n\n")
			}
		case att.Query != nil:
			if att.Query.Description != "" {
				b.WriteString(att.Query.Description)
				b.WriteString("\n\n")
			}
			if att.Query.StatementID != "" {
				statementID = att.Query.StatementID
			}
		}
	}

	var table *backend.TableResult
	if statementID != "" {
		table = c.GetStatementResult(ctx, statementID)
	}

	answer := strings.TrimSpace(b.String())
	if answer == "" {
		answer = payload.Content
	}
	if answer == "" {
		answer = "No response generated"
	}

	return backend.ExchangeResult{
		Success:            true,
		Answer:             answer,
		Attachments:        convertAttachments(payload.Attachments),
		Table:              table,
		SuggestedQuestions: payload.SuggestedQuestions,
	}
}

// convertAttachments maps wire attachments onto the shared attachment type,
// preserving encounter order. Unrecognized entries are dropped.
func convertAttachments(atts []WireAttachment) []backend.Attachment {
	var out []backend.Attachment
	for _, att := range atts {
		switch {
		case att.Text != nil:
			out = append(out, backend.Attachment{
				Kind:    backend.AttachmentText,
				Content: att.Text.Content,
			})
		case att.Query != nil:
			out = append(out, backend.Attachment{
				Kind:        backend.AttachmentQuery,
				Description: att.Query.Description,
				StatementID: att.Query.StatementID,
			})
		case att.Type == backend.AttachmentChart:
			out = append(out, backend.Attachment{
				Kind:  backend.AttachmentChart,
				Title: att.Title,
				URL:   att.URL,
			})
		case att.Type == backend.AttachmentTable:
			out = append(out, backend.Attachment{
				Kind: backend.AttachmentTable,
				Rows: convertRows(att.Data),
			})
		}
	}
	return out
}

// convertRows renders row dictionaries into string cells.
func convertRows(rows []rowDict) []map[string]string {
	if len(rows) == 0 {
		return nil
	}
	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		conv := make(map[string]string, len(row))
		for k, v := range row {
			conv[k] = cellString(v)
		}
		out[i] = conv
	}
	return out
}

// cellString renders a JSON scalar for display. Whole-number floats drop
// the decimal point so JSON's number decoding doesn't turn 42 into "42.000000".
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
