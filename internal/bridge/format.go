package bridge

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/calder-analytics/geniebot/internal/backend"
)

// maxDisplayRows caps how many result rows are rendered in chat.
const maxDisplayRows = 10

// Column width cap for rendered tables: up to 28 characters of content plus
// two characters of padding.
const (
	maxCellWidth   = 28
	maxColumnWidth = maxCellWidth + 2
)

// mentionRe matches user mention markup like <@U123ABC>.
var mentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// CleanMessageText strips mention markup and surrounding whitespace.
// Idempotent: cleaning already-clean text is a no-op.
func CleanMessageText(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// formatResponse renders the primary answer text. Failures carry a failure
// marker; empty successful answers get a confirmation placeholder.
func formatResponse(result backend.ExchangeResult) string {
	if !result.Success {
		errMsg := result.Err
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		return "❌ " + errMsg
	}
	if result.Answer == "" {
		return "✅ Query executed successfully"
	}
	return result.Answer
}

// renderTable renders query-result rows as a fixed-width text grid. Columns
// whose every non-null cell parses as a number are right-aligned; headers
// are centered. Cells are truncated to the column cap, and only the first
// maxDisplayRows rows are included.
func renderTable(table *backend.TableResult) string {
	rows := table.Rows
	if len(rows) > maxDisplayRows {
		rows = rows[:maxDisplayRows]
	}
	if len(rows) == 0 {
		return "No data"
	}

	widths := make([]int, len(table.Columns))
	numeric := make([]bool, len(table.Columns))
	for i, name := range table.Columns {
		widths[i] = len(name)
		numeric[i] = true
		for _, row := range rows {
			if i >= len(row) {
				continue
			}
			val := cellValue(row[i])
			if len(val) > widths[i] {
				widths[i] = len(val)
			}
			if row[i] != nil && !isNumeric(val) {
				numeric[i] = false
			}
		}
		widths[i] += 2
		if widths[i] > maxColumnWidth {
			widths[i] = maxColumnWidth
		}
	}

	var lines []string

	header := make([]string, len(table.Columns))
	for i, name := range table.Columns {
		header[i] = center(truncateCell(name), widths[i])
	}
	lines = append(lines, strings.Join(header, "│"))

	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	lines = append(lines, strings.Join(sep, "┼"))

	for _, row := range rows {
		parts := make([]string, len(table.Columns))
		for i := range table.Columns {
			var val string
			if i < len(row) {
				val = truncateCell(cellValue(row[i]))
			}
			if numeric[i] && isNumeric(val) {
				parts[i] = pad(val, widths[i], true)
			} else {
				parts[i] = pad(val, widths[i], false)
			}
		}
		lines = append(lines, strings.Join(parts, "│"))
	}

	return strings.Join(lines, "\n")
}

// formatQueryResults wraps a rendered table in the chat message shell,
// appending a row-count note when rows were truncated.
func formatQueryResults(table *backend.TableResult) string {
	msg := "*Query Results:*\n```\n" + renderTable(table) + "\n```"
	if table.TotalRows > maxDisplayRows {
		msg += fmt.Sprintf("\n_Showing %d of %d rows_", maxDisplayRows, table.TotalRows)
	}
	return msg
}

func cellValue(cell *string) string {
	if cell == nil {
		return "NULL"
	}
	return *cell
}

func truncateCell(s string) string {
	if len(s) > maxCellWidth {
		return s[:maxCellWidth-3] + "..."
	}
	return s
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func pad(s string, width int, right bool) string {
	if len(s) >= width {
		return s
	}
	fill := strings.Repeat(" ", width-len(s))
	if right {
		return fill + s
	}
	return s + fill
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-len(s)-left)
}

// renderRowGrid renders row-dictionary table attachments as a simple text
// grid. Column order is the sorted key set of the first row.
func renderRowGrid(rows []map[string]string) string {
	if len(rows) == 0 {
		return "No data"
	}

	headers := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	var lines []string
	lines = append(lines, strings.Join(headers, " | "))
	lines = append(lines, strings.Repeat("-", len(lines[0])))

	display := rows
	if len(display) > maxDisplayRows {
		display = display[:maxDisplayRows]
	}
	for _, row := range display {
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = row[h]
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	if len(rows) > maxDisplayRows {
		lines = append(lines, fmt.Sprintf("... and %d more rows", len(rows)-maxDisplayRows))
	}

	return strings.Join(lines, "\n")
}

// formatSuggestedQuestions renders follow-up suggestions as a numbered list.
func formatSuggestedQuestions(questions []string) string {
	var b strings.Builder
	b.WriteString("*💡 Suggested follow-up questions:*\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatUsage renders token accounting from a chat-completion response.
func formatUsage(usage *backend.Usage) string {
	text := fmt.Sprintf("_Tokens used: %d", usage.TotalTokens)
	if usage.PromptTokens > 0 && usage.CompletionTokens > 0 {
		text += fmt.Sprintf(" (prompt: %d, completion: %d)", usage.PromptTokens, usage.CompletionTokens)
	}
	return text + "_"
}
