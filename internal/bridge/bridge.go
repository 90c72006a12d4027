package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/calder-analytics/geniebot/internal/backend"
	"github.com/calder-analytics/geniebot/internal/store"
)

// Action identifiers declared on the feedback buttons.
const (
	ActionFeedbackPositive = "feedback_positive"
	ActionFeedbackNegative = "feedback_negative"
)

// resetKeyword clears a thread's backend context when sent on its own.
const resetKeyword = "reset"

// Orchestrator drives one inbound event through the backend call sequence
// and the outbound message fan-out. It holds only interfaces; backends and
// platforms are swappable.
type Orchestrator struct {
	adapter  Adapter
	querier  backend.Querier
	feedback backend.FeedbackSender
	store    store.Store
	counters *Counters
	out      io.Writer
}

// OrchestratorOpts holds parameters for creating an Orchestrator.
type OrchestratorOpts struct {
	Adapter  Adapter
	Querier  backend.Querier
	Feedback backend.FeedbackSender // optional; defaults to a sender that always fails
	Store    store.Store
	Counters *Counters // optional; defaults to a fresh counter set
	Out      io.Writer // defaults to os.Stdout
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: adapter is required")
	}
	if opts.Querier == nil {
		return nil, fmt.Errorf("bridge: querier is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bridge: store is required")
	}
	feedback := opts.Feedback
	if feedback == nil {
		feedback = noFeedback{}
	}
	counters := opts.Counters
	if counters == nil {
		counters = NewCounters()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Orchestrator{
		adapter:  opts.Adapter,
		querier:  opts.Querier,
		feedback: feedback,
		store:    opts.Store,
		counters: counters,
		out:      out,
	}, nil
}

// conversationStarter is implemented by stateless backends that mint a
// local identifier to label a thread's conversation in logs and state.
type conversationStarter interface {
	NewConversationID() string
}

// noFeedback reports failure for every rating — used when the configured
// backend has no feedback surface.
type noFeedback struct{}

func (noFeedback) SendFeedback(context.Context, string, string, backend.Rating, string) bool {
	return false
}

// Counters returns the orchestrator's usage tallies.
func (o *Orchestrator) Counters() *Counters {
	return o.counters
}

// HandleEvent processes one inbound event. A panic anywhere in handling is
// recovered here: logged, answered with a generic apology, and the thread's
// state left as-is. Nothing in the event path may crash the process.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bridge: panic handling %s event: %v", ev.Kind, r)
			if ev.Kind == EventMessage {
				o.send(ctx, OutboundMessage{
					ChannelID: ev.Message.ChannelID,
					ThreadID:  ev.Message.ThreadID,
					Text:      "Sorry, I encountered an error handling this thread. Please try again.",
				})
			}
		}
	}()

	switch ev.Kind {
	case EventMessage:
		o.handleMessage(ctx, ev.Message)
	case EventInteraction:
		o.handleFeedback(ctx, ev.Interaction)
	default:
		log.Printf("bridge: unknown event kind %q", ev.Kind)
	}
}

// handleMessage runs the full orchestration pass for one chat message.
func (o *Orchestrator) handleMessage(ctx context.Context, msg InboundMessage) {
	// Bot-originated messages (including our own) get no response and
	// mutate no state.
	if msg.IsBot {
		return
	}

	text := CleanMessageText(msg.Text)
	if text == "" {
		o.send(ctx, OutboundMessage{
			ChannelID: msg.ChannelID,
			ThreadID:  msg.ThreadID,
			Text:      "Please ask me a question about your data!",
		})
		return
	}

	if strings.EqualFold(text, resetKeyword) {
		o.store.DeleteThread(msg.ThreadID)
		o.send(ctx, OutboundMessage{
			ChannelID: msg.ChannelID,
			ThreadID:  msg.ThreadID,
			Text:      "Conversation context cleared. Ask away!",
		})
		return
	}

	fmt.Fprintf(o.out, "bridge: question [ch=%s thread=%s] %q\n", msg.ChannelID, msg.ThreadID, text)
	o.counters.Questions.Add(1)

	// Working indicator is best-effort; its failure does not abort the pass.
	o.send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Text:      "🤔 Thinking...",
	})

	st, _ := o.store.Thread(msg.ThreadID)
	result := o.querier.Ask(ctx, text, backend.Thread{
		ConversationID: st.ConversationID,
		History:        st.History,
	})

	if result.Success {
		o.counters.Successes.Add(1)
	} else {
		o.counters.Failures.Add(1)
		log.Printf("bridge: exchange failed [thread=%s]: %s", msg.ThreadID, result.Err)
	}

	// Conversation-backed backends return the conversation ID to remember;
	// stateless ones rely on the turn history we append on success.
	if result.ConversationID != "" {
		st.ConversationID = result.ConversationID
		o.store.SetThread(msg.ThreadID, st)
	} else if result.Success {
		if st.ConversationID == "" {
			if cs, ok := o.querier.(conversationStarter); ok {
				st.ConversationID = cs.NewConversationID()
			}
		}
		st.History = append(st.History,
			backend.Turn{Role: backend.RoleUser, Content: text},
			backend.Turn{Role: backend.RoleAssistant, Content: result.Answer},
		)
		o.store.SetThread(msg.ThreadID, st)
	}

	o.send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Text:      formatResponse(result),
	})

	if result.Table != nil && len(result.Table.Rows) > 0 {
		o.send(ctx, OutboundMessage{
			ChannelID: msg.ChannelID,
			ThreadID:  msg.ThreadID,
			Text:      formatQueryResults(result.Table),
		})
	}

	o.sendAttachments(ctx, msg, result.Attachments)

	if len(result.SuggestedQuestions) > 0 {
		o.send(ctx, OutboundMessage{
			ChannelID: msg.ChannelID,
			ThreadID:  msg.ThreadID,
			Text:      formatSuggestedQuestions(result.SuggestedQuestions),
		})
	}

	if result.Usage != nil && result.Usage.TotalTokens > 0 {
		o.send(ctx, OutboundMessage{
			ChannelID: msg.ChannelID,
			ThreadID:  msg.ThreadID,
			Text:      formatUsage(result.Usage),
		})
	}

	if result.Success && result.ConversationID != "" && result.MessageID != "" {
		o.sendFeedbackPrompt(ctx, msg, result)
	}
}

// sendAttachments delivers chart and table attachments, one message each.
// A failed send never suppresses the remaining attachments.
func (o *Orchestrator) sendAttachments(ctx context.Context, msg InboundMessage, atts []backend.Attachment) {
	for _, att := range atts {
		switch att.Kind {
		case backend.AttachmentChart:
			if att.URL == "" {
				continue
			}
			title := att.Title
			if title == "" {
				title = "Chart"
			}
			o.send(ctx, OutboundMessage{
				ChannelID: msg.ChannelID,
				ThreadID:  msg.ThreadID,
				Text:      fmt.Sprintf("📊 *%s*\n%s", title, att.URL),
			})
		case backend.AttachmentTable:
			if len(att.Rows) == 0 {
				continue
			}
			o.send(ctx, OutboundMessage{
				ChannelID: msg.ChannelID,
				ThreadID:  msg.ThreadID,
				Text:      "```" + renderRowGrid(att.Rows) + "```",
			})
		}
	}
}

// sendFeedbackPrompt posts the rating buttons and records which backend
// answer they refer to, keyed by the prompt's own delivered message ID.
func (o *Orchestrator) sendFeedbackPrompt(ctx context.Context, msg InboundMessage, result backend.ExchangeResult) {
	promptID, err := o.adapter.Send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Text:      "Was this response helpful?",
		Blocks:    feedbackPromptBlocks(),
	})
	if err != nil {
		log.Printf("bridge: send feedback prompt: %v", err)
		return
	}
	if promptID == "" {
		log.Printf("bridge: feedback prompt delivered without message ID; feedback disabled for this answer")
		return
	}
	o.store.SetPending(promptID, store.PendingAnswer{
		ConversationID: result.ConversationID,
		MessageID:      result.MessageID,
	})
}

// feedbackPromptBlocks builds the rating prompt: a section followed by the
// two rating buttons.
func feedbackPromptBlocks() []Block {
	return []Block{
		{Kind: BlockSection, Text: "*Was this response helpful?*"},
		{Kind: BlockActions, Buttons: []Button{
			{ActionID: ActionFeedbackPositive, Label: "👍 Helpful"},
			{ActionID: ActionFeedbackNegative, Label: "👎 Not Helpful"},
		}},
	}
}

// send delivers one outbound message, logging and swallowing failures so a
// failed send never aborts sibling sends in the same pass.
func (o *Orchestrator) send(ctx context.Context, msg OutboundMessage) {
	if _, err := o.adapter.Send(ctx, msg); err != nil {
		log.Printf("bridge: send [ch=%s thread=%s]: %v", msg.ChannelID, msg.ThreadID, err)
	}
}
