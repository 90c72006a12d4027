package bridge

import (
	"context"
	"log"

	"github.com/calder-analytics/geniebot/internal/backend"
)

// handleFeedback resolves a rating button press against the recorded pending
// answers and forwards the rating to the backend. The correlation entry is
// retained afterwards so a user may change their rating.
func (o *Orchestrator) handleFeedback(ctx context.Context, in Interaction) {
	var rating backend.Rating
	switch in.ActionID {
	case ActionFeedbackPositive:
		rating = backend.RatingPositive
	case ActionFeedbackNegative:
		rating = backend.RatingNegative
	default:
		log.Printf("bridge: unknown action %q", in.ActionID)
		return
	}

	pending, ok := o.store.Pending(in.MessageID)
	if !ok {
		o.update(ctx, in, "⚠️ _Unable to submit feedback. Please try asking a new question._")
		return
	}

	sent := o.feedback.SendFeedback(ctx, pending.ConversationID, pending.MessageID, rating, "")
	if !sent {
		o.update(ctx, in, "❌ _Failed to submit feedback. Please try again._")
		return
	}

	switch rating {
	case backend.RatingPositive:
		o.counters.PositiveFeedback.Add(1)
		o.update(ctx, in, "👍 _Thanks for your feedback!_")
	case backend.RatingNegative:
		o.counters.NegativeFeedback.Add(1)
		o.update(ctx, in, "👎 _Thanks for your feedback!_")
	}
}

// update rewrites the feedback prompt message in place, replacing the
// buttons with the acknowledgement text.
func (o *Orchestrator) update(ctx context.Context, in Interaction, text string) {
	err := o.adapter.Update(ctx, in.ChannelID, in.MessageID, OutboundMessage{
		ChannelID: in.ChannelID,
		Text:      text,
	})
	if err != nil {
		log.Printf("bridge: update feedback prompt [ch=%s msg=%s]: %v", in.ChannelID, in.MessageID, err)
	}
}
