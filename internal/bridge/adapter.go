// Package bridge connects a chat platform to a question-answering backend:
// it orchestrates each inbound message through the backend call sequence and
// correlates feedback clicks back to the answers they rate.
package bridge

import (
	"context"
	"time"
)

// EventKind distinguishes the two inbound event shapes.
type EventKind string

const (
	// EventMessage is a user chat message (mention, DM, or thread reply).
	EventMessage EventKind = "message"
	// EventInteraction is a button click on a message the bot sent.
	EventInteraction EventKind = "interaction"
)

// Event is one inbound platform event. Exactly one of Message or
// Interaction is meaningful, selected by Kind.
type Event struct {
	Kind        EventKind
	Message     InboundMessage
	Interaction Interaction
}

// InboundMessage is a chat message received from the platform.
type InboundMessage struct {
	ChannelID string    // platform channel identifier
	ThreadID  string    // thread-root ID; the message's own ID when top-level
	UserID    string    // sender
	Text      string    // raw text, possibly carrying mention markup
	IsBot     bool      // set when the sender is a bot (including ourselves)
	Timestamp time.Time // when the message was sent
}

// Interaction is a button click on a previously sent message.
type Interaction struct {
	ActionID  string // stable action identifier declared on the button
	ChannelID string
	MessageID string // the message carrying the clicked button
	UserID    string
}

// Block kinds for block-structured outbound messages.
const (
	BlockSection = "section"
	BlockActions = "actions"
)

// Block is one element of a block-structured message.
type Block struct {
	Kind    string
	Text    string   // section text (platform markdown)
	Buttons []Button // actions buttons
}

// Button is an interactive control inside an actions block.
type Button struct {
	ActionID string
	Label    string
}

// OutboundMessage is a message to deliver to the platform. When Blocks is
// set, Text serves as the notification fallback.
type OutboundMessage struct {
	ChannelID string
	ThreadID  string // thread to reply in (empty for top-level)
	Text      string
	Blocks    []Block
}

// Adapter is the platform transport the bridge drives. Implementations own
// connection management and the translation between platform events and the
// types above.
type Adapter interface {
	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel is closed
	// when the adapter shuts down. Must be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send delivers a message and returns the platform-assigned identifier
	// of the delivered message.
	Send(ctx context.Context, msg OutboundMessage) (string, error)

	// Update replaces the content of an already delivered message in place.
	Update(ctx context.Context, channelID, messageID string, msg OutboundMessage) error

	// Close gracefully shuts down the adapter.
	Close() error
}
