package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent and updated
// messages and allows simulating inbound events via SimulateInbound and
// SimulateInteraction.
type MockAdapter struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	events      chan Event
	sent        []OutboundMessage
	sentIDs     []string
	updates     map[string]OutboundMessage // key: messageID
	sendCounter int
	failSends   bool
}

// NewMockAdapter creates a MockAdapter with a buffered event channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		events:  make(chan Event, 100),
		updates: make(map[string]OutboundMessage),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.events, nil
}

// Send records the outbound message and returns a synthetic message ID.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", fmt.Errorf("mock adapter: not connected")
	}
	if m.failSends {
		return "", fmt.Errorf("mock adapter: send failed")
	}
	m.sendCounter++
	id := fmt.Sprintf("msg-%d", m.sendCounter)
	m.sent = append(m.sent, msg)
	m.sentIDs = append(m.sentIDs, id)
	return id, nil
}

// Update records the replacement content for a previously sent message.
func (m *MockAdapter) Update(ctx context.Context, channelID, messageID string, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.updates[messageID] = msg
	return nil
}

// Close shuts down the mock adapter and closes the event channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.events)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message event into the event channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.events <- Event{Kind: EventMessage, Message: msg}
}

// SimulateInteraction sends an interaction event into the event channel.
func (m *MockAdapter) SimulateInteraction(in Interaction) {
	m.events <- Event{Kind: EventInteraction, Interaction: in}
}

// SetFailSends makes every subsequent Send return an error.
func (m *MockAdapter) SetFailSends(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSends = fail
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// LastSentID returns the message ID assigned to the most recent Send.
func (m *MockAdapter) LastSentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sentIDs) == 0 {
		return ""
	}
	return m.sentIDs[len(m.sentIDs)-1]
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// UpdateFor returns the recorded update applied to a message ID.
func (m *MockAdapter) UpdateFor(messageID string) (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.updates[messageID]
	return msg, ok
}

// UpdateCount returns the number of recorded updates.
func (m *MockAdapter) UpdateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}
