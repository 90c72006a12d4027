// Package store holds the bot's in-process conversation state: the mapping
// from Slack thread keys to backend conversation context, and the mapping
// from delivered feedback-prompt messages to the answer they rate.
package store

import (
	"sync"

	"github.com/calder-analytics/geniebot/internal/backend"
)

// ThreadState is the backend context accumulated for one Slack thread.
// ConversationID is set by conversation-backed backends; History is appended
// by the orchestrator for stateless backends.
type ThreadState struct {
	ConversationID string
	History        []backend.Turn
}

// PendingAnswer identifies the backend message a feedback prompt rates.
// Keyed by the prompt message's own delivered timestamp.
type PendingAnswer struct {
	ConversationID string
	MessageID      string
}

// Store is the injectable state abstraction used by the orchestrator.
// Implementations must tolerate concurrent access from independent
// event-handling goroutines; two concurrent writes to the same key resolve
// last-writer-wins.
type Store interface {
	// Thread returns the state for a thread key, reporting whether it exists.
	Thread(key string) (ThreadState, bool)

	// SetThread overwrites the state for a thread key.
	SetThread(key string, st ThreadState)

	// DeleteThread removes a thread's state (explicit conversation reset).
	DeleteThread(key string)

	// Pending returns the feedback target recorded under a prompt message ID.
	Pending(messageID string) (PendingAnswer, bool)

	// SetPending records a feedback target under a prompt message ID.
	// Entries are read on each feedback click and never removed.
	SetPending(messageID string, pa PendingAnswer)
}

// Memory is the concurrency-safe in-memory Store. Both maps grow without
// bound for the life of the process; the bot is expected to be redeployed
// periodically, so no eviction policy is applied.
type Memory struct {
	mu      sync.RWMutex
	threads map[string]ThreadState
	pending map[string]PendingAnswer
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		threads: make(map[string]ThreadState),
		pending: make(map[string]PendingAnswer),
	}
}

func (m *Memory) Thread(key string) (ThreadState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.threads[key]
	return st, ok
}

func (m *Memory) SetThread(key string, st ThreadState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[key] = st
}

func (m *Memory) DeleteThread(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, key)
}

func (m *Memory) Pending(messageID string) (PendingAnswer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pa, ok := m.pending[messageID]
	return pa, ok
}

func (m *Memory) SetPending(messageID string, pa PendingAnswer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[messageID] = pa
}

// ThreadCount returns the number of tracked threads. Used by the usage digest.
func (m *Memory) ThreadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}
