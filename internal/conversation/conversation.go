// Package conversation holds the visible chat transcript: an ordered,
// bounded sequence of messages owned by the turn orchestrator.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a message.
type Sender string

// Valid senders.
const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ThinkingPlaceholder is the transient assistant text shown while a turn is
// streaming. Messages carrying it are never sent upstream or persisted.
const ThinkingPlaceholder = "Thinking..."

// DefaultMaxMessages caps the transcript length; oldest messages are evicted
// first once the cap is reached.
const DefaultMaxMessages = 30

// Message is a single entry in the transcript. Messages are immutable;
// streamed text updates replace the whole message by id.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(sender Sender, text string) Message {
	return Message{
		ID:        uuid.New(),
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// IsPlaceholder reports whether the message is the transient streaming
// placeholder.
func (m Message) IsPlaceholder() bool {
	return m.Sender == SenderAssistant && m.Text == ThinkingPlaceholder
}

// Store is the bounded, ordered transcript. Safe for concurrent use; the
// orchestrator writes, the presentation layer reads snapshots.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	maxLen   int
}

// NewStore creates an empty store capped at maxLen messages. A non-positive
// maxLen falls back to DefaultMaxMessages.
func NewStore(maxLen int) *Store {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessages
	}
	return &Store{
		messages: make([]Message, 0, maxLen),
		maxLen:   maxLen,
	}
}

// Append adds a message, evicting the oldest entries beyond the cap.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.maxLen {
		s.messages = s.messages[len(s.messages)-s.maxLen:]
	}
}

// Replace swaps the message with the given id for a full replacement,
// preserving position. Returns false if no message has that id.
func (s *Store) Replace(id uuid.UUID, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			msg.ID = id
			s.messages[i] = msg
			return true
		}
	}
	return false
}

// SetText replaces the text of the message with the given id in place,
// keeping sender and timestamp. Each call is a full-text snapshot, not a
// diff. Returns false if the id is unknown.
func (s *Store) SetText(id uuid.UUID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Text = text
			return true
		}
	}
	return false
}

// Remove deletes the message with the given id. Returns false if absent.
func (s *Store) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a copy of the transcript in insertion order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the most recent message, if any.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// SetMessages replaces the whole transcript, applying the cap. Used when
// loading a persisted snapshot at startup.
func (s *Store) SetMessages(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(messages) > s.maxLen {
		messages = messages[len(messages)-s.maxLen:]
	}
	s.messages = make([]Message, len(messages))
	copy(s.messages, messages)
}

// Clear removes all messages. Used on new-session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
}
