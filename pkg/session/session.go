// Package session holds per-conversation state and the thread-safe store
// that owns it. A session is only ever mutated by the worker that holds the
// conversation's active-processing flag in the dispatcher; the store itself
// is safe for concurrent access across conversations.
package session

import (
	"sync"
	"time"
)

// Role tags a transcript entry.
type Role string

const (
	RoleHuman     Role = "human"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Insertion order is the conversation
// order and is meaningful.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Node identifies which state-machine node owns the next turn.
type Node string

const (
	NodeTriage       Node = "triage"
	NodeTextToImage  Node = "text_to_image"
	NodeImageToImage Node = "image_to_image"
)

// Awaiting markers: what input the current node is waiting for.
const (
	AwaitingFeature = "feature"
	AwaitingPrompt  = "prompt"
)

// Image is an input image the user sent, kept in arrival order for
// multi-image edit requests.
type Image struct {
	Data []byte
	MIME string
}

// GeneratedImage is the single pending output artifact. Non-nil means an
// artifact is ready and has not been delivered yet; the response dispatcher
// clears it after the delivery attempt, successful or not.
type GeneratedImage struct {
	Prompt string
	Data   []byte
	MIME   string
}

// Session is the full per-conversation state.
type Session struct {
	Messages       []Message
	CurrentNode    Node
	Awaiting       string
	Back           bool
	UserLastPrompt string
	GeneratedImage *GeneratedImage
	UserImages     []Image
	LastActivity   time.Time
}

// Append adds a transcript entry.
func (s *Session) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// Store maps conversation identifiers to sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, atomically creating a
// default-initialized one on first access. Concurrent first accesses for
// the same id observe the same session object.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		s = &Session{
			CurrentNode:  NodeTriage,
			LastActivity: time.Now(),
		}
		st.sessions[id] = s
	}
	return s
}

// Put atomically replaces the stored session for id.
func (st *Store) Put(id string, s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[id] = s
}

// Delete removes the session for id, if any.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len reports the number of stored sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Expire removes sessions whose LastActivity is before cutoff and returns
// the removed conversation ids. Conversations for which skip returns true
// are left alone (used to avoid touching actively-processing sessions).
func (st *Store) Expire(cutoff time.Time, skip func(id string) bool) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	var removed []string
	for id, s := range st.sessions {
		if skip != nil && skip(id) {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			delete(st.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}
