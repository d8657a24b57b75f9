// Package memory provides an in-memory conversation store used in tests and
// embedded deployments.
package memory

import (
	"context"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	agentmemory "github.com/ioc-platform/agentcore/runtime/memory"
)

// Store implements memory.Store with mutex-guarded maps.
type Store struct {
	mu            gosync.RWMutex
	profiles      map[string]*agentmemory.Profile
	conversations map[string]*agentmemory.Conversation
	messages      map[string][]agentmemory.Message
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		profiles:      make(map[string]*agentmemory.Profile),
		conversations: make(map[string]*agentmemory.Conversation),
		messages:      make(map[string][]agentmemory.Message),
	}
}

// GetOrCreateProfile returns the profile, creating a default one on first use.
func (s *Store) GetOrCreateProfile(_ context.Context, userID string) (*agentmemory.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[userID]; ok {
		cp := *p
		return &cp, nil
	}
	now := time.Now().UTC()
	p := &agentmemory.Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.profiles[userID] = p
	cp := *p
	return &cp, nil
}

// SaveProfile upserts the profile.
func (s *Store) SaveProfile(_ context.Context, profile *agentmemory.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *profile
	cp.UpdatedAt = time.Now().UTC()
	s.profiles[profile.UserID] = &cp
	return nil
}

// CreateConversation starts a new thread.
func (s *Store) CreateConversation(_ context.Context, userID, title string) (*agentmemory.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv := &agentmemory.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	cp := *conv
	return &cp, nil
}

// AppendMessage adds a message to the conversation.
func (s *Store) AppendMessage(_ context.Context, conversationID string, msg agentmemory.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return agentmemory.ErrConversationNotFound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

// RecentMessages returns up to n most recent messages, oldest first.
func (s *Store) RecentMessages(_ context.Context, conversationID string, n int) ([]agentmemory.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, agentmemory.ErrConversationNotFound
	}
	msgs := s.messages[conversationID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]agentmemory.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Summary reports message count and last activity.
func (s *Store) Summary(_ context.Context, conversationID string) (*agentmemory.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, agentmemory.ErrConversationNotFound
	}
	return &agentmemory.Summary{
		ConversationID: conversationID,
		MessageCount:   len(s.messages[conversationID]),
		LastActivity:   conv.UpdatedAt,
	}, nil
}
