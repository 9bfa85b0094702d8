package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/agentturn/core"
)

// ErrMissingConversation is returned when no conversation id is given.
var ErrMissingConversation = errors.New("missing conversation id")

// Store records turn messages and serves them back as history.
type Store interface {
	RecordMessage(ctx context.Context, conversationID string, msg core.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error)
}

// InMemoryStore is a volatile Store keeping conversations in a process local
// map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Returned messages are cloned to prevent external
// mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

type conversation struct {
	messages []core.Message
	ids      map[string]struct{}
}

// NewInMemoryStore constructs an empty in‑memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*conversation)}
}

// RecordMessage appends msg to the conversation. A message whose id was
// already recorded is ignored.
func (s *InMemoryStore) RecordMessage(ctx context.Context, conversationID string, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if conversationID == "" {
		return ErrMissingConversation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &conversation{ids: map[string]struct{}{}}
		s.conversations[conversationID] = conv
	}

	if msg.ID != "" {
		if _, dup := conv.ids[msg.ID]; dup {
			return nil
		}

		conv.ids[msg.ID] = struct{}{}
	}

	conv.messages = append(conv.messages, msg.Clone())

	return nil
}

// GetMessages returns the most recent limit messages in recording order.
// limit <= 0 returns all of them.
func (s *InMemoryStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}

	msgs := conv.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	return core.CloneMessages(msgs), nil
}

// Conversations returns the known conversation ids, sorted.
func (s *InMemoryStore) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Delete drops a conversation.
func (s *InMemoryStore) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, conversationID)
}
