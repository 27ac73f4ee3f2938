package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrStateNotFound       = errors.New("conversation state not found")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

const (
	defaultStoreKeyPrefix = "support:conversation:"
	defaultStoreTTL       = 24 * time.Hour
)

// Store is the persistence contract used by the router. Save replaces the
// whole record.
type Store interface {
	Load(ctx context.Context, conversationID string) (*ConversationState, error)
	Save(ctx context.Context, st *ConversationState) error
	Delete(ctx context.Context, conversationID string) error
}

// MemoryStore keeps conversations in process memory. Conversations are lost
// on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte, 64)}
}

func (m *MemoryStore) Load(_ context.Context, conversationID string) (*ConversationState, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}
	m.mu.RLock()
	raw, ok := m.items[conversationID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeState(raw)
}

func (m *MemoryStore) Save(_ context.Context, st *ConversationState) error {
	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[st.ConversationID] = payload
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrInvalidConversation
	}
	m.mu.Lock()
	delete(m.items, conversationID)
	m.mu.Unlock()
	return nil
}

func encodeState(st *ConversationState) ([]byte, error) {
	if st == nil {
		return nil, ErrNilConversation
	}
	if strings.TrimSpace(st.ConversationID) == "" {
		return nil, ErrInvalidConversation
	}
	if st.LastUpdatedAt.IsZero() {
		st.LastUpdatedAt = time.Now().UTC()
	} else {
		st.LastUpdatedAt = st.LastUpdatedAt.UTC()
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation state: %w", err)
	}
	return payload, nil
}

func decodeState(raw []byte) (*ConversationState, error) {
	var st ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation state loaded from store: %w", err)
	}
	return &st, nil
}
