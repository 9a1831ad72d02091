package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docsage/docsage/pkg/domain"
)

// ConversationStore persists conversation state as opaque JSON blobs keyed
// by conversation id, backed by SQLite.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore opens (or creates) the conversation database.
func NewConversationStore(path string) (*ConversationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	s := &ConversationStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ConversationStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
	`
	_, err := s.db.Exec(query)
	return err
}

// Load returns the stored state or (nil, nil) for an unknown id.
func (s *ConversationStore) Load(ctx context.Context, id string) (*domain.ConversationState, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM conversations WHERE id = ?", id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	var state domain.ConversationState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &state, nil
}

// Save upserts the state blob.
func (s *ConversationStore) Save(ctx context.Context, state *domain.ConversationState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", state.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO conversations (id, state, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, state.ID, string(blob), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", state.ID, err)
	}
	return nil
}

// Delete removes a conversation.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	return err
}

// Close closes the underlying database.
func (s *ConversationStore) Close() error { return s.db.Close() }

// MemoryConversationStore is an in-memory ConversationStore for tests.
type MemoryConversationStore struct {
	mu     sync.RWMutex
	states map[string]*domain.ConversationState
}

// NewMemoryConversationStore creates an empty in-memory store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{states: make(map[string]*domain.ConversationState)}
}

func (s *MemoryConversationStore) Load(ctx context.Context, id string) (*domain.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	// Copy so callers cannot mutate stored state behind the lock.
	clone := *state
	clone.Messages = append([]domain.ChatMessage(nil), state.Messages...)
	if state.Summary != nil {
		sum := *state.Summary
		clone.Summary = &sum
	}
	return &clone, nil
}

func (s *MemoryConversationStore) Save(ctx context.Context, state *domain.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	clone.Messages = append([]domain.ChatMessage(nil), state.Messages...)
	if state.Summary != nil {
		sum := *state.Summary
		clone.Summary = &sum
	}
	s.states[state.ID] = &clone
	return nil
}

func (s *MemoryConversationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}
