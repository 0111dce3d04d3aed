package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kakao-skill-relay/internal/domain"
)

const (
	// DefaultMaxUsers bounds how many users keep stored history before the
	// least-recently-active one is evicted.
	DefaultMaxUsers = 300
	// DefaultMaxMessages bounds each user's stored history.
	DefaultMaxMessages = 100
	// DefaultRecentLimit is the history window handed to the completion API.
	DefaultRecentLimit = 10
)

// Repository is the persistence surface the store mutates. Implemented by
// repository.Client.
type Repository interface {
	GetUserList(ctx context.Context) ([]string, error)
	PutUserList(ctx context.Context, users []string) error
	GetUserHistory(ctx context.Context, userID string) ([]domain.ChatMessage, error)
	PutUserHistory(ctx context.Context, userID string, messages []domain.ChatMessage) error
	EvictUser(ctx context.Context, evictedID string, remaining []string) error
}

// Store bounds conversation state two ways: each user keeps at most
// maxMessages messages, and at most maxUsers users stay active before the
// least-recently-active one is evicted together with its entire history.
//
// A process-local mutex serializes the read-modify-write sequences; writers
// in other processes against the same table are not coordinated.
type Store struct {
	mu          sync.Mutex
	repo        Repository
	maxUsers    int
	maxMessages int
}

// New creates a Store over repo. Non-positive caps fall back to the
// defaults.
func New(repo Repository, maxUsers, maxMessages int) (*Store, error) {
	if repo == nil {
		return nil, errors.New("history: repository must not be nil")
	}
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Store{repo: repo, maxUsers: maxUsers, maxMessages: maxMessages}, nil
}

// Touch moves userID to the most-recently-active end of the registry,
// without duplicating an id already present. When the registry would exceed
// its capacity, the least-recently-active user is evicted and its history
// deleted in the same write. The evicted user id, if any, is returned for
// logging.
func (s *Store) Touch(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.repo.GetUserList(ctx)
	if err != nil {
		return "", fmt.Errorf("history: touch %q: %w", userID, err)
	}

	next := make([]string, 0, len(users)+1)
	for _, u := range users {
		if u != userID {
			next = append(next, u)
		}
	}
	next = append(next, userID)

	if len(next) <= s.maxUsers {
		if err := s.repo.PutUserList(ctx, next); err != nil {
			return "", fmt.Errorf("history: touch %q: %w", userID, err)
		}
		return "", nil
	}

	evicted := next[0]
	next = next[1:]
	if err := s.repo.EvictUser(ctx, evicted, next); err != nil {
		return "", fmt.Errorf("history: evict %q: %w", evicted, err)
	}
	return evicted, nil
}

// Recent returns the user's last limit messages, oldest first. Unknown users
// have an empty history. A non-positive limit uses the default window.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	msgs, err := s.repo.GetUserHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("history: recent %q: %w", userID, err)
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// AppendTurn stores one completed exchange, user message first. Overflow is
// trimmed from the oldest end in pairs so a user message never survives
// without its answer.
func (s *Store) AppendTurn(ctx context.Context, userID string, userMsg, assistantMsg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.repo.GetUserHistory(ctx, userID)
	if err != nil {
		return fmt.Errorf("history: append turn %q: %w", userID, err)
	}
	msgs = append(msgs, userMsg, assistantMsg)
	for len(msgs) > s.maxMessages {
		msgs = msgs[2:]
	}
	if err := s.repo.PutUserHistory(ctx, userID, msgs); err != nil {
		return fmt.Errorf("history: append turn %q: %w", userID, err)
	}
	return nil
}
