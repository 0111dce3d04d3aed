package history

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"kakao-skill-relay/internal/domain"
)

// fakeRepo is an in-memory Repository keeping the same registry/history
// invariants as the DynamoDB client.
type fakeRepo struct {
	users     []string
	histories map[string][]domain.ChatMessage

	listErr    error
	putListErr error
	getHistErr error
	putHistErr error
	evictErr   error

	evictCalls  int
	lastEvicted string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{histories: make(map[string][]domain.ChatMessage)}
}

func (f *fakeRepo) GetUserList(_ context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]string, len(f.users))
	copy(out, f.users)
	return out, nil
}

func (f *fakeRepo) PutUserList(_ context.Context, users []string) error {
	if f.putListErr != nil {
		return f.putListErr
	}
	f.users = append([]string(nil), users...)
	return nil
}

func (f *fakeRepo) GetUserHistory(_ context.Context, userID string) ([]domain.ChatMessage, error) {
	if f.getHistErr != nil {
		return nil, f.getHistErr
	}
	msgs := f.histories[userID]
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeRepo) PutUserHistory(_ context.Context, userID string, messages []domain.ChatMessage) error {
	if f.putHistErr != nil {
		return f.putHistErr
	}
	f.histories[userID] = append([]domain.ChatMessage(nil), messages...)
	return nil
}

func (f *fakeRepo) EvictUser(_ context.Context, evictedID string, remaining []string) error {
	if f.evictErr != nil {
		return f.evictErr
	}
	f.evictCalls++
	f.lastEvicted = evictedID
	f.users = append([]string(nil), remaining...)
	delete(f.histories, evictedID)
	return nil
}

func mustStore(t *testing.T, repo Repository, maxUsers, maxMessages int) *Store {
	t.Helper()
	s, err := New(repo, maxUsers, maxMessages)
	require.NoError(t, err)
	return s
}

func turn(i int) (domain.ChatMessage, domain.ChatMessage) {
	return domain.ChatMessage{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i)}
}

func TestNew_NilRepository(t *testing.T) {
	_, err := New(nil, 0, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_DefaultCaps(t *testing.T) {
	s := mustStore(t, newFakeRepo(), 0, -1)
	require.Equal(t, DefaultMaxUsers, s.maxUsers)
	require.Equal(t, DefaultMaxMessages, s.maxMessages)
}

func TestTouch_AppendsNewUser(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 100)

	evicted, err := s.Touch(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, evicted)
	require.Equal(t, []string{"u1"}, repo.users)
}

func TestTouch_MovesToEndWithoutDuplicate(t *testing.T) {
	repo := newFakeRepo()
	repo.users = []string{"u1", "u2", "u3"}
	s := mustStore(t, repo, 10, 100)

	_, err := s.Touch(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"u2", "u3", "u1"}, repo.users)

	// Touching the most-recently-active user again changes nothing.
	_, err = s.Touch(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"u2", "u3", "u1"}, repo.users)
}

func TestTouch_EvictsLeastRecentlyActive(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 100)

	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := s.Touch(ctx, u)
		require.NoError(t, err)
		q, a := turn(1)
		require.NoError(t, s.AppendTurn(ctx, u, q, a))
	}

	evicted, err := s.Touch(ctx, "u4")
	require.NoError(t, err)
	require.Equal(t, "u1", evicted)
	require.Equal(t, []string{"u2", "u3", "u4"}, repo.users)
	require.Equal(t, 1, repo.evictCalls)

	// Round-trip: the evicted user's history is gone.
	msgs, err := s.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestTouch_RecentlyTouchedUserSurvivesEviction(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 100)

	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := s.Touch(ctx, u)
		require.NoError(t, err)
	}
	// u1 becomes most-recently-active again, so u2 is next in line.
	_, err := s.Touch(ctx, "u1")
	require.NoError(t, err)

	evicted, err := s.Touch(ctx, "u4")
	require.NoError(t, err)
	require.Equal(t, "u2", evicted)
	require.Equal(t, []string{"u3", "u1", "u4"}, repo.users)
}

func TestTouch_RegistryNeverExceedsCapacity(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 5, 100)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := s.Touch(ctx, fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		require.LessOrEqual(t, len(repo.users), 5)
	}
}

func TestTouch_RepoErrors(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("dynamo down")
	s := mustStore(t, repo, 3, 100)

	_, err := s.Touch(context.Background(), "u1")
	require.Error(t, err)
	require.ErrorContains(t, err, "dynamo down")
}

func TestRecent_UnknownUserIsEmpty(t *testing.T) {
	s := mustStore(t, newFakeRepo(), 3, 100)
	msgs, err := s.Recent(context.Background(), "nobody", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestRecent_ReturnsSuffixOldestFirst(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 100)

	ctx := context.Background()
	for i := 1; i <= 15; i++ {
		q, a := turn(i)
		require.NoError(t, s.AppendTurn(ctx, "u1", q, a))
	}

	msgs, err := s.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	// The window is the suffix of everything appended, in original order:
	// turns 11..15.
	require.Equal(t, "q11", msgs[0].Content)
	require.Equal(t, "a15", msgs[9].Content)
}

func TestRecent_DefaultLimit(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 100)

	ctx := context.Background()
	for i := 1; i <= 20; i++ {
		q, a := turn(i)
		require.NoError(t, s.AppendTurn(ctx, "u1", q, a))
	}

	msgs, err := s.Recent(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, DefaultRecentLimit)
}

func TestAppendTurn_OrderWithinTurn(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 100)

	q, a := turn(1)
	require.NoError(t, s.AppendTurn(context.Background(), "u1", q, a))
	require.Equal(t, []domain.ChatMessage{q, a}, repo.histories["u1"])
}

func TestAppendTurn_TrimsOldestPairs(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 4)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		q, a := turn(i)
		require.NoError(t, s.AppendTurn(ctx, "u1", q, a))
	}

	msgs := repo.histories["u1"]
	require.Len(t, msgs, 4)
	require.Equal(t, "q4", msgs[0].Content)
	require.Equal(t, "a4", msgs[1].Content)
	require.Equal(t, "q5", msgs[2].Content)
	require.Equal(t, "a5", msgs[3].Content)
}

func TestAppendTurn_NeverExceedsCap(t *testing.T) {
	repo := newFakeRepo()
	s := mustStore(t, repo, 3, 100)

	ctx := context.Background()
	for i := 1; i <= 80; i++ {
		q, a := turn(i)
		require.NoError(t, s.AppendTurn(ctx, "u1", q, a))
		require.LessOrEqual(t, len(repo.histories["u1"]), 100)
	}
	require.Len(t, repo.histories["u1"], 100)
}

func TestAppendTurn_WriteError(t *testing.T) {
	repo := newFakeRepo()
	repo.putHistErr = errors.New("write failed")
	s := mustStore(t, repo, 3, 100)

	q, a := turn(1)
	err := s.AppendTurn(context.Background(), "u1", q, a)
	require.Error(t, err)
	require.ErrorContains(t, err, "write failed")
}
