package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"kakao-skill-relay/internal/domain"
	"kakao-skill-relay/internal/history"
	"kakao-skill-relay/internal/integrations/openai"
	"kakao-skill-relay/internal/kakao"
	"kakao-skill-relay/internal/usecase"
)

// memRepo is an in-memory history.Repository so the full pipeline can run
// against a stubbed completion API without AWS.
type memRepo struct {
	users     []string
	histories map[string][]domain.ChatMessage
}

func newMemRepo() *memRepo {
	return &memRepo{histories: make(map[string][]domain.ChatMessage)}
}

func (m *memRepo) GetUserList(_ context.Context) ([]string, error) {
	return append([]string(nil), m.users...), nil
}

func (m *memRepo) PutUserList(_ context.Context, users []string) error {
	m.users = append([]string(nil), users...)
	return nil
}

func (m *memRepo) GetUserHistory(_ context.Context, userID string) ([]domain.ChatMessage, error) {
	return append([]domain.ChatMessage(nil), m.histories[userID]...), nil
}

func (m *memRepo) PutUserHistory(_ context.Context, userID string, messages []domain.ChatMessage) error {
	m.histories[userID] = append([]domain.ChatMessage(nil), messages...)
	return nil
}

func (m *memRepo) EvictUser(_ context.Context, evictedID string, remaining []string) error {
	m.users = append([]string(nil), remaining...)
	delete(m.histories, evictedID)
	return nil
}

func parseRequestJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

type staticParams struct{}

func (staticParams) GetParameter(_ context.Context, _ string) (string, error) {
	return "You are a helpful Kakao skill assistant.", nil
}

func newPipeline(t *testing.T, srv *httptest.Server, repo *memRepo) *Handler {
	t.Helper()

	llm, err := openai.NewClient(nil, "",
		openai.WithBaseURL(srv.URL),
		openai.WithAPIKey("sk-test"),
	)
	require.NoError(t, err)

	store, err := history.New(repo, 300, 100)
	require.NoError(t, err)

	relay, err := usecase.NewRelayService(staticParams{}, llm, store, "/skill-relay", "gpt-4o-mini", 10)
	require.NoError(t, err)

	h, err := NewHandler(relay, "gpt-4o-mini")
	require.NoError(t, err)
	return h
}

func TestPipeline_DirectTurnStoresHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	repo := newMemRepo()
	h := newPipeline(t, srv, repo)

	resp, err := h.Handle(context.Background(), makeEvent("/skill-ui-test", `{"model":"gpt-x","input":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi there", envelopeText(t, resp.Body))

	require.Equal(t, []string{kakao.TestUserID}, repo.users)
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "hi there"},
	}, repo.histories[kakao.TestUserID])
}

func TestPipeline_WebhookSecondTurnCarriesHistory(t *testing.T) {
	var gotMessages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []domain.ChatMessage `json:"messages"`
		}
		require.NoError(t, parseRequestJSON(r, &req))
		gotMessages = len(req.Messages)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"reply"}}]}`))
	}))
	defer srv.Close()

	repo := newMemRepo()
	h := newPipeline(t, srv, repo)

	body := `{"userRequest":{"utterance":"first","user":{"id":"u1"}}}`
	_, err := h.Handle(context.Background(), makeEvent("/skill-ui-test-raw", body))
	require.NoError(t, err)
	// system + user
	require.Equal(t, 2, gotMessages)

	body = `{"userRequest":{"utterance":"second","user":{"id":"u1"}}}`
	_, err = h.Handle(context.Background(), makeEvent("/skill-ui-test-raw", body))
	require.NoError(t, err)
	// system + stored turn + user
	require.Equal(t, 4, gotMessages)
	require.Len(t, repo.histories["u1"], 4)
}

func TestPipeline_Upstream500WritesNoHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"error":"internal"}`))
	}))
	defer srv.Close()

	repo := newMemRepo()
	h := newPipeline(t, srv, repo)

	body := `{"userRequest":{"utterance":"hello","user":{"id":"u1"}}}`
	resp, err := h.Handle(context.Background(), makeEvent("/skill-ui-test-raw", body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "[error]\n"+kakao.MsgUpstream, envelopeText(t, resp.Body))

	require.Empty(t, repo.users)
	require.Empty(t, repo.histories)
}
