package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"kakao-skill-relay/internal/domain"
)

const defaultContextItems = 10

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// HistoryStore is the bounded conversation-state surface the relay drives.
type HistoryStore interface {
	Touch(ctx context.Context, userID string) (evicted string, err error)
	Recent(ctx context.Context, userID string, limit int) ([]domain.ChatMessage, error)
	AppendTurn(ctx context.Context, userID string, userMsg, assistantMsg domain.ChatMessage) error
}

// RelayService is the webhook relay pipeline: recent history plus the new
// input goes to the completion API, and the finished turn is stored.
type RelayService struct {
	params       ParamGetter
	llm          LLMClient
	history      HistoryStore
	paramPrefix  string
	defaultModel string
	contextItems int

	cacheMu       sync.RWMutex
	cacheLoaded   bool
	personaPrompt string
}

type AnswerInput struct {
	Model  string
	Input  string
	UserID string
}

func NewRelayService(p ParamGetter, llm LLMClient, h HistoryStore, paramPrefix, defaultModel string, contextItems int) (*RelayService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if h == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	defaultModel = strings.TrimSpace(defaultModel)
	if defaultModel == "" {
		return nil, errors.New("usecase: default model must not be empty")
	}
	if contextItems <= 0 {
		contextItems = defaultContextItems
	}
	return &RelayService{
		params:       p,
		llm:          llm,
		history:      h,
		paramPrefix:  paramPrefix,
		defaultModel: defaultModel,
		contextItems: contextItems,
	}, nil
}

// Answer runs one request through the pipeline. History is read before the
// completion call and written only after it succeeds, so a failed upstream
// call leaves no trace in the stored conversation.
func (s *RelayService) Answer(ctx context.Context, in AnswerInput) (string, error) {
	input := strings.TrimSpace(in.Input)
	if input == "" {
		return "", newError(ErrorInvalidInput, "empty_input", nil)
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return "", newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.defaultModel
	}

	if err := s.ensureConfig(ctx); err != nil {
		return "", newError(ErrorInternal, "ssm_load_error", err)
	}

	recent, err := s.history.Recent(ctx, userID, s.contextItems)
	if err != nil {
		return "", newError(ErrorInternal, "history_read_error", err)
	}

	reply, err := s.llm.Chat(ctx, model, buildPromptMessages(s.persona(), recent, input))
	if err != nil {
		return "", newError(ErrorUpstream, "completion_error", err)
	}

	evicted, err := s.history.Touch(ctx, userID)
	if err != nil {
		return "", newError(ErrorInternal, "history_touch_error", err)
	}
	if evicted != "" {
		slog.Info("evicted least-recently-active user", "evicted", evicted, "user", userID)
	}

	err = s.history.AppendTurn(ctx, userID,
		domain.ChatMessage{Role: domain.RoleUser, Content: input},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: reply},
	)
	if err != nil {
		return "", newError(ErrorInternal, "history_write_error", err)
	}

	return reply, nil
}

func (s *RelayService) persona() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.personaPrompt
}

// ensureConfig loads the persona prompt from SSM on the first request and
// caches it for the process lifetime.
func (s *RelayService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	persona, err := s.params.GetParameter(ctx, s.paramPrefix+"/persona_prompt")
	if err != nil {
		return fmt.Errorf("usecase: load persona prompt: %w", err)
	}
	if strings.TrimSpace(persona) == "" {
		return errors.New("usecase: persona prompt is empty")
	}

	s.personaPrompt = persona
	s.cacheLoaded = true
	return nil
}
