package usecase

import (
	"strings"

	"kakao-skill-relay/internal/domain"
)

// buildPromptMessages assembles the ordered conversation sent upstream: the
// persona system message first, then the stored history (already oldest
// first), then the new user input.
func buildPromptMessages(persona string, history []domain.ChatMessage, input string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: strings.TrimSpace(persona),
	})
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: input,
	})
	return messages
}
