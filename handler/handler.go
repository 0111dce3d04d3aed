package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"kakao-skill-relay/internal/kakao"
	"kakao-skill-relay/internal/usecase"
)

const (
	pathDirectTest = "/skill-ui-test"
	pathWebhook    = "/skill-ui-test-raw"

	correlationHeader = "X-Correlation-Id"
)

// Answerer is the relay pipeline surface the handler drives.
type Answerer interface {
	Answer(ctx context.Context, in usecase.AnswerInput) (string, error)
}

// Handler adapts API Gateway proxy events to the relay pipeline. It owns the
// route split between the Swagger test route (strict validation, framework
// style errors) and the platform webhook route (always an envelope, even on
// failure).
type Handler struct {
	relay        Answerer
	defaultModel string
}

func NewHandler(relay Answerer, defaultModel string) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	defaultModel = strings.TrimSpace(defaultModel)
	if defaultModel == "" {
		return nil, errors.New("handler: default model must not be empty")
	}
	return &Handler{relay: relay, defaultModel: defaultModel}, nil
}

// directRequest is the Swagger test route body.
type directRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// errorResponse is the structured error body for non-webhook failures.
type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	log := slog.With("correlationId", corrID, "path", req.Path, "method", req.HTTPMethod)

	if req.HTTPMethod != http.MethodPost {
		return jsonError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", corrID), nil
	}

	switch req.Path {
	case pathDirectTest:
		return h.handleDirect(ctx, log, req.Body, corrID), nil
	case pathWebhook:
		return h.handleWebhook(ctx, log, req.Body, corrID), nil
	default:
		return jsonError(http.StatusNotFound, "NOT_FOUND", corrID), nil
	}
}

// handleDirect serves the Swagger test route: model and input are required,
// and the turn runs under the fixed test user id.
func (h *Handler) handleDirect(ctx context.Context, log *slog.Logger, body, corrID string) events.APIGatewayProxyResponse {
	var in directRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		log.Warn("malformed direct-test body", "err", err)
		return envelope(kakao.ErrorText(kakao.MsgInvalidJSON), corrID)
	}
	if strings.TrimSpace(in.Model) == "" || strings.TrimSpace(in.Input) == "" {
		return jsonError(http.StatusBadRequest, string(usecase.ErrorInvalidInput), corrID)
	}

	answer, err := h.relay.Answer(ctx, usecase.AnswerInput{
		Model:  in.Model,
		Input:  in.Input,
		UserID: kakao.TestUserID,
	})
	if err != nil {
		log.Error("direct-test relay failed", "err", err)
		return envelope(kakao.ErrorText(messageFor(err)), corrID)
	}
	log.Info("direct-test turn answered")
	return envelope(kakao.SimpleText(answer), corrID)
}

// handleWebhook serves the platform route. The platform expects the envelope
// shape back for every outcome, so failures are embedded rather than mapped
// to HTTP statuses.
func (h *Handler) handleWebhook(ctx context.Context, log *slog.Logger, body, corrID string) events.APIGatewayProxyResponse {
	var payload kakao.SkillPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		log.Warn("malformed webhook body", "err", err)
		return envelope(kakao.ErrorText(kakao.MsgInvalidJSON), corrID)
	}

	norm, err := kakao.Normalize(payload, h.defaultModel)
	if err != nil {
		log.Warn("webhook payload has no usable input", "err", err)
		return envelope(kakao.ErrorText(kakao.MsgMissingInput), corrID)
	}

	answer, err := h.relay.Answer(ctx, usecase.AnswerInput{
		Model:  norm.Model,
		Input:  norm.Input,
		UserID: norm.UserID,
	})
	if err != nil {
		log.Error("webhook relay failed", "user", norm.UserID, "err", err)
		return envelope(kakao.ErrorText(messageFor(err)), corrID)
	}
	log.Info("webhook turn answered", "user", norm.UserID)
	return envelope(kakao.SimpleText(answer), corrID)
}

// messageFor maps pipeline error codes to the fixed user-facing messages;
// internal detail stays in the logs.
func messageFor(err error) string {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return kakao.MsgInternal
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return kakao.MsgMissingInput
	case usecase.ErrorUpstream:
		return kakao.MsgUpstream
	default:
		return kakao.MsgInternal
	}
}

func envelope(resp kakao.SkillResponse, corrID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(resp)
	if err != nil {
		// The envelope is a fixed struct of strings; this cannot happen.
		return jsonError(http.StatusInternalServerError, string(usecase.ErrorInternal), corrID)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    responseHeaders(corrID),
		Body:       string(body),
	}
}

func jsonError(status int, code, corrID string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(errorResponse{Error: code})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(corrID),
		Body:       string(body),
	}
}

func responseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: corrID,
	}
}

// correlationID reuses the caller's correlation header when present
// (API Gateway does not canonicalize header casing) and otherwise mints one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
