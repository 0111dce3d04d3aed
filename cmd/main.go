package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"kakao-skill-relay/handler"
	"kakao-skill-relay/internal/history"
	"kakao-skill-relay/internal/integrations/openai"
	"kakao-skill-relay/internal/integrations/paramstore"
	"kakao-skill-relay/internal/repository"
	"kakao-skill-relay/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	defaultModel := envStr("DEFAULT_MODEL", "gpt-4o-mini")
	apiMode := envStr("OPENAI_API", "chat")
	maxUsers := envInt("MAX_ACTIVE_USERS", history.DefaultMaxUsers)
	maxMessages := envInt("MAX_HISTORY_MESSAGES", history.DefaultMaxMessages)
	contextItems := envInt("HISTORY_CONTEXT_ITEMS", history.DefaultRecentLimit)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	params, err := paramstore.NewCached(ssmClient)
	if err != nil {
		slog.Error("failed to create parameter cache", "err", err)
		os.Exit(1)
	}
	repo, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	store, err := history.New(repo, maxUsers, maxMessages)
	if err != nil {
		slog.Error("failed to create history store", "err", err)
		os.Exit(1)
	}

	var opts []openai.Option
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		opts = append(opts, openai.WithAPIKey(key))
	}
	if apiMode == "responses" {
		opts = append(opts, openai.WithResponsesAPI())
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix, opts...)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	relay, err := usecase.NewRelayService(params, openaiClient, store, paramPrefix, defaultModel, contextItems)
	if err != nil {
		slog.Error("failed to create relay service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(relay, defaultModel)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
