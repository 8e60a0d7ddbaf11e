package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"coder-agent/handler"
	"coder-agent/internal/integrations/openai"
	"coder-agent/internal/integrations/paramstore"
	"coder-agent/internal/integrations/websearch"
	"coder-agent/internal/repository"
	"coder-agent/internal/usecase"
	"coder-agent/internal/workflow"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	tokenTTL := time.Duration(envInt("TOKEN_TTL_HOURS", 10)) * time.Hour

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
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	conversations, err := repository.NewConversationStore(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	users, err := repository.NewUserStore(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create user store", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	searchClient, err := websearch.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create web search client", "err", err)
		os.Exit(1)
	}

	// ---- Workflow ----
	orchestrator, err := workflow.NewOrchestrator(openaiClient, searchClient, conversations, logger)
	if err != nil {
		slog.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(orchestrator, users)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	authService, err := usecase.NewAuthService(users, ssmClient, paramPrefix, tokenTTL)
	if err != nil {
		slog.Error("failed to create auth service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, authService, handler.WithLogger(logger))
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
