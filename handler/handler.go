package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"coder-agent/internal/domain"
	"coder-agent/internal/usecase"
)

// ChatUseCase is the chat surface the handler depends on.
type ChatUseCase interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	History(ctx context.Context, email, threadID string) ([]domain.TurnPair, error)
	Threads(ctx context.Context, email string) ([]string, error)
}

// AuthUseCase is the account surface the handler depends on.
type AuthUseCase interface {
	Signup(ctx context.Context, email, name, password string) (domain.User, error)
	Login(ctx context.Context, email, password string) (usecase.LoginOutput, error)
	VerifyToken(ctx context.Context, token string) (string, error)
}

type Handler struct {
	chat   ChatUseCase
	auth   AuthUseCase
	logger *slog.Logger
}

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type signupResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	Email       string `json:"email"`
	Name        string `json:"name"`
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

type chatResponse struct {
	Reply    string `json:"reply"`
	ThreadID string `json:"threadId"`
}

type historyResponse struct {
	ThreadID string            `json:"threadId"`
	Turns    []domain.TurnPair `json:"turns"`
}

type threadsResponse struct {
	Threads []string `json:"threads"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(chat ChatUseCase, auth AuthUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if auth == nil {
		return nil, errors.New("handler: auth use case must not be nil")
	}
	h := &Handler{chat: chat, auth: auth, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Handle routes an API Gateway proxy event to the matching use case.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	logger := h.logger.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)
	start := time.Now()

	resp := h.route(ctx, logger, event)
	resp.Headers = withBaseHeaders(resp.Headers, corrID)

	logger.Info("request handled", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	method := event.HTTPMethod
	path := strings.TrimRight(event.Path, "/")

	switch {
	case method == http.MethodPost && path == "/auth/signup":
		return h.handleSignup(ctx, logger, event)
	case method == http.MethodPost && path == "/auth/login":
		return h.handleLogin(ctx, logger, event)
	case method == http.MethodPost && path == "/chat":
		return h.withIdentity(ctx, logger, event, h.handleChat)
	case method == http.MethodGet && strings.HasPrefix(path, "/chat/history/"):
		return h.withIdentity(ctx, logger, event, h.handleHistory)
	case method == http.MethodGet && path == "/chat/threads":
		return h.withIdentity(ctx, logger, event, h.handleThreads)
	default:
		return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "unknown_route")
	}
}

func (h *Handler) handleSignup(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var req signupRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "malformed_body")
	}

	u, err := h.auth.Signup(ctx, req.Email, req.Name, req.Password)
	if err != nil {
		return h.errorFrom(logger, err)
	}
	return okJSON(http.StatusCreated, signupResponse{ID: u.ID, Email: u.Email, Name: u.Name})
}

func (h *Handler) handleLogin(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var req loginRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "malformed_body")
	}

	out, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return h.errorFrom(logger, err)
	}
	return okJSON(http.StatusOK, loginResponse{AccessToken: out.AccessToken, Email: out.User.Email, Name: out.User.Name})
}

type identityHandler func(ctx context.Context, logger *slog.Logger, email string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse

func (h *Handler) withIdentity(ctx context.Context, logger *slog.Logger, event events.APIGatewayProxyRequest, next identityHandler) events.APIGatewayProxyResponse {
	email, err := h.auth.VerifyToken(ctx, bearerToken(event.Headers))
	if err != nil {
		return h.errorFrom(logger, err)
	}
	return next(ctx, logger, email, event)
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, email string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "malformed_body")
	}

	out, err := h.chat.Send(ctx, usecase.SendInput{Email: email, ThreadID: req.ThreadID, Message: req.Message})
	if err != nil {
		return h.errorFrom(logger, err)
	}
	return okJSON(http.StatusOK, chatResponse{Reply: out.Reply, ThreadID: out.ThreadID})
}

func (h *Handler) handleHistory(ctx context.Context, logger *slog.Logger, email string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	threadID := event.PathParameters["thread_id"]
	if threadID == "" {
		threadID = strings.TrimPrefix(strings.TrimRight(event.Path, "/"), "/chat/history/")
	}

	turns, err := h.chat.History(ctx, email, threadID)
	if err != nil {
		return h.errorFrom(logger, err)
	}
	if turns == nil {
		turns = []domain.TurnPair{}
	}
	return okJSON(http.StatusOK, historyResponse{ThreadID: threadID, Turns: turns})
}

func (h *Handler) handleThreads(ctx context.Context, logger *slog.Logger, email string, _ events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	ids, err := h.chat.Threads(ctx, email)
	if err != nil {
		return h.errorFrom(logger, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return okJSON(http.StatusOK, threadsResponse{Threads: ids})
}

func (h *Handler) errorFrom(logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		logger.Error("unexpected error", "error", err)
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "")
	}

	status := http.StatusInternalServerError
	switch usecaseErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorConflict:
		status = http.StatusConflict
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", usecaseErr.Code, "reason", usecaseErr.Reason, "error", usecaseErr.Unwrap())
	} else {
		logger.Warn("request rejected", "code", usecaseErr.Code, "reason", usecaseErr.Reason)
	}
	return errorJSON(status, string(usecaseErr.Code), usecaseErr.Reason)
}

func okJSON(status int, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "encode_error")
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(payload)}
}

func errorJSON(status int, code, reason string) events.APIGatewayProxyResponse {
	payload, _ := json.Marshal(errorResponse{Error: code, Reason: reason})
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(payload)}
}

func withBaseHeaders(headers map[string]string, corrID string) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 2)
	}
	headers["Content-Type"] = "application/json"
	headers["X-Correlation-Id"] = corrID
	return headers
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func bearerToken(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "Bearer "))
		}
	}
	return ""
}
