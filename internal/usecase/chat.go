package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"coder-agent/internal/domain"
	"coder-agent/internal/workflow"
)

// TurnRunner is the workflow orchestrator surface consumed by ChatService.
type TurnRunner interface {
	RunTurn(ctx context.Context, threadID, userMessage string) (string, error)
	History(ctx context.Context, threadID string) ([]domain.TurnPair, error)
}

// ThreadDirectory records which user owns which thread.
type ThreadDirectory interface {
	AddThread(ctx context.Context, email, threadID string) error
	ListThreads(ctx context.Context, email string) ([]string, error)
	OwnsThread(ctx context.Context, email, threadID string) (bool, error)
}

// ChatService validates thread ownership and delegates turns to the
// workflow orchestrator.
type ChatService struct {
	turns   TurnRunner
	threads ThreadDirectory
}

type SendInput struct {
	Email    string
	ThreadID string
	Message  string
}

type SendOutput struct {
	ThreadID string
	Reply    string
}

func NewChatService(turns TurnRunner, threads ThreadDirectory) (*ChatService, error) {
	if turns == nil {
		return nil, errors.New("usecase: turn runner must not be nil")
	}
	if threads == nil {
		return nil, errors.New("usecase: thread directory must not be nil")
	}
	return &ChatService{turns: turns, threads: threads}, nil
}

// Send runs one chat turn. A missing thread id starts a new thread; the
// association is only persisted once a non-empty message is sent. An empty
// message is a no-op: no model calls, no store mutation, empty reply.
func (s *ChatService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_email", nil)
	}

	threadID := strings.TrimSpace(in.ThreadID)
	newThread := threadID == ""
	if newThread {
		threadID = newUUID()
	} else {
		owns, err := s.threads.OwnsThread(ctx, email, threadID)
		if err != nil {
			return SendOutput{}, newError(ErrorInternal, "thread_lookup_error", err)
		}
		if !owns {
			return SendOutput{}, newError(ErrorNotFound, "thread_not_found", nil)
		}
	}

	if strings.TrimSpace(in.Message) == "" {
		return SendOutput{ThreadID: threadID, Reply: ""}, nil
	}

	if newThread {
		if err := s.threads.AddThread(ctx, email, threadID); err != nil {
			return SendOutput{}, newError(ErrorInternal, "thread_associate_error", err)
		}
	}

	reply, err := s.turns.RunTurn(ctx, threadID, in.Message)
	if err != nil {
		var invalid *workflow.InvalidTransitionError
		if errors.As(err, &invalid) {
			return SendOutput{}, newError(ErrorInternal, "invalid_transition", err)
		}
		return SendOutput{}, newError(ErrorInternal, "turn_error", err)
	}

	return SendOutput{ThreadID: threadID, Reply: reply}, nil
}

// History returns the ordered turn pairs of a thread owned by the user.
func (s *ChatService) History(ctx context.Context, email, threadID string) ([]domain.TurnPair, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, newError(ErrorInvalidInput, "empty_thread_id", nil)
	}

	owns, err := s.threads.OwnsThread(ctx, strings.TrimSpace(email), threadID)
	if err != nil {
		return nil, newError(ErrorInternal, "thread_lookup_error", err)
	}
	if !owns {
		return nil, newError(ErrorNotFound, "thread_not_found", nil)
	}

	pairs, err := s.turns.History(ctx, threadID)
	if err != nil {
		return nil, newError(ErrorInternal, "history_error", err)
	}
	return pairs, nil
}

// Threads lists the thread ids owned by the user.
func (s *ChatService) Threads(ctx context.Context, email string) ([]string, error) {
	ids, err := s.threads.ListThreads(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, newError(ErrorInternal, "thread_list_error", err)
	}
	return ids, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
