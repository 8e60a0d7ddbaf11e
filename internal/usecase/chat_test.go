package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"coder-agent/internal/domain"
	"coder-agent/internal/workflow"
)

type mockTurns struct {
	reply      string
	runErr     error
	pairs      []domain.TurnPair
	historyErr error

	ranThreadID string
	ranMessage  string
	runCalls    int
}

func (m *mockTurns) RunTurn(_ context.Context, threadID, message string) (string, error) {
	m.runCalls++
	m.ranThreadID = threadID
	m.ranMessage = message
	return m.reply, m.runErr
}

func (m *mockTurns) History(_ context.Context, _ string) ([]domain.TurnPair, error) {
	return m.pairs, m.historyErr
}

type mockThreads struct {
	owns       bool
	ownsErr    error
	addErr     error
	listOut    []string
	listErr    error
	addedEmail string
	addedID    string
	addCalls   int
}

func (m *mockThreads) AddThread(_ context.Context, email, threadID string) error {
	m.addCalls++
	m.addedEmail = email
	m.addedID = threadID
	return m.addErr
}

func (m *mockThreads) ListThreads(_ context.Context, _ string) ([]string, error) {
	return m.listOut, m.listErr
}

func (m *mockThreads) OwnsThread(_ context.Context, _, _ string) (bool, error) {
	return m.owns, m.ownsErr
}

func newTestChatService(t *testing.T, turns TurnRunner, threads ThreadDirectory) *ChatService {
	t.Helper()
	svc, err := NewChatService(turns, threads)
	require.NoError(t, err)
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, &mockThreads{})
	require.Error(t, err)

	_, err = NewChatService(&mockTurns{}, nil)
	require.Error(t, err)
}

func TestSend_NewThread_GeneratesIDAndAssociates(t *testing.T) {
	turns := &mockTurns{reply: "hello!"}
	threads := &mockThreads{}
	svc := newTestChatService(t, turns, threads)

	out, err := svc.Send(context.Background(), SendInput{Email: "user@email.com", Message: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, out.ThreadID)
	require.Equal(t, "hello!", out.Reply)
	require.Equal(t, 1, threads.addCalls)
	require.Equal(t, out.ThreadID, threads.addedID)
	require.Equal(t, out.ThreadID, turns.ranThreadID)
}

func TestSend_ExistingThread_ChecksOwnership(t *testing.T) {
	turns := &mockTurns{reply: "continuing"}
	threads := &mockThreads{owns: true}
	svc := newTestChatService(t, turns, threads)

	out, err := svc.Send(context.Background(), SendInput{Email: "user@email.com", ThreadID: "t-1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "t-1", out.ThreadID)
	require.Zero(t, threads.addCalls, "existing threads are not re-associated")
}

func TestSend_ForeignThread_NotFound(t *testing.T) {
	svc := newTestChatService(t, &mockTurns{}, &mockThreads{owns: false})

	_, err := svc.Send(context.Background(), SendInput{Email: "user@email.com", ThreadID: "t-other", Message: "hi"})
	expectError(t, err, ErrorNotFound, "thread_not_found")
}

func TestSend_EmptyMessage_NoTurnNoAssociation(t *testing.T) {
	turns := &mockTurns{}
	threads := &mockThreads{}
	svc := newTestChatService(t, turns, threads)

	out, err := svc.Send(context.Background(), SendInput{Email: "user@email.com", Message: "   "})
	require.NoError(t, err)
	require.NotEmpty(t, out.ThreadID, "a thread id is still handed back")
	require.Empty(t, out.Reply)
	require.Zero(t, turns.runCalls)
	require.Zero(t, threads.addCalls)
}

func TestSend_EmptyEmail(t *testing.T) {
	svc := newTestChatService(t, &mockTurns{}, &mockThreads{})
	_, err := svc.Send(context.Background(), SendInput{Message: "hi"})
	expectError(t, err, ErrorInvalidInput, "empty_email")
}

func TestSend_TurnError(t *testing.T) {
	turns := &mockTurns{runErr: errors.New("boom")}
	svc := newTestChatService(t, turns, &mockThreads{owns: true})

	_, err := svc.Send(context.Background(), SendInput{Email: "user@email.com", ThreadID: "t-1", Message: "hi"})
	expectError(t, err, ErrorInternal, "turn_error")
}

func TestSend_InvalidTransition_DistinctReason(t *testing.T) {
	turns := &mockTurns{runErr: &workflow.InvalidTransitionError{Node: "router", Route: "answer"}}
	svc := newTestChatService(t, turns, &mockThreads{owns: true})

	_, err := svc.Send(context.Background(), SendInput{Email: "user@email.com", ThreadID: "t-1", Message: "hi"})
	expectError(t, err, ErrorInternal, "invalid_transition")
}

func TestSend_AssociationError(t *testing.T) {
	threads := &mockThreads{addErr: errors.New("dynamo down")}
	svc := newTestChatService(t, &mockTurns{}, threads)

	_, err := svc.Send(context.Background(), SendInput{Email: "user@email.com", Message: "hi"})
	expectError(t, err, ErrorInternal, "thread_associate_error")
}

func TestHistory_HappyPath(t *testing.T) {
	pairs := []domain.TurnPair{{User: "q", Assistant: "a"}}
	svc := newTestChatService(t, &mockTurns{pairs: pairs}, &mockThreads{owns: true})

	out, err := svc.History(context.Background(), "user@email.com", "t-1")
	require.NoError(t, err)
	require.Equal(t, pairs, out)
}

func TestHistory_ForeignThread_NotFound(t *testing.T) {
	svc := newTestChatService(t, &mockTurns{}, &mockThreads{owns: false})
	_, err := svc.History(context.Background(), "user@email.com", "t-1")
	expectError(t, err, ErrorNotFound, "thread_not_found")
}

func TestHistory_EmptyThreadID(t *testing.T) {
	svc := newTestChatService(t, &mockTurns{}, &mockThreads{owns: true})
	_, err := svc.History(context.Background(), "user@email.com", " ")
	expectError(t, err, ErrorInvalidInput, "empty_thread_id")
}

func TestThreads_ListsOwnedThreads(t *testing.T) {
	svc := newTestChatService(t, &mockTurns{}, &mockThreads{listOut: []string{"t-1", "t-2"}})

	ids, err := svc.Threads(context.Background(), "user@email.com")
	require.NoError(t, err)
	require.Equal(t, []string{"t-1", "t-2"}, ids)
}

func TestThreads_StoreError(t *testing.T) {
	svc := newTestChatService(t, &mockTurns{}, &mockThreads{listErr: errors.New("boom")})
	_, err := svc.Threads(context.Background(), "user@email.com")
	expectError(t, err, ErrorInternal, "thread_list_error")
}
