package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"coder-agent/internal/domain"
)

// InvalidTransitionError reports a routing label that no transition maps.
// Given the node contracts this cannot happen; reaching it is a programming
// error, distinct from a degraded capability call.
type InvalidTransitionError struct {
	Node  string
	Route Route
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("workflow: no transition from node %q for route %q", e.Node, e.Route)
}

// Orchestrator drives one chat turn through the routing state machine:
// router, then one skill, optionally web augmentation, then the answer
// composer. Capability handles and the persistence port are injected; the
// orchestrator holds no global state beyond per-thread locks.
type Orchestrator struct {
	llm    Completer
	search Searcher
	store  SnapshotStore
	logger *slog.Logger

	mu          sync.Mutex
	threadLocks map[string]*sync.Mutex
}

// NewOrchestrator wires the capability handles and the snapshot store.
func NewOrchestrator(llm Completer, search Searcher, store SnapshotStore, logger *slog.Logger) (*Orchestrator, error) {
	if llm == nil {
		return nil, errors.New("workflow: completer must not be nil")
	}
	if search == nil {
		return nil, errors.New("workflow: searcher must not be nil")
	}
	if store == nil {
		return nil, errors.New("workflow: snapshot store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:         llm,
		search:      search,
		store:       store,
		logger:      logger,
		threadLocks: make(map[string]*sync.Mutex),
	}, nil
}

// threadLock returns the mutex serializing turns for one thread. Different
// threads proceed independently; the store's conditional checkpoint guards
// against writers in other processes.
func (o *Orchestrator) threadLock(threadID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.threadLocks[threadID]
	if !ok {
		l = &sync.Mutex{}
		o.threadLocks[threadID] = l
	}
	return l
}

// RunTurn appends the user message to the thread's current sequence, drives
// the state machine to a terminal node and checkpoints the completed turn.
// It returns the assistant reply text.
func (o *Orchestrator) RunTurn(ctx context.Context, threadID, userMessage string) (string, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", errors.New("workflow: thread id is required")
	}

	lock := o.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	history, err := o.store.GetLatestSnapshot(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("workflow: load snapshot: %w", err)
	}

	st := &TurnState{
		Messages: append(append([]domain.ChatMessage{}, history...),
			domain.ChatMessage{Role: domain.RoleUser, Content: userMessage}),
	}

	current := nodeRouter
	for {
		o.runNode(ctx, current, st)

		next, terminal, err := nextNode(current, st.Route)
		if err != nil {
			return "", err
		}
		if terminal {
			break
		}
		current = next
	}

	reply := st.lastAssistantMessage()
	if reply == "" {
		// Persisting a degraded placeholder keeps the alternation invariant.
		st.recordFallback(FallbackComposeUnavailable)
		reply = degradedAnswerText
	}
	if st.Degraded() {
		o.logger.Warn("turn degraded", "thread_id", threadID, "fallbacks", st.Fallbacks)
	}

	_, err = o.store.AppendAndCheckpoint(ctx, threadID, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: userMessage},
		{Role: domain.RoleAssistant, Content: reply},
	})
	if err != nil {
		return "", fmt.Errorf("workflow: checkpoint turn: %w", err)
	}
	return reply, nil
}

func (o *Orchestrator) runNode(ctx context.Context, n node, st *TurnState) {
	switch n {
	case nodeRouter:
		o.routerNode(ctx, st)
	case nodeCodeGeneration:
		o.codeGenerationNode(ctx, st)
	case nodeCodeReview:
		o.codeReviewNode(ctx, st)
	case nodeWeb:
		o.webNode(ctx, st)
	case nodeAnswer:
		o.answerNode(ctx, st)
	}
}

// nextNode is the transition function. The match is exhaustive over the
// node/route combinations the contracts allow; anything else is an
// InvalidTransitionError.
func nextNode(n node, r Route) (node, bool, error) {
	switch n {
	case nodeRouter:
		switch r {
		case RouteCodeGeneration:
			return nodeCodeGeneration, false, nil
		case RouteCodeReview:
			return nodeCodeReview, false, nil
		case RouteEnd:
			return "", true, nil
		}
	case nodeCodeGeneration, nodeCodeReview:
		switch r {
		case RouteAnswer:
			return nodeAnswer, false, nil
		case RouteWeb:
			return nodeWeb, false, nil
		}
	case nodeWeb:
		if r == RouteAnswer {
			return nodeAnswer, false, nil
		}
	case nodeAnswer:
		// Terminal; the route is not read past this point.
		return "", true, nil
	}
	return "", false, &InvalidTransitionError{Node: string(n), Route: r}
}

// History reconstructs the ordered turn pairs of a thread from its latest
// snapshot. Pairing assumes strict user/assistant alternation; a trailing
// unpaired message is silently dropped.
func (o *Orchestrator) History(ctx context.Context, threadID string) ([]domain.TurnPair, error) {
	snaps, err := o.store.GetSnapshotHistory(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("workflow: load snapshot history: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	// Snapshots are supersets of their predecessors, so the most recent one
	// carries the full sequence.
	messages := snaps[0].Messages
	pairs := make([]domain.TurnPair, 0, len(messages)/2)
	for i := 0; i+1 < len(messages); i += 2 {
		if messages[i].Role != domain.RoleUser || messages[i+1].Role != domain.RoleAssistant {
			continue
		}
		pairs = append(pairs, domain.TurnPair{
			User:      messages[i].Content,
			Assistant: messages[i+1].Content,
		})
	}
	return pairs, nil
}
