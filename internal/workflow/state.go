package workflow

import (
	"strings"

	"coder-agent/internal/domain"
)

// Route selects the next step of the turn's state machine. It is a closed
// enum: nodes only ever produce the constants below, and the transition
// function matches them exhaustively.
type Route string

const (
	RouteCodeGeneration Route = "code-generation"
	RouteCodeReview     Route = "code-review"
	RouteEnd            Route = "end"
	RouteAnswer         Route = "answer"
	RouteWeb            Route = "web"
)

// node identifies a step of the state machine.
type node string

const (
	nodeRouter         node = "router"
	nodeCodeGeneration node = "code_generation"
	nodeCodeReview     node = "code_review"
	nodeWeb            node = "web"
	nodeAnswer         node = "answer"
)

// FallbackReason names the degraded path a node took when a capability call
// failed. Recorded on the turn state so callers and tests can distinguish a
// clean turn from a recovered one.
type FallbackReason string

const (
	FallbackClassification     FallbackReason = "classification_fallback"
	FallbackDirectAnswer       FallbackReason = "direct_answer_unavailable"
	FallbackSkillCompletion    FallbackReason = "skill_completion_unavailable"
	FallbackJudgmentHeuristic  FallbackReason = "judgment_length_heuristic"
	FallbackSearchUnavailable  FallbackReason = "search_unavailable"
	FallbackComposeUnavailable FallbackReason = "compose_unavailable"
)

// TurnState is the ephemeral state of a single RunTurn invocation. The
// orchestrator owns it for the duration of the turn and discards it on
// completion; the only durable residue is the checkpointed snapshot.
//
// At most one of GeneratedCode and CodeReview is populated per invocation,
// since the route picks exactly one skill. WebResults is only populated when
// that skill's result was judged insufficient.
type TurnState struct {
	Messages      []domain.ChatMessage
	GeneratedCode string
	CodeReview    string
	WebResults    string
	Route         Route
	Fallbacks     []FallbackReason
}

func (s *TurnState) appendAssistant(content string) {
	s.Messages = append(s.Messages, domain.ChatMessage{Role: domain.RoleAssistant, Content: content})
}

func (s *TurnState) recordFallback(reason FallbackReason) {
	s.Fallbacks = append(s.Fallbacks, reason)
}

// Degraded reports whether any node recovered through a fallback path.
func (s *TurnState) Degraded() bool {
	return len(s.Fallbacks) > 0
}

// latestUserMessage returns the content of the most recent user message.
func (s *TurnState) latestUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == domain.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// lastAssistantMessage returns the content of the most recent assistant
// message, empty if none was appended.
func (s *TurnState) lastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == domain.RoleAssistant {
			return strings.TrimSpace(s.Messages[i].Content)
		}
	}
	return ""
}
