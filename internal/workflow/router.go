package workflow

import (
	"context"
	"strings"
)

const (
	classifierSystemPrompt = "You are a request classifier. Classify the user's request into one of the specified categories."
	assistantSystemPrompt  = "You are Coder, a helpful coding assistant. Answer based on the conversation history with focus on coding topics."

	degradedAnswerText = "I wasn't able to reach the language model for this request. Please try again."
)

// routerNode decides which skill handles the latest user message. It never
// returns an error: a failed classification call degrades to a free-text
// classification plus keyword heuristics, and always yields a route.
func (o *Orchestrator) routerNode(ctx context.Context, st *TurnState) {
	query := st.latestUserMessage()

	// Capability inquiries are answered from the fixed text, no model call.
	if isCapabilityInquiry(query) {
		st.appendAssistant(capabilitiesText)
		st.Route = RouteEnd
		return
	}

	window := conversationWindow(st.Messages, routerWindow)

	var decision routeDecision
	err := o.llm.CompleteStructured(ctx, classifierSystemPrompt,
		buildClassificationPrompt(window, query), "route_decision", routeDecisionSchema, &decision)
	if err != nil {
		o.classifyFallback(ctx, st, query)
		return
	}

	switch Route(decision.Route) {
	case RouteCodeGeneration:
		st.Route = RouteCodeGeneration
	case RouteCodeReview:
		st.Route = RouteCodeReview
	default:
		// "end": answer directly with the full context window.
		reply, err := o.llm.Complete(ctx, assistantSystemPrompt, buildDirectAnswerPrompt(window, query))
		if err != nil || strings.TrimSpace(reply) == "" {
			st.recordFallback(FallbackDirectAnswer)
			reply = degradedAnswerText
		}
		st.appendAssistant(reply)
		st.Route = RouteEnd
	}
}

// classifyFallback is the router's degraded path: one plain free-text
// classification attempt, then keyword heuristics over its reply and the raw
// query.
func (o *Orchestrator) classifyFallback(ctx context.Context, st *TurnState, query string) {
	st.recordFallback(FallbackClassification)

	prompt := "Is this a request for: 1) code generation, 2) code review, or 3) general chat? Query: " + query
	replyText, err := o.llm.Complete(ctx, classifierSystemPrompt, prompt)
	if err != nil {
		replyText = ""
	}

	lowered := strings.ToLower(replyText)
	loweredQuery := strings.ToLower(query)
	switch {
	case strings.Contains(lowered, "generation") || strings.Contains(lowered, "generate") ||
		strings.Contains(loweredQuery, "generate") || strings.Contains(loweredQuery, "write code"):
		st.Route = RouteCodeGeneration
	case strings.Contains(lowered, "review") || strings.Contains(lowered, "debug") ||
		strings.Contains(loweredQuery, "review") || strings.Contains(loweredQuery, "debug") ||
		strings.Contains(loweredQuery, "fix"):
		st.Route = RouteCodeReview
	default:
		if strings.TrimSpace(replyText) == "" {
			replyText = degradedAnswerText
		}
		st.appendAssistant(replyText)
		st.Route = RouteEnd
	}
}
