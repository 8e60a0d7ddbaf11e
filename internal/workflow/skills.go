package workflow

import "context"

const (
	generatorSystemPrompt = "You are an expert code generator."
	reviewerSystemPrompt  = "You are an expert code reviewer and debugger."

	judgeGenerationSystemPrompt = "Judge if the code generation is sufficient for the request."
	judgeReviewSystemPrompt     = "Judge if the code review is sufficient."
)

// codeGenerationNode produces a code completion for the latest query and
// judges whether it answers the request or needs web augmentation.
func (o *Orchestrator) codeGenerationNode(ctx context.Context, st *TurnState) {
	result := o.runSkill(ctx, st, generatorSystemPrompt, judgeGenerationSystemPrompt)
	st.GeneratedCode = result
}

// codeReviewNode reviews or debugs code from the conversation, with the same
// sufficiency handling as generation.
func (o *Orchestrator) codeReviewNode(ctx context.Context, st *TurnState) {
	result := o.runSkill(ctx, st, reviewerSystemPrompt, judgeReviewSystemPrompt)
	st.CodeReview = result
}

// runSkill is the shared skill body: contextual completion, sufficiency
// judgment, route selection. It never returns an error; a failed completion
// routes to web augmentation, and a failed judgment degrades to a length
// heuristic.
func (o *Orchestrator) runSkill(ctx context.Context, st *TurnState, skillSystem, judgeSystem string) string {
	query := st.latestUserMessage()
	window := conversationWindow(st.Messages, skillWindow)

	result, err := o.llm.Complete(ctx, skillSystem, buildSkillPrompt(window, query))
	if err != nil {
		st.recordFallback(FallbackSkillCompletion)
		st.Route = RouteWeb
		return ""
	}
	st.appendAssistant(result)

	if o.judgeSufficient(ctx, st, judgeSystem, query, result) {
		st.Route = RouteAnswer
	} else {
		st.Route = RouteWeb
	}
	return result
}

func (o *Orchestrator) judgeSufficient(ctx context.Context, st *TurnState, judgeSystem, query, result string) bool {
	var judgment sufficiencyDecision
	err := o.llm.CompleteStructured(ctx, judgeSystem,
		buildSufficiencyPrompt(query, result), "sufficiency", sufficiencySchema, &judgment)
	if err != nil {
		st.recordFallback(FallbackJudgmentHeuristic)
		return len(result) > minSufficientLen
	}
	return judgment.Sufficient
}
