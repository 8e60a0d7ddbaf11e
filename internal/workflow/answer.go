package workflow

import (
	"context"
	"strings"
)

const composerSystemPrompt = "You are a helpful assistant providing final answers based on conversation history and context."

// answerNode is the terminal composer: it folds the context window and any
// populated scratch fields into one prompt and appends the completion as the
// turn's reply. A failed completion degrades to the best scratch content, or
// a fixed fallback message, so the turn always ends with a reply.
func (o *Orchestrator) answerNode(ctx context.Context, st *TurnState) {
	query := st.latestUserMessage()

	reply, err := o.llm.Complete(ctx, composerSystemPrompt, buildComposerPrompt(st, query))
	if err != nil || strings.TrimSpace(reply) == "" {
		st.recordFallback(FallbackComposeUnavailable)
		reply = composerFallback(st)
	}
	st.appendAssistant(reply)
}

func composerFallback(st *TurnState) string {
	switch {
	case st.GeneratedCode != "":
		return st.GeneratedCode
	case st.CodeReview != "":
		return st.CodeReview
	case st.WebResults != "":
		return "Here is what a web search turned up:\n" + truncate(st.WebResults, previewTruncateLen)
	default:
		return degradedAnswerText
	}
}
