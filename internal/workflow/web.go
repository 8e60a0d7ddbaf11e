package workflow

import (
	"context"
	"fmt"
	"strings"
)

// webNode augments an insufficient skill result with an external search.
// It never fails: a search error becomes a placeholder message, and the
// route is always answer.
func (o *Orchestrator) webNode(ctx context.Context, st *TurnState) {
	query := st.latestUserMessage()

	results, err := o.search.Search(ctx, query, maxSearchResults)
	if err != nil {
		st.recordFallback(FallbackSearchUnavailable)
		st.WebResults = ""
		st.appendAssistant(fmt.Sprintf("Web search unavailable: %v", err))
		st.Route = RouteAnswer
		return
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%s): %s", r.Title, r.URL, r.Content)
	}
	st.WebResults = b.String()
	st.appendAssistant("Found relevant information: " + st.WebResults)
	st.Route = RouteAnswer
}
