package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"coder-agent/internal/domain"
)

const (
	routerWindow = 4
	skillWindow  = 8
	answerWindow = 10

	messageTruncateLen = 200
	previewTruncateLen = 500

	minSufficientLen = 50
	maxSearchResults = 3
)

// capabilityPhrases short-circuit the router: a message containing any of
// them (case-insensitive) gets the static capabilities reply without a model
// call.
var capabilityPhrases = []string{
	"what can you help",
	"what can you do",
	"what are you capable",
	"help me with",
	"what services",
	"what tasks",
	"capabilities",
	"what can coder do",
	"what is your purpose",
	"how can you assist",
}

const capabilitiesText = `Hi! I'm Coder, your specialized coding assistant. Here's what I can help you with:

Code Generation:
- Write code in various programming languages (Python, JavaScript, Java, C++, etc.)
- Create functions, classes, and complete applications
- Build scripts for automation and data processing

Code Review & Debugging:
- Review your existing code for bugs and improvements
- Debug errors and provide fixes
- Suggest best practices and refactorings

Web Search Integration:
- Search for current programming solutions and documentation

Just tell me what coding task you need help with - whether it's generating new code, reviewing existing code, or debugging an issue!`

// isCapabilityInquiry reports whether the query asks what the assistant can
// do.
func isCapabilityInquiry(query string) bool {
	q := strings.ToLower(query)
	for _, phrase := range capabilityPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}

// truncate bounds s to max bytes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// conversationWindow renders the last n messages as a role-labeled context
// block, each message bounded to messageTruncateLen.
func conversationWindow(messages []domain.ChatMessage, n int) string {
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	var b strings.Builder
	for _, m := range messages {
		role := "Assistant"
		if m.Role == domain.RoleUser {
			role = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncate(m.Content, messageTruncateLen))
	}
	return b.String()
}

// routeDecision is the structured classification produced by the router.
type routeDecision struct {
	Route string `json:"route"`
}

var routeDecisionSchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"route":{"type":"string","enum":["code-generation","code-review","end"]}
	},
	"required":["route"]
}`)

// sufficiencyDecision is the structured judgment over a skill completion.
type sufficiencyDecision struct {
	Sufficient bool `json:"sufficient"`
}

var sufficiencySchema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"sufficient":{"type":"boolean"}
	},
	"required":["sufficient"]
}`)

func buildClassificationPrompt(window, query string) string {
	return strings.Join([]string{
		"Based on this conversation context and current query, classify the request:",
		"",
		"Recent conversation:",
		window,
		"Current query: " + query,
		"",
		"Classify into:",
		`- "code-generation": the user asks to generate or write code`,
		`- "code-review": the user asks to review or debug existing code`,
		`- "end": simple questions, greetings, or general chat answered directly`,
	}, "\n")
}

func buildDirectAnswerPrompt(window, query string) string {
	return strings.Join([]string{
		"Conversation history:",
		window,
		"Current question: " + query,
		"",
		"Provide a helpful response as Coder, focusing on coding-related assistance.",
	}, "\n")
}

func buildSkillPrompt(window, query string) string {
	return strings.Join([]string{
		"Conversation history:",
		window,
		"Current request: " + query,
		"",
		"Respond to the request, taking the conversation history and any previous context into account.",
	}, "\n")
}

func buildSufficiencyPrompt(query, completion string) string {
	return fmt.Sprintf("Request: %s\n\nResult: %s", query, truncate(completion, previewTruncateLen))
}

func buildComposerPrompt(st *TurnState, query string) string {
	var b strings.Builder
	b.WriteString("Conversation history:\n")
	b.WriteString(conversationWindow(st.Messages, answerWindow))
	b.WriteString("\nCurrent question: " + query + "\n")

	var extra []string
	if st.GeneratedCode != "" {
		extra = append(extra, "Code Generated: "+truncate(st.GeneratedCode, previewTruncateLen))
	}
	if st.CodeReview != "" {
		extra = append(extra, "Code Review: "+truncate(st.CodeReview, previewTruncateLen))
	}
	if st.WebResults != "" {
		extra = append(extra, "Web Results: "+truncate(st.WebResults, previewTruncateLen))
	}
	if len(extra) > 0 {
		b.WriteString("\nAdditional context:\n")
		b.WriteString(strings.Join(extra, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nProvide a helpful, accurate response based on all available information.")
	return b.String()
}
