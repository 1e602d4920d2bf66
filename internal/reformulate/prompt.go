package reformulate

import (
	"fmt"
	"strings"

	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/session"
)

const (
	historyTurns   = 3
	maxTurnRunes   = 200
	promptTemplate = `Enhance this user query by adding relevant context from the conversation history.

CONVERSATION HISTORY:
%s

CURRENT QUERY: %s

Create an enhanced query that:
1. Maintains the original intent
2. Adds relevant context for better document retrieval
3. Clarifies any ambiguous references (it, this, that)
4. Stays concise and focused

Return only the enhanced query.`
)

// BuildPrompt renders the last three turns, each cut to 200 characters,
// followed by the current query.
func BuildPrompt(input string, history []session.Turn) []engine.Message {
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		speaker := "Assistant"
		if t.Type == session.TypeUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+truncate(t.Content, maxTurnRunes))
	}

	content := fmt.Sprintf(promptTemplate, strings.Join(lines, "\n"), input)
	return []engine.Message{{Role: "user", Content: content}}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// clean strips the label and quoting models like to wrap a rewrite in.
func clean(raw string) string {
	s := strings.TrimSpace(raw)
	for _, label := range []string{"Enhanced query:", "ENHANCED QUERY:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, label))
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
