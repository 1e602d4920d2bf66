package answer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/docbot/internal/engine"
	"github.com/kalambet/docbot/internal/retrieval"
	"github.com/kalambet/docbot/internal/session"
)

const defaultMaxContextTokens = 6000

const systemPrompt = `You are a support assistant for company employees. Answer questions using the company documentation provided with each question.

- Start with a clear, direct answer to the specific question.
- Ground every statement in the provided documentation. If the answer is not there, say what information is available instead of guessing.
- Give step-by-step instructions for procedures and exact details (numbers, deadlines, conditions) for policies.
- Acknowledge concerns or frustrations and suggest a resolution path.
- Build on earlier turns of the conversation when the question refers to them.
- Never reveal document names, file names or page numbers.
- Be professional, friendly and concise.`

// BuildMessages stuffs the retrieved chunks into a single prompt: the system
// instructions, the prior conversation as alternating messages, then the
// documentation context and question. Chunks are added in score order until
// maxContextTokens is spent.
func BuildMessages(question string, chunks []retrieval.Chunk, history []session.Turn, maxContextTokens int) []engine.Message {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}

	msgs := make([]engine.Message, 0, len(history)+2)
	msgs = append(msgs, engine.Message{Role: "system", Content: systemPrompt})
	for _, t := range history {
		role := "assistant"
		if t.Type == session.TypeUser {
			role = "user"
		}
		msgs = append(msgs, engine.Message{Role: role, Content: t.Content})
	}

	content := fmt.Sprintf("COMPANY DOCUMENTATION CONTEXT:\n%s\n\nCUSTOMER QUESTION: %s\n\nAnswer following the guidelines above:",
		buildContext(chunks, maxContextTokens), question)
	return append(msgs, engine.Message{Role: "user", Content: content})
}

// buildContext joins chunk texts, highest score first, skipping any chunk
// that no longer fits the token budget.
func buildContext(chunks []retrieval.Chunk, budget int) string {
	sorted := make([]retrieval.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	var parts []string
	remaining := budget
	for _, ch := range sorted {
		tokens := EstimateTokens(ch.Text)
		if tokens > remaining {
			continue
		}
		parts = append(parts, ch.Text)
		remaining -= tokens
	}
	return strings.Join(parts, "\n\n")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
