package chat

import (
	"fmt"
	"strings"

	"github.com/koopa0/zonda/internal/rag"
)

// RefusalMessage is the fixed answer returned whenever the knowledge base
// cannot support a grounded response. Rule 3 of the system prompt instructs
// the model to emit the same sentence, so clients see identical text whether
// the refusal came from the model or from this package.
const RefusalMessage = "The requested information is not available in the provided enterprise data."

// StreamErrorMessage is emitted as the sole stream fragment when generation
// fails after streaming has started.
const StreamErrorMessage = "Error: The AI service is temporarily unavailable. Please try again."

const systemPrompt = `You are the Pagani Zonda R Enterprise Intelligence Assistant.
You are a world-class automotive expert embedded within Pagani Automobili's internal knowledge system.

STRICT RULES:
1. Answer ONLY from the provided context documents below.
2. Do NOT hallucinate, fabricate, or invent any information.
3. If the answer is not found in the provided context, respond EXACTLY with:
   "The requested information is not available in the provided enterprise data."
4. Maintain a professional, precise, and technically authoritative tone.
5. When quoting specifications, be exact — do not approximate.
6. Reference the source document when applicable.
7. Format responses for clarity: use bullet points for lists, bold for key specs.

CONTEXT DOCUMENTS:
%s

USER ROLE: %s
(Respond appropriately for this access level. Do not reference restricted documents.)
`

// buildPrompt renders the system prompt with the retrieved documents and the
// caller's role. Documents appear in rank order, each tagged with its source
// and relevance score so the model can cite them.
func buildPrompt(results []rag.Result, role string) string {
	entries := make([]string, len(results))
	for i, r := range results {
		entries[i] = fmt.Sprintf("[Source: %s] (Relevance Score: %.3f)\n%s", r.Source, r.Score, r.Content)
	}
	return fmt.Sprintf(systemPrompt, strings.Join(entries, "\n\n"), role)
}

// Confidence grades a retrieval set by mean similarity: above 0.75 is high,
// above 0.5 is medium, anything else (including no results) is low.
func Confidence(results []rag.Result) string {
	if len(results) == 0 {
		return "low"
	}

	var sum float32
	for _, r := range results {
		sum += r.Score
	}
	avg := sum / float32(len(results))

	switch {
	case avg > 0.75:
		return "high"
	case avg > 0.5:
		return "medium"
	default:
		return "low"
	}
}

// Sources lists the source names of the retrieved documents in rank order.
// Never nil, so JSON encoding yields [] instead of null.
func Sources(results []rag.Result) []string {
	sources := make([]string, len(results))
	for i, r := range results {
		sources[i] = r.Source
	}
	return sources
}
