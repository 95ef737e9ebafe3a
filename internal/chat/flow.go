package chat

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/zonda/internal/rag"
)

// FlowName is the Genkit registry name of the question-answering flow.
const FlowName = "zondaChat"

// Input is the flow request. Context carries the already-retrieved documents
// so the flow trace records exactly what grounded the answer.
type Input struct {
	Question string       `json:"question"`
	Role     string       `json:"role"`
	Context  []rag.Result `json:"context"`
}

// StreamChunk is one partial-text fragment of a streaming answer.
type StreamChunk struct {
	Text string `json:"text"`
}

// Flow is the concrete Genkit flow type for the chat pipeline.
type Flow = core.Flow[Input, Response, StreamChunk]

var (
	flowOnce sync.Once
	flowInst *Flow
)

// NewFlow registers the chat flow backed by o and returns it. Genkit panics
// on duplicate flow names, so registration happens at most once per process;
// later calls return the first flow regardless of arguments.
//
// Errors from the orchestrator pass through the flow with their chains
// intact, so callers can keep using errors.Is(err, ErrUnavailable).
func NewFlow(g *genkit.Genkit, o *Orchestrator) *Flow {
	flowOnce.Do(func() {
		flowInst = genkit.DefineStreamingFlow(g, FlowName,
			func(ctx context.Context, input Input, stream core.StreamCallback[StreamChunk]) (Response, error) {
				var callback StreamCallback
				if stream != nil {
					callback = func(ctx context.Context, text string) error {
						return stream(ctx, StreamChunk{Text: text})
					}
				}

				resp, err := o.StreamAnswer(ctx, input.Question, input.Role, input.Context, callback)
				if err != nil {
					return Response{}, err
				}
				return *resp, nil
			})
	})
	return flowInst
}

// ResetFlowForTesting clears the flow singleton so tests can register the
// flow against a fresh Genkit instance. Never call this in production code.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flowInst = nil
}
