// Package chat turns retrieved knowledge documents into grounded answers
// using Gemini via Genkit.
//
// The Orchestrator is retrieval-agnostic: callers run the vector search
// first and hand the ranked results in, so the streaming transport can
// report retrieval failures before any response bytes are committed. The
// model call itself is wrapped in a rate limiter, exponential-backoff retry
// (blocking path only), and a circuit breaker shared by both paths.
//
// An empty retrieval set never reaches the model: the orchestrator answers
// with the canonical refusal directly, which keeps "no accessible documents"
// responses deterministic and free of prompt-injection surface.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/koopa0/zonda/internal/log"
	"github.com/koopa0/zonda/internal/rag"
)

// ErrUnavailable indicates the model could not produce an answer: the
// circuit breaker is open, or generation failed after all retries.
var ErrUnavailable = errors.New("answer generation unavailable")

// Response is the result of one answered question. It is also the flow
// output, so the field names are part of the wire format.
type Response struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence string   `json:"confidence"`
}

// StreamCallback receives partial answer text as the model produces it.
// Returning an error aborts generation.
type StreamCallback func(ctx context.Context, text string) error

// Config assembles an Orchestrator.
type Config struct {
	// Genkit is the initialized Genkit instance (required).
	Genkit *genkit.Genkit
	// Logger receives orchestrator logs (required).
	Logger log.Logger
	// ModelName is the provider-qualified generation model,
	// e.g. "googleai/gemini-2.0-flash" (required).
	ModelName string
	// Temperature and TopP tune sampling; MaxOutputTokens caps the answer.
	Temperature     float32
	TopP            float32
	MaxOutputTokens int
	// Retry tunes backoff on the blocking path. Zero values use defaults.
	Retry RetryConfig
	// Breaker tunes the circuit breaker. Zero values use defaults.
	Breaker CircuitBreakerConfig
	// Limiter throttles outbound model calls. Nil installs a 10 rps /
	// burst 30 limiter.
	Limiter *rate.Limiter
}

func (c Config) validate() error {
	if c.Genkit == nil {
		return errors.New("chat: genkit instance is required")
	}
	if c.Logger == nil {
		return errors.New("chat: logger is required")
	}
	if c.ModelName == "" {
		return errors.New("chat: model name is required")
	}
	if c.MaxOutputTokens <= 0 {
		return errors.New("chat: max output tokens must be positive")
	}
	return nil
}

// Orchestrator generates grounded answers from pre-retrieved documents.
// Safe for concurrent use.
type Orchestrator struct {
	g         *genkit.Genkit
	logger    log.Logger
	modelName string

	temperature     float32
	topP            float32
	maxOutputTokens int

	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter
}

// New creates an Orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	retry := cfg.Retry
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = DefaultRetryConfig().MaxInterval
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	o := &Orchestrator{
		g:               cfg.Genkit,
		logger:          cfg.Logger.With("component", "chat"),
		modelName:       cfg.ModelName,
		temperature:     cfg.Temperature,
		topP:            cfg.TopP,
		maxOutputTokens: cfg.MaxOutputTokens,
		retry:           retry,
		breaker:         NewCircuitBreaker(cfg.Breaker),
		limiter:         limiter,
	}

	o.logger.Info("chat orchestrator initialized",
		"model", o.modelName,
		"temperature", o.temperature,
		"top_p", o.topP,
		"max_output_tokens", o.maxOutputTokens)

	return o, nil
}

// Answer produces a grounded response to question for the given role, using
// docs as the only permitted context. Transient model failures are retried
// with backoff; persistent failure returns an error wrapping ErrUnavailable.
func (o *Orchestrator) Answer(ctx context.Context, question, role string, docs []rag.Result) (*Response, error) {
	if len(docs) == 0 {
		return o.refuse(role), nil
	}

	if err := o.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	start := time.Now()
	resp, err := o.callWithRetry(ctx, func(ctx context.Context) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, o.g, o.generateOptions(question, role, docs)...)
	})
	if err != nil {
		o.breaker.Failure()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	o.breaker.Success()

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		o.logger.Warn("model returned empty answer, substituting refusal", "role", role)
		answer = RefusalMessage
	}

	result := &Response{
		Answer:     answer,
		Sources:    Sources(docs),
		Confidence: Confidence(docs),
	}

	o.logger.Info("answer generated",
		"role", role,
		"sources", len(result.Sources),
		"confidence", result.Confidence,
		"duration", time.Since(start))

	return result, nil
}

// StreamAnswer is the streaming variant of Answer: callback receives each
// text fragment as the model emits it, and the returned Response carries the
// assembled answer with its sources and confidence.
//
// Generation gets a single attempt. Fragments already delivered cannot be
// recalled, so a retry would replay text the client has seen; failures
// instead surface to the caller, which reports them in-band.
func (o *Orchestrator) StreamAnswer(ctx context.Context, question, role string, docs []rag.Result, callback StreamCallback) (*Response, error) {
	if callback == nil {
		return o.Answer(ctx, question, role, docs)
	}

	if len(docs) == 0 {
		resp := o.refuse(role)
		if err := callback(ctx, resp.Answer); err != nil {
			return nil, fmt.Errorf("stream callback: %w", err)
		}
		return resp, nil
	}

	if err := o.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()
	opts := append(o.generateOptions(question, role, docs),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return callback(ctx, text)
		}))

	resp, err := genkit.Generate(ctx, o.g, opts...)
	if err != nil {
		// A canceled context means the client went away, not that the
		// model failed; don't count it against the breaker.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stream aborted: %w", ctx.Err())
		}
		o.breaker.Failure()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	o.breaker.Success()

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		o.logger.Warn("model streamed empty answer, substituting refusal", "role", role)
		answer = RefusalMessage
		if err := callback(ctx, answer); err != nil {
			return nil, fmt.Errorf("stream callback: %w", err)
		}
	}

	result := &Response{
		Answer:     answer,
		Sources:    Sources(docs),
		Confidence: Confidence(docs),
	}

	o.logger.Info("streamed answer generated",
		"role", role,
		"sources", len(result.Sources),
		"confidence", result.Confidence,
		"duration", time.Since(start))

	return result, nil
}

// refuse builds the canonical no-context response without a model call.
func (o *Orchestrator) refuse(role string) *Response {
	o.logger.Info("no accessible documents, returning refusal", "role", role)
	return &Response{
		Answer:     RefusalMessage,
		Sources:    []string{},
		Confidence: "low",
	}
}

func (o *Orchestrator) generateOptions(question, role string, docs []rag.Result) []ai.GenerateOption {
	return []ai.GenerateOption{
		ai.WithModelName(o.modelName),
		ai.WithSystem(buildPrompt(docs, role)),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(question))),
		ai.WithConfig(o.modelConfig()),
	}
}

// modelConfig builds the Gemini generation settings. All four harm-category
// safety filters are off: the corpus is curated internal content, and
// filter blocks would otherwise surface as empty answers.
func (o *Orchestrator) modelConfig() *genai.GenerateContentConfig {
	temperature := o.temperature
	topP := o.topP
	return &genai.GenerateContentConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: int32(o.maxOutputTokens),
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}
}

// BreakerState exposes the circuit state for health reporting.
func (o *Orchestrator) BreakerState() CircuitState {
	return o.breaker.State()
}
