// Package research implements the deep-research pipeline: provider adapter,
// confidence scoring, LLM extraction, conflict detection, and the per-entity
// orchestrator.
package research

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/resilience"
	"github.com/harborintel/port-research/pkg/openai"
	"github.com/harborintel/port-research/pkg/perplexity"
)

// QueryResult is the outcome of one research query.
type QueryResult struct {
	Content string   `json:"content"`
	Sources []string `json:"sources"`
}

// Provider executes research queries against an external backend.
type Provider interface {
	// ExecuteResearchQuery runs one research query. The model argument is
	// optional; empty selects the backend's configured primary model.
	ExecuteResearchQuery(ctx context.Context, query, queryName, systemPrompt, model string) (*QueryResult, error)
}

// ProviderConfig configures the adapter.
type ProviderConfig struct {
	// Backend selects "perplexity" or "openai".
	Backend string

	// PrimaryModel is tried first; empty uses the backend client default.
	PrimaryModel string

	// FallbackModels are tried in order when a model is unavailable.
	FallbackModels []string

	// QueryTimeout bounds each external call for standard models.
	QueryTimeout time.Duration

	// SlowQueryTimeout bounds calls to reasoning/deep-research models.
	SlowQueryTimeout time.Duration

	CircuitFailureThreshold int
	CircuitReset            time.Duration
}

type providerAdapter struct {
	cfg     ProviderConfig
	pplx    perplexity.Client
	oai     openai.Client
	breaker *resilience.CircuitBreaker
}

// NewProvider creates the research provider adapter. Only the client for the
// configured backend needs to be non-nil.
func NewProvider(cfg ProviderConfig, pplx perplexity.Client, oai openai.Client) Provider {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 4 * time.Minute
	}
	if cfg.SlowQueryTimeout <= 0 {
		cfg.SlowQueryTimeout = 6 * time.Minute
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.CircuitFailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.CircuitFailureThreshold
	}
	if cfg.CircuitReset > 0 {
		breakerCfg.ResetTimeout = cfg.CircuitReset
	}
	breakerCfg.ShouldTrip = IsRetryable
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("research provider circuit state change",
			zap.String("backend", cfg.Backend),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return &providerAdapter{
		cfg:     cfg,
		pplx:    pplx,
		oai:     oai,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
}

func (a *providerAdapter) ExecuteResearchQuery(ctx context.Context, query, queryName, systemPrompt, model string) (*QueryResult, error) {
	if !a.breaker.Allow() {
		return nil, NewError(CategoryAPI, "research: provider circuit open", resilience.ErrCircuitOpen)
	}

	models := a.modelChain(model)
	log := zap.L().With(
		zap.String("backend", a.cfg.Backend),
		zap.String("query", queryName),
	)

	var lastErr error
	for i, m := range models {
		result, err := a.executeOnce(ctx, query, systemPrompt, m)
		if err == nil {
			a.breaker.RecordSuccess()
			return result, nil
		}
		lastErr = err

		// The caller's abort always wins.
		if ctx.Err() != nil {
			e := NewError(CategoryNetwork, "research: query aborted", ctx.Err())
			e.Retryable = false
			return nil, e
		}

		re := AsError(err)
		if re != nil && re.Category == CategoryAuth {
			a.breaker.Trip()
			return nil, err
		}

		// Model-unavailable class errors fall through the chain; everything
		// else surfaces immediately.
		if !isModelUnavailable(err) {
			a.breaker.RecordFailure(err)
			return nil, err
		}

		if i < len(models)-1 {
			log.Warn("research: model unavailable, trying fallback",
				zap.String("model", m),
				zap.String("next", models[i+1]),
				zap.Error(err),
			)
		}
	}

	a.breaker.RecordFailure(lastErr)
	return nil, lastErr
}

// executeOnce runs a single call against one model, bounded by the per-call
// timeout joined with the caller's context.
func (a *providerAdapter) executeOnce(ctx context.Context, query, systemPrompt, model string) (*QueryResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeoutFor(model))
	defer cancel()

	switch a.cfg.Backend {
	case "openai":
		return a.executeOpenAI(callCtx, query, systemPrompt, model)
	default:
		return a.executePerplexity(callCtx, query, systemPrompt, model)
	}
}

func (a *providerAdapter) executePerplexity(ctx context.Context, query, systemPrompt, model string) (*QueryResult, error) {
	messages := make([]perplexity.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, perplexity.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, perplexity.Message{Role: "user", Content: query})

	resp, err := a.pplx.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, a.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(CategoryValidation, "research: empty perplexity response", nil)
	}

	content := resp.Choices[0].Message.Content
	return &QueryResult{
		Content: content,
		Sources: ExtractSources(content, resp.Citations),
	}, nil
}

func (a *providerAdapter) executeOpenAI(ctx context.Context, query, systemPrompt, model string) (*QueryResult, error) {
	messages := make([]openai.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, openai.Message{Role: "user", Content: query})

	resp, err := a.oai.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, a.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(CategoryValidation, "research: empty openai response", nil)
	}

	content := resp.Choices[0].Message.Content
	return &QueryResult{
		Content: content,
		Sources: ExtractSources(content, nil),
	}, nil
}

// classify maps backend client errors into the research taxonomy.
func (a *providerAdapter) classify(err error) error {
	if status, ok := apiStatus(err); ok {
		return NewError(CategoryForStatus(status), "research: provider request failed", err)
	}
	return Classify(err, "research: provider request failed")
}

func (a *providerAdapter) modelChain(model string) []string {
	primary := model
	if primary == "" {
		primary = a.cfg.PrimaryModel
	}
	chain := make([]string, 0, 1+len(a.cfg.FallbackModels))
	if primary != "" {
		chain = append(chain, primary)
	}
	for _, m := range a.cfg.FallbackModels {
		if m != primary {
			chain = append(chain, m)
		}
	}
	if len(chain) == 0 {
		chain = append(chain, "")
	}
	return chain
}

func (a *providerAdapter) timeoutFor(model string) time.Duration {
	if strings.Contains(model, "reasoning") || strings.Contains(model, "deep-research") {
		return a.cfg.SlowQueryTimeout
	}
	return a.cfg.QueryTimeout
}

// apiStatus extracts an HTTP status code from either backend's API error.
func apiStatus(err error) (int, bool) {
	var pe *perplexity.APIError
	if errors.As(err, &pe) {
		return pe.StatusCode, true
	}
	var oe *openai.APIError
	if errors.As(err, &oe) {
		return oe.StatusCode, true
	}
	return 0, false
}

// isModelUnavailable reports whether the error looks like a bad-model
// rejection (404, or a 400 mentioning the model) rather than a transport or
// auth failure.
func isModelUnavailable(err error) bool {
	status, ok := apiStatus(err)
	if !ok {
		return false
	}
	if status == 404 {
		return true
	}
	if status == 400 {
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "model")
	}
	return false
}
