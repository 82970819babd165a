package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/conclave-run/conclave/internal/errs"
)

// FallbackChain orders the providers to try for a given alias. The
// breaker's per-alias state governs which entries are actually attempted.
type FallbackChain map[string][]string // alias -> provider names, in order

// MetricsRecorder is the Gateway's optional instrumentation seam, shaped to
// match observability.Metrics's methods exactly so the composition root
// can pass one in without this package importing internal/observability.
type MetricsRecorder interface {
	RecordLLMRequest(model, status string, durationSeconds float64, inputTokens, outputTokens int, costUSD float64)
	SetBreakerOpen(model string, open bool)
}

// Tracer is the Gateway's optional span seam, shaped to match
// observability.Tracer's methods exactly so this package doesn't need to
// import internal/observability.
type Tracer interface {
	TraceLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// Gateway is the LLM Gateway component: it resolves a model alias through
// the Catalogue, applies the circuit breaker and fallback chain, and
// dispatches to the first available Provider. Providers are held in a
// named-provider map rather than an ordered slice so the fallback chain can
// be expressed per-alias rather than globally.
type Gateway struct {
	catalogue atomic.Pointer[Catalogue]
	breaker   *Breaker
	providers map[string]Provider
	fallback  FallbackChain
	metrics   MetricsRecorder
	tracer    Tracer
}

// New constructs a Gateway. providers is keyed by the ModelEntry.ProviderName
// each catalogue entry references.
func New(catalogue *Catalogue, providers map[string]Provider, fallback FallbackChain) *Gateway {
	g := &Gateway{
		breaker:  NewBreaker(),
		providers: providers,
		fallback: fallback,
	}
	g.catalogue.Store(catalogue)
	return g
}

// SetMetrics attaches a MetricsRecorder. Passing nil disables instrumentation.
func (g *Gateway) SetMetrics(m MetricsRecorder) { g.metrics = m }

// SetTracer attaches a Tracer. Passing nil disables span emission.
func (g *Gateway) SetTracer(t Tracer) { g.tracer = t }

// SetCatalogue swaps the active model catalogue atomically, so a
// catalogue-file hot reload never races an in-flight Complete/Stream call
//.
func (g *Gateway) SetCatalogue(c *Catalogue) { g.catalogue.Store(c) }

func (g *Gateway) recordRequest(model, status string, dur time.Duration, in, out int, cost float64) {
	if g.metrics != nil {
		g.metrics.RecordLLMRequest(model, status, dur.Seconds(), in, out, cost)
	}
}

func (g *Gateway) recordBreaker(model string, open bool) {
	if g.metrics != nil {
		g.metrics.SetBreakerOpen(model, open)
	}
}

// chainFor returns the ordered provider names to try for alias: the
// catalogue's primary provider first, then any configured fallbacks.
func (g *Gateway) chainFor(alias string, entry *ModelEntry) []string {
	chain := []string{entry.ProviderName}
	for _, name := range g.fallback[alias] {
		if name != entry.ProviderName {
			chain = append(chain, name)
		}
	}
	return chain
}

// Complete resolves req.ModelAlias and dispatches a non-streaming call,
// consulting the circuit breaker and fallback chain.
func (g *Gateway) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	entry, ok := g.catalogue.Load().Resolve(req.ModelAlias)
	if !ok {
		return nil, errs.NewLLMFailure("gateway.Complete", fmt.Sprintf("unknown model alias %q", req.ModelAlias), nil)
	}

	var span trace.Span
	if g.tracer != nil {
		ctx, span = g.tracer.TraceLLMRequest(ctx, entry.ProviderName, req.ModelAlias)
		defer span.End()
	}
	fail := func(err error) (*CompletionResponse, error) {
		if g.tracer != nil {
			g.tracer.RecordError(span, err)
		}
		return nil, err
	}

	var lastErr error
	for _, providerName := range g.chainFor(req.ModelAlias, entry) {
		provider, ok := g.providers[providerName]
		if !ok {
			continue
		}

		allowed, _ := g.breaker.Allow(providerName)
		if !allowed {
			g.recordBreaker(req.ModelAlias, true)
			lastErr = errs.NewLLMFailure("gateway.Complete", "circuit breaker open for "+providerName, nil)
			continue
		}

		start := time.Now()
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			g.breaker.RecordSuccess(providerName)
			g.recordBreaker(req.ModelAlias, false)
			if resp.Latency == 0 {
				resp.Latency = time.Since(start)
			}
			g.recordRequest(req.ModelAlias, "success", resp.Latency, resp.InputTokens, resp.OutputTokens, resp.CostUSD)
			return resp, nil
		}

		g.breaker.RecordFailure(providerName)
		g.recordRequest(req.ModelAlias, "error", time.Since(start), 0, 0, 0)
		lastErr = err
		if !isHardFailure(err) {
			// Content-policy refusal: legitimate model output, no fallback.
			return fail(errs.NewLLMFailure("gateway.Complete", "model refused request", err))
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider configured for alias %q", req.ModelAlias)
	}
	return fail(errs.NewLLMFailure("gateway.Complete", "all providers exhausted", lastErr))
}

// Stream resolves req.ModelAlias and dispatches a streaming call to the
// first available provider in the fallback chain. Fallback mid-stream is
// not attempted — once a chunk has been emitted, switching providers would
// produce an incoherent turn, so stream-time failures surface directly.
func (g *Gateway) Stream(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	entry, ok := g.catalogue.Load().Resolve(req.ModelAlias)
	if !ok {
		return nil, errs.NewLLMFailure("gateway.Stream", fmt.Sprintf("unknown model alias %q", req.ModelAlias), nil)
	}

	var span trace.Span
	if g.tracer != nil {
		ctx, span = g.tracer.TraceLLMRequest(ctx, entry.ProviderName, req.ModelAlias)
		defer span.End()
	}
	fail := func(err error) (<-chan *Chunk, error) {
		if g.tracer != nil {
			g.tracer.RecordError(span, err)
		}
		return nil, err
	}

	var lastErr error
	for _, providerName := range g.chainFor(req.ModelAlias, entry) {
		provider, ok := g.providers[providerName]
		if !ok {
			continue
		}
		allowed, _ := g.breaker.Allow(providerName)
		if !allowed {
			lastErr = errs.NewLLMFailure("gateway.Stream", "circuit breaker open for "+providerName, nil)
			continue
		}

		start := time.Now()
		ch, err := provider.Stream(ctx, req)
		if err == nil {
			return g.wrapStream(providerName, req.ModelAlias, start, ch), nil
		}
		g.breaker.RecordFailure(providerName)
		g.recordRequest(req.ModelAlias, "error", time.Since(start), 0, 0, 0)
		lastErr = err
		if !isHardFailure(err) {
			return fail(errs.NewLLMFailure("gateway.Stream", "model refused request", err))
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider configured for alias %q", req.ModelAlias)
	}
	return fail(errs.NewLLMFailure("gateway.Stream", "all providers exhausted", lastErr))
}

// wrapStream records breaker outcomes once the stream reaches a terminal
// chunk, since a streaming call's success/failure isn't known up front.
func (g *Gateway) wrapStream(providerName, alias string, start time.Time, in <-chan *Chunk) <-chan *Chunk {
	out := make(chan *Chunk)
	go func() {
		defer close(out)
		recorded := false
		for chunk := range in {
			if chunk.Err != nil && !recorded {
				g.breaker.RecordFailure(providerName)
				g.recordRequest(alias, "error", time.Since(start), 0, 0, 0)
				recorded = true
			} else if chunk.FinishReason != "" && !recorded {
				g.breaker.RecordSuccess(providerName)
				g.recordBreaker(alias, false)
				g.recordRequest(alias, "success", time.Since(start), chunk.InputTokens, chunk.OutputTokens, 0)
				recorded = true
			}
			out <- chunk
		}
	}()
	return out
}

// ResolveActivation returns how the gateway should request thinking for
// the resolved alias, given the request's EnableThinking flag.
func (g *Gateway) ResolveActivation(alias string, enableThinking bool) (ThinkingActivation, bool) {
	entry, ok := g.catalogue.Load().Resolve(alias)
	if !ok {
		return ThinkingActivation{}, false
	}
	if !enableThinking {
		return ThinkingActivation{}, true
	}
	return ActivationFor(entry.Family, entry.SupportsThinking), true
}
