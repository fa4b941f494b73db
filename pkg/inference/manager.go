// Package inference implements HybridInferenceManager, the façade that
// wraps CircuitBreaker, TokenCounter, FallbackTrigger, and ModelRouter
// behind a single request-scoped API. It owns the process-wide breaker and
// the fixed fallback hierarchy; it deliberately does not interpret why a
// failure happened — that classification belongs to fallback.Trigger.
package inference

import (
	"sync"

	"hybridcore/pkg/breaker"
	"hybridcore/pkg/fallback"
	"hybridcore/pkg/llm"
	"hybridcore/pkg/router"
	"hybridcore/pkg/tokencount"
)

// RoutingDecision is returned by RouteRequest.
type RoutingDecision struct {
	Model        string
	Reason       string
	NextFallback string
	TokenCount   int
}

// Manager is the HybridInferenceManager component. One Manager is shared
// process-wide; its embedded Breaker is the only piece of state that
// crosses request boundaries, and it is mutex-guarded internally.
type Manager struct {
	breaker *breaker.Breaker
	counter *tokencount.Counter
	trigger *fallback.Trigger
	router  *router.Router
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithBreaker injects a pre-configured Breaker, letting callers tune
// failure thresholds or recovery windows.
func WithBreaker(b *breaker.Breaker) Option {
	return func(m *Manager) {
		if b != nil {
			m.breaker = b
		}
	}
}

// WithRouter injects a pre-configured Router.
func WithRouter(r *router.Router) Option {
	return func(m *Manager) {
		if r != nil {
			m.router = r
		}
	}
}

// New creates a Manager with sensible defaults for every sub-component.
func New(opts ...Option) *Manager {
	m := &Manager{
		breaker: breaker.New(),
		counter: tokencount.New(),
		trigger: fallback.New(),
		router:  router.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breaker exposes the shared breaker so ConversationEngine can report
// success/failure signals directly on the breaker rather than through
// RecordSuccess/RecordFailure (e.g. a timeout surfaced independently).
func (m *Manager) Breaker() *breaker.Breaker {
	return m.breaker
}

// RouteRequest estimates the token cost of message plus history and
// delegates model selection to the Router.
func (m *Manager) RouteRequest(message string, history []llm.Message) RoutingDecision {
	tokenCount := m.counter.Count(message) + m.counter.CountHistory(history)
	decision := m.router.Select(tokenCount, m.breaker)

	return RoutingDecision{
		Model:        decision.Model,
		Reason:       decision.Reason,
		NextFallback: decision.NextFallback,
		TokenCount:   tokenCount,
	}
}

// RecordSuccess clears the given model's failure streak.
func (m *Manager) RecordSuccess(model string) {
	m.breaker.RecordSuccess(model)
}

// RecordFailure updates the breaker for model. It does not itself decide
// whether the failure is fallback-eligible — callers run FallbackTrigger
// separately and only call RecordFailure once they know a real failure
// occurred against this model.
func (m *Manager) RecordFailure(model string) {
	m.breaker.RecordFailure(model)
}

// GetFallbackModel returns the next model in the fixed hierarchy after
// current, or "" if current is already the last model (⊥).
func (m *Manager) GetFallbackModel(current string) string {
	return router.NextInHierarchy(current)
}

// RequestGuard tracks the one-fallback-per-request rule (spec §8.6): a
// single request may schedule at most one fallback attempt no matter how
// many failure signals it observes. Callers create one RequestGuard per
// inbound request and share it across the engine's fallback checks.
type RequestGuard struct {
	mu        sync.Mutex
	attempted bool
}

// NewRequestGuard returns a guard with no fallback attempted yet.
func NewRequestGuard() *RequestGuard {
	return &RequestGuard{}
}

// TryConsume reports whether a fallback attempt may proceed: true the
// first time it's called for this request, false on every call after.
func (g *RequestGuard) TryConsume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.attempted {
		return false
	}
	g.attempted = true
	return true
}

// Attempted reports whether a fallback has already been consumed.
func (g *RequestGuard) Attempted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempted
}
