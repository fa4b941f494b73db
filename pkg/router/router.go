// Package router implements ModelRouter: picks a model given a token count
// estimate and the current health of the circuit breakers, without knowing
// anything about why a breaker is open or what happens after the pick.
package router

import "hybridcore/pkg/breaker"

// Fixed model names used throughout the hierarchy. Components compose on
// these identifiers rather than concrete provider/model strings so the
// routing table stays provider-agnostic.
const (
	ModelPrimary  = "primary"
	ModelExtended = "extended"
	ModelFallback = "fallback"
)

// DefaultExtendedContextThreshold is the token count at or above which a
// request is routed directly to the extended-context model regardless of
// breaker health.
const DefaultExtendedContextThreshold = 150000

// Decision is the outcome of a single routing call.
type Decision struct {
	Model        string
	Reason       string
	NextFallback string // "" when Model is already the end of the hierarchy
}

// fallbackHierarchy is fixed: primary -> extended -> fallback -> (none).
var fallbackHierarchy = map[string]string{
	ModelPrimary:  ModelExtended,
	ModelExtended: ModelFallback,
	ModelFallback: "",
}

// NextInHierarchy returns the model that follows current in the fixed
// fallback hierarchy, or "" if current is already the last model.
func NextInHierarchy(current string) string {
	return fallbackHierarchy[current]
}

// Router is the ModelRouter component. It holds only its configured
// threshold; breaker health is supplied per call so one Router can serve
// every request concurrently without locking.
type Router struct {
	extendedContextThreshold int
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithExtendedContextThreshold overrides DefaultExtendedContextThreshold.
func WithExtendedContextThreshold(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.extendedContextThreshold = n
		}
	}
}

// New creates a Router with the given options applied over the defaults.
func New(opts ...Option) *Router {
	r := &Router{extendedContextThreshold: DefaultExtendedContextThreshold}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select implements the four ordered routing rules: large contexts always
// go to the extended model; otherwise prefer primary, then extended, then
// fallback, based on breaker admission.
func (r *Router) Select(tokenCount int, b *breaker.Breaker) Decision {
	if tokenCount >= r.extendedContextThreshold {
		return Decision{
			Model:        ModelExtended,
			Reason:       "oversize_context",
			NextFallback: NextInHierarchy(ModelExtended),
		}
	}

	if b.IsAllowed(ModelPrimary) {
		return Decision{
			Model:        ModelPrimary,
			Reason:       "primary_healthy",
			NextFallback: NextInHierarchy(ModelPrimary),
		}
	}

	if b.IsAllowed(ModelExtended) {
		return Decision{
			Model:        ModelExtended,
			Reason:       "primary_open",
			NextFallback: NextInHierarchy(ModelExtended),
		}
	}

	return Decision{
		Model:        ModelFallback,
		Reason:       "forced_fallback",
		NextFallback: NextInHierarchy(ModelFallback),
	}
}
