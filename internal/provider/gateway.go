package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_completions_total",
			Help: "Completion attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	fallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_fallbacks_total",
			Help: "Times the gateway fell back to the secondary provider.",
		},
	)
)

func init() {
	prometheus.MustRegister(completionsTotal, fallbacksTotal)
}

// Gateway routes completion requests to named providers. On any failure of
// the requested provider it retries the same prompt once against the
// configured fallback before surfacing the error. At most one hop: if the
// fallback also fails, the call fails.
//
// The gateway holds no per-call state and is safe for concurrent use.
type Gateway struct {
	providers map[string]Provider
	fallback  string
}

// NewGateway builds a gateway over the given registry. fallbackName selects
// the secondary used after a primary failure; an empty or unregistered
// fallback disables the second hop.
func NewGateway(providers map[string]Provider, fallbackName string) *Gateway {
	reg := make(map[string]Provider, len(providers))
	for name, p := range providers {
		reg[name] = p
	}
	return &Gateway{providers: reg, fallback: fallbackName}
}

// Available returns registered provider names in sorted order.
func (g *Gateway) Available() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Complete runs one completion against the named provider, falling back once
// on failure. Unknown names fail fast with ErrUnknownProvider and no fallback
// attempt.
func (g *Gateway) Complete(ctx context.Context, name, prompt string, opts Options) (string, error) {
	p, ok := g.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	reply, err := p.Complete(ctx, prompt, opts)
	if err == nil {
		completionsTotal.WithLabelValues(name, "ok").Inc()
		return reply, nil
	}
	completionsTotal.WithLabelValues(name, "error").Inc()

	second, ok := g.providers[g.fallback]
	if !ok || g.fallback == name {
		return "", fmt.Errorf("provider %q: %w", name, err)
	}

	log.Warn().Err(err).
		Str("provider", name).
		Str("fallback", g.fallback).
		Msg("primary provider failed; retrying against fallback")
	fallbacksTotal.Inc()

	reply, ferr := second.Complete(ctx, prompt, opts)
	if ferr != nil {
		completionsTotal.WithLabelValues(g.fallback, "error").Inc()
		return "", fmt.Errorf("provider %q: %v; fallback %q: %w", name, err, g.fallback, ferr)
	}
	completionsTotal.WithLabelValues(g.fallback, "ok").Inc()
	return reply, nil
}
