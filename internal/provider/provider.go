// Package provider abstracts language-model backends behind a single
// completion contract and implements the gateway that selects a primary
// backend with a one-hop fallback chain.
//
// The gateway is stateless between calls: no session or conversation memory
// is kept here. All context a model needs must travel in the prompt.
package provider

import (
	"context"
	"errors"
)

// Options bound a single completion request.
type Options struct {
	// Temperature controls sampling randomness, typically in [0, 2].
	Temperature float64
	// MaxTokens caps the length of the generated reply.
	MaxTokens int
}

// Provider is one language-model backend. Implementations must fully drain
// streaming responses and return the concatenated text; partial output is
// never exposed to callers.
type Provider interface {
	// Complete issues one completion request and returns the reply text.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// ErrUnknownProvider is returned for a provider name with no registered
// implementation. No fallback is attempted for unknown names.
var ErrUnknownProvider = errors.New("provider: unknown provider")

// Static is a fixed-reply Provider used in tests and offline mode.
type Static struct {
	// Reply is returned verbatim for every prompt.
	Reply string
	// Err, when non-nil, is returned instead of Reply.
	Err error
}

// Complete implements Provider.
func (s Static) Complete(_ context.Context, _ string, _ Options) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}
