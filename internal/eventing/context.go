package eventing

import "context"

type contextKey struct{}

// WithEnvelope attaches the envelope being relayed, so downstream dispatchers
// can deduplicate on EventID.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, contextKey{}, env)
}

// EnvelopeFromContext returns the envelope being relayed, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(contextKey{}).(Envelope)
	return env, ok
}
