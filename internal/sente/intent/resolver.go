package intent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ssekandi/sente/internal/sente/nlp"
)

const (
	// DefaultConfidenceThreshold is the minimum remote-classifier score
	// accepted as a resolution. Below it the message falls through to the
	// keyword tier rather than acting on a guess. 0.5 is appropriate because
	// a deterministic fallback exists downstream.
	DefaultConfidenceThreshold = 0.5

	// DefaultRemoteTimeout bounds a single remote classification call. A
	// timeout is handled exactly like any other classifier failure.
	DefaultRemoteTimeout = 8 * time.Second
)

// Resolver runs the classification cascade: pattern → remote → keyword.
type Resolver struct {
	matcher   *PatternMatcher
	provider  nlp.Provider    // nil disables the remote tier
	limiter   *nlp.RateLimiter // nil disables per-sender limiting
	threshold float64
	timeout   time.Duration
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithProvider attaches a remote classification provider. When absent the
// cascade degrades to pattern + keyword matching.
func WithProvider(p nlp.Provider) ResolverOption {
	return func(r *Resolver) { r.provider = p }
}

// WithRateLimiter attaches a per-sender limiter for the remote tier.
// Over-limit senders skip straight to the keyword tier.
func WithRateLimiter(l *nlp.RateLimiter) ResolverOption {
	return func(r *Resolver) { r.limiter = l }
}

// WithThreshold overrides the remote confidence threshold.
func WithThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) { r.threshold = threshold }
}

// WithRemoteTimeout overrides the per-call remote timeout.
func WithRemoteTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// NewResolver returns a Resolver over the given pattern matcher.
func NewResolver(matcher *PatternMatcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		matcher:   matcher,
		threshold: DefaultConfidenceThreshold,
		timeout:   DefaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve classifies text for the given sender identity and always returns a
// usable Classification — worst case {CommandUnresolved}. It never returns an
// error: every tier failure is absorbed by escalating to the next tier.
func (r *Resolver) Resolve(ctx context.Context, identity, text string) Classification {
	// Tier 1: local patterns. Authoritative and short-circuiting — a
	// pattern hit never consults the remote service.
	if c := r.matcher.Classify(text); c != nil {
		return *c
	}

	// Tier 2: remote classifier, confidence-gated.
	if c := r.classifyRemote(ctx, identity, text); c != nil {
		return *c
	}

	// Tier 3: deterministic keyword fallback.
	if c := classifyKeyword(text); c != nil {
		return *c
	}

	return Classification{Command: CommandUnresolved, Source: SourceKeyword}
}

// classifyRemote runs the remote tier. Returns nil on any failure, low
// confidence, or unknown label so the caller falls through; the failure is
// logged but never propagated.
func (r *Resolver) classifyRemote(ctx context.Context, identity, text string) *Classification {
	if r.provider == nil {
		return nil
	}
	if r.limiter != nil && !r.limiter.Allow(identity) {
		slog.Debug("intent: sender over remote-classifier rate limit, using keyword tier",
			"identity", identity)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.provider.Classify(callCtx, nlp.ClassifyRequest{
		Text:            text,
		CandidateLabels: CandidateLabels(),
	})
	if err != nil {
		slog.Warn("intent: remote classification failed, falling back", "err", err)
		return nil
	}

	if res.Confidence < r.threshold {
		slog.Debug("intent: remote confidence below threshold",
			"label", res.Label, "confidence", res.Confidence, "threshold", r.threshold)
		return nil
	}

	cmd, ok := CommandForLabel(res.Label)
	if !ok {
		slog.Warn("intent: remote classifier produced unknown label", "label", res.Label)
		return nil
	}

	return &Classification{Command: cmd, Confidence: res.Confidence, Source: SourceRemote}
}
