// Package nlp provides the remote intent-classification tier for the bot.
//
// The remote tier sits between the local pattern rules and the deterministic
// keyword fallback. Its sole responsibility is translation: submit the user's
// free-form sentence plus the fixed candidate label set to an external
// classification service and return the top label with a confidence score.
//
// Invariants:
//   - Providers never decide anything; the resolver applies the confidence
//     threshold and the label→command mapping.
//   - Any transport or service failure is an error the resolver absorbs by
//     falling through to the keyword tier — classification errors are never
//     surfaced to the user.
//   - Per-sender rate limiting bounds spend on the external service.
package nlp

import (
	"context"
	"errors"
)

// ErrRateLimit is returned by a Provider when the upstream API reports a
// rate-limiting condition (HTTP 429).  The resolver treats it like any other
// provider failure and falls through to the keyword tier.
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// ErrMalformedOutput is returned by a Provider when the service returns a
// structurally valid HTTP response whose body cannot be interpreted as a
// classification (JSON parse failure, empty label list, unexpected schema).
var ErrMalformedOutput = errors.New("nlp: malformed response from classifier")

// ClassifyRequest is the input to a single remote classification call.
type ClassifyRequest struct {
	// Text is the raw message sent by the user.
	Text string

	// CandidateLabels is the fixed label set the service chooses from.
	// The caller owns the label→command mapping.
	CandidateLabels []string
}

// ClassifyResult is the top label returned by the remote service.
type ClassifyResult struct {
	// Label is the best-scoring candidate label, verbatim.
	Label string

	// Confidence is the service's 0–1 score for Label.
	Confidence float64
}

// Provider classifies free-form user messages against a candidate label set.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must honour ctx cancellation. When an implementation is unavailable it
// should return a descriptive error; callers degrade to keyword matching.
type Provider interface {
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error)
}
