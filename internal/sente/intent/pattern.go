package intent

import (
	"regexp"
	"strings"

	"github.com/ssekandi/sente/internal/sente/rules"
)

// otpShape matches a bare 6-digit code after trimming. The OTP check runs
// before everything else so a passcode is never misread as an amount.
var otpShape = regexp.MustCompile(`^\d{6}$`)

// PatternMatcher is the pure, zero-I/O first tier of the cascade. It checks,
// in order: the literal OTP shape, the greeting vocabulary, and the ordered
// domain rule table. First match wins.
type PatternMatcher struct {
	rules *rules.Set
}

// NewPatternMatcher returns a matcher over the given compiled rule table.
func NewPatternMatcher(set *rules.Set) *PatternMatcher {
	return &PatternMatcher{rules: set}
}

// Classify returns the pattern-tier classification for text, or nil when no
// local rule matches and the message must escalate to the remote tier.
func (m *PatternMatcher) Classify(text string) *Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if otpShape.MatchString(trimmed) {
		return &Classification{Command: CommandOtp, Confidence: 1.0, Source: SourcePattern}
	}

	if m.rules.IsGreeting(trimmed) {
		return &Classification{Command: CommandGreeting, Confidence: 1.0, Source: SourcePattern}
	}

	if key := m.rules.Match(trimmed); key != "" {
		cmd := Command(key)
		if cmd.Valid() {
			return &Classification{Command: cmd, Confidence: 1.0, Source: SourcePattern}
		}
	}

	return nil
}
