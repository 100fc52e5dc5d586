package intent_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ssekandi/sente/internal/sente/intent"
	"github.com/ssekandi/sente/internal/sente/nlp"
	"github.com/ssekandi/sente/internal/sente/rules"
)

// stubProvider is a scripted nlp.Provider that records how often it is called.
type stubProvider struct {
	calls  atomic.Int64
	result *nlp.ClassifyResult
	err    error
}

func (s *stubProvider) Classify(_ context.Context, _ nlp.ClassifyRequest) (*nlp.ClassifyResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newMatcher(t *testing.T) *intent.PatternMatcher {
	t.Helper()
	set, err := rules.Default()
	if err != nil {
		t.Fatalf("rules.Default: %v", err)
	}
	return intent.NewPatternMatcher(set)
}

func TestResolve_OtpShapeShortCircuits(t *testing.T) {
	provider := &stubProvider{err: errors.New("unreachable")}
	r := intent.NewResolver(newMatcher(t), intent.WithProvider(provider))

	for _, text := range []string{"482913", "  000123  ", "999999"} {
		got := r.Resolve(context.Background(), "id", text)
		if got.Command != intent.CommandOtp {
			t.Errorf("Resolve(%q) = %v, want otp", text, got.Command)
		}
		if got.Source != intent.SourcePattern {
			t.Errorf("Resolve(%q) source = %v, want pattern", text, got.Source)
		}
	}
	if n := provider.calls.Load(); n != 0 {
		t.Errorf("remote classifier called %d times for OTP-shaped input", n)
	}
}

func TestResolve_NonOtpDigits(t *testing.T) {
	r := intent.NewResolver(newMatcher(t))
	for _, text := range []string{"12345", "1234567", "48 2913"} {
		if got := r.Resolve(context.Background(), "id", text); got.Command == intent.CommandOtp {
			t.Errorf("Resolve(%q) resolved as otp", text)
		}
	}
}

func TestResolve_GreetingsSkipRemote(t *testing.T) {
	provider := &stubProvider{result: &nlp.ClassifyResult{Label: "send money to someone", Confidence: 0.99}}
	r := intent.NewResolver(newMatcher(t), intent.WithProvider(provider))

	for _, text := range []string{"hi", "hello", "menu"} {
		got := r.Resolve(context.Background(), "id", text)
		if got.Command != intent.CommandGreeting {
			t.Errorf("Resolve(%q) = %v, want greeting", text, got.Command)
		}
	}
	if n := provider.calls.Load(); n != 0 {
		t.Errorf("remote classifier called %d times for greetings", n)
	}
}

func TestResolve_PatternTier(t *testing.T) {
	r := intent.NewResolver(newMatcher(t))

	cases := map[string]intent.Command{
		"balance":            intent.CommandBalance,
		"pay water":          intent.CommandPayWater,
		"my yaka is done":    intent.CommandPayElectricity,
		"renew my gotv":      intent.CommandPayTV,
		"buy airtime":        intent.CommandAirtime,
		"top up 10000":       intent.CommandTopUp,
		"transfer to mukasa": intent.CommandTransfer,
		"can i get a loan":   intent.CommandLoans,
	}
	for text, want := range cases {
		got := r.Resolve(context.Background(), "id", text)
		if got.Command != want {
			t.Errorf("Resolve(%q) = %v, want %v", text, got.Command, want)
		}
		if got.Source != intent.SourcePattern {
			t.Errorf("Resolve(%q) source = %v, want pattern", text, got.Source)
		}
	}
}

func TestResolve_RemoteTier(t *testing.T) {
	provider := &stubProvider{result: &nlp.ClassifyResult{Label: "check account balance", Confidence: 0.87}}
	r := intent.NewResolver(newMatcher(t), intent.WithProvider(provider))

	got := r.Resolve(context.Background(), "id", "am I still rich this month")
	if got.Command != intent.CommandBalance {
		t.Errorf("Resolve = %v, want balance", got.Command)
	}
	if got.Source != intent.SourceRemote {
		t.Errorf("source = %v, want remote", got.Source)
	}
	if got.Confidence != 0.87 {
		t.Errorf("confidence = %v, want 0.87", got.Confidence)
	}
}

func TestResolve_LowConfidenceFallsThrough(t *testing.T) {
	provider := &stubProvider{result: &nlp.ClassifyResult{Label: "send money to someone", Confidence: 0.3}}
	r := intent.NewResolver(newMatcher(t), intent.WithProvider(provider))

	// Below threshold with no keyword match → unresolved, not a guess.
	got := r.Resolve(context.Background(), "id", "mmm maybe later")
	if got.Command != intent.CommandUnresolved {
		t.Errorf("Resolve = %v, want unresolved", got.Command)
	}
}

func TestResolve_UnknownLabelFallsThrough(t *testing.T) {
	provider := &stubProvider{result: &nlp.ClassifyResult{Label: "order a pizza", Confidence: 0.95}}
	r := intent.NewResolver(newMatcher(t), intent.WithProvider(provider))

	got := r.Resolve(context.Background(), "id", "mmm maybe later")
	if got.Command != intent.CommandUnresolved {
		t.Errorf("Resolve = %v, want unresolved", got.Command)
	}
}

func TestResolve_KeywordFallbackOnRemoteOutage(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}
	r := intent.NewResolver(newMatcher(t), intent.WithProvider(provider))

	got := r.Resolve(context.Background(), "id", "please send it over to mukasa tonight")
	if got.Command != intent.CommandTransfer {
		t.Errorf("Resolve = %v, want transfer via keyword tier", got.Command)
	}
	if got.Source != intent.SourceKeyword {
		t.Errorf("source = %v, want keyword", got.Source)
	}
}

func TestResolve_NonsenseUnresolved(t *testing.T) {
	provider := &stubProvider{err: errors.New("unreachable")}
	r := intent.NewResolver(newMatcher(t), intent.WithProvider(provider))

	got := r.Resolve(context.Background(), "id", "asdkjasd nonsense")
	if got.Command != intent.CommandUnresolved {
		t.Errorf("Resolve = %v, want unresolved", got.Command)
	}
}

func TestResolve_RateLimiterSkipsRemote(t *testing.T) {
	provider := &stubProvider{result: &nlp.ClassifyResult{Label: "ask about loans", Confidence: 0.9}}
	limiter := nlp.NewRateLimiter(1, 0)
	r := intent.NewResolver(newMatcher(t),
		intent.WithProvider(provider), intent.WithRateLimiter(limiter))

	ctx := context.Background()
	r.Resolve(ctx, "sender", "something ambiguous entirely")
	r.Resolve(ctx, "sender", "something ambiguous entirely")

	if n := provider.calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 remote call under rate limit, got %d", n)
	}
}

func TestCommandSensitivity(t *testing.T) {
	sensitive := []intent.Command{
		intent.CommandPayWater, intent.CommandPayElectricity, intent.CommandPayTV,
		intent.CommandAirtime, intent.CommandTopUp, intent.CommandTransfer,
	}
	for _, c := range sensitive {
		if !c.Sensitive() {
			t.Errorf("%v should be sensitive", c)
		}
	}
	for _, c := range []intent.Command{intent.CommandBalance, intent.CommandHelp, intent.CommandGreeting, intent.CommandOtp, intent.CommandLoans} {
		if c.Sensitive() {
			t.Errorf("%v should not be sensitive", c)
		}
	}
}

func TestParseAirtime(t *testing.T) {
	req := intent.ParseAirtime("airtime 5000 for 0700123456 mtn")
	if req.Provider != "MTN" {
		t.Errorf("provider = %q, want MTN", req.Provider)
	}
	if req.AmountUGX != 5000 {
		t.Errorf("amount = %d, want 5000", req.AmountUGX)
	}
	if req.Target != "0700123456" {
		t.Errorf("target = %q, want 0700123456", req.Target)
	}

	empty := intent.ParseAirtime("airtime please")
	if empty.Provider != "" || empty.AmountUGX != 0 || empty.Target != "" {
		t.Errorf("expected empty request, got %+v", empty)
	}
}

func TestParseTransfer(t *testing.T) {
	req := intent.ParseTransfer("send 20000 to mukasa")
	if req.AmountUGX != 20000 {
		t.Errorf("amount = %d, want 20000", req.AmountUGX)
	}
	if req.Recipient != "mukasa" {
		t.Errorf("recipient = %q, want mukasa", req.Recipient)
	}
}
