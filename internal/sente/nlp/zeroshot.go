package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultZeroShotBase  = "https://api-inference.huggingface.co"
	defaultZeroShotModel = "facebook/bart-large-mnli"
	defaultTimeout       = 10 * time.Second
)

// ZeroShotConfig configures the zero-shot classification provider.
type ZeroShotConfig struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the inference endpoint.  Useful for self-hosted
	// inference servers exposing the same request shape.
	// Defaults to the public Hugging Face inference API when empty.
	BaseURL string

	// Model is the zero-shot model identifier.
	// Defaults to facebook/bart-large-mnli when empty.
	Model string

	// Timeout bounds the HTTP round trip.  Defaults to 10 s.  A timeout is
	// treated identically to any other classifier failure by the caller.
	Timeout time.Duration
}

// zeroShotProvider implements Provider against a Hugging-Face-style zero-shot
// classification endpoint: the request carries the text and candidate labels,
// the response carries parallel labels/scores arrays sorted best-first.
type zeroShotProvider struct {
	cfg    ZeroShotConfig
	client *http.Client
}

// NewZeroShot returns a Provider backed by a zero-shot classification API.
// The returned provider is safe for concurrent use.
func NewZeroShot(cfg ZeroShotConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultZeroShotBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultZeroShotModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &zeroShotProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal wire types ---

type zsRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters zsParameters `json:"parameters"`
}

type zsParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

type zsResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

// Classify submits text plus the candidate label set and returns the top
// label with its score.
func (p *zeroShotProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	body := zsRequest{
		Inputs: req.Text,
		Parameters: zsParameters{
			CandidateLabels: req.CandidateLabels,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/models/"+p.cfg.Model,
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nlp: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimit
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("nlp: classifier returned HTTP %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nlp: read response body: %w", err)
	}

	var zs zsResponse
	if err := json.Unmarshal(respBody, &zs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if zs.Error != "" {
		return nil, fmt.Errorf("nlp: classifier error: %s", zs.Error)
	}
	if len(zs.Labels) == 0 || len(zs.Scores) == 0 {
		return nil, fmt.Errorf("%w: empty label list", ErrMalformedOutput)
	}

	// Labels are sorted by score descending; index 0 is the winner.
	return &ClassifyResult{
		Label:      zs.Labels[0],
		Confidence: zs.Scores[0],
	}, nil
}
