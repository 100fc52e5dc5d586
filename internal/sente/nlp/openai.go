package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultChatBase  = "https://api.openai.com/v1"
	defaultChatModel = "gpt-4o-mini"
)

// ChatConfig configures the OpenAI-compatible chat classification provider.
type ChatConfig struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint.  Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use.  Defaults to gpt-4o-mini when empty
	// (cost-efficient, sufficient for single-label classification).
	Model string

	// Timeout is the HTTP request timeout.  Defaults to 10 s.
	Timeout time.Duration
}

// chatProvider implements Provider using a chat completions API with JSON-mode
// output to guarantee a parseable classification.
type chatProvider struct {
	cfg    ChatConfig
	client *http.Client
}

// NewChat returns a Provider backed by an OpenAI (or compatible) chat API.
// The returned provider is safe for concurrent use.
func NewChat(cfg ChatConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultChatBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultChatModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &chatProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal chat wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatFormat struct {
	Type string `json:"type"` // "json_object"
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// systemPromptTmpl is the instruction set sent as the "system" message.
// One printf verb is substituted at call time: the newline-separated list of
// candidate labels.
const systemPromptTmpl = `You classify short customer messages sent to a mobile-money assistant.

Pick the single best matching label for the message from this list:
%s

RULES (strict — do not deviate):
1. Respond ONLY with valid JSON. No markdown, no code fences, no text outside JSON.
2. "label" must be copied verbatim from the list above; never invent a label.
3. "confidence" is your 0–1 certainty that the label is correct.
4. If no label fits, pick the closest one and give it a low confidence.

JSON schema for your response:
{"label": "<one label from the list>", "confidence": 0.0}
`

// chatClassification is the JSON document the model is instructed to emit.
type chatClassification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify sends the message to the chat API and returns the model's label
// pick with its self-reported confidence.
func (p *chatProvider) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	system := fmt.Sprintf(systemPromptTmpl, strings.Join(req.CandidateLabels, "\n"))

	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Text},
		},
		MaxTokens:      64,
		ResponseFormat: &chatFormat{Type: "json_object"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nlp: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimit
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nlp: read response body: %w", err)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("nlp: decode API response: %w", err)
	}

	if chat.Error != nil {
		return nil, fmt.Errorf("nlp: API error (%s): %s", chat.Error.Type, chat.Error.Message)
	}

	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("nlp: no choices returned (HTTP %d)", resp.StatusCode)
	}

	content := chat.Choices[0].Message.Content
	var classified chatClassification
	if err := json.Unmarshal([]byte(content), &classified); err != nil {
		return nil, fmt.Errorf("%w: %v (raw content: %.200s)", ErrMalformedOutput, err, content)
	}
	if classified.Label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrMalformedOutput)
	}

	return &ClassifyResult{
		Label:      classified.Label,
		Confidence: classified.Confidence,
	}, nil
}
