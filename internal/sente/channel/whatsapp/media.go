package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// maxMediaBytes caps downloaded voice notes. WhatsApp voice notes are Opus
// audio and rarely exceed a few hundred KiB.
const maxMediaBytes = 16 * 1024 * 1024 // 16 MiB

// Transcriber converts an audio recording to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// transcribeAudio fetches the media behind mediaID and runs it through the
// configured transcriber.
func (a *Adapter) transcribeAudio(ctx context.Context, mediaID string) (string, error) {
	if a.transcriber == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	audio, mimeType, err := a.downloadMedia(ctx, mediaID)
	if err != nil {
		return "", err
	}
	return a.transcriber.Transcribe(ctx, audio, mimeType)
}

// downloadMedia resolves a media ID to its short-lived URL and fetches the
// bytes. Both calls carry the Graph access token.
func (a *Adapter) downloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s", a.config.GraphBaseURL, mediaID), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media lookup returned %d", resp.StatusCode)
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, "", fmt.Errorf("failed to decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("media %s has no download URL", mediaID)
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}
	dlReq.Header.Set("Authorization", "Bearer "+a.config.AccessToken)

	dlResp, err := a.httpClient.Do(dlReq)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download returned %d", dlResp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(dlResp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	return audio, meta.MimeType, nil
}

// WhisperTranscriber transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperTranscriber struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// WhisperConfig holds transcription endpoint settings.
type WhisperConfig struct {
	APIKey  string
	BaseURL string // defaults to https://api.openai.com/v1
	Model   string // defaults to whisper-1
	Timeout time.Duration
}

// NewWhisperTranscriber returns a Transcriber over the given endpoint.
func NewWhisperTranscriber(cfg WhisperConfig) *WhisperTranscriber {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &WhisperTranscriber{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Transcribe uploads the audio as multipart form data and returns the text.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", fileNameFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription returned %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	return out.Text, nil
}

// fileNameFor maps the media MIME type to a filename extension the
// transcription endpoint recognises. WhatsApp voice notes are Opus in an Ogg
// container, sometimes reported with a codecs suffix.
func fileNameFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "ogg"):
		return "voice.ogg"
	case mimeType == "audio/mpeg":
		return "voice.mp3"
	case mimeType == "audio/mp4":
		return "voice.m4a"
	default:
		return "voice.ogg"
	}
}
