// Package whatsapp adapts the WhatsApp Cloud API to the channel contracts.
//
// Inbound messages arrive as webhook deliveries from Meta:
//
//	GET  /webhooks/whatsapp   — subscription verification handshake
//	POST /webhooks/whatsapp   — message notifications
//
// Outbound replies go through the Graph API messages endpoint. Deliveries are
// deduplicated on the WhatsApp message ID because Meta retries webhooks that
// are not acknowledged fast enough.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ssekandi/sente/common/retry"
	"github.com/ssekandi/sente/internal/sente/channel"
)

// maxBodyBytes caps inbound webhook request bodies to prevent memory
// exhaustion from oversized payloads.
const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

// DefaultGraphBaseURL is the Meta Graph API endpoint.
const DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// Config holds WhatsApp Cloud API credentials and options.
type Config struct {
	// VerifyToken is the shared secret echoed during the GET handshake.
	VerifyToken string
	// AccessToken authenticates Graph API calls.
	AccessToken string
	// PhoneNumberID is the business phone number sending replies.
	PhoneNumberID string
	// AppSecret, when set, enables X-Hub-Signature-256 validation on
	// inbound deliveries.
	AppSecret string
	// GraphBaseURL overrides the Graph API endpoint, mainly for tests.
	GraphBaseURL string
}

// MessageHandler processes one normalized inbound message.
type MessageHandler func(ctx context.Context, msg channel.NormalizedMessage)

// Adapter bridges the WhatsApp Cloud API to the bot controller.
type Adapter struct {
	config      Config
	db          *sql.DB
	handler     MessageHandler
	transcriber Transcriber
	httpClient  *http.Client
}

var _ channel.Sender = (*Adapter)(nil)

// Option customises an Adapter.
type Option func(*Adapter)

// WithTranscriber attaches a voice-note transcriber. Without one, audio
// messages are answered with a text-only notice.
func WithTranscriber(t Transcriber) Option {
	return func(a *Adapter) { a.transcriber = t }
}

// New creates a WhatsApp adapter. db is used for webhook dedup and may not be
// nil.
func New(config Config, db *sql.DB, handler MessageHandler, opts ...Option) *Adapter {
	if config.GraphBaseURL == "" {
		config.GraphBaseURL = DefaultGraphBaseURL
	}
	a := &Adapter{
		config:     config,
		db:         db,
		handler:    handler,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RouteRegistrar is satisfied by *http.ServeMux and by the app's HTTP server.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// RegisterRoutes mounts the webhook handler.
func (a *Adapter) RegisterRoutes(r RouteRegistrar) {
	r.Handle("/webhooks/whatsapp", http.HandlerFunc(a.serveHTTP))
}

func (a *Adapter) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleVerify(w, r)
	case http.MethodPost:
		a.handleDelivery(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers Meta's subscription handshake: echo hub.challenge when
// the verify token matches.
func (a *Adapter) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != a.config.VerifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, q.Get("hub.challenge"))
}

// webhookEnvelope is the subset of the Cloud API notification payload the
// adapter consumes.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio"`
}

func (a *Adapter) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if a.config.AppSecret != "" && !a.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Acknowledge before processing finishes is not an option here: the
	// handler runs synchronously and the 200 goes out when it returns.
	// Meta's retry policy tolerates this for small bot workloads.
	ctx := r.Context()
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				a.processMessage(ctx, msg)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) validSignature(header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.config.AppSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(header, prefix)))
}

func (a *Adapter) processMessage(ctx context.Context, msg inboundMessage) {
	if msg.From == "" || msg.ID == "" {
		return
	}

	fresh, err := a.markProcessed(ctx, msg.ID)
	if err != nil {
		slog.Error("whatsapp: dedup check failed", "message_id", msg.ID, "err", err)
		return
	}
	if !fresh {
		slog.Debug("whatsapp: duplicate delivery skipped", "message_id", msg.ID)
		return
	}

	var text string
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			text = msg.Text.Body
		}
	case "audio":
		if msg.Audio == nil {
			return
		}
		text, err = a.transcribeAudio(ctx, msg.Audio.ID)
		if err != nil {
			slog.Warn("whatsapp: voice note transcription failed",
				"message_id", msg.ID, "err", err)
			a.sendText(ctx, msg.From,
				"Sorry, I couldn't understand that voice note. Please type your request instead.")
			return
		}
	default:
		slog.Debug("whatsapp: unsupported message type", "type", msg.Type)
		return
	}

	if a.handler == nil {
		return
	}
	a.handler(ctx, channel.NormalizedMessage{
		Identity:  msg.From,
		MessageID: msg.ID,
		Text:      text,
	})
}

// markProcessed records the message ID and reports whether it was new.
func (a *Adapter) markProcessed(ctx context.Context, messageID string) (bool, error) {
	res, err := a.db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, processed_at)
		VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, messageID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to record message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// errTransient marks delivery failures worth retrying: network errors, 429,
// and Graph API 5xx responses.
var errTransient = errors.New("transient delivery failure")

// Send delivers a reply through the Graph API, retrying transient failures
// with backoff.
func (a *Adapter) Send(ctx context.Context, reply channel.OutboundReply) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry:  func(err error) bool { return errors.Is(err, errTransient) },
	}, func() error {
		return a.sendText(ctx, reply.Identity, reply.Text)
	})
}

func (a *Adapter) sendText(ctx context.Context, to, text string) error {
	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.config.GraphBaseURL, a.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", errors.Join(errTransient, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("graph api returned %d: %s", resp.StatusCode, string(b))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return errors.Join(errTransient, err)
		}
		return err
	}
	return nil
}
