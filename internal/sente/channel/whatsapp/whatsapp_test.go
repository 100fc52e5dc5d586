package whatsapp_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ssekandi/sente/internal/sente/channel"
	"github.com/ssekandi/sente/internal/sente/channel/whatsapp"
	"github.com/ssekandi/sente/internal/sente/store"
)

type recordedHandler struct {
	mu       sync.Mutex
	messages []channel.NormalizedMessage
}

func (h *recordedHandler) handle(_ context.Context, msg channel.NormalizedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordedHandler) all() []channel.NormalizedMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]channel.NormalizedMessage(nil), h.messages...)
}

func newTestAdapter(t *testing.T, cfg whatsapp.Config, opts ...whatsapp.Option) (*whatsapp.Adapter, *recordedHandler, *httptest.Server) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	handler := &recordedHandler{}
	adapter := whatsapp.New(cfg, st.DB(), handler.handle, opts...)

	mux := http.NewServeMux()
	adapter.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return adapter, handler, srv
}

func textDelivery(messageID, from, body string) string {
	return fmt.Sprintf(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"from": %q, "id": %q, "type": "text", "text": {"body": %q}}
		]}}]}]
	}`, from, messageID, body)
}

func TestVerifyHandshake(t *testing.T) {
	_, _, srv := newTestAdapter(t, whatsapp.Config{VerifyToken: "sekret"})

	resp, err := http.Get(srv.URL + "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=sekret&hub.challenge=12345")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "12345" {
		t.Errorf("challenge echo = %q", body)
	}
}

func TestVerifyHandshakeWrongToken(t *testing.T) {
	_, _, srv := newTestAdapter(t, whatsapp.Config{VerifyToken: "sekret"})

	resp, err := http.Get(srv.URL + "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestInboundTextMessage(t *testing.T) {
	_, handler, srv := newTestAdapter(t, whatsapp.Config{})

	resp, err := http.Post(srv.URL+"/webhooks/whatsapp", "application/json",
		strings.NewReader(textDelivery("wamid.1", "256700000001", "balance")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	msgs := handler.all()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Identity != "256700000001" || msgs[0].Text != "balance" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestDuplicateDeliverySkipped(t *testing.T) {
	_, handler, srv := newTestAdapter(t, whatsapp.Config{})

	payload := textDelivery("wamid.dup", "256700000001", "hello")
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/webhooks/whatsapp", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("POST %d: %v", i, err)
		}
		resp.Body.Close()
	}

	if got := len(handler.all()); got != 1 {
		t.Errorf("handler called %d times for one message ID", got)
	}
}

func TestSignatureValidation(t *testing.T) {
	_, handler, srv := newTestAdapter(t, whatsapp.Config{AppSecret: "app-secret"})

	payload := textDelivery("wamid.sig", "256700000001", "hi")

	// Missing signature is rejected.
	resp, err := http.Post(srv.URL+"/webhooks/whatsapp", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", resp.StatusCode)
	}

	// Valid signature is accepted.
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(payload))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/whatsapp", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("signed POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("signed status = %d", resp.StatusCode)
	}
	if got := len(handler.all()); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	_, _, srv := newTestAdapter(t, whatsapp.Config{})

	resp, err := http.Post(srv.URL+"/webhooks/whatsapp", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"messages":[{"id":"wamid.out"}]}`)
	}))
	defer graph.Close()

	adapter, _, _ := newTestAdapter(t, whatsapp.Config{
		AccessToken:   "token-123",
		PhoneNumberID: "555000",
		GraphBaseURL:  graph.URL,
	})

	err := adapter.Send(context.Background(), channel.OutboundReply{
		Identity: "256700000001",
		Text:     "Your balance is UGX 150,000.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/555000/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-123" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["to"] != "256700000001" || gotBody["messaging_product"] != "whatsapp" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestSendGraphError(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad token"}}`, http.StatusUnauthorized)
	}))
	defer graph.Close()

	adapter, _, _ := newTestAdapter(t, whatsapp.Config{
		PhoneNumberID: "555000",
		GraphBaseURL:  graph.URL,
	})

	err := adapter.Send(context.Background(), channel.OutboundReply{Identity: "x", Text: "y"})
	if err == nil {
		t.Fatal("expected error from Graph API failure")
	}
}

type stubTranscriber struct {
	text string
	err  error
}

func (s *stubTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return s.text, s.err
}

func TestVoiceNoteTranscribed(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media-1":
			json.NewEncoder(w).Encode(map[string]string{
				"url":       "http://" + r.Host + "/download/media-1",
				"mime_type": "audio/ogg; codecs=opus",
			})
		case "/download/media-1":
			w.Write([]byte("opus-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer graph.Close()

	_, handler, srv := newTestAdapter(t,
		whatsapp.Config{GraphBaseURL: graph.URL},
		whatsapp.WithTranscriber(&stubTranscriber{text: "send 20000 to mukasa"}))

	payload := `{
		"entry": [{"changes": [{"value": {"messages": [
			{"from": "256700000001", "id": "wamid.voice", "type": "audio", "audio": {"id": "media-1"}}
		]}}]}]
	}`
	resp, err := http.Post(srv.URL+"/webhooks/whatsapp", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	msgs := handler.all()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Text != "send 20000 to mukasa" {
		t.Errorf("transcribed text = %q", msgs[0].Text)
	}
}
