// Package app wires the Sente bot together: storage, intent resolution, the
// confirmation state machine, ledger, wallet, channel adapters, and the HTTP
// server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssekandi/sente/internal/sente/audit"
	"github.com/ssekandi/sente/internal/sente/bot"
	"github.com/ssekandi/sente/internal/sente/channel"
	"github.com/ssekandi/sente/internal/sente/channel/matrix"
	"github.com/ssekandi/sente/internal/sente/channel/whatsapp"
	"github.com/ssekandi/sente/internal/sente/confirm"
	"github.com/ssekandi/sente/internal/sente/intent"
	"github.com/ssekandi/sente/internal/sente/ledger"
	"github.com/ssekandi/sente/internal/sente/nlp"
	"github.com/ssekandi/sente/internal/sente/rules"
	"github.com/ssekandi/sente/internal/sente/store"
	"github.com/ssekandi/sente/internal/sente/wallet"
)

// NLPConfig selects and configures the remote intent classifier.
type NLPConfig struct {
	// Provider is "zeroshot", "openai", or "" to disable the remote tier.
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	// ConfidenceThreshold overrides the default when positive.
	ConfidenceThreshold float64
	// RateLimit is remote calls allowed per sender per minute; zero uses
	// the default.
	RateLimit int
}

// Config holds everything the application needs to start.
type Config struct {
	DBPath   string
	HTTPAddr string

	NLP NLPConfig

	WhatsApp whatsapp.Config
	// WhisperAPIKey enables voice-note transcription when set.
	WhisperAPIKey  string
	WhisperBaseURL string

	Matrix matrix.Config

	// OtpExpiry overrides the confirmation code lifetime when positive.
	OtpExpiry time.Duration

	// AuditIdentity, when set, receives a notice for every committed
	// transaction over the WhatsApp channel.
	AuditIdentity string
}

// App is the assembled application.
type App struct {
	config *Config
	store  *store.Store

	controller *bot.Controller
	whatsApp   *whatsapp.Adapter
	matrix     *matrix.Adapter
	health     *HealthServer
}

// New builds the application from config. Nothing is listening yet; call Run.
func New(config *Config) (*App, error) {
	st, err := store.New(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	ruleSet, err := rules.Default()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load intent rules: %w", err)
	}

	resolverOpts := []intent.ResolverOption{}
	if provider := buildProvider(config.NLP); provider != nil {
		resolverOpts = append(resolverOpts, intent.WithProvider(provider))
		limit := config.NLP.RateLimit
		if limit <= 0 {
			limit = nlp.DefaultRateLimit
		}
		resolverOpts = append(resolverOpts,
			intent.WithRateLimiter(nlp.NewRateLimiter(limit, time.Minute)))
	}
	if config.NLP.ConfidenceThreshold > 0 {
		resolverOpts = append(resolverOpts, intent.WithThreshold(config.NLP.ConfidenceThreshold))
	}
	resolver := intent.NewResolver(intent.NewPatternMatcher(ruleSet), resolverOpts...)

	confirms := confirm.NewStore(st.DB(), config.OtpExpiry)
	l := ledger.New(st.DB())
	w := wallet.New(st.DB())

	a := &App{config: config, store: st}

	// WhatsApp adapter. The handler closes over the App so the controller
	// can be attached after both exist.
	var waOpts []whatsapp.Option
	if config.WhisperAPIKey != "" {
		waOpts = append(waOpts, whatsapp.WithTranscriber(
			whatsapp.NewWhisperTranscriber(whatsapp.WhisperConfig{
				APIKey:  config.WhisperAPIKey,
				BaseURL: config.WhisperBaseURL,
			})))
	}
	a.whatsApp = whatsapp.New(config.WhatsApp, st.DB(),
		func(ctx context.Context, msg channel.NormalizedMessage) {
			a.controller.HandleMessage(ctx, a.whatsApp, msg)
		}, waOpts...)

	// Matrix adapter, optional.
	if config.Matrix.Homeserver != "" {
		config.Matrix.DB = st.DB()
		a.matrix, err = matrix.New(&config.Matrix)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create Matrix adapter: %w", err)
		}
	}

	var notifier audit.Notifier = audit.Noop{}
	if config.AuditIdentity != "" {
		notifier = audit.NewChannelNotifier(a.whatsApp, config.AuditIdentity)
	}

	a.controller = bot.New(resolver, confirms, l, w, notifier)

	if config.HTTPAddr != "" {
		a.health = NewHealthServer(config.HTTPAddr, l)
		a.whatsApp.RegisterRoutes(a.health)
	}

	return a, nil
}

// buildProvider returns the configured remote classifier, or nil when the
// remote tier is disabled.
func buildProvider(cfg NLPConfig) nlp.Provider {
	switch cfg.Provider {
	case "zeroshot":
		return nlp.NewZeroShot(nlp.ZeroShotConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "openai":
		return nlp.NewChat(nlp.ChatConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "":
		slog.Info("remote intent classifier disabled, using patterns and keywords only")
		return nil
	default:
		slog.Warn("unknown NLP provider, remote tier disabled", "provider", cfg.Provider)
		return nil
	}
}

// Run starts the channel adapters and HTTP server, then blocks until an
// interrupt arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			return fmt.Errorf("failed to start http server: %w", err)
		}
	}

	if a.matrix != nil {
		slog.Info("starting Matrix sync")
		if err := a.matrix.Start(ctx, func(ctx context.Context, msg channel.NormalizedMessage) {
			a.controller.HandleMessage(ctx, a.matrix, msg)
		}); err != nil {
			return fmt.Errorf("failed to start Matrix adapter: %w", err)
		}
	}

	// Startup notice to the ops identity, best effort.
	if a.config.AuditIdentity != "" {
		if err := a.whatsApp.Send(ctx, channel.OutboundReply{
			Identity: a.config.AuditIdentity,
			Text:     "Sente started and ready for messages.",
		}); err != nil {
			slog.Warn("failed to send startup notice", "err", err)
		}
	}

	slog.Info("sente is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop tears down the application in reverse start order.
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix adapter")
		a.matrix.Stop()
	}
	if a.health != nil {
		slog.Info("stopping http server")
		a.health.Stop()
	}
	slog.Info("closing database")
	a.store.Close()
}
