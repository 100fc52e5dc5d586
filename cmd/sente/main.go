package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ssekandi/sente/common/environment"
	"github.com/ssekandi/sente/common/version"
	"github.com/ssekandi/sente/internal/sente/app"
	"github.com/ssekandi/sente/internal/sente/channel/matrix"
	"github.com/ssekandi/sente/internal/sente/channel/whatsapp"
)

func main() {
	fmt.Printf("Sente Mobile Money Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	setupLogging()

	config := loadConfig()

	if config.WhatsApp.AccessToken == "" && config.Matrix.Homeserver == "" {
		fmt.Fprintf(os.Stderr, "Error: at least one channel must be configured\n")
		fmt.Fprintf(os.Stderr, "Set SENTE_WA_ACCESS_TOKEN or SENTE_MATRIX_HOMESERVER\n")
		os.Exit(1)
	}
	if config.WhatsApp.AccessToken != "" && config.HTTPAddr == "" {
		fmt.Fprintf(os.Stderr, "Error: SENTE_HTTP_ADDR is required for the WhatsApp webhook\n")
		os.Exit(1)
	}

	sente, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sente: %v\n", err)
		os.Exit(1)
	}
	defer sente.Stop()

	if err := sente.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Sente: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures slog from SENTE_LOG_LEVEL and SENTE_LOG_FORMAT.
func setupLogging() {
	level := slog.LevelInfo
	switch environment.StringOr("SENTE_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if environment.StringOr("SENTE_LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig builds the application config from environment variables.
func loadConfig() *app.Config {
	return &app.Config{
		DBPath:   environment.StringOr("SENTE_DB_PATH", "./sente.db"),
		HTTPAddr: environment.StringOr("SENTE_HTTP_ADDR", ""),

		NLP: app.NLPConfig{
			Provider:            environment.StringOr("SENTE_NLP_PROVIDER", ""),
			APIKey:              environment.StringOr("SENTE_NLP_API_KEY", ""),
			BaseURL:             environment.StringOr("SENTE_NLP_BASE_URL", ""),
			Model:               environment.StringOr("SENTE_NLP_MODEL", ""),
			ConfidenceThreshold: environment.FloatOr("SENTE_NLP_CONFIDENCE", 0),
			RateLimit:           environment.IntOr("SENTE_NLP_RATE_LIMIT", 0),
		},

		WhatsApp: whatsapp.Config{
			VerifyToken:   environment.StringOr("SENTE_WA_VERIFY_TOKEN", ""),
			AccessToken:   environment.StringOr("SENTE_WA_ACCESS_TOKEN", ""),
			PhoneNumberID: environment.StringOr("SENTE_WA_PHONE_NUMBER_ID", ""),
			AppSecret:     environment.StringOr("SENTE_WA_APP_SECRET", ""),
		},
		WhisperAPIKey:  environment.StringOr("SENTE_WHISPER_API_KEY", ""),
		WhisperBaseURL: environment.StringOr("SENTE_WHISPER_BASE_URL", ""),

		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("SENTE_MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("SENTE_MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("SENTE_MATRIX_ACCESS_TOKEN", ""),
		},

		OtpExpiry:     environment.DurationOr("SENTE_OTP_EXPIRY", 0),
		AuditIdentity: environment.StringOr("SENTE_AUDIT_IDENTITY", ""),
	}
}
