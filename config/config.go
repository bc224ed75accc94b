package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port               string
	DatabaseURL        string
	GraphBaseURL       string
	WebhookPath        string
	WebhookVerifyToken string
	RabbitMQURL        string
	RabbitMQQueue      string
	ReconcileWindow    int
}

// Load reads configuration from environment variables. A .env file is
// loaded first if present; real environment variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded, relying on environment variables")
	}

	cfg := &Config{
		Port:               os.Getenv("PORT"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GraphBaseURL:       os.Getenv("GRAPH_BASE_URL"),
		WebhookPath:        os.Getenv("WEBHOOK_PATH"),
		WebhookVerifyToken: os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue:      os.Getenv("RABBITMQ_QUEUE"),
		ReconcileWindow:    5,
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "chatwise.db"
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.facebook.com/v18.0"
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks/instagram"
		log.Info().Str("path", cfg.WebhookPath).Msg("WEBHOOK_PATH not set, using default")
	}
	if cfg.WebhookVerifyToken == "" {
		cfg.WebhookVerifyToken = "chatwise_verify_token"
	}
	if cfg.RabbitMQQueue == "" {
		cfg.RabbitMQQueue = "chatwise_outcomes"
	}
	if v := os.Getenv("RECONCILE_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconcileWindow = n
		}
	}

	return cfg, nil
}
