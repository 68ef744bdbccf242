package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type envConfig struct {
	Port            string   `env:"PORT"`
	HTTPAddr        string   `env:"HTTP_ADDR"`
	GRPCAddr        string   `env:"GRPC_ADDR"`
	DatabaseURL     string   `env:"DATABASE_URL"`
	LogLevel        string   `env:"LOG_LEVEL"`
	JWTSecret       string   `env:"JWT_SECRET"`
	GoogleClientID  string   `env:"GOOGLE_CLIENT_ID"`
	GoogleClientIDs []string `env:"GOOGLE_CLIENT_IDS"`
	CORSOrigins     []string `env:"CORS_ORIGINS"`
	MailAPIBaseURL  string   `env:"EMAIL_API_BASE_URL"`
	MailAPIKey      string   `env:"EMAIL_API_KEY"`
	MailFromName    string   `env:"EMAIL_FROM_NAME"`
	S3AccessKey     string   `env:"S3_ACCESS_KEY"`
	S3SecretKey     string   `env:"S3_SECRET_KEY"`
	S3Bucket        string   `env:"S3_BUCKET"`
	S3Region        string   `env:"S3_REGION"`
	S3BaseEndpoint  string   `env:"S3_ENDPOINT"`
	S3PublicBaseURL string   `env:"S3_PUBLIC_BASE_URL"`
	OTLPEndpoint    string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func parseEnv(ctx context.Context, config *Config, lookuper envconfig.Lookuper) error {
	var e envConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &e, Lookuper: lookuper}); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if e.Port != "" {
		config.HTTPAddr = ":" + e.Port
	}
	setString(&config.HTTPAddr, e.HTTPAddr)
	setString(&config.GRPCAddr, e.GRPCAddr)
	setString(&config.DatabaseDSN, e.DatabaseURL)
	setString(&config.LogLevel, e.LogLevel)
	setString(&config.SecretKey, e.JWTSecret)

	if ids := splitList(append([]string{e.GoogleClientID}, e.GoogleClientIDs...)); len(ids) > 0 {
		config.GoogleClientIDs = ids
	}
	if origins := splitList(e.CORSOrigins); len(origins) > 0 {
		config.CORSOrigins = origins
	}

	setString(&config.MailAPIBaseURL, e.MailAPIBaseURL)
	setString(&config.MailAPIKey, e.MailAPIKey)
	setString(&config.MailFromName, e.MailFromName)
	setString(&config.S3AccessKey, e.S3AccessKey)
	setString(&config.S3SecretKey, e.S3SecretKey)
	setString(&config.S3Bucket, e.S3Bucket)
	setString(&config.S3Region, e.S3Region)
	setString(&config.S3BaseEndpoint, e.S3BaseEndpoint)
	setString(&config.S3PublicBaseURL, e.S3PublicBaseURL)
	setString(&config.OTLPEndpoint, e.OTLPEndpoint)
	return nil
}

// loadDotEnv merges path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
