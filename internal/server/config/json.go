package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/todokeeper/internal/flagx"
	"github.com/dmitrijs2005/todokeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the optional configuration file. Only
// keys present in the file override earlier layers.
type JsonConfig struct {
	HTTPAddr        string          `json:"http_addr"`
	GRPCAddr        string          `json:"grpc_addr"`
	DatabaseDSN     string          `json:"database_dsn"`
	LogLevel        string          `json:"log_level"`
	SecretKey       string          `json:"secret_key"`
	SessionTTL      *timex.Duration `json:"session_ttl"`
	GoogleClientIDs []string        `json:"google_client_ids"`
	CORSOrigins     []string        `json:"cors_origins"`
	MailAPIBaseURL  string          `json:"mail_api_base_url"`
	MailAPIKey      string          `json:"mail_api_key"`
	MailFromName    string          `json:"mail_from_name"`
	S3AccessKey     string          `json:"s3_access_key"`
	S3SecretKey     string          `json:"s3_secret_key"`
	S3Bucket        string          `json:"s3_bucket"`
	S3Region        string          `json:"s3_region"`
	S3BaseEndpoint  string          `json:"s3_base_endpoint"`
	S3PublicBaseURL string          `json:"s3_public_base_url"`
	OTLPEndpoint    string          `json:"otlp_endpoint"`
}

func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SecretKey, c.SecretKey)
	if c.SessionTTL != nil {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if len(c.GoogleClientIDs) > 0 {
		config.GoogleClientIDs = splitList(c.GoogleClientIDs)
	}
	if len(c.CORSOrigins) > 0 {
		config.CORSOrigins = splitList(c.CORSOrigins)
	}
	setString(&config.MailAPIBaseURL, c.MailAPIBaseURL)
	setString(&config.MailAPIKey, c.MailAPIKey)
	setString(&config.MailFromName, c.MailFromName)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PublicBaseURL, c.S3PublicBaseURL)
	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
