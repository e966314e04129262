// Package config loads the application configuration from environment
// variables with sensible defaults.
//
// Environment Variables:
//
// DeepL Configuration:
//   - DEEPL_API_KEY: API credential (required)
//   - DEEPL_PLAN: "free" or "pro", selects the endpoint variant (default: free)
//   - DEEPL_TIMEOUT: request timeout in seconds (default: 60)
//
// Translation Configuration:
//   - TARGET_LANG: target language code, e.g. EN-US, DE (default: EN-US)
//   - BATCH_MAX: max cues per outbound batch (default: 7)
//   - MAX_RETRIES: attempts per batch on transient failures (default: 3)
//
// Cache Configuration:
//   - DB_PATH: SQLite database path (default: data/streamsub.db)
//   - RETENTION_DAYS: eviction horizon for unvisited work items (default: 30)
//
// System Configuration:
//   - USAGE_CRON: cron expression for the quota usage report (default: daily)
//   - LOG_LEVEL: debug|info|warn|error (default: info)
//   - LOG_FILE: log file path; empty logs to stdout
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// SourceLang is the subtitle source language of the streaming service.
// It is fixed; only the target language is user-selected.
const SourceLang = "NO"

type Config struct {
	DeepL     DeepLConfig
	Translate TranslateConfig
	Cache     CacheConfig
	System    SystemConfig
}

// DeepLConfig holds the credential and account tier for the provider.
type DeepLConfig struct {
	APIKey         string
	Pro            bool
	TimeoutSeconds int
}

type TranslateConfig struct {
	// TargetLang is the DeepL-style target code, upper-cased (EN-US, DE).
	TargetLang string
	// TargetTag is the parsed form of TargetLang, kept for collaborators
	// that want BCP 47 semantics.
	TargetTag  language.Tag
	BatchMax   int
	MaxRetries int
}

type CacheConfig struct {
	DBPath        string
	RetentionDays int
}

type SystemConfig struct {
	UsageCron string
	LogLevel  string
	LogFile   string
}

// NewFromEnv builds a Config from environment variables and validates it.
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		DeepL: DeepLConfig{
			APIKey:         getEnvString("DEEPL_API_KEY", ""),
			Pro:            strings.EqualFold(getEnvString("DEEPL_PLAN", "free"), "pro"),
			TimeoutSeconds: getEnvInt("DEEPL_TIMEOUT", 60),
		},
		Translate: TranslateConfig{
			TargetLang: strings.ToUpper(getEnvString("TARGET_LANG", "EN-US")),
			BatchMax:   getEnvInt("BATCH_MAX", 7),
			MaxRetries: getEnvInt("MAX_RETRIES", 3),
		},
		Cache: CacheConfig{
			DBPath:        getEnvString("DB_PATH", "data/streamsub.db"),
			RetentionDays: getEnvInt("RETENTION_DAYS", 30),
		},
		System: SystemConfig{
			UsageCron: getEnvString("USAGE_CRON", "0 0 * * *"),
			LogLevel:  getEnvString("LOG_LEVEL", "info"),
			LogFile:   getEnvString("LOG_FILE", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DeepL.APIKey == "" {
		return fmt.Errorf("DEEPL_API_KEY is required")
	}
	tag, err := language.Parse(c.Translate.TargetLang)
	if err != nil {
		return fmt.Errorf("TARGET_LANG %q is not a valid language code: %w", c.Translate.TargetLang, err)
	}
	c.Translate.TargetTag = tag
	if c.Translate.BatchMax <= 0 {
		return fmt.Errorf("BATCH_MAX must be positive, got %d", c.Translate.BatchMax)
	}
	if c.Translate.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be positive, got %d", c.Translate.MaxRetries)
	}
	if c.Cache.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.Cache.RetentionDays)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
