// Package config loads the bot settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SummarizerOpenAI = "openai"
	SummarizerGemini = "gemini"

	DestinationTelegram = "telegram"
	DestinationWebhook  = "webhook"
	DestinationVK       = "vk"

	FanoutAll        = "all"
	FanoutBestEffort = "best-effort"

	PendingRetry = "retry"
	PendingSkip  = "skip"
)

type Config struct {
	// Source settings
	SourceConfigPath string

	// Summarizer settings
	Summarizer            string // "openai" or "gemini"
	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIBaseURL         string
	GeminiAPIKey          string
	GeminiModel           string
	SummaryTargetLength   int
	SummaryLanguage       string
	RephraseTitle         bool
	MaxSummarizerRequests int // per day, 0 = unlimited
	SummaryCacheTTL       time.Duration

	// Content fit guard
	MaxPostRunes   int
	FitMarginRunes int

	// Image transform
	PerturbPixels  int
	HorizontalFlip bool
	ImageFilters   []string // empty means every filter

	// Destinations, in publish order
	Destinations       []string
	TelegramToken      string
	TelegramChatID     string
	VKAccessToken      string
	VKGroupID          string
	VKAPIVersion       string
	WebhookURL         string
	WebhookToken       string
	CrossPromoFooter   string
	FooterDestinations []string

	// Ledger settings
	LedgerPath    string
	DatabaseURL   string
	FanoutPolicy  string
	PendingPolicy string

	// App settings
	IdleInterval   time.Duration
	TempDir        string
	SentryDSN      string
	Environment    string
	Debug          bool
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration

	// Monitoring
	EnableHTTPMonitoring bool
	MonitoringPort       string
}

func Load() (*Config, error) {
	cfg := &Config{
		SourceConfigPath:      getEnvOrDefault("SOURCE_CONFIG_PATH", "configs/source.yaml"),
		Summarizer:            strings.ToLower(getEnvOrDefault("SUMMARIZER", SummarizerOpenAI)),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:           os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:         os.Getenv("OPENAI_BASE_URL"),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           os.Getenv("GEMINI_MODEL"),
		SummaryTargetLength:   getEnvIntOrDefault("SUMMARY_TARGET_LENGTH", 600),
		SummaryLanguage:       os.Getenv("SUMMARY_LANGUAGE"),
		RephraseTitle:         getEnvBoolOrDefault("REPHRASE_TITLE", false),
		MaxSummarizerRequests: getEnvIntOrDefault("MAX_SUMMARIZER_REQUESTS", 0),
		SummaryCacheTTL:       getEnvDurationOrDefault("SUMMARY_CACHE_TTL", 24*time.Hour),

		MaxPostRunes:   getEnvIntOrDefault("MAX_POST_RUNES", 1000),
		FitMarginRunes: getEnvIntOrDefault("FIT_MARGIN_RUNES", 50),

		PerturbPixels:  getEnvIntOrDefault("PERTURB_PIXELS", 100),
		HorizontalFlip: getEnvBoolOrDefault("HORIZONTAL_FLIP", true),
		ImageFilters:   getEnvListOrDefault("IMAGE_FILTERS", nil),

		Destinations:       getEnvListOrDefault("DESTINATIONS", []string{DestinationTelegram, DestinationWebhook, DestinationVK}),
		TelegramToken:      os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:     os.Getenv("TELEGRAM_CHAT_ID"),
		VKAccessToken:      os.Getenv("VK_ACCESS_TOKEN"),
		VKGroupID:          os.Getenv("VK_GROUP_ID"),
		VKAPIVersion:       getEnvOrDefault("VK_API_VERSION", "5.131"),
		WebhookURL:         os.Getenv("WEBHOOK_URL"),
		WebhookToken:       os.Getenv("WEBHOOK_TOKEN"),
		CrossPromoFooter:   os.Getenv("CROSS_PROMO_FOOTER"),
		FooterDestinations: getEnvListOrDefault("FOOTER_DESTINATIONS", nil),

		LedgerPath:    getEnvOrDefault("LEDGER_PATH", "sent_urls.txt"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		FanoutPolicy:  strings.ToLower(getEnvOrDefault("FANOUT_POLICY", FanoutAll)),
		PendingPolicy: strings.ToLower(getEnvOrDefault("PENDING_POLICY", PendingRetry)),

		IdleInterval:   getEnvDurationOrDefault("IDLE_INTERVAL", 60*time.Second),
		TempDir:        getEnvOrDefault("TEMP_DIR", os.TempDir()),
		SentryDSN:      os.Getenv("SENTRY_DSN"),
		Environment:    getEnvOrDefault("ENVIRONMENT", "production"),
		Debug:          getEnvBoolOrDefault("DEBUG", false),
		RequestTimeout: getEnvDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		RetryAttempts:  getEnvIntOrDefault("RETRY_ATTEMPTS", 3),
		RetryDelay:     getEnvDurationOrDefault("RETRY_DELAY", 5*time.Second),

		EnableHTTPMonitoring: getEnvBoolOrDefault("ENABLE_HTTP_MONITORING", false),
		MonitoringPort:       getEnvOrDefault("MONITORING_PORT", "8080"),
	}

	return cfg, cfg.Validate()
}

// LoadLedger reads only the ledger settings and skips validation of the rest.
func LoadLedger() *Config {
	return &Config{
		LedgerPath:  getEnvOrDefault("LEDGER_PATH", "sent_urls.txt"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
}

// FooterFor reports whether destination gets the cross-promotion footer.
func (c *Config) FooterFor(destination string) bool {
	for _, d := range c.FooterDestinations {
		if d == destination {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("90s") or plain seconds ("90").
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch c.Summarizer {
	case SummarizerOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case SummarizerGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	default:
		return fmt.Errorf("SUMMARIZER must be 'openai' or 'gemini'")
	}

	if len(c.Destinations) == 0 {
		return fmt.Errorf("DESTINATIONS must name at least one destination")
	}
	seen := make(map[string]bool, len(c.Destinations))
	for _, d := range c.Destinations {
		if seen[d] {
			return fmt.Errorf("destination %q is listed twice", d)
		}
		seen[d] = true

		switch d {
		case DestinationTelegram:
			if c.TelegramToken == "" {
				return fmt.Errorf("TELEGRAM_TOKEN is required")
			}
			if c.TelegramChatID == "" {
				return fmt.Errorf("TELEGRAM_CHAT_ID is required")
			}
		case DestinationVK:
			if c.VKAccessToken == "" {
				return fmt.Errorf("VK_ACCESS_TOKEN is required")
			}
			if c.VKGroupID == "" {
				return fmt.Errorf("VK_GROUP_ID is required")
			}
		case DestinationWebhook:
			if c.WebhookURL == "" {
				return fmt.Errorf("WEBHOOK_URL is required")
			}
		default:
			return fmt.Errorf("unknown destination %q", d)
		}
	}

	if c.FanoutPolicy != FanoutAll && c.FanoutPolicy != FanoutBestEffort {
		return fmt.Errorf("FANOUT_POLICY must be 'all' or 'best-effort'")
	}
	if c.PendingPolicy != PendingRetry && c.PendingPolicy != PendingSkip {
		return fmt.Errorf("PENDING_POLICY must be 'retry' or 'skip'")
	}
	if c.SummaryTargetLength <= 0 {
		return fmt.Errorf("SUMMARY_TARGET_LENGTH must be positive")
	}
	if c.MaxPostRunes <= 0 || c.FitMarginRunes < 0 {
		return fmt.Errorf("MAX_POST_RUNES must be positive and FIT_MARGIN_RUNES not negative")
	}
	if c.PerturbPixels < 0 {
		return fmt.Errorf("PERTURB_PIXELS must not be negative")
	}
	if c.IdleInterval <= 0 {
		return fmt.Errorf("IDLE_INTERVAL must be positive")
	}
	return nil
}
