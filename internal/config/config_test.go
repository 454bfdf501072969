package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "@channel")
	t.Setenv("VK_ACCESS_TOKEN", "vk-token")
	t.Setenv("VK_GROUP_ID", "-42")
	t.Setenv("WEBHOOK_URL", "https://platform.example/api/posts")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, SummarizerOpenAI, cfg.Summarizer)
	assert.Equal(t, 600, cfg.SummaryTargetLength)
	assert.Equal(t, 1000, cfg.MaxPostRunes)
	assert.Equal(t, 50, cfg.FitMarginRunes)
	assert.Equal(t, 100, cfg.PerturbPixels)
	assert.True(t, cfg.HorizontalFlip)
	assert.Equal(t, 60*time.Second, cfg.IdleInterval)
	assert.Equal(t, []string{"telegram", "webhook", "vk"}, cfg.Destinations)
	assert.Equal(t, "sent_urls.txt", cfg.LedgerPath)
	assert.Equal(t, FanoutAll, cfg.FanoutPolicy)
	assert.Equal(t, PendingRetry, cfg.PendingPolicy)
	assert.Equal(t, "5.131", cfg.VKAPIVersion)
	assert.Empty(t, cfg.ImageFilters)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SUMMARIZER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("DESTINATIONS", " VK , telegram ")
	t.Setenv("IDLE_INTERVAL", "90")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("HORIZONTAL_FLIP", "false")
	t.Setenv("IMAGE_FILTERS", "original,lofi")
	t.Setenv("FOOTER_DESTINATIONS", "vk")
	t.Setenv("FANOUT_POLICY", "best-effort")
	t.Setenv("PENDING_POLICY", "skip")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, SummarizerGemini, cfg.Summarizer)
	assert.Equal(t, []string{"vk", "telegram"}, cfg.Destinations)
	assert.Equal(t, 90*time.Second, cfg.IdleInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.False(t, cfg.HorizontalFlip)
	assert.Equal(t, []string{"original", "lofi"}, cfg.ImageFilters)
	assert.True(t, cfg.FooterFor("vk"))
	assert.False(t, cfg.FooterFor("telegram"))
	assert.Equal(t, FanoutBestEffort, cfg.FanoutPolicy)
	assert.Equal(t, PendingSkip, cfg.PendingPolicy)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MAX_POST_RUNES", "lots")
	t.Setenv("HORIZONTAL_FLIP", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.MaxPostRunes)
	assert.True(t, cfg.HorizontalFlip)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing openai key", map[string]string{"OPENAI_API_KEY": ""}, "OPENAI_API_KEY is required"},
		{"missing gemini key", map[string]string{"SUMMARIZER": "gemini", "GEMINI_API_KEY": ""}, "GEMINI_API_KEY is required"},
		{"unknown summarizer", map[string]string{"SUMMARIZER": "llama"}, "SUMMARIZER must be"},
		{"unknown destination", map[string]string{"DESTINATIONS": "telegram,mastodon"}, `unknown destination "mastodon"`},
		{"duplicate destination", map[string]string{"DESTINATIONS": "vk,vk"}, "listed twice"},
		{"telegram chat", map[string]string{"TELEGRAM_CHAT_ID": ""}, "TELEGRAM_CHAT_ID is required"},
		{"vk group", map[string]string{"VK_GROUP_ID": ""}, "VK_GROUP_ID is required"},
		{"webhook url", map[string]string{"WEBHOOK_URL": ""}, "WEBHOOK_URL is required"},
		{"fanout", map[string]string{"FANOUT_POLICY": "some"}, "FANOUT_POLICY must be"},
		{"pending", map[string]string{"PENDING_POLICY": "drop"}, "PENDING_POLICY must be"},
		{"idle", map[string]string{"IDLE_INTERVAL": "0s"}, "IDLE_INTERVAL must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_UnusedDestinationNeedsNoCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DESTINATIONS", "webhook")
	t.Setenv("WEBHOOK_URL", "https://platform.example/api/posts")
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("VK_ACCESS_TOKEN", "")

	_, err := Load()
	assert.NoError(t, err)
}
