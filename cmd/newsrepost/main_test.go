package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsrepost/internal/metrics"
	"github.com/deusflow/newsrepost/internal/ratelimit"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestLedgerCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent_urls.txt")
	t.Setenv("LEDGER_PATH", path)
	t.Setenv("DATABASE_URL", "")

	assert.Equal(t, "false\n", execute(t, "ledger", "contains", "https://news.example/a"))

	execute(t, "ledger", "add", "https://news.example/a", "https://news.example/b", "https://news.example/a")
	assert.Equal(t, "true\n", execute(t, "ledger", "contains", "https://news.example/a"))
	assert.Equal(t, "https://news.example/a\nhttps://news.example/b\n", execute(t, "ledger", "list"))

	execute(t, "ledger", "add", "--destination", "vk", "https://news.example/c")
	assert.Equal(t, "https://news.example/c\n", execute(t, "ledger", "list", "--destination", "vk"))
	flagDestination = ""

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://news.example/a\nhttps://news.example/b\n", string(data))
}

func TestTransformCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")

	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for x := range 8 {
		for y := range 6 {
			img.Set(x, y, color.NRGBA{R: uint8(x * 30), G: 120, B: uint8(y * 40), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(in, buf.Bytes(), 0644))

	msg := execute(t, "transform", "--filter", "inkwell", "--pixels", "5", in, out)
	assert.Contains(t, msg, "filter inkwell")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
	assert.Equal(t, 6, cfg.Height)
}

func TestHealthHandler(t *testing.T) {
	m := metrics.New()

	rec := httptest.NewRecorder()
	healthHandler(m)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	m.SetError("publish webhook: endpoint down")
	rec = httptest.NewRecorder()
	healthHandler(m)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "publish webhook: endpoint down", body["last_error"])
}

func TestMetricsHandler(t *testing.T) {
	m := metrics.New()
	m.IncrementPosts("vk")

	rec := httptest.NewRecorder()
	metricsHandler(m, nil)(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]interface{}{"vk": float64(1)}, body["posts_by_destination"])
	assert.NotContains(t, body, "ai_usage")
}

func TestMetricsHandler_IncludesSummarizerBudget(t *testing.T) {
	budget := ratelimit.NewAIRateLimiter(10)
	require.NoError(t, budget.Use("openai"))

	rec := httptest.NewRecorder()
	metricsHandler(metrics.New(), budget.GetStats)(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	usage, ok := body["ai_usage"].(map[string]interface{})
	require.True(t, ok, "ai_usage missing: %v", body)
	assert.Equal(t, float64(1), usage["total_used"])
	assert.Equal(t, float64(10), usage["total_limit"])
	assert.Equal(t, float64(1), usage["openai_used"])
}
