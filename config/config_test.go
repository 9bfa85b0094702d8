package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "router", cfg.Decision.Variant)
	assert.Equal(t, 3, cfg.Decision.Retry.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Response.Timeout)
}

func TestLoad(t *testing.T) {
	t.Setenv("AGENTTURN_TEST_DSN", "/tmp/turns.db")

	path := filepath.Join(t.TempDir(), "agentturn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  name: anthropic
  model: claude-3-5-sonnet-latest
  api_key_env: ANTHROPIC_API_KEY
decision:
  variant: intent
  max_turns: 4
  allowed_tools: ["search_*"]
  retry:
    max_attempts: 5
    base_delay: 250ms
    max_delay: 2s
  tool_timeout: 10s
history:
  limit: 50
  timezone: Europe/Berlin
store:
  driver: sqlite
  dsn: ${AGENTTURN_TEST_DSN}
log:
  level: debug
  format: json
events:
  trace_topic: turn.events
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, "intent", cfg.Decision.Variant)
	assert.Equal(t, 4, cfg.Decision.MaxTurns)
	assert.Equal(t, []string{"search_*"}, cfg.Decision.AllowedTools)
	assert.Equal(t, 5, cfg.Decision.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Decision.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Decision.Retry.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Decision.ToolTimeout)
	assert.Equal(t, "/tmp/turns.db", cfg.Store.DSN)
	assert.Equal(t, "turn.events", cfg.Events.TraceTopic)

	// Untouched sections keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Response.Timeout)
	assert.Equal(t, 10, cfg.Engine.MaxConcurrentTurns)

	loc, err := cfg.History.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"provider", "provider: {name: cohere}", "provider.name"},
		{"variant", "decision: {variant: planner}", "decision.variant"},
		{"attempts", "decision: {retry: {max_attempts: 0}}", "max_attempts"},
		{"sqlite dsn", "store: {driver: sqlite}", "store.dsn"},
		{"timezone", "history: {timezone: Mars/Olympus}", "history.timezone"},
		{"log level", "log: {level: loud}", "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("provider: [unterminated"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestProviderAPIKey(t *testing.T) {
	t.Setenv("AGENTTURN_TEST_KEY", "sk-test")

	assert.Equal(t, "sk-test", ProviderConfig{APIKeyEnv: "AGENTTURN_TEST_KEY"}.APIKey())
	assert.Empty(t, ProviderConfig{}.APIKey())
}

func TestFindConfig(t *testing.T) {
	_, err := FindConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	found, err := FindConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, found)
}
