// Package config loads agentturn configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentturn/flow"
	"github.com/hupe1980/agentturn/logging"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// DefaultSearchPaths returns the config file search order:
// ./agentturn.yaml, ~/.config/agentturn/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"agentturn.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentturn", "config.yaml"))
	}

	return paths
}

// FindConfig locates a config file. An explicit path must exist. Without
// one the search paths are tried; finding nothing returns "" and no error.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}

		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Config holds all agentturn configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Decision DecisionConfig `yaml:"decision"`
	Response ResponseConfig `yaml:"response"`
	History  HistoryConfig  `yaml:"history"`
	Store    StoreConfig    `yaml:"store"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
	Events   EventsConfig   `yaml:"events"`
}

// ProviderConfig selects the model backend.
type ProviderConfig struct {
	Name        string   `yaml:"name"` // openai, anthropic, mock
	Model       string   `yaml:"model"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// APIKey reads the key from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}

	return os.Getenv(p.APIKeyEnv)
}

// DecisionConfig configures the decision stage.
type DecisionConfig struct {
	Variant      string           `yaml:"variant"` // router, intent
	MaxTurns     int              `yaml:"max_turns"`
	AllowedTools []string         `yaml:"allowed_tools"`
	Retry        flow.RetryConfig `yaml:"retry"`
	// MaxParallelTools bounds concurrently executing tools; 0 means unbounded.
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
}

// ResponseConfig configures the response stage.
type ResponseConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig configures context assembly.
type HistoryConfig struct {
	Limit    int    `yaml:"limit"`
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone; empty means the local zone.
func (h HistoryConfig) Location() (*time.Location, error) {
	if h.Timezone == "" {
		return time.Local, nil
	}

	return time.LoadLocation(h.Timezone)
}

// StoreConfig selects the message store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite
	DSN    string `yaml:"dsn"`
}

// EngineConfig configures the orchestrator.
type EngineConfig struct {
	MaxConcurrentTurns int `yaml:"max_concurrent_turns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json, text
}

// EventsConfig configures event publishing.
type EventsConfig struct {
	// TraceTopic publishes every event to an in-process watermill topic.
	TraceTopic string `yaml:"trace_topic"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{Name: "openai", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
		Decision: DecisionConfig{
			Variant: "router",
			Retry:   flow.DefaultRetryConfig(),
		},
		Response: ResponseConfig{Timeout: flow.DefaultResponseTimeout},
		History:  HistoryConfig{Limit: 20},
		Store:    StoreConfig{Driver: "memory"},
		Engine:   EngineConfig{MaxConcurrentTurns: 10},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a YAML configuration file on top of Default. Environment
// variables in the file are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML configuration on top of Default and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Name {
	case "openai", "anthropic", "mock":
	default:
		errs = append(errs, fmt.Errorf("provider.name %q: want openai, anthropic or mock", c.Provider.Name))
	}

	switch c.Decision.Variant {
	case "router", "intent":
	default:
		errs = append(errs, fmt.Errorf("decision.variant %q: want router or intent", c.Decision.Variant))
	}

	if c.Decision.MaxTurns < 0 {
		errs = append(errs, errors.New("decision.max_turns must not be negative"))
	}

	if c.Decision.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("decision.retry.max_attempts must be at least 1"))
	}

	if c.Decision.Retry.BaseDelay < 0 || c.Decision.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("decision.retry delays must not be negative"))
	}

	if c.Response.Timeout < 0 {
		errs = append(errs, errors.New("response.timeout must not be negative"))
	}

	if c.History.Limit < 0 {
		errs = append(errs, errors.New("history.limit must not be negative"))
	}

	if _, err := c.History.Location(); err != nil {
		errs = append(errs, fmt.Errorf("history.timezone: %w", err))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want memory or sqlite", c.Store.Driver))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Log.Format {
	case "console", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want console, json or text", c.Log.Format))
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
