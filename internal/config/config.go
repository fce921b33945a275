// Package config handles configuration for the scheduling negotiation
// service.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all configuration.
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Calendar
	Calendar CalendarConfig `json:"calendar"`

	// LLM
	LLM LLMConfig `json:"llm"`

	// Negotiation
	Negotiation NegotiationConfig `json:"negotiation"`
}

// ServerConfig for the HTTP/WebSocket server.
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// CalendarConfig for the Google Calendar OAuth integration.
type CalendarConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

// LLMConfig configures the Anthropic Messages API client used for prose
// generation and intent extraction. A blank APIKey leaves the client
// unconfigured; every caller of internal/llm already falls back to a
// deterministic default in that case.
type LLMConfig struct {
	Anthropic AnthropicLLM `json:"anthropic"`
}

// AnthropicLLM configures the Anthropic Messages API backend.
type AnthropicLLM struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// NegotiationConfig bounds the negotiation loop.
type NegotiationConfig struct {
	MaxRounds         int `json:"max_rounds"`
	DeadlockThreshold int `json:"deadlock_threshold"`
}

// Default returns default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".scheduler"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Calendar: CalendarConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  "http://localhost:8765/callback",
		},
		LLM: LLMConfig{
			Anthropic: AnthropicLLM{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  "claude-sonnet-4-20250514",
			},
		},
		Negotiation: NegotiationConfig{
			MaxRounds:         5,
			DeadlockThreshold: 2,
		},
	}
}

// Load loads config from file, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.LLM.Anthropic.APIKey = apiKey
	}
	if clientID := os.Getenv("GOOGLE_CLIENT_ID"); clientID != "" {
		cfg.Calendar.ClientID = clientID
	}
	if clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET"); clientSecret != "" {
		cfg.Calendar.ClientSecret = clientSecret
	}

	return cfg, nil
}

// Save saves config to file. API keys are never persisted; they are always
// sourced from the environment on Load.
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	safeCfg := *c
	safeCfg.LLM.Anthropic.APIKey = ""
	safeCfg.Calendar.ClientSecret = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
