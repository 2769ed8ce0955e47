package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Persona     PersonaConfig     `json:"persona"`
	Store       StoreConfig       `json:"store"`
	Gateway     GatewayConfig     `json:"gateway"`
	Discord     DiscordConfig     `json:"discord"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Scoring     ScoringConfig     `json:"scoring"`
	Extraction  ExtractionConfig  `json:"extraction"`
	LogLevel    string            `json:"log_level" env:"DOTPERSONA_LOG_LEVEL"`
	mu          sync.RWMutex
}

type PersonaConfig struct {
	Name string `json:"name" env:"DOTPERSONA_PERSONA_NAME"`
	// Seed fixes the random source for reproducible replies; 0 seeds from the clock.
	Seed uint64 `json:"seed" env:"DOTPERSONA_PERSONA_SEED"`
}

type StoreConfig struct {
	Path      string `json:"path" env:"DOTPERSONA_STORE_PATH"`
	TimeoutMS int    `json:"timeout_ms" env:"DOTPERSONA_STORE_TIMEOUT_MS"`
}

type GatewayConfig struct {
	Host            string `json:"host" env:"DOTPERSONA_GATEWAY_HOST"`
	Port            int    `json:"port" env:"DOTPERSONA_GATEWAY_PORT"`
	MaxMessageChars int    `json:"max_message_chars" env:"DOTPERSONA_GATEWAY_MAX_MESSAGE_CHARS"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"DOTPERSONA_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"DOTPERSONA_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"DOTPERSONA_DISCORD_ALLOW_FROM"`

	// RequireMention limits guild channels to messages that mention the bot.
	// Direct messages are always answered.
	RequireMention bool `json:"require_mention" env:"DOTPERSONA_DISCORD_REQUIRE_MENTION"`
}

type MaintenanceConfig struct {
	Enabled bool   `json:"enabled" env:"DOTPERSONA_MAINTENANCE_ENABLED"`
	Cron    string `json:"cron" env:"DOTPERSONA_MAINTENANCE_CRON"`
}

// RankerWeights mirror memory.RankWeights.
type RankerWeights struct {
	Weight          float64 `json:"weight"`
	Recency         float64 `json:"recency"`
	AccessFrequency float64 `json:"access_frequency"`
	Relevance       float64 `json:"relevance"`
}

// SelectorWeights mirror generation.SelectorWeights.
type SelectorWeights struct {
	Confidence       float64 `json:"confidence"`
	Relevance        float64 `json:"relevance"`
	Novelty          float64 `json:"novelty"`
	Coherence        float64 `json:"coherence"`
	PersonalityMatch float64 `json:"personality_match"`
	SentimentFit     float64 `json:"sentiment_fit"`
}

type ScoringConfig struct {
	Ranker     RankerWeights   `json:"ranker"`
	Selector   SelectorWeights `json:"selector"`
	MaxResults int             `json:"max_results" env:"DOTPERSONA_SCORING_MAX_RESULTS"`
}

type ExtractionConfig struct {
	QueueSize int `json:"queue_size" env:"DOTPERSONA_EXTRACTION_QUEUE_SIZE"`
}

func DefaultConfig() *Config {
	return &Config{
		Persona: PersonaConfig{
			Name: "Walter",
		},
		Store: StoreConfig{
			Path:      "~/.dotpersona/state/persona.db",
			TimeoutMS: 2000,
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18791,
			MaxMessageChars: 1000,
		},
		Discord: DiscordConfig{
			AllowFrom:      FlexibleStringSlice{},
			RequireMention: true,
		},
		Maintenance: MaintenanceConfig{
			Enabled: true,
			Cron:    "*/30 * * * *",
		},
		Scoring: ScoringConfig{
			Ranker: RankerWeights{
				Weight:          0.4,
				Recency:         0.3,
				AccessFrequency: 0.2,
				Relevance:       0.1,
			},
			Selector: SelectorWeights{
				Confidence:       0.30,
				Relevance:        0.25,
				Novelty:          0.15,
				Coherence:        0.15,
				PersonalityMatch: 0.10,
				SentimentFit:     0.05,
			},
			MaxResults: 10,
		},
		Extraction: ExtractionConfig{
			QueueSize: 64,
		},
		LogLevel: "INFO",
	}
}

// DefaultPath is where the CLI looks for its config file.
func DefaultPath() string {
	return expandHome("~/.dotpersona/config.json")
}

// LoadConfig reads path over the defaults and then applies DOTPERSONA_*
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Gateway.MaxMessageChars < 0 {
		return fmt.Errorf("gateway.max_message_chars must not be negative")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}
	if c.Store.TimeoutMS < 0 {
		return fmt.Errorf("store.timeout_ms must not be negative")
	}
	return nil
}

func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Store.Path)
}

func (c *Config) StoreTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Store.TimeoutMS) * time.Millisecond
}

func (c *Config) GatewayAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
