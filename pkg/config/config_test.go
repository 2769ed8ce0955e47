package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// TestDefaultConfig_Gateway verifies gateway defaults
func TestDefaultConfig_Gateway(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Error("Gateway host should have default value")
	}
	if cfg.Gateway.Port == 0 {
		t.Error("Gateway port should have default value")
	}
	if cfg.Gateway.MaxMessageChars != 1000 {
		t.Errorf("MaxMessageChars = %d, want 1000", cfg.Gateway.MaxMessageChars)
	}
}

func TestDefaultConfig_ScoringWeights(t *testing.T) {
	cfg := DefaultConfig()

	r := cfg.Scoring.Ranker
	if sum := r.Weight + r.Recency + r.AccessFrequency + r.Relevance; sum < 0.999 || sum > 1.001 {
		t.Errorf("ranker weights sum to %.3f, want 1", sum)
	}
	s := cfg.Scoring.Selector
	if sum := s.Confidence + s.Relevance + s.Novelty + s.Coherence + s.PersonalityMatch + s.SentimentFit; sum < 0.999 || sum > 1.001 {
		t.Errorf("selector weights sum to %.3f, want 1", sum)
	}
	if cfg.Scoring.MaxResults != 10 {
		t.Errorf("MaxResults = %d, want 10", cfg.Scoring.MaxResults)
	}
}

func TestDefaultConfig_Discord(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Discord.Enabled {
		t.Error("Discord should be disabled by default")
	}
	if !cfg.Discord.RequireMention {
		t.Error("Discord should require a mention in guild channels by default")
	}
	if cfg.Discord.Token != "" {
		t.Error("Discord token should be empty by default")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("DOTPERSONA_GATEWAY_PORT", "19000")
	t.Setenv("DOTPERSONA_PERSONA_SEED", "42")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Gateway.Port; got != 19000 {
		t.Fatalf("expected env override port, got %d", got)
	}
	if got := cfg.Persona.Seed; got != 42 {
		t.Fatalf("expected env override seed, got %d", got)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := map[string]any{
		"store":   map[string]any{"path": "/tmp/persona.db", "timeout_ms": 500},
		"discord": map[string]any{"allow_from": []any{"alice", 12345}},
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOTPERSONA_STORE_TIMEOUT_MS", "750")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.StorePath(); got != "/tmp/persona.db" {
		t.Fatalf("StorePath = %q", got)
	}
	if got := cfg.StoreTimeout(); got != 750*time.Millisecond {
		t.Fatalf("StoreTimeout = %v, want 750ms", got)
	}
	if len(cfg.Discord.AllowFrom) != 2 || cfg.Discord.AllowFrom[1] != "12345" {
		t.Fatalf("unexpected allow_from %v", cfg.Discord.AllowFrom)
	}
	if cfg.Gateway.Port != DefaultConfig().Gateway.Port {
		t.Fatalf("expected untouched sections to keep defaults")
	}
}

func TestLoadConfig_RejectsDiscordWithoutToken(t *testing.T) {
	t.Setenv("DOTPERSONA_DISCORD_ENABLED", "true")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected validation error for discord without token")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestConfig_GatewayAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 8080
	if got := cfg.GatewayAddr(); got != "127.0.0.1:8080" {
		t.Fatalf("GatewayAddr = %q", got)
	}
}
