package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRINITY_TELEGRAM_TOKEN", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
	if cfg.Notify.Enabled || cfg.Notify.Level != "all" || cfg.Notify.KafkaTopic != "trinity.trades" {
		t.Errorf("notify = %+v, want the template defaults", cfg.Notify)
	}
	if !filepath.IsAbs(cfg.Storage.Path) {
		t.Errorf("storage path %q not resolved against the config dir", cfg.Storage.Path)
	}
}

func TestTelegramTokenFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRINITY_TELEGRAM_TOKEN", "123:from-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Credentials.Telegram.BotToken != "123:from-env" {
		t.Errorf("bot token = %q, want the env value", cfg.Credentials.Telegram.BotToken)
	}
}

func TestValidateNotify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"disabled", func(c *Config) {}, ""},
		{"no channel", func(c *Config) { c.Notify.Enabled = true }, "no channel"},
		{"webhook", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.WebhookURL = "https://hooks.example.com/trinity"
		}, ""},
		{"bad webhook", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.WebhookURL = "not a url"
		}, "valid URL"},
		{"chat without token", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.TelegramChatID = "-100"
		}, "bot_token"},
		{"chat with token", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.TelegramChatID = "-100"
			c.Credentials.Telegram.BotToken = "123:abc"
		}, ""},
		{"kafka", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.KafkaBrokers = []string{"localhost:9092"}
			c.Notify.KafkaTopic = "trades"
		}, ""},
		{"kafka without topic", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.KafkaBrokers = []string{"localhost:9092"}
			c.Notify.KafkaTopic = ""
		}, "KafkaTopic is required"},
		{"kafka bad broker", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.KafkaBrokers = []string{"localhost"}
			c.Notify.KafkaTopic = "trades"
		}, "host:port"},
		{"bad level", func(c *Config) { c.Notify.Level = "loud" }, "one of: all, trades, risk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRiskAndScoringCutOffs(t *testing.T) {
	cfg := Default()
	if cfg.Scoring.ADXStrongAbove != 25 || cfg.Scoring.ADXVeryStrongAbove != 35 {
		t.Errorf("ADX cut-offs = %v/%v, want 25/35", cfg.Scoring.ADXStrongAbove, cfg.Scoring.ADXVeryStrongAbove)
	}
	if cfg.Risk.TrailingPercent != 1 || cfg.Risk.TrailingActivationPercent != 0.5 {
		t.Errorf("trailing = %v/%v, want 1/0.5", cfg.Risk.TrailingPercent, cfg.Risk.TrailingActivationPercent)
	}

	cfg.Scoring.ADXVeryStrongAbove = 20
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ADXVeryStrongAbove") {
		t.Errorf("Validate() error = %v, want the very strong cut-off rejected", err)
	}

	cfg = Default()
	cfg.Risk.TrailingPercent = -1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "TrailingPercent") {
		t.Errorf("Validate() error = %v, want a negative trail rejected", err)
	}
}
