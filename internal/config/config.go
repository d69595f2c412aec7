package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the merged imaginebot configuration
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Stability StabilityConfig `json:"stability"`
	Auth      AuthConfig      `json:"auth"`
	Watermark WatermarkConfig `json:"watermark"`
	Timeouts  TimeoutConfig   `json:"timeouts"`
	LogLevel  string          `json:"logLevel"`
}

type TelegramConfig struct {
	BotToken string `json:"botToken"`
}

type StabilityConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseURL"`
}

// AuthConfig holds the user and admin allow-lists. Each entry is a
// Telegram user id, or "*" to allow everyone.
type AuthConfig struct {
	AllowedUsers  []string `json:"allowedUsers"`
	AllowedAdmins []string `json:"allowedAdmins"`
}

type WatermarkConfig struct {
	Enabled  bool   `json:"enabled"`
	LogoPath string `json:"logoPath"`
}

// TimeoutConfig controls the conversation timers, in seconds.
type TimeoutConfig struct {
	StepSeconds     int `json:"stepSeconds"`
	StallSeconds    int `json:"stallSeconds"`
	TickSeconds     int `json:"tickSeconds"`
	ProgressSeconds int `json:"progressSeconds"`
}

func (t TimeoutConfig) Step() time.Duration     { return time.Duration(t.StepSeconds) * time.Second }
func (t TimeoutConfig) Stall() time.Duration    { return time.Duration(t.StallSeconds) * time.Second }
func (t TimeoutConfig) Tick() time.Duration     { return time.Duration(t.TickSeconds) * time.Second }
func (t TimeoutConfig) Progress() time.Duration { return time.Duration(t.ProgressSeconds) * time.Second }

// Load reads configuration in layers: built-in defaults, then
// ~/.imaginebot/imaginebot.json, then a .env file in the working
// directory, then process environment variables. Later layers win.
func Load() (*Config, error) {
	cfg := &Config{
		Stability: StabilityConfig{
			BaseURL: "https://api.stability.ai",
		},
		Watermark: WatermarkConfig{
			Enabled:  true,
			LogoPath: "logo.png",
		},
		Timeouts: TimeoutConfig{
			StepSeconds:     60,
			StallSeconds:    180,
			TickSeconds:     30,
			ProgressSeconds: 10,
		},
		LogLevel: "info",
	}

	home, _ := os.UserHomeDir()
	path := filepath.Join(home, ".imaginebot", "imaginebot.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// .env is optional; env vars already set in the process win over it
	_ = godotenv.Load()
	cfg.applyEnv()

	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is not configured (set TELEGRAM_BOT_TOKEN)")
	}
	if cfg.Stability.APIKey == "" {
		return nil, fmt.Errorf("stability api key is not configured (set STABILITY_API_KEY)")
	}

	return cfg, nil
}

// applyEnv overrides config values from environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("STABILITY_API_KEY"); v != "" {
		c.Stability.APIKey = v
	}
	if v := os.Getenv("STABILITY_BASE_URL"); v != "" {
		c.Stability.BaseURL = v
	}
	if v := os.Getenv("USER_ID"); v != "" {
		c.Auth.AllowedUsers = splitList(v)
	}
	if v := os.Getenv("ADMIN_ID"); v != "" {
		c.Auth.AllowedAdmins = splitList(v)
	}
	if v := os.Getenv("WATERMARK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			c.Watermark.Enabled = b
		}
	}
	if v := os.Getenv("WATERMARK_LOGO"); v != "" {
		c.Watermark.LogoPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
