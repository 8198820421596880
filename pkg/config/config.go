// Package config loads nanoclaw configuration from a JSON file with
// NANOCLAW_* environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers, so
// allow_from can contain both "5491150128981" and 5491150128981.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []any to handle mixed types
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
	Gateway   GatewayConfig   `json:"gateway"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Providers ProvidersConfig `json:"providers"`
	Session   SessionConfig   `json:"session"`
}

type GatewayConfig struct {
	Host        string `env:"NANOCLAW_GATEWAY_HOST"         json:"host"`
	Port        int    `env:"NANOCLAW_GATEWAY_PORT"         json:"port"`
	WebhookPath string `env:"NANOCLAW_GATEWAY_WEBHOOK_PATH" json:"webhook_path"`
}

type WhatsAppConfig struct {
	Token               string              `env:"NANOCLAW_WHATSAPP_TOKEN"                 json:"token"`
	PhoneNumberID       string              `env:"NANOCLAW_WHATSAPP_PHONE_NUMBER_ID"       json:"phone_number_id"`
	VerifyToken         string              `env:"NANOCLAW_WHATSAPP_VERIFY_TOKEN"          json:"verify_token"`
	AppSecret           string              `env:"NANOCLAW_WHATSAPP_APP_SECRET"            json:"app_secret"`
	APIBase             string              `env:"NANOCLAW_WHATSAPP_API_BASE"              json:"api_base"`
	AllowFrom           FlexibleStringSlice `env:"NANOCLAW_WHATSAPP_ALLOW_FROM"            json:"allow_from"`
	MediaTimeoutSeconds int                 `env:"NANOCLAW_WHATSAPP_MEDIA_TIMEOUT_SECONDS" json:"media_timeout_seconds"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

type SessionConfig struct {
	MaxIdleMinutes int    `env:"NANOCLAW_SESSION_MAX_IDLE_MINUTES" json:"max_idle_minutes"`
	SweepSchedule  string `env:"NANOCLAW_SESSION_SWEEP_SCHEDULE"   json:"sweep_schedule"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/webhook",
		},
		WhatsApp: WhatsAppConfig{
			APIBase:             "https://graph.facebook.com/v21.0",
			MediaTimeoutSeconds: 30,
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{Model: "claude-sonnet-4.6"},
			OpenAI:    ProviderConfig{Model: "gpt-image-1"},
		},
		Session: SessionConfig{
			MaxIdleMinutes: 240,
			SweepSchedule:  "*/10 * * * *",
		},
	}
}

// Provider env overrides carry the provider name in the variable name, so
// they are applied by hand rather than through struct tags.
func applyProviderEnv(cfg *Config) {
	apply := func(p *ProviderConfig, name string) {
		if v := os.Getenv("NANOCLAW_PROVIDERS_" + name + "_API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv("NANOCLAW_PROVIDERS_" + name + "_API_BASE"); v != "" {
			p.APIBase = v
		}
		if v := os.Getenv("NANOCLAW_PROVIDERS_" + name + "_MODEL"); v != "" {
			p.Model = v
		}
	}
	apply(&cfg.Providers.Anthropic, "ANTHROPIC")
	apply(&cfg.Providers.OpenAI, "OPENAI")
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// No file: defaults plus environment.
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyProviderEnv(cfg)

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// ValidateGateway checks the fields the gateway command cannot run without.
func (c *Config) ValidateGateway() error {
	if c.WhatsApp.Token == "" {
		return errors.New("whatsapp.token is required")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return errors.New("whatsapp.phone_number_id is required")
	}
	if c.WhatsApp.VerifyToken == "" {
		return errors.New("whatsapp.verify_token is required")
	}
	return c.ValidateProviders()
}

// ValidateProviders checks the engine backends' credentials.
func (c *Config) ValidateProviders() error {
	if c.Providers.Anthropic.APIKey == "" {
		return errors.New("providers.anthropic.api_key is required")
	}
	if c.Providers.OpenAI.APIKey == "" {
		return errors.New("providers.openai.api_key is required")
	}
	return nil
}
