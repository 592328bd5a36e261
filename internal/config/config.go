// Package config loads runtime configuration from an optional YAML file with
// environment-variable overrides, and can watch the file for changes so
// negotiation tunables apply without a restart.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces override variables, e.g. QP_SERVER__PORT=9090 sets
// server.port.
const envPrefix = "QP_"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Storage      StorageConfig      `koanf:"storage"`
	Discovery    DiscoveryConfig    `koanf:"discovery"`
	Email        EmailConfig        `koanf:"email"`
	OpenAI       OpenAIConfig       `koanf:"openai"`
	Clarify      ClarifyConfig      `koanf:"clarify"`
	Negotiation  NegotiationConfig  `koanf:"negotiation"`
	Dispatch     DispatchConfig     `koanf:"dispatch"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Extract      ExtractConfig      `koanf:"extract"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`
}

type DiscoveryConfig struct {
	SerpAPIKey string `koanf:"serpapi_key"`
}

type EmailConfig struct {
	SMTPAddr   string `koanf:"smtp_addr"`
	From       string `koanf:"from"`
	MailhogURL string `koanf:"mailhog_url"`
}

type OpenAIConfig struct {
	APIKey       string `koanf:"api_key"`
	Model        string `koanf:"model"`
	PromptBudget int    `koanf:"prompt_budget"`
}

type ClarifyConfig struct {
	IdleTimeout   string `koanf:"idle_timeout"`   // Duration string like "30m"
	SweepInterval string `koanf:"sweep_interval"` // Duration string like "5m"
}

type NegotiationConfig struct {
	AcceptPrice        float64  `koanf:"accept_price"`
	MaxRounds          int      `koanf:"max_rounds"`
	CounterDiscount    float64  `koanf:"counter_discount"`
	FinalKeywords      []string `koanf:"final_keywords"`
	RepeatPriceIsFinal bool     `koanf:"repeat_price_is_final"`
}

type DispatchConfig struct {
	MaxConcurrent int    `koanf:"max_concurrent"`
	PollInterval  string `koanf:"poll_interval"` // Duration string like "2s"
	PollTimeout   string `koanf:"poll_timeout"`  // Duration string like "2m"
}

type OrchestratorConfig struct {
	MaxSuppliers  int    `koanf:"max_suppliers"`
	ContactDomain string `koanf:"contact_domain"`
	SenderName    string `koanf:"sender_name"`
	AutoNegotiate bool   `koanf:"auto_negotiate"`
}

type ExtractConfig struct {
	FallbackCurrency string `koanf:"fallback_currency"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path when it exists, then applies QP_*
// environment overrides and defaults. A missing file is not an error so a
// pure-env deployment needs no file at all.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Discovery.SerpAPIKey = substituteEnvVars(cfg.Discovery.SerpAPIKey)
	cfg.OpenAI.APIKey = substituteEnvVars(cfg.OpenAI.APIKey)

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":                       8080,
		"storage.driver":                    "sqlite",
		"storage.dsn":                       "file:quotepilot.db",
		"email.smtp_addr":                   "localhost:1025",
		"email.from":                        "rfq@quotepilot.local",
		"email.mailhog_url":                 "http://localhost:8025",
		"openai.model":                      "gpt-4o-mini",
		"clarify.idle_timeout":              "30m",
		"clarify.sweep_interval":            "5m",
		"negotiation.max_rounds":            3,
		"negotiation.counter_discount":      0.10,
		"negotiation.repeat_price_is_final": true,
		"negotiation.final_keywords": []string{
			"final offer", "best price", "non-negotiable", "cannot go lower",
		},
		"dispatch.max_concurrent":     5,
		"dispatch.poll_interval":      "2s",
		"dispatch.poll_timeout":       "2m",
		"orchestrator.max_suppliers":  3,
		"orchestrator.contact_domain": "example.com",
		"orchestrator.sender_name":    "Procurement Team",
		"orchestrator.auto_negotiate": true,
		"extract.fallback_currency":   "USD",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Duration parses a duration string, falling back when it is empty or
// malformed. Duration fields are strings so YAML and env values share one
// format.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
