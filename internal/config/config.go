// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/irhub/inbound/internal/mailer"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LLMConfig configures the optional natural-language extraction stage.
type LLMConfig struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	CallsPerMinute int64
	DedupTTL       time.Duration
}

// GraphConfig holds Microsoft Graph app credentials for sending mail.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// MailConfig selects the outbound mail transport.
type MailConfig struct {
	Provider       string // "sendgrid", "graph" or "log"
	From           string
	FromName       string
	ReplyTo        string
	SendGridAPIKey string
	Graph          GraphConfig
}

// Mailer converts c into the transport configuration.
func (c MailConfig) Mailer() mailer.Config {
	return mailer.Config{
		Provider: c.Provider,
		From:     c.From,
		FromName: c.FromName,
		ReplyTo:  c.ReplyTo,
		SendGrid: mailer.SendGridConfig{APIKey: c.SendGridAPIKey},
		Graph: mailer.GraphConfig{
			TenantID:     c.Graph.TenantID,
			ClientID:     c.Graph.ClientID,
			ClientSecret: c.Graph.ClientSecret,
			Sender:       c.Graph.Sender,
		},
	}
}

// Config holds all configuration for the inbound service.
type Config struct {
	// Server
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Redis. Empty means in-process limiter and dedup cache, no events.
	RedisURL    string
	EventsQueue string

	// Inbound admission control
	InboundRateLimit  int64
	InboundRateWindow time.Duration

	// Matching
	MatchCandidateLimit int
	MatchLookback       time.Duration

	// Backfill re-matches stored replies every BackfillInterval. Zero
	// disables the background loop.
	BackfillInterval time.Duration
	BackfillWindow   time.Duration

	LLM  LLMConfig
	Mail MailConfig

	// Auth and admin
	AuthSecret  string
	TokenExpiry time.Duration
	AdminToken  string

	// Contacts maps jurisdiction name to request recipient.
	Contacts map[string]string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		LogLevel     string `yaml:"log_level"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Inbound struct {
		RateLimit  int64  `yaml:"rate_limit"`
		RateWindow string `yaml:"rate_window"`
	} `yaml:"inbound"`
	Match struct {
		CandidateLimit   int    `yaml:"candidate_limit"`
		Lookback         string `yaml:"lookback"`
		BackfillInterval string `yaml:"backfill_interval"`
		BackfillWindow   string `yaml:"backfill_window"`
	} `yaml:"match"`
	Parser struct {
		LLM struct {
			Enabled        *bool  `yaml:"enabled"`
			BaseURL        string `yaml:"base_url"`
			APIKey         string `yaml:"api_key"`
			Model          string `yaml:"model"`
			Timeout        string `yaml:"timeout"`
			MaxRetries     *int   `yaml:"max_retries"`
			CallsPerMinute int64  `yaml:"calls_per_minute"`
			DedupTTL       string `yaml:"dedup_ttl"`
		} `yaml:"llm"`
	} `yaml:"parser"`
	Mail struct {
		Provider string `yaml:"provider"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
		ReplyTo  string `yaml:"reply_to"`
		SendGrid struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"sendgrid"`
		Graph struct {
			TenantID     string `yaml:"tenant_id"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			Sender       string `yaml:"sender"`
		} `yaml:"graph"`
	} `yaml:"mail"`
	Auth struct {
		Secret      string `yaml:"secret"`
		TokenExpiry string `yaml:"token_expiry"`
	} `yaml:"auth"`
	Admin struct {
		Token string `yaml:"token"`
	} `yaml:"admin"`
	Contacts map[string]string `yaml:"contacts"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing config file is not an error; every
// setting then comes from the environment or its default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Environment only.
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	return build(&raw)
}

func build(raw *rawConfig) (*Config, error) {
	var errs []error
	duration := func(name, yamlValue, envKey string, fallback time.Duration) time.Duration {
		v := firstNonEmpty(yamlValue, os.Getenv(envKey))
		if v == "" {
			return fallback
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return fallback
		}
		return d
	}

	cfg := &Config{
		Port:         firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		ReadTimeout:  duration("server.read_timeout", raw.Server.ReadTimeout, "READ_TIMEOUT", 15*time.Second),
		WriteTimeout: duration("server.write_timeout", raw.Server.WriteTimeout, "WRITE_TIMEOUT", 30*time.Second),
		LogLevel:     strings.ToLower(firstNonEmpty(raw.Server.LogLevel, envOrDefault("LOG_LEVEL", "info"))),

		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		EventsQueue: firstNonEmpty(raw.Redis.Queues.Events, os.Getenv("EVENTS_QUEUE")),

		InboundRateLimit:  firstPositive64(raw.Inbound.RateLimit, int64(envOrDefaultInt("INBOUND_RATE_LIMIT", 5))),
		InboundRateWindow: duration("inbound.rate_window", raw.Inbound.RateWindow, "INBOUND_RATE_WINDOW", 10*time.Second),

		MatchCandidateLimit: firstPositive(raw.Match.CandidateLimit, envOrDefaultInt("MATCH_CANDIDATE_LIMIT", 500)),
		MatchLookback:       duration("match.lookback", raw.Match.Lookback, "MATCH_LOOKBACK", 0),
		BackfillInterval:    duration("match.backfill_interval", raw.Match.BackfillInterval, "BACKFILL_INTERVAL", 0),
		BackfillWindow:      duration("match.backfill_window", raw.Match.BackfillWindow, "BACKFILL_WINDOW", 7*24*time.Hour),

		AuthSecret:  firstNonEmpty(raw.Auth.Secret, os.Getenv("AUTH_SECRET")),
		TokenExpiry: duration("auth.token_expiry", raw.Auth.TokenExpiry, "TOKEN_EXPIRY", 24*time.Hour),
		AdminToken:  firstNonEmpty(raw.Admin.Token, os.Getenv("ADMIN_TOKEN")),
		Contacts:    raw.Contacts,
	}

	cfg.DatabaseDriver = strings.ToLower(firstNonEmpty(raw.Database.Driver, os.Getenv("DATABASE_DRIVER")))
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DriverSQLite
		if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			cfg.DatabaseDriver = DriverPostgres
		}
	}
	switch cfg.DatabaseDriver {
	case DriverSQLite:
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "data/inbound.db"
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver))
	}

	llm := raw.Parser.LLM
	cfg.LLM = LLMConfig{
		Enabled:        envOrDefaultBool("PARSER_USE_LLM", envOrDefaultBool("USE_LLM_PARSER", false)),
		BaseURL:        firstNonEmpty(llm.BaseURL, os.Getenv("LLM_BASE_URL")),
		APIKey:         firstNonEmpty(llm.APIKey, os.Getenv("OPENAI_API_KEY")),
		Model:          firstNonEmpty(llm.Model, os.Getenv("LLM_MODEL")),
		Timeout:        duration("parser.llm.timeout", llm.Timeout, "LLM_TIMEOUT", 12*time.Second),
		MaxRetries:     envOrDefaultInt("LLM_MAX_RETRIES", 2),
		CallsPerMinute: firstPositive64(llm.CallsPerMinute, int64(envOrDefaultInt("LLM_MAX_CALLS_PER_MIN", 2))),
		DedupTTL:       duration("parser.llm.dedup_ttl", llm.DedupTTL, "LLM_DEDUP_TTL", 24*time.Hour),
	}
	if llm.Enabled != nil {
		cfg.LLM.Enabled = *llm.Enabled
	}
	if llm.MaxRetries != nil {
		cfg.LLM.MaxRetries = *llm.MaxRetries
	}
	if cfg.LLM.Enabled && cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("parser.llm.api_key is required when the LLM parser is enabled"))
	}

	m := raw.Mail
	cfg.Mail = MailConfig{
		Provider:       strings.ToLower(firstNonEmpty(m.Provider, os.Getenv("MAIL_PROVIDER"))),
		From:           firstNonEmpty(m.From, envOrDefault("FROM_EMAIL", "request@repo.incidentreportshub.com")),
		FromName:       firstNonEmpty(m.FromName, os.Getenv("FROM_NAME")),
		ReplyTo:        firstNonEmpty(m.ReplyTo, envOrDefault("REPLY_TO_EMAIL", "intake@repo.incidentreportshub.com")),
		SendGridAPIKey: firstNonEmpty(m.SendGrid.APIKey, os.Getenv("SENDGRID_API_KEY")),
		Graph: GraphConfig{
			TenantID:     firstNonEmpty(m.Graph.TenantID, os.Getenv("GRAPH_TENANT_ID")),
			ClientID:     firstNonEmpty(m.Graph.ClientID, os.Getenv("GRAPH_CLIENT_ID")),
			ClientSecret: firstNonEmpty(m.Graph.ClientSecret, os.Getenv("GRAPH_CLIENT_SECRET")),
			Sender:       firstNonEmpty(m.Graph.Sender, os.Getenv("GRAPH_SENDER")),
		},
	}
	if cfg.Mail.Provider == "" && cfg.Mail.SendGridAPIKey != "" {
		cfg.Mail.Provider = "sendgrid"
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositive64(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
