// Package config provides YAML-based configuration loading for the bot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend variant names.
const (
	BackendGenie   = "genie"
	BackendServing = "serving"
)

// Config is the top-level bot configuration, loaded from geniebot.yaml.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Port       int              `yaml:"port"`
	Backend    string           `yaml:"backend"`
	Slack      SlackConfig      `yaml:"slack"`
	Databricks DatabricksConfig `yaml:"databricks"`
	Genie      GenieConfig      `yaml:"genie"`
	Serving    ServingConfig    `yaml:"serving"`
	Digest     DigestConfig     `yaml:"digest"`
}

// SlackConfig holds the Slack app credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"` // xoxb-...
	AppToken string `yaml:"app_token"` // xapp-..., required for Socket Mode
}

// DatabricksConfig holds workspace connection settings. Either a personal
// access token or an OAuth client credential pair must be configured.
type DatabricksConfig struct {
	Host         string `yaml:"host"`
	Token        string `yaml:"token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// GenieConfig configures the conversation-backed Genie variant.
type GenieConfig struct {
	SpaceID             string `yaml:"space_id"`
	MaxWaitSeconds      int    `yaml:"max_wait_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// ServingConfig configures the stateless model-serving variant.
type ServingConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	SystemPrompt string   `yaml:"system_prompt"`
	MaxTokens    int      `yaml:"max_tokens"`
	Temperature  *float64 `yaml:"temperature"`
}

// DigestConfig configures the optional daily usage digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`    // 5-field cron expression
	Channel string `yaml:"channel"` // channel to post the digest to
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secret fields may be
// supplied or overridden through the environment, matching how the bot is
// deployed as a Databricks App.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto the secret fields.
func (c *Config) applyEnv() {
	overlay(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	overlay(&c.Slack.AppToken, "SLACK_APP_TOKEN")
	overlay(&c.Databricks.Host, "DATABRICKS_HOST")
	overlay(&c.Databricks.Token, "DATABRICKS_TOKEN")
	overlay(&c.Databricks.ClientID, "DATABRICKS_CLIENT_ID")
	overlay(&c.Databricks.ClientSecret, "DATABRICKS_CLIENT_SECRET")
	overlay(&c.Genie.SpaceID, "DATABRICKS_GENIE_SPACE_ID")
}

func overlay(field *string, env string) {
	if v := os.Getenv(env); v != "" {
		*field = v
	}
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.Backend == "" {
		c.Backend = BackendGenie
	}
	if c.Genie.MaxWaitSeconds == 0 {
		c.Genie.MaxWaitSeconds = 60
	}
	if c.Genie.PollIntervalSeconds == 0 {
		c.Genie.PollIntervalSeconds = 2
	}
	if c.Digest.Enabled && c.Digest.Cron == "" {
		c.Digest.Cron = "0 9 * * *"
	}
}

// validate checks that all required fields are present, collecting every
// missing name into one error so a misconfigured deployment reports the
// full list at startup.
func (c *Config) validate() error {
	var errs []string
	if c.Slack.BotToken == "" {
		errs = append(errs, "slack.bot_token is required")
	}
	if c.Slack.AppToken == "" {
		errs = append(errs, "slack.app_token is required")
	}
	if c.Databricks.Host == "" {
		errs = append(errs, "databricks.host is required")
	}
	if c.Databricks.Token == "" && (c.Databricks.ClientID == "" || c.Databricks.ClientSecret == "") {
		errs = append(errs, "databricks.token or databricks.client_id + databricks.client_secret is required")
	}

	switch c.Backend {
	case BackendGenie:
		if c.Genie.SpaceID == "" {
			errs = append(errs, "genie.space_id is required")
		}
	case BackendServing:
		if c.Serving.Endpoint == "" {
			errs = append(errs, "serving.endpoint is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend must be %q or %q, got %q", BackendGenie, BackendServing, c.Backend))
	}

	if c.Digest.Enabled && c.Digest.Channel == "" {
		errs = append(errs, "digest.channel is required when digest.enabled is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
