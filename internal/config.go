package internal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration loaded from a single YAML
// file. Environment variables in the file are expanded before parsing.
type Config struct {
	// Server holds HTTP server configuration for the webhook endpoint.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"server"`
	// GitHub configures the inbound webhook and the repository state client.
	GitHub GitHubConfig `yaml:"github"`
	// Discord configures the destination channel.
	Discord DiscordConfig `yaml:"discord"`
	// Pipeline configures dedup, queueing, and delivery retry behavior.
	Pipeline PipelineConfig `yaml:"pipeline"`
	// Export configures the optional notification mirror to a message broker.
	Export ExportConfig `yaml:"export"`
	// Rules are optional filter rules deciding which events are relayed.
	Rules []Rule `yaml:"rules"`
}

// GitHubConfig holds inbound webhook and API client settings.
type GitHubConfig struct {
	Path   string   `yaml:"path"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
	Repo   string   `yaml:"repo"`
	Token  string   `yaml:"token"`
}

// DiscordConfig holds the destination messaging settings.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int64  `yaml:"timeout_ms"`
}

// PipelineConfig holds dedup and delivery tuning.
type PipelineConfig struct {
	DedupTTLMS    int64  `yaml:"dedup_ttl_ms"`
	QueueCapacity int    `yaml:"queue_capacity"`
	MaxAttempts   int    `yaml:"max_attempts"`
	BaseBackoffMS int64  `yaml:"base_backoff_ms"`
	MaxBackoffMS  int64  `yaml:"max_backoff_ms"`
	DrainGraceMS  int64  `yaml:"drain_grace_ms"`
	PushMode      string `yaml:"push_mode"`
}

// ExportConfig holds the optional broker export settings.
type ExportConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Driver    string          `yaml:"driver"`
	Topic     string          `yaml:"topic"`
	GoChannel GoChannelConfig `yaml:"gochannel"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// GoChannelConfig holds configuration for the in-process pub/sub driver.
type GoChannelConfig struct {
	OutputChannelBuffer int64 `yaml:"output_buffer"`
	Persistent          bool  `yaml:"persistent"`
}

// HTTPConfig holds configuration for the HTTP export driver.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// DefaultEvents is the set of webhook event kinds the relay subscribes to
// when the config does not list any.
var DefaultEvents = []string{
	"ping",
	"push",
	"pull_request",
	"pull_request_review",
	"pull_request_review_comment",
	"issues",
	"issue_comment",
	"create",
	"delete",
}

// LoadConfig loads the application configuration from a YAML file.
// It expands environment variables, applies defaults, and normalizes rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized

	if cfg.GitHub.Secret == "" {
		return cfg, fmt.Errorf("github webhook secret is required")
	}
	if cfg.Pipeline.PushMode != "aggregate" && cfg.Pipeline.PushMode != "per_commit" {
		return cfg, fmt.Errorf("unsupported push_mode: %s", cfg.Pipeline.PushMode)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.GitHub.Path == "" {
		cfg.GitHub.Path = "/webhooks/github"
	}
	if len(cfg.GitHub.Events) == 0 {
		cfg.GitHub.Events = append([]string(nil), DefaultEvents...)
	}
	if cfg.Discord.BaseURL == "" {
		cfg.Discord.BaseURL = "https://discord.com/api/v10"
	}
	if cfg.Discord.TimeoutMS == 0 {
		cfg.Discord.TimeoutMS = 15000
	}
	if cfg.Pipeline.DedupTTLMS == 0 {
		cfg.Pipeline.DedupTTLMS = 10 * 60 * 1000
	}
	if cfg.Pipeline.QueueCapacity == 0 {
		cfg.Pipeline.QueueCapacity = 1000
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 5
	}
	if cfg.Pipeline.BaseBackoffMS == 0 {
		cfg.Pipeline.BaseBackoffMS = 1000
	}
	if cfg.Pipeline.MaxBackoffMS == 0 {
		cfg.Pipeline.MaxBackoffMS = 60000
	}
	if cfg.Pipeline.DrainGraceMS == 0 {
		cfg.Pipeline.DrainGraceMS = 10000
	}
	if cfg.Pipeline.PushMode == "" {
		cfg.Pipeline.PushMode = "aggregate"
	}
	if cfg.Export.Driver == "" {
		cfg.Export.Driver = "gochannel"
	}
	if cfg.Export.Topic == "" {
		cfg.Export.Topic = "gitrelay.notifications"
	}
	if cfg.Export.GoChannel.OutputChannelBuffer == 0 {
		cfg.Export.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Export.HTTP.Mode == "" {
		cfg.Export.HTTP.Mode = "topic_url"
	}
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		rule.Action = strings.ToLower(strings.TrimSpace(rule.Action))
		if rule.When == "" {
			return nil, fmt.Errorf("rule %d is missing when", i)
		}
		if rule.Action == "" {
			rule.Action = "drop"
		}
		if rule.Action != "drop" && rule.Action != "allow" {
			return nil, fmt.Errorf("rule %d has unsupported action %q", i, rule.Action)
		}
		out = append(out, rule)
	}
	return out, nil
}
