package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for chatfilter
type Config struct {
	// Rule storage
	StorePath string `yaml:"store_path" env:"CHATFILTER_STORE"`

	// Logging
	LogLevel  string `yaml:"log_level" env:"CHATFILTER_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"CHATFILTER_LOG_FORMAT"`

	// Log file, stderr when empty. Useful with run, where stderr shares the
	// terminal with the wrapped program.
	LogFile string `yaml:"log_file" env:"CHATFILTER_LOG_FILE"`

	// Chat line format
	Separator string `yaml:"separator" env:"CHATFILTER_SEPARATOR"`

	// Metrics endpoint, disabled when empty
	MetricsAddr string `yaml:"metrics_addr" env:"CHATFILTER_METRICS_ADDR"`

	// Report forwarding
	Report ReportConfig `yaml:"report"`

	// Kafka relay
	Kafka KafkaConfig `yaml:"kafka"`
}

// ReportConfig controls forwarding of reported messages to ntfy.
type ReportConfig struct {
	NtfyServer string `yaml:"ntfy_server" env:"CHATFILTER_NTFY_SERVER"`
	NtfyTopic  string `yaml:"ntfy_topic" env:"CHATFILTER_NTFY_TOPIC"`

	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	BatchWindow time.Duration   `yaml:"batch_window"`
	DedupWindow time.Duration   `yaml:"dedup_window"`
}

// Enabled reports whether reports are forwarded anywhere besides the log.
func (r ReportConfig) Enabled() bool {
	return r.NtfyTopic != ""
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxMessages int           `yaml:"max_messages"`
}

// KafkaConfig configures the Kafka relay source.
type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers" env:"CHATFILTER_KAFKA_BROKERS"`
	GroupID     string        `yaml:"group_id"`
	SourceTopic string        `yaml:"source_topic"`
	TargetTopic string        `yaml:"target_topic"`
	MaxWaitTime time.Duration `yaml:"max_wait_time"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		StorePath: filepath.Join(getConfigDir(), "settings.yaml"),
		LogLevel:  "info",
		LogFormat: "text",
		Separator: ": ",
		Report: ReportConfig{
			NtfyServer: "https://ntfy.sh",
			RateLimit: RateLimitConfig{
				Window:      1 * time.Minute,
				MaxMessages: 5,
			},
			BatchWindow: 5 * time.Second,
			DedupWindow: 1 * time.Minute,
		},
		Kafka: KafkaConfig{
			GroupID:     "chatfilter",
			MaxWaitTime: 1 * time.Second,
		},
	}
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config file
	configPath := getConfigPath()
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getConfigPath returns the config file path
func getConfigPath() string {
	// Check for explicit config path
	if path := os.Getenv("CHATFILTER_CONFIG"); path != "" {
		return path
	}

	if dir := getConfigDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}

	return ""
}

// getConfigDir returns the chatfilter directory under the user's config home
func getConfigDir() string {
	// Check XDG config directory
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chatfilter")
	}

	// Fall back to home directory
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "chatfilter")
	}

	return ""
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	// #nosec G304 - The config file path comes from trusted sources (env var or standard locations)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	if store := os.Getenv("CHATFILTER_STORE"); store != "" {
		cfg.StorePath = store
	}

	if level := os.Getenv("CHATFILTER_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if format := os.Getenv("CHATFILTER_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	if file := os.Getenv("CHATFILTER_LOG_FILE"); file != "" {
		cfg.LogFile = file
	}

	if sep, ok := os.LookupEnv("CHATFILTER_SEPARATOR"); ok && sep != "" {
		cfg.Separator = sep
	}

	if addr := os.Getenv("CHATFILTER_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if server := os.Getenv("CHATFILTER_NTFY_SERVER"); server != "" {
		cfg.Report.NtfyServer = server
	}

	if topic := os.Getenv("CHATFILTER_NTFY_TOPIC"); topic != "" {
		cfg.Report.NtfyTopic = topic
	}

	if window := os.Getenv("CHATFILTER_DEDUP_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return fmt.Errorf("invalid CHATFILTER_DEDUP_WINDOW: %w", err)
		}
		cfg.Report.DedupWindow = d
	}

	if brokers := os.Getenv("CHATFILTER_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}

	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}

	if cfg.Separator == "" {
		return fmt.Errorf("separator must not be empty")
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (use debug/info/warn/error)", cfg.LogLevel)
	}

	if _, err := slogutil.NewFormat(cfg.LogFormat); err != nil {
		return fmt.Errorf("log_format: %w", err)
	}

	if cfg.Report.RateLimit.MaxMessages < 0 {
		return fmt.Errorf("report.rate_limit.max_messages must be non-negative")
	}

	if cfg.Report.RateLimit.Window < 0 {
		return fmt.Errorf("report.rate_limit.window must be non-negative")
	}

	if cfg.Report.BatchWindow < 0 {
		return fmt.Errorf("report.batch_window must be non-negative")
	}

	if cfg.Report.DedupWindow < 0 {
		return fmt.Errorf("report.dedup_window must be non-negative")
	}

	return nil
}

// ValidateKafka checks the settings the Kafka relay needs.
func (c *Config) ValidateKafka() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}

	if c.Kafka.SourceTopic == "" || c.Kafka.TargetTopic == "" {
		return fmt.Errorf("kafka.source_topic and kafka.target_topic are required")
	}

	if c.Kafka.SourceTopic == c.Kafka.TargetTopic {
		return fmt.Errorf("kafka.source_topic and kafka.target_topic must differ")
	}

	return nil
}
