package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Temporary converted images and downloads
	WorkDir string `mapstructure:"work-dir"`

	// S3 sources
	S3Region   string `mapstructure:"s3-region"`
	S3Endpoint string `mapstructure:"s3-endpoint"`

	// Conversion retry policy
	MaxAttempts    int           `mapstructure:"max-attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt-timeout"`
	PollInterval   time.Duration `mapstructure:"poll-interval"`
	StallPolls     int           `mapstructure:"stall-polls"`
	RetryDelay     time.Duration `mapstructure:"retry-delay"`

	// Device writing
	ChunkSize    int           `mapstructure:"chunk-size"`
	VerifyBytes  int64         `mapstructure:"verify-bytes"`
	VolumeLabel  string        `mapstructure:"volume-label"`
	MaxImageSize int64         `mapstructure:"max-image-size"`
	EjectTimeout time.Duration `mapstructure:"eject-timeout"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("sqlite-path", ".artifacts/isoflash.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("work-dir", ".artifacts/work")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("s3-endpoint", "")
	viper.SetDefault("max-attempts", 3)
	viper.SetDefault("attempt-timeout", 600*time.Second)
	viper.SetDefault("poll-interval", time.Second)
	viper.SetDefault("stall-polls", 30)
	viper.SetDefault("retry-delay", 2*time.Second)
	viper.SetDefault("chunk-size", 1024*1024)
	viper.SetDefault("verify-bytes", 1024*1024)
	viper.SetDefault("volume-label", "ISOFLASH")
	viper.SetDefault("max-image-size", 64*1024*1024*1024)
	viper.SetDefault("eject-timeout", 30*time.Second)

	// Environment variables (ISOFLASH_MAX_ATTEMPTS, etc.)
	viper.SetEnvPrefix("ISOFLASH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.isoflash")

	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max-attempts must be positive")
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt-timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.StallPolls <= 0 {
		return fmt.Errorf("stall-polls must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry-delay must be non-negative")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive")
	}
	if c.VerifyBytes < 0 {
		return fmt.Errorf("verify-bytes must be non-negative")
	}
	if c.VolumeLabel == "" || len(c.VolumeLabel) > 11 {
		return fmt.Errorf("volume-label must be 1-11 characters")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	if c.EjectTimeout <= 0 {
		return fmt.Errorf("eject-timeout must be positive")
	}
	return nil
}

// YAML renders the effective configuration with durations in text form.
func (c *Config) YAML() ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value any) {
		var v yaml.Node
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		_ = v.Encode(value)
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &v)
	}

	add("sqlite-path", c.SQLitePath)
	add("fsm-db-path", c.FSMDBPath)
	add("work-dir", c.WorkDir)
	add("s3-region", c.S3Region)
	add("s3-endpoint", c.S3Endpoint)
	add("max-attempts", c.MaxAttempts)
	add("attempt-timeout", c.AttemptTimeout)
	add("poll-interval", c.PollInterval)
	add("stall-polls", c.StallPolls)
	add("retry-delay", c.RetryDelay)
	add("chunk-size", c.ChunkSize)
	add("verify-bytes", c.VerifyBytes)
	add("volume-label", c.VolumeLabel)
	add("max-image-size", c.MaxImageSize)
	add("eject-timeout", c.EjectTimeout)

	return yaml.Marshal(doc)
}
