package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// S3 configuration
	StorageBucket string `mapstructure:"storage-bucket"`
	S3Region      string `mapstructure:"s3-region"`

	// Provider API
	ProviderURL     string `mapstructure:"provider-url"`
	ProviderContact string `mapstructure:"provider-contact"`

	// Storage layout
	RawPrefix       string `mapstructure:"raw-prefix"`
	StateKey        string `mapstructure:"state-key"`
	PublishedPrefix string `mapstructure:"published-prefix"`

	// Notebook execution
	NotebookBucket  string        `mapstructure:"notebook-bucket"`
	NotebookKey     string        `mapstructure:"notebook-key"`
	AnalysisTimeout time.Duration `mapstructure:"analysis-timeout"`

	// Notification
	NotificationQueue string `mapstructure:"notification-queue"`

	// Open-data mirror
	OpenDataURL    string `mapstructure:"open-data-url"`
	OpenDataPrefix string `mapstructure:"open-data-prefix"`

	// Working directory
	WorkDir string `mapstructure:"work-dir"`

	// Limits
	MaxPayloadSize  int64 `mapstructure:"max-payload-size"`
	FetchMaxRetries int   `mapstructure:"fetch-max-retries"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("sqlite-path", ".artifacts/runs.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("storage-bucket", "rearc-quest-datasets")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("provider-url", "https://honolulu-api.datausa.io/tesseract/data.jsonrecords?cube=acs_yg_total_population_1&drilldowns=Year%2CNation&locale=en&measures=Population")
	viper.SetDefault("provider-contact", "")
	viper.SetDefault("raw-prefix", "population_data/")
	viper.SetDefault("state-key", "state/latest.json")
	viper.SetDefault("published-prefix", "published/")
	viper.SetDefault("notebook-bucket", "rearc-quest-datasets")
	viper.SetDefault("notebook-key", "notebooks/population_analysis.ipynb")
	viper.SetDefault("analysis-timeout", 20*time.Minute)
	viper.SetDefault("notification-queue", "")
	viper.SetDefault("open-data-url", "https://download.bls.gov/pub/time.series/pr/")
	viper.SetDefault("open-data-prefix", "bls_data/")
	viper.SetDefault("work-dir", "/tmp/dataquest")
	viper.SetDefault("max-payload-size", 256*1024*1024)
	viper.SetDefault("fetch-max-retries", 3)
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be DATAQUEST_STORAGE_BUCKET, etc.)
	viper.SetEnvPrefix("DATAQUEST")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.dataquest")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
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
	if c.StorageBucket == "" {
		return fmt.Errorf("storage-bucket cannot be empty")
	}
	if c.ProviderURL == "" {
		return fmt.Errorf("provider-url cannot be empty")
	}
	// Provider etiquette: absence of the contact string is a configuration
	// error, never a runtime retry case.
	if c.ProviderContact == "" {
		return fmt.Errorf("provider-contact cannot be empty (provider requires an identification header)")
	}
	if c.NotebookBucket == "" || c.NotebookKey == "" {
		return fmt.Errorf("notebook-bucket and notebook-key cannot be empty")
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("analysis-timeout must be positive")
	}
	if c.MaxPayloadSize <= 0 {
		return fmt.Errorf("max-payload-size must be positive")
	}
	if c.FetchMaxRetries < 0 {
		return fmt.Errorf("fetch-max-retries must be non-negative")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
