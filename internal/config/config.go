// Package config loads homehawk configuration from defaults, an optional
// YAML file and HOMEHAWK_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Data       DataConfig       `mapstructure:"data" yaml:"data"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch" yaml:"opensearch"`
	Dashboards DashboardsConfig `mapstructure:"dashboards" yaml:"dashboards"`
	Importer   ImporterConfig   `mapstructure:"importer" yaml:"importer"`
	Tail       TailConfig       `mapstructure:"tail" yaml:"tail"`
	Provision  ProvisionConfig  `mapstructure:"provision" yaml:"provision"`
	DLQ        DLQConfig        `mapstructure:"dlq" yaml:"dlq"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// DataConfig locates the event log and the registry snapshot.
type DataConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir"`
	FilePrefix   string `mapstructure:"file_prefix" yaml:"file_prefix"`
	RegistryFile string `mapstructure:"registry_file" yaml:"registry_file"`
}

// RegistryPath resolves RegistryFile against Dir unless it is absolute.
func (d DataConfig) RegistryPath() string {
	if filepath.IsAbs(d.RegistryFile) {
		return d.RegistryFile
	}
	return filepath.Join(d.Dir, d.RegistryFile)
}

// OpenSearchConfig holds OpenSearch connection and index settings.
type OpenSearchConfig struct {
	URL             string `mapstructure:"url" yaml:"url"`
	Username        string `mapstructure:"username" yaml:"username"`
	Password        string `mapstructure:"password" yaml:"-"`
	Insecure        bool   `mapstructure:"insecure" yaml:"insecure"`
	IndexPrefix     string `mapstructure:"index_prefix" yaml:"index_prefix"`
	Pipeline        string `mapstructure:"pipeline" yaml:"pipeline"`
	ShardCount      int    `mapstructure:"shard_count" yaml:"shard_count"`
	ReplicaCount    int    `mapstructure:"replica_count" yaml:"replica_count"`
	RefreshInterval string `mapstructure:"refresh_interval" yaml:"refresh_interval"`
}

// DashboardsConfig holds OpenSearch Dashboards settings. An empty URL
// disables dashboard provisioning.
type DashboardsConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"-"`
	Insecure     bool          `mapstructure:"insecure" yaml:"insecure"`
	TemplateFile string        `mapstructure:"template_file" yaml:"template_file"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Enabled reports whether a dashboards endpoint is configured.
func (d DashboardsConfig) Enabled() bool {
	return d.URL != ""
}

type ImporterConfig struct {
	ErrorSampleSize int `mapstructure:"error_sample_size" yaml:"error_sample_size"`
	MaxLineBytes    int `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
}

type TailConfig struct {
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

type ProvisionConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
}

type DLQConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration. An empty configPath looks for config.yaml in the
// working directory and /etc/homehawk; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/homehawk")
	}

	// Environment variables override (HOMEHAWK_OPENSEARCH_URL, etc.)
	v.SetEnvPrefix("HOMEHAWK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Data.FilePrefix == "" {
		return fmt.Errorf("data.file_prefix must not be empty")
	}
	if c.OpenSearch.IndexPrefix == "" {
		return fmt.Errorf("opensearch.index_prefix must not be empty")
	}
	if c.Tail.Workers < 1 {
		return fmt.Errorf("tail.workers must be at least 1, got %d", c.Tail.Workers)
	}
	if c.Tail.QueueSize < 0 {
		return fmt.Errorf("tail.queue_size must not be negative, got %d", c.Tail.QueueSize)
	}
	if c.Importer.ErrorSampleSize < 0 {
		return fmt.Errorf("importer.error_sample_size must not be negative, got %d", c.Importer.ErrorSampleSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Data defaults
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.file_prefix", "events")
	v.SetDefault("data.registry_file", "registry.json")

	// OpenSearch defaults
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index_prefix", "smarthome")
	v.SetDefault("opensearch.pipeline", "smarthome-ingest")
	v.SetDefault("opensearch.shard_count", 1)
	v.SetDefault("opensearch.replica_count", 0)
	v.SetDefault("opensearch.refresh_interval", "5s")

	// Dashboards defaults
	v.SetDefault("dashboards.url", "")
	v.SetDefault("dashboards.username", "admin")
	v.SetDefault("dashboards.password", "admin")
	v.SetDefault("dashboards.insecure", true)
	v.SetDefault("dashboards.template_file", "assets/dashboard.ndjson")
	v.SetDefault("dashboards.timeout", "30s")

	v.SetDefault("importer.error_sample_size", 10)
	v.SetDefault("importer.max_line_bytes", 1<<20)

	v.SetDefault("tail.workers", 4)
	v.SetDefault("tail.queue_size", 256)
	v.SetDefault("tail.poll_interval", "2s")
	v.SetDefault("tail.drain_timeout", "10s")

	v.SetDefault("provision.max_retries", 3)
	v.SetDefault("provision.initial_interval", "500ms")

	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.dir", "./data/rejected")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
