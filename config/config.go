// Package config loads pipeline configuration from a YAML file with
// environment variable overrides sourced from an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration. It is loaded once at
// process start and treated as read-only afterwards.
type Config struct {
	Service struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
	} `yaml:"service"`

	Source struct {
		BaseURL           string `yaml:"base_url"`
		DefaultYear       int    `yaml:"default_year"`
		ProvisionalSuffix string `yaml:"provisional_suffix"`
		RevisedSuffix     string `yaml:"revised_suffix"`
	} `yaml:"source"`

	Lake struct {
		BucketPath string `yaml:"bucket_path"`
		TempDir    string `yaml:"temp_dir"`
	} `yaml:"lake"`

	Downloader struct {
		RetryAttempts     int `yaml:"retry_attempts"`
		RetryDelaySeconds int `yaml:"retry_delay_seconds"`
		TimeoutSeconds    int `yaml:"timeout_seconds"`
		ChunkSizeMB       int `yaml:"chunk_size_mb"`
	} `yaml:"downloader"`

	Extractor struct {
		Compression    string  `yaml:"compression"`
		ChunkRows      int     `yaml:"chunk_rows"`
		MaxTableSizeGB float64 `yaml:"max_table_size_gb"`
	} `yaml:"extractor"`

	Warehouse struct {
		DatabasePath      string `yaml:"database_path"`
		StagingSchema     string `yaml:"staging_schema"`
		WriteDisposition  string `yaml:"write_disposition"`
		CreateDisposition string `yaml:"create_disposition"`
		NumWorkers        int    `yaml:"num_workers"`
	} `yaml:"warehouse"`

	Transform struct {
		ProjectDir     string `yaml:"project_dir"`
		Target         string `yaml:"target"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"transform"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads the YAML config at path. A .env file in the working directory,
// when present, is loaded first so that environment overrides are visible.
func Load(path string) (*Config, error) {
	// Missing .env is not an error; it only carries operator overrides.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()
	config.ApplyDefaults()

	return &config, nil
}

// applyEnvOverrides overlays selected environment variables on top of the
// file values. Environment always wins.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IPEDS_BASE_URL"); v != "" {
		c.Source.BaseURL = v
	}
	if v := os.Getenv("IPEDS_BUCKET_PATH"); v != "" {
		c.Lake.BucketPath = v
	}
	if v := os.Getenv("IPEDS_WAREHOUSE_PATH"); v != "" {
		c.Warehouse.DatabasePath = v
	}
	if v := os.Getenv("IPEDS_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Downloader.RetryAttempts = n
		}
	}
}

// ApplyDefaults sets default values for optional fields.
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "ipeds-pipeline"
	}
	if c.Source.DefaultYear == 0 {
		c.Source.DefaultYear = 2024
	}
	if c.Source.ProvisionalSuffix == "" {
		c.Source.ProvisionalSuffix = "_pv"
	}
	if c.Source.RevisedSuffix == "" {
		c.Source.RevisedSuffix = "_rv"
	}
	if c.Lake.TempDir == "" {
		c.Lake.TempDir = os.TempDir()
	}
	if c.Downloader.RetryAttempts == 0 {
		c.Downloader.RetryAttempts = 3
	}
	if c.Downloader.RetryDelaySeconds == 0 {
		c.Downloader.RetryDelaySeconds = 1
	}
	if c.Downloader.TimeoutSeconds == 0 {
		c.Downloader.TimeoutSeconds = 300
	}
	if c.Downloader.ChunkSizeMB == 0 {
		c.Downloader.ChunkSizeMB = 10
	}
	if c.Extractor.Compression == "" {
		c.Extractor.Compression = "snappy"
	}
	if c.Extractor.ChunkRows == 0 {
		c.Extractor.ChunkRows = 50000
	}
	if c.Extractor.MaxTableSizeGB == 0 {
		c.Extractor.MaxTableSizeGB = 5
	}
	if c.Warehouse.StagingSchema == "" {
		c.Warehouse.StagingSchema = "staging"
	}
	if c.Warehouse.WriteDisposition == "" {
		c.Warehouse.WriteDisposition = "replace"
	}
	if c.Warehouse.CreateDisposition == "" {
		c.Warehouse.CreateDisposition = "create_if_needed"
	}
	if c.Warehouse.NumWorkers == 0 {
		c.Warehouse.NumWorkers = 4
	}
	if c.Transform.TimeoutSeconds == 0 {
		c.Transform.TimeoutSeconds = 1800
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate validates the application configuration.
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Lake.BucketPath == "" {
		return fmt.Errorf("lake.bucket_path is required")
	}
	if c.Warehouse.DatabasePath == "" {
		return fmt.Errorf("warehouse.database_path is required")
	}
	switch c.Warehouse.WriteDisposition {
	case "replace", "append":
	default:
		return fmt.Errorf("warehouse.write_disposition must be replace or append, got %q", c.Warehouse.WriteDisposition)
	}
	return nil
}
