package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"delta-mirror/scan"
	"delta-mirror/storage"
)

type Config struct {
	Storage struct {
		S3 storage.S3Options `yaml:"s3"`
	} `yaml:"storage"`

	Scan ScanConfig `yaml:"scan"`

	Tables []Table `yaml:"tables"`

	Proxy struct {
		Port int `yaml:"port"`
	} `yaml:"proxy"`

	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type ScanConfig struct {
	PinSnapshot          bool  `yaml:"pin_snapshot"`
	FileNumber           bool  `yaml:"delta_file_number"`
	FileRowNumber        bool  `yaml:"file_row_number"`
	ExplainFilesFiltered *bool `yaml:"explain_files_filtered"`
	Workers              int   `yaml:"workers"`
	ChunkSize            int   `yaml:"chunk_size"`
	BatchSize            int   `yaml:"batch_size"`
	DVCacheSize          int64 `yaml:"dv_cache_size"`
}

// Table is a Delta table served under Name. Version pins a table version;
// nil serves the latest one.
type Table struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Version *int64 `yaml:"version"`
}

// Options converts the scan section, filling unset values with defaults.
func (c ScanConfig) Options() scan.Options {
	opts := scan.DefaultOptions()
	opts.PinSnapshot = c.PinSnapshot
	opts.FileNumber = c.FileNumber
	opts.FileRowNumber = c.FileRowNumber
	if c.ExplainFilesFiltered != nil {
		opts.ExplainFilesFiltered = *c.ExplainFilesFiltered
	}
	if c.Workers > 0 {
		opts.Workers = c.Workers
	}
	opts.ChunkSize = c.ChunkSize
	return opts
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 5433
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = runtime.NumCPU()
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" || t.Path == "" {
			return fmt.Errorf("table %d: name and path are required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("table %s is configured twice", t.Name)
		}
		seen[t.Name] = true
		if t.Version != nil && *t.Version < 0 {
			return fmt.Errorf("table %s: negative version %d", t.Name, *t.Version)
		}
	}
	return nil
}
