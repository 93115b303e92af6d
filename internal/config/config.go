package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Cache       CacheConfig       `yaml:"cache"`
	Parallelism ParallelismConfig `yaml:"parallelism"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// AnalysisConfig represents settings that affect analyzer output. Every
// field here feeds the configuration fingerprint.
type AnalysisConfig struct {
	EnabledAnalyzers []string `yaml:"enabled_analyzers"`
	MaxFileSize      int64    `yaml:"max_file_size"`
	FollowSymlinks   bool     `yaml:"follow_symlinks"`
	IncludeHidden    bool     `yaml:"include_hidden"`
	FileExtensions   []string `yaml:"file_extensions"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Strategy    string                `yaml:"strategy"` // "basic" or "pooled"
	MaxEntries  int                   `yaml:"max_entries"`
	MaxMemoryMB int                   `yaml:"max_memory_mb"`
	MaxAgeHours int                   `yaml:"max_age_hours"`
	EnablePools bool                  `yaml:"enable_pools"`
	PoolSizes   PoolSizesConfig       `yaml:"pool_sizes"`
	Persistent  PersistentCacheConfig `yaml:"persistent"`
	Remote      RemoteCacheConfig     `yaml:"remote"`
}

// PoolSizesConfig sizes the individual memory pools
type PoolSizesConfig struct {
	Findings int `yaml:"findings"`
	Strings  int `yaml:"strings"`
	Paths    int `yaml:"paths"`
	Maps     int `yaml:"maps"`
}

// PersistentCacheConfig represents the optional sqlite-backed cache store
type PersistentCacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RemoteCacheConfig represents the optional S3 shared cache store
type RemoteCacheConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region"`
	Prefix             string `yaml:"prefix"`
	Endpoint           string `yaml:"endpoint"`
	ForcePathStyle     bool   `yaml:"force_path_style"`
	EnableOptimization bool   `yaml:"enable_optimization"`
}

// ParallelismConfig represents the adaptive worker budget settings
type ParallelismConfig struct {
	MinWorkers         int           `yaml:"min_workers"`
	MaxWorkers         int           `yaml:"max_workers"`
	InitialWorkers     int           `yaml:"initial_workers"`
	SampleInterval     time.Duration `yaml:"sample_interval"`
	AdjustmentInterval time.Duration `yaml:"adjustment_interval"`
	MaxHistorySize     int           `yaml:"max_history_size"`
	MmapThreshold      int64         `yaml:"mmap_threshold"`
}

// MonitoringConfig represents observability settings
type MonitoringConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPort    int    `yaml:"metrics_port"`
	MetricsPath    string `yaml:"metrics_path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Analysis: AnalysisConfig{
			EnabledAnalyzers: []string{"security", "performance", "duplicates"},
			MaxFileSize:      100 * 1024 * 1024, // 100MB hard skip
			FollowSymlinks:   false,
			IncludeHidden:    false,
			FileExtensions:   nil, // nil means all text files
		},
		Cache: CacheConfig{
			Strategy:    "basic",
			MaxEntries:  1000,
			MaxMemoryMB: 100,
			MaxAgeHours: 24 * 7,
			EnablePools: false,
			PoolSizes: PoolSizesConfig{
				Findings: 1000,
				Strings:  5000,
				Paths:    500,
				Maps:     200,
			},
			Persistent: PersistentCacheConfig{
				Enabled: false,
				Path:    ".scanguard/cache.db",
			},
			Remote: RemoteCacheConfig{
				Enabled: false,
				Region:  "us-east-1",
				Prefix:  "scanguard-cache",
			},
		},
		Parallelism: ParallelismConfig{
			MinWorkers:         1,
			MaxWorkers:         16,
			InitialWorkers:     8,
			SampleInterval:     2 * time.Second,
			AdjustmentInterval: 5 * time.Second,
			MaxHistorySize:     10,
			MmapThreshold:      10 * 1024 * 1024, // 10MB
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: false,
			MetricsPort:    9090,
			MetricsPath:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("SCANGUARD_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("SCANGUARD_CACHE_STRATEGY"); val != "" {
		c.Cache.Strategy = val
	}
	if val := os.Getenv("SCANGUARD_CACHE_MAX_ENTRIES"); val != "" {
		if entries, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = entries
		}
	}
	if val := os.Getenv("SCANGUARD_MAX_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Parallelism.MaxWorkers = workers
		}
	}
	if val := os.Getenv("SCANGUARD_METRICS_ENABLED"); val != "" {
		c.Monitoring.MetricsEnabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SCANGUARD_REMOTE_CACHE_BUCKET"); val != "" {
		c.Cache.Remote.Bucket = val
		c.Cache.Remote.Enabled = true
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than 0")
	}
	if c.Cache.MaxMemoryMB <= 0 {
		return fmt.Errorf("cache.max_memory_mb must be greater than 0")
	}
	if c.Cache.Strategy != "basic" && c.Cache.Strategy != "pooled" {
		return fmt.Errorf("invalid cache.strategy: %s (must be basic or pooled)", c.Cache.Strategy)
	}

	if c.Parallelism.MinWorkers <= 0 {
		return fmt.Errorf("parallelism.min_workers must be greater than 0")
	}
	if c.Parallelism.MaxWorkers < c.Parallelism.MinWorkers {
		return fmt.Errorf("parallelism.max_workers (%d) must be >= min_workers (%d)",
			c.Parallelism.MaxWorkers, c.Parallelism.MinWorkers)
	}
	if c.Parallelism.InitialWorkers < c.Parallelism.MinWorkers ||
		c.Parallelism.InitialWorkers > c.Parallelism.MaxWorkers {
		return fmt.Errorf("parallelism.initial_workers (%d) must be within [%d, %d]",
			c.Parallelism.InitialWorkers, c.Parallelism.MinWorkers, c.Parallelism.MaxWorkers)
	}
	if c.Parallelism.MaxHistorySize <= 0 {
		return fmt.Errorf("parallelism.max_history_size must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Cache.Remote.Enabled && c.Cache.Remote.Bucket == "" {
		return fmt.Errorf("cache.remote.bucket is required when remote cache is enabled")
	}

	return nil
}

// Fingerprint returns a stable hash over every setting that can affect
// analyzer output. It is used verbatim as the cache key fingerprint:
// two runs with the same fingerprint and unchanged files may share
// cached results.
func (c *Configuration) Fingerprint() string {
	h := xxhash.New()

	// Canonical order matters: the fingerprint must be deterministic
	// across processes, so fields are written in a fixed sequence.
	for _, a := range c.Analysis.EnabledAnalyzers {
		_, _ = h.WriteString("analyzer:")
		_, _ = h.WriteString(a)
		_, _ = h.WriteString("\n")
	}
	_, _ = h.WriteString(fmt.Sprintf("max_file_size:%d\n", c.Analysis.MaxFileSize))
	_, _ = h.WriteString(fmt.Sprintf("follow_symlinks:%t\n", c.Analysis.FollowSymlinks))
	_, _ = h.WriteString(fmt.Sprintf("include_hidden:%t\n", c.Analysis.IncludeHidden))
	for _, ext := range c.Analysis.FileExtensions {
		_, _ = h.WriteString("ext:")
		_, _ = h.WriteString(ext)
		_, _ = h.WriteString("\n")
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
