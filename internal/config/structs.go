//nolint:lll
package config

import (
	"errors"
	"fmt"
)

// Config represents the complete configuration for the tessellate OCR
// pipeline service. It supports loading from configuration files,
// environment variables, and command-line flags; once loaded it is
// treated as immutable and passed explicitly to component constructors.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Pipeline configuration
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Job store configuration
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// PipelineConfig contains the OCR pipeline settings.
type PipelineConfig struct {
	Tiler     TilerConfig     `mapstructure:"tiler" yaml:"tiler" json:"tiler"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine" json:"engine"`
	Assembler AssemblerConfig `mapstructure:"assembler" yaml:"assembler" json:"assembler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler" json:"scheduler"`
}

// TilerConfig contains image tiling settings.
type TilerConfig struct {
	BasePixelSize  int  `mapstructure:"base_pixel_size" yaml:"base_pixel_size" json:"base_pixel_size"`
	TileTargetSize int  `mapstructure:"tile_target_size" yaml:"tile_target_size" json:"tile_target_size"`
	MinCrops       int  `mapstructure:"min_crops" yaml:"min_crops" json:"min_crops"`
	MaxCrops       int  `mapstructure:"max_crops" yaml:"max_crops" json:"max_crops"`
	CropMode       bool `mapstructure:"crop_mode" yaml:"crop_mode" json:"crop_mode"`
}

// EngineConfig contains inference engine settings.
type EngineConfig struct {
	MaxBatchSize int    `mapstructure:"max_batch_size" yaml:"max_batch_size" json:"max_batch_size"`
	TimeoutMs    int    `mapstructure:"timeout_ms" yaml:"timeout_ms" json:"timeout_ms"`
	Devices      int    `mapstructure:"devices" yaml:"devices" json:"devices"`
	ModelURL     string `mapstructure:"model_url" yaml:"model_url" json:"model_url"`
}

// AssemblerConfig contains result assembly settings.
type AssemblerConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold" json:"similarity_threshold"`
}

// SchedulerConfig contains job scheduling settings.
type SchedulerConfig struct {
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	RetryCount        int `mapstructure:"retry_count" yaml:"retry_count" json:"retry_count"`
	RetryBackoffMs    int `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
}

// StoreConfig contains job store settings.
type StoreConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend" json:"backend"`
	RedisURL      string `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	JobTTLSeconds int    `mapstructure:"job_ttl_seconds" yaml:"job_ttl_seconds" json:"job_ttl_seconds"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			Tiler: TilerConfig{
				BasePixelSize:  1024,
				TileTargetSize: 640,
				MinCrops:       2,
				MaxCrops:       6,
				CropMode:       true,
			},
			Engine: EngineConfig{
				MaxBatchSize: 8,
				TimeoutMs:    30000,
				Devices:      1,
			},
			Assembler: AssemblerConfig{
				SimilarityThreshold: 0.85,
			},
			Scheduler: SchedulerConfig{
				MaxConcurrentJobs: 4,
				RetryCount:        2,
				RetryBackoffMs:    500,
			},
		},
		Store: StoreConfig{
			Backend:       "memory",
			JobTTLSeconds: 86400,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      300,
			ShutdownTimeout: 30,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	return c.Server.validate()
}

func (p *PipelineConfig) validate() error {
	t := p.Tiler
	if t.BasePixelSize <= 0 || t.TileTargetSize <= 0 {
		return errors.New("tiler sizes must be positive")
	}
	if t.MinCrops < 1 {
		return errors.New("min_crops must be at least 1")
	}
	if t.MaxCrops < t.MinCrops {
		return errors.New("max_crops must be >= min_crops")
	}

	e := p.Engine
	if e.MaxBatchSize <= 0 {
		return errors.New("max_batch_size must be positive")
	}
	if e.TimeoutMs <= 0 {
		return errors.New("engine timeout_ms must be positive")
	}
	if e.Devices <= 0 {
		return errors.New("engine devices must be positive")
	}

	if p.Assembler.SimilarityThreshold <= 0 || p.Assembler.SimilarityThreshold > 1 {
		return errors.New("similarity_threshold must be in (0, 1]")
	}

	s := p.Scheduler
	if s.MaxConcurrentJobs <= 0 {
		return errors.New("max_concurrent_jobs must be positive")
	}
	if s.RetryCount < 0 {
		return errors.New("retry_count cannot be negative")
	}
	if s.RetryBackoffMs < 0 {
		return errors.New("retry_backoff_ms cannot be negative")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Backend {
	case "", "memory":
	case "redis":
		if s.RedisURL == "" {
			return errors.New("redis backend requires redis_url")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", s.Backend)
	}
	if s.JobTTLSeconds < 0 {
		return errors.New("job_ttl_seconds cannot be negative")
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.MaxUploadMB <= 0 {
		return errors.New("max_upload_mb must be positive")
	}
	if s.TimeoutSec <= 0 {
		return errors.New("timeout_sec must be positive")
	}
	return nil
}
