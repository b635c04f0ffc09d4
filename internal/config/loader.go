package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "tessellate"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "TESSELLATE"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper()}
}

// Load loads configuration from files, environment variables, and
// defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")

	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// LoadWithFile loads configuration from an explicit file path.
func (l *Loader) LoadWithFile(path string) (*Config, error) {
	l.SetConfigFile(path)
	return l.Load()
}

// SetConfigFile sets an explicit configuration file path.
func (l *Loader) SetConfigFile(path string) {
	if path != "" {
		l.v.SetConfigFile(path)
	}
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", ConfigFileName))
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath("/etc/" + ConfigFileName)
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *Loader) setDefaults() {
	def := Default()

	l.v.SetDefault("log_level", def.LogLevel)
	l.v.SetDefault("verbose", def.Verbose)

	l.v.SetDefault("pipeline.tiler.base_pixel_size", def.Pipeline.Tiler.BasePixelSize)
	l.v.SetDefault("pipeline.tiler.tile_target_size", def.Pipeline.Tiler.TileTargetSize)
	l.v.SetDefault("pipeline.tiler.min_crops", def.Pipeline.Tiler.MinCrops)
	l.v.SetDefault("pipeline.tiler.max_crops", def.Pipeline.Tiler.MaxCrops)
	l.v.SetDefault("pipeline.tiler.crop_mode", def.Pipeline.Tiler.CropMode)

	l.v.SetDefault("pipeline.engine.max_batch_size", def.Pipeline.Engine.MaxBatchSize)
	l.v.SetDefault("pipeline.engine.timeout_ms", def.Pipeline.Engine.TimeoutMs)
	l.v.SetDefault("pipeline.engine.devices", def.Pipeline.Engine.Devices)
	l.v.SetDefault("pipeline.engine.model_url", def.Pipeline.Engine.ModelURL)

	l.v.SetDefault("pipeline.assembler.similarity_threshold", def.Pipeline.Assembler.SimilarityThreshold)

	l.v.SetDefault("pipeline.scheduler.max_concurrent_jobs", def.Pipeline.Scheduler.MaxConcurrentJobs)
	l.v.SetDefault("pipeline.scheduler.retry_count", def.Pipeline.Scheduler.RetryCount)
	l.v.SetDefault("pipeline.scheduler.retry_backoff_ms", def.Pipeline.Scheduler.RetryBackoffMs)

	l.v.SetDefault("store.backend", def.Store.Backend)
	l.v.SetDefault("store.redis_url", def.Store.RedisURL)
	l.v.SetDefault("store.job_ttl_seconds", def.Store.JobTTLSeconds)

	l.v.SetDefault("server.host", def.Server.Host)
	l.v.SetDefault("server.port", def.Server.Port)
	l.v.SetDefault("server.cors_origin", def.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", def.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", def.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)
}
