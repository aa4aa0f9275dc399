// Package config loads zkim's runtime configuration via viper, with an
// optional fsnotify watch for hot-reloadable knobs (rate limits, bucket
// sizes). Crypto material (master keys) is never accepted through this
// path — only operational tuning.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CryptoConfig controls the Crypto Kernel (C1).
type CryptoConfig struct {
	ChunkSize              int  `mapstructure:"chunk_size"`
	EnableCompression      bool `mapstructure:"enable_compression"`
	CompressionMinSize     int64 `mapstructure:"compression_min_size"`
	CompressionLevel       int  `mapstructure:"compression_level"`
	EnableKeyRotation      bool `mapstructure:"enable_key_rotation"`
	CompromiseThreshold    int  `mapstructure:"compromise_threshold"`
	EnableCompromiseDetect bool `mapstructure:"enable_compromise_detect"`
}

// SearchConfig controls the Search Index Core (C3). Field names mirror
// §4.3/§6 of the specification exactly.
type SearchConfig struct {
	EnableOPRF               bool          `mapstructure:"enable_oprf"`
	EnableRateLimiting       bool          `mapstructure:"enable_rate_limiting"`
	EnableTrapdoorRotation   bool          `mapstructure:"enable_trapdoor_rotation"`
	EnablePrivacyEnhancement bool          `mapstructure:"enable_privacy_enhancement"`
	EnableResultPadding      bool          `mapstructure:"enable_result_padding"`
	EnableQueryLogging       bool          `mapstructure:"enable_query_logging"`
	EpochDuration            time.Duration `mapstructure:"epoch_duration"`
	MaxQueriesPerEpoch       int           `mapstructure:"max_queries_per_epoch"`
	RotationThreshold        int           `mapstructure:"rotation_threshold"`
	BucketSizes              []int         `mapstructure:"bucket_sizes"`
	AutoSaveInterval         time.Duration `mapstructure:"auto_save_interval"`
	TestMode                 bool          `mapstructure:"test_mode"`
}

// BackendConfig describes the blob-store backend (§6 blob store contract).
type BackendConfig struct {
	Provider  string `mapstructure:"provider"` // "s3", "memory"
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
}

// RedisConfig describes the optional Redis backend used by the
// distributed rate limiter and the local key/value fallback store.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

// TracingConfig controls the OpenTelemetry tracer wired around the
// Service Shell's operations.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter"` // "stdout", "otlp"
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// KMIPConfig describes the optional KMIP key manager wrapping the
// platform key layer.
type KMIPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	KeyID    string `mapstructure:"key_id"`
}

// HardwareConfig controls AES hardware-acceleration reporting.
type HardwareConfig struct {
	EnableAESNI    bool `mapstructure:"enable_aesni"`
	EnableARMv8AES bool `mapstructure:"enable_armv8_aes"`
}

// AuditConfig controls the audit logger (adapted from the teacher's
// internal/audit package).
type AuditConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	MaxEvents           int      `mapstructure:"max_events"`
	RedactMetadataKeys  []string `mapstructure:"redact_metadata_keys"`
	Sink                SinkConfig `mapstructure:"sink"`
}

// SinkConfig describes where audit events are written.
type SinkConfig struct {
	Type          string            `mapstructure:"type"` // "stdout", "file", "http"
	FilePath      string            `mapstructure:"file_path"`
	Endpoint      string            `mapstructure:"endpoint"`
	Headers       map[string]string `mapstructure:"headers"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
	RetryCount    int               `mapstructure:"retry_count"`
	RetryBackoff  time.Duration     `mapstructure:"retry_backoff"`
}

// Config is the top-level configuration for a zkim service instance.
type Config struct {
	Crypto   CryptoConfig   `mapstructure:"crypto"`
	Search   SearchConfig   `mapstructure:"search"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	KMIP     KMIPConfig     `mapstructure:"kmip"`
	Hardware HardwareConfig `mapstructure:"hardware"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	API      APIConfig      `mapstructure:"api"`
}

// APIConfig holds settings for an optional HTTP API. Nothing in this
// repository reads it or mounts an HTTP server.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns the configuration with every default named in spec §4.3/§6.
func Default() *Config {
	return &Config{
		Crypto: CryptoConfig{
			ChunkSize:              524288,
			EnableCompression:      true,
			CompressionMinSize:     256,
			CompressionLevel:       3,
			EnableKeyRotation:      false,
			CompromiseThreshold:    5,
			EnableCompromiseDetect: false,
		},
		Search: SearchConfig{
			EnableOPRF:               true,
			EnableRateLimiting:       true,
			EnableTrapdoorRotation:   true,
			EnablePrivacyEnhancement: true,
			EnableResultPadding:      true,
			EnableQueryLogging:       true,
			EpochDuration:            24 * time.Hour,
			MaxQueriesPerEpoch:       1000,
			RotationThreshold:        100,
			BucketSizes:              []int{32, 64, 128, 256},
			AutoSaveInterval:         60 * time.Second,
		},
		Backend: BackendConfig{
			Provider: "memory",
		},
		Hardware: HardwareConfig{
			EnableAESNI:    true,
			EnableARMv8AES: true,
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 10000,
			Sink:      SinkConfig{Type: "stdout"},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "zkim",
		},
		API: APIConfig{
			Enabled: false,
			Addr:    ":8443",
		},
	}
}

// Load reads configuration from the given path (if non-empty), layering
// it over Default(), and binds ZKIM_-prefixed environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ZKIM")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.Search.TestMode {
		cfg.Search.AutoSaveInterval = time.Second
	}

	return cfg, nil
}

// Watch arms an fsnotify watch on the backing config file and invokes
// onChange with the reloaded configuration whenever it's written. Callers
// typically use this to re-arm the Search Index Core's rate-limit and
// bucket-size knobs without a restart.
func Watch(path string, onChange func(*Config)) error {
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := Default()
		if err := v.Unmarshal(cfg); err == nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}
