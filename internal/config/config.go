// Package config handles platform configuration
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/features"
)

type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	GRPCAddr      string `yaml:"grpc_addr"`
	DataDir       string `yaml:"data_dir"`
	StoreInMemory bool   `yaml:"store_in_memory"`

	SampleRate           int      `yaml:"sample_rate"` // 0 = device default
	FramesPerBuffer      int      `yaml:"frames_per_buffer"`
	InputDevice          string   `yaml:"input_device"`
	ExcludedAudioDevices []string `yaml:"excluded_audio_devices"`

	WarmupMs           int     `yaml:"warmup_ms"`
	SignalThresholdRMS float64 `yaml:"signal_threshold_rms"`
	MaxWaitSeconds     float64 `yaml:"max_wait_seconds"`
	ReferenceSeconds   float64 `yaml:"reference_seconds"`
	FeatureBins        int     `yaml:"feature_bins"`

	AlertThreshold float64       `yaml:"alert_threshold"` // score below which an alert fires
	AlertCooldown  time.Duration `yaml:"alert_cooldown"`

	RecordBatchSize  int           `yaml:"record_batch_size"`
	RecordFlushDelay time.Duration `yaml:"record_flush_delay"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:             ":8000",
		GRPCAddr:             ":50051",
		DataDir:              "./data",
		FramesPerBuffer:      128,
		ExcludedAudioDevices: []string{"iphone", "teams"},
		WarmupMs:             capture.DefaultWarmupMs,
		SignalThresholdRMS:   capture.DefaultSignalThresholdRMS,
		MaxWaitSeconds:       capture.DefaultMaxWaitSeconds,
		ReferenceSeconds:     10,
		FeatureBins:          features.DefaultBins,
		AlertThreshold:       60,
		AlertCooldown:        30 * time.Second,
		RecordBatchSize:      50,
		RecordFlushDelay:     2 * time.Second,
		LogLevel:             "info",
	}
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile overlays a YAML file on the defaults; environment variables
// still take precedence. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StoreInMemory = getEnvBool("STORE_IN_MEMORY", c.StoreInMemory)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.FramesPerBuffer = getEnvInt("FRAMES_PER_BUFFER", c.FramesPerBuffer)
	c.InputDevice = getEnv("INPUT_DEVICE", c.InputDevice)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.WarmupMs = getEnvInt("WARMUP_MS", c.WarmupMs)
	c.SignalThresholdRMS = getEnvFloat("SIGNAL_THRESHOLD_RMS", c.SignalThresholdRMS)
	c.MaxWaitSeconds = getEnvFloat("MAX_WAIT_SECONDS", c.MaxWaitSeconds)
	c.ReferenceSeconds = getEnvFloat("REFERENCE_SECONDS", c.ReferenceSeconds)
	c.FeatureBins = getEnvInt("FEATURE_BINS", c.FeatureBins)
	c.AlertThreshold = getEnvFloat("ALERT_THRESHOLD", c.AlertThreshold)
	c.AlertCooldown = getEnvDuration("ALERT_COOLDOWN", c.AlertCooldown)
	c.RecordBatchSize = getEnvInt("RECORD_BATCH_SIZE", c.RecordBatchSize)
	c.RecordFlushDelay = getEnvDuration("RECORD_FLUSH_DELAY", c.RecordFlushDelay)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate rejects values the capture and feature layers cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.SampleRate < 0:
		return fmt.Errorf("config: negative sample rate %d", c.SampleRate)
	case c.FramesPerBuffer <= 0:
		return fmt.Errorf("config: frames per buffer must be positive, got %d", c.FramesPerBuffer)
	case c.WarmupMs < 0:
		return fmt.Errorf("config: negative warmup %dms", c.WarmupMs)
	case c.SignalThresholdRMS < 0:
		return fmt.Errorf("config: negative signal threshold %g", c.SignalThresholdRMS)
	case c.MaxWaitSeconds <= 0:
		return fmt.Errorf("config: max wait must be positive, got %gs", c.MaxWaitSeconds)
	case c.ReferenceSeconds <= features.DefaultWindowSeconds:
		return fmt.Errorf("config: reference duration %gs shorter than one analysis window", c.ReferenceSeconds)
	case c.FeatureBins <= 0:
		return fmt.Errorf("config: feature bins must be positive, got %d", c.FeatureBins)
	case c.AlertThreshold < 0 || c.AlertThreshold > 100:
		return fmt.Errorf("config: alert threshold %g outside [0,100]", c.AlertThreshold)
	case c.RecordBatchSize <= 0:
		return fmt.Errorf("config: record batch size must be positive, got %d", c.RecordBatchSize)
	}
	return nil
}

// Capture returns the capture session parameters at sampleRate.
func (c *Config) Capture(sampleRate int) capture.Config {
	cfg := capture.DefaultConfig(sampleRate)
	cfg.WarmupMs = c.WarmupMs
	cfg.SignalThresholdRMS = c.SignalThresholdRMS
	cfg.MaxWaitSeconds = c.MaxWaitSeconds
	return cfg
}

// Features returns the extractor layout at sampleRate.
func (c *Config) Features(sampleRate int) features.Config {
	cfg := features.DefaultConfig(sampleRate)
	cfg.Bins = c.FeatureBins
	return cfg
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
