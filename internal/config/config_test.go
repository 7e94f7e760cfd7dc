package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"HTTP_ADDR", "GRPC_ADDR", "DATA_DIR", "STORE_IN_MEMORY", "SAMPLE_RATE",
	"FRAMES_PER_BUFFER", "INPUT_DEVICE", "EXCLUDED_AUDIO_DEVICES", "WARMUP_MS",
	"SIGNAL_THRESHOLD_RMS", "MAX_WAIT_SECONDS", "REFERENCE_SECONDS", "FEATURE_BINS",
	"ALERT_THRESHOLD", "ALERT_COOLDOWN", "RECORD_BATCH_SIZE", "RECORD_FLUSH_DELAY",
	"LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.GRPCAddr != ":50051" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":50051")
	}
	if cfg.SampleRate != 0 {
		t.Errorf("SampleRate = %d, want 0 (device default)", cfg.SampleRate)
	}
	if cfg.FramesPerBuffer != 128 {
		t.Errorf("FramesPerBuffer = %d, want 128", cfg.FramesPerBuffer)
	}
	if cfg.WarmupMs != 5000 {
		t.Errorf("WarmupMs = %d, want 5000", cfg.WarmupMs)
	}
	if cfg.SignalThresholdRMS != 0.002 {
		t.Errorf("SignalThresholdRMS = %f, want 0.002", cfg.SignalThresholdRMS)
	}
	if cfg.MaxWaitSeconds != 30 {
		t.Errorf("MaxWaitSeconds = %f, want 30", cfg.MaxWaitSeconds)
	}
	if cfg.FeatureBins != 512 {
		t.Errorf("FeatureBins = %d, want 512", cfg.FeatureBins)
	}
	if cfg.AlertCooldown != 30*time.Second {
		t.Errorf("AlertCooldown = %v, want 30s", cfg.AlertCooldown)
	}
	if cfg.StoreInMemory {
		t.Error("StoreInMemory should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("SAMPLE_RATE", "48000")
	t.Setenv("WARMUP_MS", "0")
	t.Setenv("SIGNAL_THRESHOLD_RMS", "0.01")
	t.Setenv("STORE_IN_MEMORY", "1")
	t.Setenv("ALERT_COOLDOWN", "45")
	t.Setenv("RECORD_FLUSH_DELAY", "500ms")
	t.Setenv("EXCLUDED_AUDIO_DEVICES", "zoom, ,webex")

	cfg := Load()

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, 48000)
	}
	if cfg.WarmupMs != 0 {
		t.Errorf("WarmupMs = %d, want 0", cfg.WarmupMs)
	}
	if cfg.SignalThresholdRMS != 0.01 {
		t.Errorf("SignalThresholdRMS = %f, want 0.01", cfg.SignalThresholdRMS)
	}
	if !cfg.StoreInMemory {
		t.Error("StoreInMemory should be true")
	}
	if cfg.AlertCooldown != 45*time.Second {
		t.Errorf("AlertCooldown = %v, want 45s", cfg.AlertCooldown)
	}
	if cfg.RecordFlushDelay != 500*time.Millisecond {
		t.Errorf("RecordFlushDelay = %v, want 500ms", cfg.RecordFlushDelay)
	}
	if len(cfg.ExcludedAudioDevices) != 2 || cfg.ExcludedAudioDevices[1] != "webex" {
		t.Errorf("ExcludedAudioDevices = %v", cfg.ExcludedAudioDevices)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "listener.yaml")
	body := "http_addr: \":7000\"\nsample_rate: 44100\nreference_seconds: 20\nalert_threshold: 75\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTP_ADDR", ":7100")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.HTTPAddr != ":7100" {
		t.Errorf("env should override file: HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.ReferenceSeconds != 20 {
		t.Errorf("ReferenceSeconds = %f, want 20", cfg.ReferenceSeconds)
	}
	if cfg.AlertThreshold != 75 {
		t.Errorf("AlertThreshold = %f, want 75", cfg.AlertThreshold)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", cfg.SlogLevel())
	}
	if cfg.FeatureBins != 512 {
		t.Errorf("unset keys keep defaults: FeatureBins = %d", cfg.FeatureBins)
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("feature_bins: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("zero feature bins should fail validation")
	}

	cfg, err := LoadFile("")
	if err != nil || cfg.HTTPAddr != ":8000" {
		t.Errorf("LoadFile(\"\") = %+v, %v", cfg, err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	if err := LoadEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GRPC_ADDR=:6000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override set variables; unset so the file applies.
	os.Unsetenv("GRPC_ADDR")
	t.Cleanup(func() { os.Unsetenv("GRPC_ADDR") })
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := Load().GRPCAddr; got != ":6000" {
		t.Errorf("GRPCAddr = %q, want :6000", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative rate", func(c *Config) { c.SampleRate = -1 }},
		{"zero frames", func(c *Config) { c.FramesPerBuffer = 0 }},
		{"negative warmup", func(c *Config) { c.WarmupMs = -5 }},
		{"zero wait", func(c *Config) { c.MaxWaitSeconds = 0 }},
		{"reference too short", func(c *Config) { c.ReferenceSeconds = 0.1 }},
		{"threshold above 100", func(c *Config) { c.AlertThreshold = 101 }},
		{"zero batch", func(c *Config) { c.RecordBatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCoreConfigs(t *testing.T) {
	cfg := Default()
	cfg.WarmupMs = 1000
	cfg.FeatureBins = 256

	cc := cfg.Capture(48000)
	if cc.SampleRate != 48000 || cc.WarmupMs != 1000 || cc.WindowSeconds != 0.33 {
		t.Errorf("Capture() = %+v", cc)
	}
	if err := cc.Validate(); err != nil {
		t.Errorf("capture config invalid: %v", err)
	}

	fc := cfg.Features(48000)
	if fc.Bins != 256 || fc.HopSeconds != 0.066 {
		t.Errorf("Features() = %+v", fc)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if v := getEnv("TEST_STRING", "default"); v != "hello" {
		t.Errorf("getEnv = %q, want %q", v, "hello")
	}
	if v := getEnv("NONEXISTENT", "default"); v != "default" {
		t.Errorf("getEnv = %q, want %q", v, "default")
	}

	t.Setenv("TEST_INT_INVALID", "not-a-number")
	if v := getEnvInt("TEST_INT_INVALID", 100); v != 100 {
		t.Errorf("getEnvInt with invalid = %d, want %d", v, 100)
	}

	t.Setenv("TEST_FLOAT", "3.14")
	if v := getEnvFloat("TEST_FLOAT", 0.0); v != 3.14 {
		t.Errorf("getEnvFloat = %f, want %f", v, 3.14)
	}

	t.Setenv("TEST_BOOL_ONE", "1")
	if !getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("getEnvBool should return true for '1'")
	}

	t.Setenv("TEST_DURATION_BAD", "soon")
	if v := getEnvDuration("TEST_DURATION_BAD", time.Minute); v != time.Minute {
		t.Errorf("getEnvDuration with invalid = %v, want 1m", v)
	}
}
