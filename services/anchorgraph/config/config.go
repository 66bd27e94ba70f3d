// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the anchorgraph YAML configuration.
//
// The file path comes from the --config flag or the ANCHORGRAPH_CONFIG
// environment variable. Values not present in the file keep their
// DefaultConfig values. The cache TTL can be changed at runtime; see Watch.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
	badgerstore "github.com/AleutianAI/anchorgraph/services/anchorgraph/storage/badger"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/telemetry"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "ANCHORGRAPH_CONFIG"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Config is the root of the configuration file.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Walker    WalkerConfig    `yaml:"walker"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig configures the persistent tier.
type StorageConfig struct {
	Path            string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory        bool          `yaml:"in_memory"`
	SyncWrites      bool          `yaml:"sync_writes"`
	IDBandwidth     uint64        `yaml:"id_bandwidth" validate:"gte=1"`
	GCInterval      time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio  float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
	CollectInterval time.Duration `yaml:"collect_interval" validate:"gte=0"`
	ConflictPolicy  string        `yaml:"conflict_policy" validate:"oneof=last_write_wins reject_stale"`
}

// CacheConfig configures the shared cache tier.
type CacheConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory redis none"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	Capacity      int           `yaml:"capacity" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Address     string        `yaml:"address" validate:"omitempty,hostname_port"`
	Prefix      string        `yaml:"prefix"`
	MaxIdle     int           `yaml:"max_idle" validate:"gte=0"`
	MaxActive   int           `yaml:"max_active" validate:"gte=0"`
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gte=0"`
}

// WalkerConfig configures the engine.
type WalkerConfig struct {
	MaxSteps     int           `yaml:"max_steps" validate:"gte=0"`
	SpawnTimeout time.Duration `yaml:"spawn_timeout" validate:"gte=0"`
}

// AdminConfig configures the operational HTTP server.
type AdminConfig struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`

	// GCInterval is the minimum spacing between POST /v1/gc collections.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// TelemetryConfig selects the OpenTelemetry exporters used by serve.
type TelemetryConfig struct {
	Environment    string `yaml:"environment"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Storage: StorageConfig{
			Path:            filepath.Join(home, ".anchorgraph", "data"),
			SyncWrites:      true,
			IDBandwidth:     1000,
			GCInterval:      5 * time.Minute,
			GCDiscardRatio:  0.5,
			CollectInterval: time.Hour,
			ConflictPolicy:  anchor.LastWriteWins.String(),
		},
		Cache: CacheConfig{
			Backend:       BackendMemory,
			TTL:           5 * time.Minute,
			Capacity:      100000,
			SweepInterval: time.Minute,
			Redis: RedisConfig{
				Prefix:      "anchorgraph:",
				MaxIdle:     8,
				IdleTimeout: 4 * time.Minute,
				DialTimeout: 5 * time.Second,
			},
		},
		Walker: WalkerConfig{
			MaxSteps:     100000,
			SpawnTimeout: time.Minute,
		},
		Admin: AdminConfig{Listen: "127.0.0.1:9464", GCInterval: time.Minute},
		Log:   LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  telemetry.ExporterNone,
			MetricExporter: telemetry.ExporterPrometheus,
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
	}
}

// ResolvePath returns flag when set, otherwise the EnvPath variable.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvPath)
}

// Load reads and validates the file at path over DefaultConfig. An empty
// path returns the validated defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating its directory.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var validate = validator.New()

// Validate checks field rules and cross-section constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		sort.Strings(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	if c.Cache.Backend == BackendRedis && c.Cache.Redis.Address == "" {
		return errors.New("invalid config: cache.redis.address is required for the redis backend")
	}
	return nil
}

// Badger returns the persistent tier configuration.
func (s StorageConfig) Badger(logger *slog.Logger) badgerstore.Config {
	return badgerstore.Config{
		Path:           s.Path,
		InMemory:       s.InMemory,
		SyncWrites:     s.SyncWrites,
		Logger:         logger,
		IDBandwidth:    s.IDBandwidth,
		GCInterval:     s.GCInterval,
		GCDiscardRatio: s.GCDiscardRatio,
	}
}

// Policy returns the configured commit conflict policy.
func (s StorageConfig) Policy() (anchor.ConflictPolicy, error) {
	return anchor.ParseConflictPolicy(s.ConflictPolicy)
}

// Build creates the configured cache.
//
// Outputs:
//
//	memory.Cache - The cache. A *memory.TTLCache for "memory", a
//	  *memory.RedisCache for "redis", memory.NopCache for "none".
//	error - Non-nil for an unknown backend or a Redis setup failure.
func (c CacheConfig) Build(logger *slog.Logger) (memory.Cache, error) {
	switch c.Backend {
	case BackendMemory:
		return memory.NewTTLCache(c.TTL, memory.WithCapacity(c.Capacity)), nil
	case BackendRedis:
		return memory.NewRedisCache(memory.RedisConfig{
			Address:     c.Redis.Address,
			Prefix:      c.Redis.Prefix,
			TTL:         c.TTL,
			MaxIdle:     c.Redis.MaxIdle,
			MaxActive:   c.Redis.MaxActive,
			IdleTimeout: c.Redis.IdleTimeout,
			DialTimeout: c.Redis.DialTimeout,
			Logger:      logger,
		})
	case BackendNone:
		return memory.NopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

// Logging returns the logger configuration for service.
func (l LogConfig) Logging(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  l.Dir,
		Service: service,
		JSON:    l.JSON,
	}, nil
}

// Exporters returns the telemetry configuration for service.
func (t TelemetryConfig) Exporters(service, version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    t.Environment,
		TraceExporter:  t.TraceExporter,
		MetricExporter: t.MetricExporter,
		OTLPEndpoint:   t.OTLPEndpoint,
		OTLPInsecure:   t.OTLPInsecure,
	}
}
