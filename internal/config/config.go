// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port              int    `yaml:"port"`
	APIKey            string `yaml:"api_key"`    // static key exchanged for admin tokens
	JWTSecret         string `yaml:"jwt_secret"` // signs admin session tokens
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`

	SessionTTL time.Duration `yaml:"-"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // empty disables the archive
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// SnapshotKey turns on at-rest encryption of job and task snapshots.
	// Empty disables it; otherwise it must be 16, 24, or 32 bytes.
	SnapshotKey string `yaml:"snapshot_key"`
}

// JobTypeConfig describes one processing pipeline the queue accepts.
type JobTypeConfig struct {
	WorkerType      string `yaml:"worker_type"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	DefaultPriority int    `yaml:"default_priority"`

	Timeout time.Duration `yaml:"-"`
}

type QueueConfig struct {
	MaxWorkers   int                      `yaml:"max_workers"`
	MaxQueueSize int                      `yaml:"max_queue_size"`
	MaxRetries   int                      `yaml:"max_retries"`
	JobTypes     map[string]JobTypeConfig `yaml:"job_types"`
}

type MonitorConfig struct {
	ReapIntervalSeconds     int `yaml:"reap_interval_seconds"`
	RetentionSeconds        int `yaml:"retention_seconds"`
	WatchdogIntervalSeconds int `yaml:"watchdog_interval_seconds"`
	SampleIntervalSeconds   int `yaml:"sample_interval_seconds"`

	ReapInterval     time.Duration `yaml:"-"`
	Retention        time.Duration `yaml:"-"`
	WatchdogInterval time.Duration `yaml:"-"`
	SampleInterval   time.Duration `yaml:"-"`
}

type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMS int     `yaml:"base_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
	MaxDelayMS  int     `yaml:"max_delay_ms"`

	BaseDelay time.Duration `yaml:"-"`
	MaxDelay  time.Duration `yaml:"-"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Retry    RetryConfig    `yaml:"retry"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Fallbacks for job types nobody configured. Unknown submissions still
// run, just on the general pool with a conservative timeout.
const (
	DefaultWorkerType = "general"
	DefaultJobTimeout = time.Hour
)

// JobType resolves a job type name to its pipeline settings. Unknown
// names get the general defaults and ok=false so the caller can log it.
func (q *QueueConfig) JobType(name string) (JobTypeConfig, bool) {
	if jt, ok := q.JobTypes[name]; ok {
		return jt, true
	}
	return JobTypeConfig{
		WorkerType: DefaultWorkerType,
		Timeout:    DefaultJobTimeout,
	}, false
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.SessionTTLMinutes <= 0 {
		cfg.Server.SessionTTLMinutes = 30
	}
	cfg.Server.SessionTTL = time.Duration(cfg.Server.SessionTTLMinutes) * time.Minute

	if cfg.Queue.MaxWorkers <= 0 {
		cfg.Queue.MaxWorkers = 10
	}
	if cfg.Queue.MaxQueueSize <= 0 {
		cfg.Queue.MaxQueueSize = 1000
	}
	if cfg.Queue.MaxRetries <= 0 {
		cfg.Queue.MaxRetries = 3
	}
	if len(cfg.Queue.JobTypes) == 0 {
		cfg.Queue.JobTypes = defaultJobTypes()
	}
	for name, jt := range cfg.Queue.JobTypes {
		if jt.WorkerType == "" {
			jt.WorkerType = DefaultWorkerType
		}
		if jt.TimeoutSeconds <= 0 {
			jt.Timeout = DefaultJobTimeout
		} else {
			jt.Timeout = time.Duration(jt.TimeoutSeconds) * time.Second
		}
		cfg.Queue.JobTypes[name] = jt
	}

	cfg.Monitor.ReapInterval = secondsOr(cfg.Monitor.ReapIntervalSeconds, 5*time.Minute)
	cfg.Monitor.Retention = secondsOr(cfg.Monitor.RetentionSeconds, time.Hour)
	cfg.Monitor.WatchdogInterval = secondsOr(cfg.Monitor.WatchdogIntervalSeconds, time.Minute)
	cfg.Monitor.SampleInterval = secondsOr(cfg.Monitor.SampleIntervalSeconds, 30*time.Second)

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Multiplier < 1 {
		cfg.Retry.Multiplier = 2.0
	}
	cfg.Retry.BaseDelay = millisOr(cfg.Retry.BaseDelayMS, 500*time.Millisecond)
	cfg.Retry.MaxDelay = millisOr(cfg.Retry.MaxDelayMS, 30*time.Second)

	// Minimal validation
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Server.JWTSecret == "" {
		return nil, errors.New("server.jwt_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func defaultJobTypes() map[string]JobTypeConfig {
	return map[string]JobTypeConfig{
		"ocr":             {WorkerType: "ocr", TimeoutSeconds: 1800, DefaultPriority: 5},
		"text_extraction": {WorkerType: "ocr", TimeoutSeconds: 1200, DefaultPriority: 3},
		"nlp_analysis":    {WorkerType: "nlp", TimeoutSeconds: 3600, DefaultPriority: 3},
		"pii_scan":        {WorkerType: "nlp", TimeoutSeconds: 2700, DefaultPriority: 8},
		"validation":      {WorkerType: "general", TimeoutSeconds: 900, DefaultPriority: 0},
	}
}

func secondsOr(s int, fallback time.Duration) time.Duration {
	if s <= 0 {
		return fallback
	}
	return time.Duration(s) * time.Second
}

func millisOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
