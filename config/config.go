// Package config loads fetch run settings from YAML and turns them into
// pool options.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/utkarsh5026/fetchpool/internal/backoff"
	"github.com/utkarsh5026/fetchpool/pool"
	"github.com/ygrebnov/errorc"
	"gopkg.in/yaml.v3"
)

// Limiter kinds accepted in rate.limiter.
const (
	LimiterTokenBucket = "token"
	LimiterLeakyBucket = "leaky"
)

// ─── YAML schema ───────────────────────────────────────────────────────────

// Rate configures the call rate shared by all workers.
type Rate struct {
	// CallsPerSecond of zero disables rate limiting.
	CallsPerSecond float64 `yaml:"calls_per_second"`
	Burst          int     `yaml:"burst"`
	Limiter        string  `yaml:"limiter"`
}

// Retry configures per-item retries and their backoff.
type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Backoff      string        `yaml:"backoff"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       float64       `yaml:"jitter"`
}

// File is the on-disk run configuration.
type File struct {
	Workers       int           `yaml:"workers"`
	MaxInFlight   int           `yaml:"max_in_flight"`
	QueueCapacity int           `yaml:"queue_capacity"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	Rate          Rate          `yaml:"rate"`
	Retry         Retry         `yaml:"retry"`
}

// ─── embedded defaults ─────────────────────────────────────────────────────

//go:embed default.yml
var defaults []byte

// Default returns the built-in configuration.
func Default() *File {
	f, err := Parse(defaults)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return f
}

// Load reads path over the built-in defaults. An empty path returns the defaults.
func Load(path string) (*File, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := parseOver(Default(), raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes raw YAML and validates it. Fields absent from raw are zero.
func Parse(raw []byte) (*File, error) {
	return parseOver(&File{}, raw)
}

func parseOver(f *File, raw []byte) (*File, error) {
	if err := yaml.Unmarshal(raw, f); err != nil {
		return nil, errorc.With(pool.ErrInvalidConfig, errorc.String("yaml", err.Error()))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate reports the first invalid setting as an error wrapping
// pool.ErrInvalidConfig.
func (f *File) Validate() error {
	switch {
	case f.Workers < 0:
		return invalid("workers", "must not be negative")
	case f.MaxInFlight < 0:
		return invalid("max_in_flight", "must not be negative")
	case f.QueueCapacity < 0:
		return invalid("queue_capacity", "must not be negative")
	case f.FetchTimeout < 0:
		return invalid("fetch_timeout", "must not be negative")
	case f.RunTimeout < 0:
		return invalid("run_timeout", "must not be negative")
	case f.Rate.CallsPerSecond < 0:
		return invalid("rate.calls_per_second", "must not be negative")
	case f.Rate.CallsPerSecond > 0 && f.Rate.Burst < 1:
		return invalid("rate.burst", "must be at least 1 when a rate is set")
	case f.Rate.Limiter != "" && f.Rate.Limiter != LimiterTokenBucket && f.Rate.Limiter != LimiterLeakyBucket:
		return invalid("rate.limiter", fmt.Sprintf("unknown limiter %q", f.Rate.Limiter))
	case f.Retry.MaxAttempts < 0:
		return invalid("retry.max_attempts", "must not be negative")
	case f.Retry.InitialDelay < 0 || f.Retry.MaxDelay < 0:
		return invalid("retry", "delays must not be negative")
	case f.Retry.Jitter < 0 || f.Retry.Jitter > 1:
		return invalid("retry.jitter", "must be between 0 and 1")
	}
	if _, ok := backoff.Parse(f.Retry.Backoff); !ok {
		return invalid("retry.backoff", fmt.Sprintf("unknown backoff %q", f.Retry.Backoff))
	}
	return nil
}

func invalid(key, msg string) error {
	return errorc.With(pool.ErrInvalidConfig, errorc.String(key, msg))
}

// Options converts the file into pool options. Zero values keep the pool's defaults.
func (f *File) Options() []pool.Option {
	opts := []pool.Option{
		pool.WithWorkerCount(f.Workers),
		pool.WithMaxInFlight(f.MaxInFlight),
		pool.WithQueueCapacity(f.QueueCapacity),
		pool.WithRunTimeout(f.RunTimeout),
	}
	if f.FetchTimeout > 0 {
		opts = append(opts, pool.WithFetchTimeout(f.FetchTimeout))
	}

	if r := f.Rate; r.CallsPerSecond > 0 {
		switch r.Limiter {
		case LimiterLeakyBucket:
			opts = append(opts, pool.WithLeakyBucket(1, time.Duration(float64(time.Second)/r.CallsPerSecond)))
		default:
			opts = append(opts, pool.WithRateLimit(r.CallsPerSecond, r.Burst))
		}
	}

	if f.Retry.MaxAttempts > 1 {
		kind, _ := backoff.Parse(f.Retry.Backoff)
		opts = append(opts,
			pool.WithRetryPolicy(f.Retry.MaxAttempts, f.Retry.InitialDelay),
			pool.WithBackoff(kind, f.Retry.MaxDelay, f.Retry.Jitter),
		)
	}
	return opts
}
