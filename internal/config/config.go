// Package config loads the settings of a disruptor run from a file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aradilov/disruptor"
)

const envPrefix = "DISRUPTOR"

// Config describes one disruptor run.
type Config struct {
	// CapacityExponent sizes the ring to 1<<CapacityExponent slots.
	CapacityExponent uint `mapstructure:"capacity_exponent"`
	Consumers        int  `mapstructure:"consumers"`

	// Chain makes consumer i wait on consumer i+1; the last one has no
	// upstream. Ignored when Upstreams is set.
	Chain bool `mapstructure:"chain"`
	// Upstreams lists the upstream id per consumer, -1 for none.
	Upstreams []int `mapstructure:"upstreams"`

	WaitStrategy string        `mapstructure:"wait_strategy"`
	Duration     time.Duration `mapstructure:"duration"`
	PinThreads   bool          `mapstructure:"pin_threads"`
	LogLevel     string        `mapstructure:"log_level"`
}

// SetDefaults registers the defaults, matching the classic demo: 256 slots,
// four chained consumers, pure spinning, three seconds.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("capacity_exponent", 8)
	v.SetDefault("consumers", 4)
	v.SetDefault("chain", true)
	// registered so DISRUPTOR_UPSTREAMS is picked up by Unmarshal
	v.SetDefault("upstreams", []int{})
	v.SetDefault("wait_strategy", "spin")
	v.SetDefault("duration", 3*time.Second)
	v.SetDefault("pin_threads", false)
	v.SetDefault("log_level", "info")
}

// Load reads path (when not empty) and DISRUPTOR_* environment variables into
// v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings before any memory is allocated.
func (c *Config) Validate() error {
	var errs []error
	if c.CapacityExponent == 0 || c.CapacityExponent > disruptor.MaxCapacityExponent {
		errs = append(errs, fmt.Errorf("capacity_exponent %d: %w", c.CapacityExponent, disruptor.ErrCapacity))
	}
	if c.Consumers < 1 {
		errs = append(errs, fmt.Errorf("consumers must be at least 1, got %d", c.Consumers))
	}
	if len(c.Upstreams) != 0 && len(c.Upstreams) != c.Consumers {
		errs = append(errs, fmt.Errorf("upstreams has %d entries for %d consumers", len(c.Upstreams), c.Consumers))
	}
	if c.Duration <= 0 {
		errs = append(errs, fmt.Errorf("duration must be positive, got %s", c.Duration))
	}
	if _, err := disruptor.ParseWaitStrategy(c.WaitStrategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// UpstreamOf returns the upstream id of consumer i, or -1.
func (c *Config) UpstreamOf(i int) int {
	if len(c.Upstreams) != 0 {
		return c.Upstreams[i]
	}
	if c.Chain && i < c.Consumers-1 {
		return i + 1
	}
	return -1
}
