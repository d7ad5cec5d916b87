/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package msglimit

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

// Limiting algorithms.
const (
	AlgSlidingWindow = "sliding_window"
	AlgThrottling    = "throttling"
)

const cfgDefaultKeyPrefix = "messageRateLimit"

const (
	cfgKeyAlg         = "alg"
	cfgKeyWindowSize  = "windowSize"
	cfgKeyMaxRequests = "maxRequests"
	cfgKeyMinInterval = "minInterval"
	cfgKeyMaxKeys     = "maxKeys"
)

// Config represents a configuration for per-user message-rate limiting.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Alg determines the limiting algorithm, "sliding_window" or "throttling".
	// An empty value means "sliding_window".
	Alg string `mapstructure:"alg" yaml:"alg" json:"alg"`

	// WindowSize is the trailing window duration. Matters only for the "sliding_window" algorithm.
	WindowSize config.TimeDuration `mapstructure:"windowSize" yaml:"windowSize" json:"windowSize"`

	// MaxRequests is the per-user message capacity within the window.
	// Matters only for the "sliding_window" algorithm.
	MaxRequests int `mapstructure:"maxRequests" yaml:"maxRequests" json:"maxRequests"`

	// MinInterval is the minimum gap between consecutive admitted messages of the same user.
	// Matters only for the "throttling" algorithm.
	MinInterval config.TimeDuration `mapstructure:"minInterval" yaml:"minInterval" json:"minInterval"`

	// MaxKeys bounds the number of users tracked simultaneously (LRU eviction), 0 means unbounded.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.Alg = AlgSlidingWindow
	cfg.WindowSize = config.TimeDuration(DefaultWindowSize)
	cfg.MaxRequests = DefaultMaxRequests
	cfg.MinInterval = config.TimeDuration(DefaultMinInterval)
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyAlg, AlgSlidingWindow)
	dp.SetDefault(cfgKeyWindowSize, DefaultWindowSize.String())
	dp.SetDefault(cfgKeyMaxRequests, DefaultMaxRequests)
	dp.SetDefault(cfgKeyMinInterval, DefaultMinInterval.String())
}

// Set sets limiting configuration values from config.DataProvider.
// Values are read with per-key getters so that defaults from SetProviderDefaults
// apply to keys missing in the loaded data.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Alg, err = dp.GetString(cfgKeyAlg); err != nil {
		return err
	}

	var windowSize time.Duration
	if windowSize, err = dp.GetDuration(cfgKeyWindowSize); err != nil {
		return err
	}
	c.WindowSize = config.TimeDuration(windowSize)

	if c.MaxRequests, err = dp.GetInt(cfgKeyMaxRequests); err != nil {
		return err
	}

	var minInterval time.Duration
	if minInterval, err = dp.GetDuration(cfgKeyMinInterval); err != nil {
		return err
	}
	c.MinInterval = config.TimeDuration(minInterval)

	if c.MaxKeys, err = dp.GetInt(cfgKeyMaxKeys); err != nil {
		return err
	}

	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	switch c.Alg {
	case "", AlgSlidingWindow:
		if c.WindowSize <= 0 {
			return fmt.Errorf("window size should be positive, got %s", c.WindowSize)
		}
		if c.MaxRequests < 1 {
			return fmt.Errorf("max requests should be >= 1, got %d", c.MaxRequests)
		}
	case AlgThrottling:
		if c.MinInterval <= 0 {
			return fmt.Errorf("min interval should be positive, got %s", c.MinInterval)
		}
	default:
		return fmt.Errorf("unknown message rate limit alg %q", c.Alg)
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("max keys should be >= 0, got %d", c.MaxKeys)
	}
	return nil
}

// NewLimiter creates a MessageLimiter described by the passed configuration.
func NewLimiter(cfg *Config) (MessageLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Alg {
	case "", AlgSlidingWindow:
		return NewSlidingWindowLimiter(time.Duration(cfg.WindowSize), cfg.MaxRequests, cfg.MaxKeys)
	case AlgThrottling:
		return NewThrottlingLimiter(time.Duration(cfg.MinInterval), cfg.MaxKeys)
	default:
		return nil, fmt.Errorf("unknown message rate limit alg %q", cfg.Alg)
	}
}
