// Package config loads client settings from an optional TOML file and
// SHADOWCALL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	envPrefix       = "SHADOWCALL"
	configType      = "toml"
	configFileMode  = 0o600
	configDirMode   = 0o700
	tempFilePattern = ".shadowcall-*.toml.tmp"
)

// Bounds for the transport tunables.
const (
	// MinRequestTimeout is the smallest request timeout in milliseconds.
	MinRequestTimeout = 100
	// MaxRequestTimeout is the largest request timeout in milliseconds (10 minutes).
	MaxRequestTimeout = 600000
	// MaxRetryAttempts caps control-plane retries.
	MaxRetryAttempts = 100
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every tunable of the client.
type Config struct {
	Endpoint        string `mapstructure:"endpoint" toml:"endpoint"`
	APIEndpoint     string `mapstructure:"api_endpoint" toml:"api_endpoint"`
	ProductKey      string `mapstructure:"product_key" toml:"product_key"`
	UseSimulation   bool   `mapstructure:"use_simulation" toml:"use_simulation"`
	RequestTimeout  int    `mapstructure:"request_timeout" toml:"request_timeout" comment:"milliseconds"`
	RetryAttempts   int    `mapstructure:"retry_attempts" toml:"retry_attempts"`
	CallbackWorkers int    `mapstructure:"callback_workers" toml:"callback_workers"`
	CallTimeout     int    `mapstructure:"call_timeout" toml:"call_timeout" comment:"milliseconds"`
	LogLevel        string `mapstructure:"log_level" toml:"log_level"`
	VaultDir        string `mapstructure:"vault_dir" toml:"vault_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	vaultDir := ".shadowcall"
	if home, err := os.UserHomeDir(); err == nil {
		vaultDir = filepath.Join(home, ".shadowcall")
	}
	return Config{
		Endpoint:        "wss://broker.shadowcall.io/mqtt",
		APIEndpoint:     "https://api.shadowcall.io",
		ProductKey:      "doorbell",
		UseSimulation:   false,
		RequestTimeout:  5000,
		RetryAttempts:   3,
		CallbackWorkers: 4,
		CallTimeout:     30000,
		LogLevel:        "info",
		VaultDir:        vaultDir,
	}
}

// Load reads path (when non-empty and present) and applies environment
// overrides such as SHADOWCALL_API_ENDPOINT on top of the defaults. It is
// the only place SHADOWCALL_* variables are read.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("endpoint", def.Endpoint)
	v.SetDefault("api_endpoint", def.APIEndpoint)
	v.SetDefault("product_key", def.ProductKey)
	v.SetDefault("use_simulation", def.UseSimulation)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("retry_attempts", def.RetryAttempts)
	v.SetDefault("callback_workers", def.CallbackWorkers)
	v.SetDefault("call_timeout", def.CallTimeout)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("vault_dir", def.VaultDir)
	// SHADOWCALL_NETWORK_TIMEOUT is the older name of the request timeout.
	if err := v.BindEnv("request_timeout", envPrefix+"_REQUEST_TIMEOUT", envPrefix+"_NETWORK_TIMEOUT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "config.Load",
				"path":     path,
			}).Debug("Config file not found, using defaults")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "config.Load",
		"path":           path,
		"use_simulation": cfg.UseSimulation,
		"api_endpoint":   cfg.APIEndpoint,
	}).Info("Loaded configuration")
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.RequestTimeout < MinRequestTimeout || c.RequestTimeout > MaxRequestTimeout {
		return fmt.Errorf("%w: request_timeout must be within [%d, %d]", ErrInvalidConfig, MinRequestTimeout, MaxRequestTimeout)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%w: call_timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > MaxRetryAttempts {
		return fmt.Errorf("%w: retry_attempts must be within [0, %d]", ErrInvalidConfig, MaxRetryAttempts)
	}
	if c.CallbackWorkers < 1 {
		return fmt.Errorf("%w: callback_workers must be at least 1", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Transport converts the settings used by the transports.
func (c Config) Transport() *interfaces.TransportConfig {
	return &interfaces.TransportConfig{
		UseSimulation:   c.UseSimulation,
		Endpoint:        c.Endpoint,
		APIEndpoint:     c.APIEndpoint,
		NetworkTimeout:  c.RequestTimeout,
		RetryAttempts:   c.RetryAttempts,
		CallbackWorkers: c.CallbackWorkers,
	}
}

// CallTimeoutDuration returns CallTimeout as a duration.
func (c Config) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Millisecond
}

// ApplyLogLevel sets the global logrus level.
func (c Config) ApplyLogLevel() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

// WriteDefault writes the default configuration to path, replacing any
// existing file atomically.
func WriteDefault(path string) error {
	return Write(path, Default())
}

// Write renders cfg as TOML at path.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tempFile.Chmod(configFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false
	return nil
}
