package factory

import (
	"errors"
	"sync"

	"github.com/opd-ai/shadowcall/config"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/real"
	"github.com/opd-ai/shadowcall/testing"
	"github.com/sirupsen/logrus"
)

// ErrMediaRequired is returned when real transports are requested without a
// media transport.
var ErrMediaRequired = errors.New("media transport is required for real transports")

// Transports is the set of collaborators the client runs on.
type Transports struct {
	PubSub       interfaces.IPubSub
	ControlPlane interfaces.IControlPlane
	Media        interfaces.IMediaTransport

	// Broker and Cloud are set only in simulation mode.
	Broker *testing.Broker
	Cloud  *testing.Cloud
}

// TransportFactory creates transports based on configuration.
// It is safe for concurrent use.
type TransportFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.TransportConfig
}

// TestConfigOption is a functional option for customizing test simulation configuration.
type TestConfigOption func(*interfaces.TransportConfig)

// NewTransportFactory creates a new factory whose defaults come from
// config.Load, so SHADOWCALL_* overrides apply here exactly as they do for a
// client.
func NewTransportFactory() *TransportFactory {
	defaultConfig := loadDefaultConfig()
	logConfigurationInfo(defaultConfig)

	return &TransportFactory{
		defaultConfig: defaultConfig,
	}
}

// loadDefaultConfig resolves the defaults plus environment overrides. An
// invalid environment is logged and the built-in defaults are used.
func loadDefaultConfig() *interfaces.TransportConfig {
	cfg, err := config.Load("")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "loadDefaultConfig",
			"error":    err.Error(),
		}).Warn("Invalid SHADOWCALL_* environment, using built-in defaults")
		return config.Default().Transport()
	}
	return cfg.Transport()
}

func logConfigurationInfo(cfg *interfaces.TransportConfig) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewTransportFactory",
		"use_simulation":  cfg.UseSimulation,
		"endpoint":        cfg.Endpoint,
		"api_endpoint":    cfg.APIEndpoint,
		"network_timeout": cfg.NetworkTimeout,
		"retry_attempts":  cfg.RetryAttempts,
	}).Info("Created transport factory with configuration")
}

// CreateTransports creates transports based on the factory configuration.
// media is required in real mode and ignored in simulation mode.
func (f *TransportFactory) CreateTransports(media interfaces.IMediaTransport) (*Transports, error) {
	f.mu.RLock()
	cfg := copyConfig(f.defaultConfig)
	f.mu.RUnlock()
	return f.CreateTransportsWithConfig(media, cfg)
}

// CreateTransportsWithConfig creates transports with a custom configuration.
func (f *TransportFactory) CreateTransportsWithConfig(media interfaces.IMediaTransport, cfg *interfaces.TransportConfig) (*Transports, error) {
	if cfg == nil {
		f.mu.RLock()
		cfg = copyConfig(f.defaultConfig)
		f.mu.RUnlock()
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateTransportsWithConfig",
		"use_simulation":  cfg.UseSimulation,
		"network_timeout": cfg.NetworkTimeout,
		"retry_attempts":  cfg.RetryAttempts,
	}).Info("Creating transports")

	if cfg.UseSimulation {
		return newSimulation(), nil
	}

	if media == nil {
		return nil, ErrMediaRequired
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateTransportsWithConfig",
		"type":     "real",
	}).Info("Creating real transports")

	return &Transports{
		PubSub:       real.NewWSPubSub(cfg),
		ControlPlane: real.NewHTTPControlPlane(cfg),
		Media:        media,
	}, nil
}

func newSimulation() *Transports {
	logrus.WithFields(logrus.Fields{
		"function": "newSimulation",
		"type":     "simulation",
	}).Info("Creating simulated transports")

	broker := testing.NewBroker()
	cloud := testing.NewCloud(broker)
	return &Transports{
		PubSub:       broker.NewClient(),
		ControlPlane: cloud.NewControlPlane(),
		Media:        testing.NewSimulatedMedia(),
		Broker:       broker,
		Cloud:        cloud,
	}
}

// WithNetworkTimeout sets a custom network timeout for the test configuration.
func WithNetworkTimeout(timeout int) TestConfigOption {
	return func(c *interfaces.TransportConfig) {
		c.NetworkTimeout = timeout
	}
}

// WithRetryAttempts sets custom retry attempts for the test configuration.
func WithRetryAttempts(retries int) TestConfigOption {
	return func(c *interfaces.TransportConfig) {
		c.RetryAttempts = retries
	}
}

// CreateSimulationForTesting creates simulated transports with test-friendly
// settings: NetworkTimeout=1000ms, RetryAttempts=1.
func (f *TransportFactory) CreateSimulationForTesting(opts ...TestConfigOption) *Transports {
	testConfig := &interfaces.TransportConfig{
		UseSimulation:   true,
		NetworkTimeout:  1000,
		RetryAttempts:   1,
		CallbackWorkers: 1,
	}
	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateSimulationForTesting",
		"network_timeout": testConfig.NetworkTimeout,
		"retry_attempts":  testConfig.RetryAttempts,
	}).Info("Creating simulation transports for testing")

	return newSimulation()
}

// SwitchToSimulation switches the configuration to use simulation
func (f *TransportFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to simulation mode")
	f.defaultConfig.UseSimulation = true
}

// SwitchToReal switches the configuration to use real implementation
func (f *TransportFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"function": "SwitchToReal",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to real mode")
	f.defaultConfig.UseSimulation = false
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *TransportFactory) GetCurrentConfig() *interfaces.TransportConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyConfig(f.defaultConfig)
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *TransportFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultConfig.UseSimulation
}

// UpdateConfig replaces the factory's default configuration with a copy of
// cfg.
func (f *TransportFactory) UpdateConfig(cfg *interfaces.TransportConfig) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"old_simulation": f.defaultConfig.UseSimulation,
		"new_simulation": cfg.UseSimulation,
		"old_timeout":    f.defaultConfig.NetworkTimeout,
		"new_timeout":    cfg.NetworkTimeout,
	}).Info("Updating factory configuration")

	f.defaultConfig = copyConfig(cfg)
	return nil
}

func copyConfig(c *interfaces.TransportConfig) *interfaces.TransportConfig {
	cp := *c
	return &cp
}
