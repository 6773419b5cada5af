package factory

import (
	"testing"

	shadowconfig "github.com/opd-ai/shadowcall/config"
	"github.com/opd-ai/shadowcall/interfaces"
	simtest "github.com/opd-ai/shadowcall/testing"
)

func TestNewTransportFactoryDefaults(t *testing.T) {
	t.Setenv("SHADOWCALL_USE_SIMULATION", "")
	t.Setenv("SHADOWCALL_NETWORK_TIMEOUT", "")
	t.Setenv("SHADOWCALL_RETRY_ATTEMPTS", "")
	t.Setenv("SHADOWCALL_REQUEST_TIMEOUT", "")

	f := NewTransportFactory()
	config := f.GetCurrentConfig()
	if config.NetworkTimeout != 5000 {
		t.Errorf("expected default NetworkTimeout 5000, got %d", config.NetworkTimeout)
	}
	if config.RetryAttempts != 3 {
		t.Errorf("expected default RetryAttempts 3, got %d", config.RetryAttempts)
	}
	if config.UseSimulation {
		t.Error("expected real mode by default")
	}
	def := shadowconfig.Default()
	if config.Endpoint != def.Endpoint || config.APIEndpoint != def.APIEndpoint {
		t.Errorf("unexpected endpoints %q %q", config.Endpoint, config.APIEndpoint)
	}
}

// TestEnvironmentVariableParsing verifies environment variable handling
func TestEnvironmentVariableParsing(t *testing.T) {
	tests := []struct {
		name      string
		envKey    string
		envValue  string
		checkFunc func(*interfaces.TransportConfig) bool
	}{
		{"valid_simulation_true", "SHADOWCALL_USE_SIMULATION", "true",
			func(c *interfaces.TransportConfig) bool { return c.UseSimulation }},
		{"invalid_simulation_value", "SHADOWCALL_USE_SIMULATION", "maybe",
			func(c *interfaces.TransportConfig) bool { return !c.UseSimulation }},
		{"valid_timeout", "SHADOWCALL_NETWORK_TIMEOUT", "10000",
			func(c *interfaces.TransportConfig) bool { return c.NetworkTimeout == 10000 }},
		{"invalid_timeout_value", "SHADOWCALL_NETWORK_TIMEOUT", "soon",
			func(c *interfaces.TransportConfig) bool { return c.NetworkTimeout == 5000 }},
		{"timeout_below_min", "SHADOWCALL_NETWORK_TIMEOUT", "50",
			func(c *interfaces.TransportConfig) bool { return c.NetworkTimeout == 5000 }},
		{"timeout_above_max", "SHADOWCALL_NETWORK_TIMEOUT", "700000",
			func(c *interfaces.TransportConfig) bool { return c.NetworkTimeout == 5000 }},
		{"valid_retries", "SHADOWCALL_RETRY_ATTEMPTS", "5",
			func(c *interfaces.TransportConfig) bool { return c.RetryAttempts == 5 }},
		{"retries_negative", "SHADOWCALL_RETRY_ATTEMPTS", "-1",
			func(c *interfaces.TransportConfig) bool { return c.RetryAttempts == 3 }},
		{"retries_above_max", "SHADOWCALL_RETRY_ATTEMPTS", "101",
			func(c *interfaces.TransportConfig) bool { return c.RetryAttempts == 3 }},
		{"request_timeout_name", "SHADOWCALL_REQUEST_TIMEOUT", "7000",
			func(c *interfaces.TransportConfig) bool { return c.NetworkTimeout == 7000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envValue)
			config := NewTransportFactory().GetCurrentConfig()
			if !tt.checkFunc(config) {
				t.Errorf("%s=%s produced unexpected config %+v", tt.envKey, tt.envValue, config)
			}
		})
	}
}

func TestCreateTransportsSimulation(t *testing.T) {
	f := NewTransportFactory()
	f.SwitchToSimulation()

	set, err := f.CreateTransports(nil)
	if err != nil {
		t.Fatalf("CreateTransports failed: %v", err)
	}
	if !set.PubSub.IsSimulation() || !set.ControlPlane.IsSimulation() {
		t.Error("expected simulated transports")
	}
	if set.Broker == nil || set.Cloud == nil || set.Media == nil {
		t.Error("simulation should expose broker, cloud and media")
	}
	if _, ok := set.Media.(*simtest.SimulatedMedia); !ok {
		t.Errorf("expected SimulatedMedia, got %T", set.Media)
	}
}

func TestCreateTransportsRealRequiresMedia(t *testing.T) {
	f := NewTransportFactory()
	f.SwitchToReal()
	if _, err := f.CreateTransports(nil); err != ErrMediaRequired {
		t.Errorf("expected ErrMediaRequired, got %v", err)
	}
}

func TestCreateTransportsReal(t *testing.T) {
	f := NewTransportFactory()
	f.SwitchToReal()
	set, err := f.CreateTransports(simtest.NewSimulatedMedia())
	if err != nil {
		t.Fatalf("CreateTransports failed: %v", err)
	}
	if set.PubSub.IsSimulation() || set.ControlPlane.IsSimulation() {
		t.Error("expected real transports")
	}
	if set.Broker != nil || set.Cloud != nil {
		t.Error("real transports should not expose simulators")
	}
}

func TestCreateSimulationForTesting(t *testing.T) {
	set := NewTransportFactory().CreateSimulationForTesting(WithNetworkTimeout(200), WithRetryAttempts(0))
	if set == nil || set.Broker == nil {
		t.Fatal("expected simulated transports")
	}
}

func TestSwitchModes(t *testing.T) {
	f := NewTransportFactory()
	f.SwitchToSimulation()
	if !f.IsUsingSimulation() {
		t.Error("expected simulation after SwitchToSimulation")
	}
	f.SwitchToReal()
	if f.IsUsingSimulation() {
		t.Error("expected real after SwitchToReal")
	}
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	f := NewTransportFactory()
	c := f.GetCurrentConfig()
	c.NetworkTimeout = 1
	if f.GetCurrentConfig().NetworkTimeout == 1 {
		t.Error("GetCurrentConfig should return a copy")
	}
}

func TestUpdateConfig(t *testing.T) {
	f := NewTransportFactory()
	if err := f.UpdateConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	in := &interfaces.TransportConfig{UseSimulation: true, NetworkTimeout: 1500, RetryAttempts: 2}
	if err := f.UpdateConfig(in); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	in.NetworkTimeout = 9
	got := f.GetCurrentConfig()
	if got.NetworkTimeout != 1500 || !got.UseSimulation || got.RetryAttempts != 2 {
		t.Errorf("unexpected config %+v", got)
	}
}
