// Package factory builds the transport set used by the client.
//
// The factory hides whether the pub/sub broker, the control plane and the
// media transport are real network clients or in-memory simulations, so
// consuming code never changes between production and tests.
//
// # Configuration
//
// Defaults are resolved by config.Load, so the same environment variables
// apply to the factory and to a client:
//   - SHADOWCALL_USE_SIMULATION: "true" or "false" to enable simulation mode
//   - SHADOWCALL_REQUEST_TIMEOUT (or SHADOWCALL_NETWORK_TIMEOUT): milliseconds
//   - SHADOWCALL_RETRY_ATTEMPTS: integer number of retry attempts
//
// An out-of-range or unparsable value is logged and the built-in defaults
// are used instead.
//
// # Usage
//
//	f := factory.NewTransportFactory()
//	set, err := f.CreateTransports(media)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// In simulation mode the returned Transports also carry the Broker and
// Cloud so tests can drive the remote side:
//
//	set := factory.NewTransportFactory().CreateSimulationForTesting()
//	set.Cloud.AddAccount("alice", "secret")
//
// # Mode Switching
//
//	f.SwitchToSimulation()
//	f.SwitchToReal()
package factory
