// Package testing provides in-memory transports for deterministic tests.
//
// # Overview
//
// The simulated transports mirror the production ones in package real but
// never touch the network:
//
//   - Broker and SimulatedPubSub implement interfaces.IPubSub. The broker
//     routes publications by MQTT-style filter, records every publish, and
//     answers shadow update and get requests from its own shadow store.
//   - Cloud and SimulatedControlPlane implement interfaces.IControlPlane
//     with accounts, tokens, identities and invent devices.
//   - SimulatedMedia implements interfaces.IMediaTransport and records the
//     commands it receives.
//
// BrokerServer and Cloud.Handler expose the broker and the control plane
// over WebSocket and HTTP so the production clients can be tested end to
// end with net/http/httptest.
//
// # Usage
//
//	broker := testing.NewBroker()
//	cloud := testing.NewCloud(broker)
//	cloud.AddAccount("alice", "secret")
//
//	pubsub := broker.NewClient()
//	control := cloud.NewControlPlane()
//	media := testing.NewSimulatedMedia()
//
// # Delivery Semantics
//
// Each simulated client delivers messages asynchronously and in order on
// its own goroutine, so a handler may publish without deadlocking. Use
// Broker.Settle to wait until every queued message has been handled.
//
// # Thread Safety
//
// All types are safe for concurrent use.
package testing
