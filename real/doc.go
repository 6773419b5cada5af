// Package real provides the production transports: a WebSocket pub/sub
// client ([WSPubSub]) and an HTTP control-plane client ([HTTPControlPlane]).
//
// Both implement the contracts in package interfaces and are normally built
// by package factory. Simulated counterparts live in package testing.
//
// # Pub/Sub Wire Format
//
// Each WebSocket text message carries exactly one JSON [Frame]. A client
// sends connect, subscribe, unsubscribe and publish frames, each with a
// unique id; the broker answers with the matching *ack frame carrying the
// same id and a result code (0 means accepted). Inbound publications arrive
// as message frames. All writes go through a single writer goroutine.
//
// # Control Plane
//
// Requests are POSTed (or sent with the given method) as JSON with a
// bearer token. The reply is always the {code, tip, info} envelope; the HTTP
// status is kept on the response so a 401 can be classified as token
// invalid. Transport failures and 5xx replies are retried with linear
// backoff; result codes are never retried.
package real
