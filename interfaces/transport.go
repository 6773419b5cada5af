package interfaces

//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_transport.go -package=mocks . IPubSub,IControlPlane,IMediaTransport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ConnStatus describes the state of a pub/sub connection.
type ConnStatus int

const (
	// StatusDisconnected means no connection exists.
	StatusDisconnected ConnStatus = iota
	// StatusConnecting means a connect attempt is in flight.
	StatusConnecting
	// StatusConnected means the broker accepted the connection.
	StatusConnected
	// StatusConnectionLost means an established connection dropped.
	StatusConnectionLost
)

// String returns a readable status name.
func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusConnectionLost:
		return "connection-lost"
	default:
		return "unknown"
	}
}

// Credentials authenticate a pub/sub connection.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// Message is a single inbound publication.
type Message struct {
	Topic   string
	Payload []byte
}

// MessageHandler receives messages for a subscription. Handlers run on the
// transport's callback contexts, never on the goroutine that subscribed.
type MessageHandler func(msg Message)

// IPubSub is a persistent publish/subscribe connection.
type IPubSub interface {
	// Connect establishes the connection and blocks until the broker accepts
	// or rejects it.
	Connect(ctx context.Context, creds Credentials) error

	// Status returns a stream of connection status changes.
	Status() <-chan ConnStatus

	// IsConnected returns true if the broker connection is established.
	IsConnected() bool

	// Subscribe registers handler for messages matching filter and blocks
	// until the broker acknowledges the subscription.
	Subscribe(ctx context.Context, filter string, handler MessageHandler) error

	// Unsubscribe removes the subscription for filter.
	Unsubscribe(ctx context.Context, filter string) error

	// Publish sends payload to topic and blocks until the broker
	// acknowledges it.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close shuts down the connection.
	Close() error

	// IsSimulation returns true if this is a simulation implementation
	IsSimulation() bool
}

// Request is a control-plane call.
type Request struct {
	Method string
	Path   string
	Token  string
	Body   any
}

// Response is the control-plane reply envelope. Status holds the transport
// status code (HTTP status for the real client) and is not part of the JSON.
type Response struct {
	Code   int             `json:"code"`
	Tip    string          `json:"tip"`
	Info   json.RawMessage `json:"info,omitempty"`
	Status int             `json:"-"`
}

// ErrNoInfo is returned by DecodeInfo when the response carried no info.
var ErrNoInfo = errors.New("response has no info")

// DecodeInfo unmarshals the info object into v.
func (r *Response) DecodeInfo(v any) error {
	if len(r.Info) == 0 || string(r.Info) == "null" {
		return ErrNoInfo
	}
	return json.Unmarshal(r.Info, v)
}

// IControlPlane issues requests to the cloud control plane. Requests block
// until a response arrives or ctx expires.
type IControlPlane interface {
	Request(ctx context.Context, req *Request) (*Response, error)

	// IsSimulation returns true if this is a simulation implementation
	IsSimulation() bool
}

// MediaSession describes the media channel a call connects to.
type MediaSession struct {
	CallID string
	PeerID string
	Caller bool
	Attach string
}

// NetworkStats are live media transport counters. Valid is false when no
// media session is established.
type NetworkStats struct {
	Valid       bool
	RTT         time.Duration
	Jitter      time.Duration
	PacketLoss  float64
	SendBitrate uint32
	RecvBitrate uint32
}

// IMediaTransport is the external real-time media transport.
type IMediaTransport interface {
	Connect(ctx context.Context, session MediaSession) error
	Disconnect() error
	MuteAudio(muted bool) error
	MuteVideo(muted bool) error
	SetVolume(volume int) error
	SetAudioEffect(effect string) error
	NetworkStats() NetworkStats
}

// TransportConfig holds configuration for transport implementations
type TransportConfig struct {
	// UseSimulation determines whether to use simulation or real network
	UseSimulation bool

	// Endpoint is the pub/sub broker URL (ws:// or wss://)
	Endpoint string

	// APIEndpoint is the control-plane base URL
	APIEndpoint string

	// NetworkTimeout sets the timeout for network operations in milliseconds
	NetworkTimeout int

	// RetryAttempts sets the number of retry attempts for failed requests
	RetryAttempts int

	// CallbackWorkers is the size of the pool that runs message handlers
	CallbackWorkers int
}

// Timeout returns NetworkTimeout as a duration.
func (c *TransportConfig) Timeout() time.Duration {
	return time.Duration(c.NetworkTimeout) * time.Millisecond
}

// MatchTopic reports whether topic matches the MQTT-style filter. Topics
// starting with '$' are not matched by a filter whose first level is a
// wildcard.
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	if strings.HasPrefix(topic, "$") && (f[0] == "+" || f[0] == "#") {
		return false
	}

	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
