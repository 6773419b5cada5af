package real

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Frame operations.
const (
	OpConnect     = "connect"
	OpConnAck     = "connack"
	OpSubscribe   = "subscribe"
	OpSubAck      = "suback"
	OpUnsubscribe = "unsubscribe"
	OpUnsubAck    = "unsuback"
	OpPublish     = "publish"
	OpPubAck      = "puback"
	OpMessage     = "message"
)

// Frame is one WebSocket message between a pub/sub client and the broker.
type Frame struct {
	Op       string `json:"op"`
	ID       string `json:"id,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	Code     int    `json:"code,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AckOp returns the acknowledgement op for a request op, or "" when the op
// is not acknowledged.
func AckOp(op string) string {
	switch op {
	case OpConnect:
		return OpConnAck
	case OpSubscribe:
		return OpSubAck
	case OpUnsubscribe:
		return OpUnsubAck
	case OpPublish:
		return OpPubAck
	default:
		return ""
	}
}

// IsAck reports whether op acknowledges a request.
func IsAck(op string) bool {
	switch op {
	case OpConnAck, OpSubAck, OpUnsubAck, OpPubAck:
		return true
	}
	return false
}

// PeekOp returns the op of an encoded frame without decoding the payload.
func PeekOp(data []byte) string {
	return gjson.GetBytes(data, "op").String()
}

// EncodeFrame renders f for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.Op == "" {
		return nil, fmt.Errorf("frame without op")
	}
	return json.Marshal(f)
}

// DecodeFrame parses one wire frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Op == "" {
		return Frame{}, fmt.Errorf("frame without op")
	}
	return f, nil
}
