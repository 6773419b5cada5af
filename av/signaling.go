package av

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/shadowcall/limits"
	"github.com/opd-ai/shadowcall/shadow"
	"github.com/tidwall/gjson"
)

// SignalShadow is the named shadow that carries call signals, and SignalKey
// the desired key they are written under.
const (
	SignalShadow = "rtc"
	SignalKey    = "rtc"
)

// SignalType is the kind of a call signal.
type SignalType string

const (
	SignalInvite  SignalType = "invite"
	SignalAnswer  SignalType = "answer"
	SignalBusy    SignalType = "busy"
	SignalHangup  SignalType = "hangup"
	SignalTimeout SignalType = "timeout"
)

// Valid reports whether t is a known signal type.
func (t SignalType) Valid() bool {
	switch t {
	case SignalInvite, SignalAnswer, SignalBusy, SignalHangup, SignalTimeout:
		return true
	default:
		return false
	}
}

// Signal is one call signaling message.
//
// Wire format, under state.desired.rtc of the receiver's rtc shadow:
//
//	{"type":"invite","callId":"...","from":"v-alice","attach":"...","ts":1700000000000}
//
// ts is the sender's clock in Unix milliseconds.
type Signal struct {
	Type   SignalType `json:"type"`
	CallID string     `json:"callId"`
	From   string     `json:"from"`
	Attach string     `json:"attach,omitempty"`
	TS     int64      `json:"ts"`
}

// Validate checks the fields every signal needs.
func (s Signal) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrBadSignal, s.Type)
	}
	if s.CallID == "" || s.From == "" {
		return fmt.Errorf("%w: missing callId or from", ErrBadSignal)
	}
	if err := limits.ValidateAttachMessage(s.Attach); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignal, err)
	}
	return nil
}

// EncodeSignal renders the shadow update that delivers s.
func EncodeSignal(s Signal) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	values := shadow.NewOrderedMap()
	values.Set(SignalKey, s)
	return shadow.EncodeUpdate(shadow.PartitionDesired, values)
}

// SignalTopic is the topic a signal for peer is published to.
func SignalTopic(peer string) string {
	return shadow.UpdateTopic(peer, SignalShadow)
}

// DecodeSignal parses a JSON signal object.
func DecodeSignal(data []byte) (Signal, error) {
	if !gjson.ValidBytes(data) {
		return Signal{}, fmt.Errorf("%w: invalid JSON", ErrBadSignal)
	}
	r := gjson.ParseBytes(data)
	if !r.IsObject() {
		return Signal{}, fmt.Errorf("%w: not an object", ErrBadSignal)
	}
	s := Signal{
		Type:   SignalType(r.Get("type").String()),
		CallID: r.Get("callId").String(),
		From:   r.Get("from").String(),
		Attach: r.Get("attach").String(),
		TS:     r.Get("ts").Int(),
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// signalFromChange extracts the signal carried by a shadow change event.
// ok is false when the event is not a signal for device.
func signalFromChange(ev shadow.ChangeEvent, device string) (Signal, bool, error) {
	if device == "" || ev.Device != device || ev.Partition != shadow.PartitionDesired {
		return Signal{}, false, nil
	}
	if ev.Shadow != SignalShadow {
		return Signal{}, false, nil
	}
	changed := false
	for _, k := range ev.ChangedKeys {
		if k == SignalKey {
			changed = true
			break
		}
	}
	if !changed || ev.Snapshot == nil {
		return Signal{}, false, nil
	}
	value, ok := ev.Snapshot.Get(SignalKey)
	if !ok || value == nil {
		return Signal{}, false, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return Signal{}, true, fmt.Errorf("%w: %v", ErrBadSignal, err)
	}
	s, err := DecodeSignal(raw)
	return s, true, err
}
