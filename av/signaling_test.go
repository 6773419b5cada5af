package av

import (
	"strings"
	"testing"

	"github.com/opd-ai/shadowcall/shadow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSignalShape(t *testing.T) {
	payload, err := EncodeSignal(Signal{
		Type:   SignalInvite,
		CallID: "c1",
		From:   "v-alice",
		Attach: "front door",
		TS:     1700000000000,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":{"desired":{"rtc":{"type":"invite","callId":"c1","from":"v-alice","attach":"front door","ts":1700000000000}}}}`, string(payload))
	assert.Equal(t, "$shadow/things/doorbell-1/name/rtc/update", SignalTopic("doorbell-1"))
}

func TestDecodeSignal(t *testing.T) {
	sig, err := DecodeSignal([]byte(`{"type":"hangup","callId":"c1","from":"doorbell-1","ts":5}`))
	require.NoError(t, err)
	assert.Equal(t, Signal{Type: SignalHangup, CallID: "c1", From: "doorbell-1", TS: 5}, sig)

	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{"type":`},
		{"not an object", `"invite"`},
		{"unknown type", `{"type":"ring","callId":"c1","from":"x"}`},
		{"missing call id", `{"type":"invite","from":"x"}`},
		{"missing sender", `{"type":"invite","callId":"c1"}`},
		{"oversized attach", `{"type":"invite","callId":"c1","from":"x","attach":"` + strings.Repeat("a", 2000) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSignal([]byte(tt.data))
			assert.ErrorIs(t, err, ErrBadSignal)
		})
	}
}

func TestSignalFromChangeFilters(t *testing.T) {
	snapshot := shadow.NewOrderedMap()
	snapshot.Set(SignalKey, map[string]any{"type": "answer", "callId": "c1", "from": "doorbell-1", "ts": float64(3)})
	ev := shadow.ChangeEvent{
		Device:      "v-alice",
		Shadow:      SignalShadow,
		Partition:   shadow.PartitionDesired,
		ChangedKeys: []string{SignalKey},
		Snapshot:    snapshot,
	}

	sig, ok, err := signalFromChange(ev, "v-alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SignalAnswer, sig.Type)
	assert.Equal(t, int64(3), sig.TS)

	other := ev
	other.Device = "v-bob"
	_, ok, _ = signalFromChange(other, "v-alice")
	assert.False(t, ok, "signals for other devices are ignored")

	reported := ev
	reported.Partition = shadow.PartitionReported
	_, ok, _ = signalFromChange(reported, "v-alice")
	assert.False(t, ok)

	unrelated := ev
	unrelated.ChangedKeys = []string{"brightness"}
	_, ok, _ = signalFromChange(unrelated, "v-alice")
	assert.False(t, ok, "a change that left rtc alone carries no new signal")

	_, ok, _ = signalFromChange(ev, "")
	assert.False(t, ok, "no device while logged out")
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "DIAL_RESPONDING", StateDialResponding.String())
	assert.Equal(t, "ANSWER_REQUESTING", StateAnswerRequesting.String())
	assert.Equal(t, "UNKNOWN", CallState(99).String())
	assert.True(t, StateIncoming.timed())
	assert.False(t, StateTalking.timed())
	assert.False(t, StateHangupRequesting.timed())
}
