package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	info, err := ParseTopic("$shadow/things/v-alice/name/rtc/update/accepted")
	require.NoError(t, err)
	assert.Equal(t, TopicInfo{Device: "v-alice", Name: "rtc", Action: "update", Result: "accepted"}, info)

	info, err = ParseTopic("$shadow/things/lamp/get/accepted")
	require.NoError(t, err)
	assert.Equal(t, TopicInfo{Device: "lamp", Action: "get", Result: "accepted"}, info)

	_, err = ParseTopic("$shadow/things/lamp")
	assert.ErrorIs(t, err, ErrNotShadowTopic)
	_, err = ParseTopic("$shadow/things/lamp/name/rtc")
	assert.ErrorIs(t, err, ErrNotShadowTopic)
	_, err = ParseTopic("pk/dev/device/connect")
	assert.ErrorIs(t, err, ErrNotShadowTopic)
}

func TestTopicBuilders(t *testing.T) {
	assert.Equal(t, "$shadow/things/d/name/rtc/update", UpdateTopic("d", "rtc"))
	assert.Equal(t, "$shadow/things/d/name/rtc/update/accepted", UpdateAcceptedTopic("d", "rtc"))
	assert.Equal(t, "$shadow/things/d/name/rtc/get/accepted", GetAcceptedTopic("d", "rtc"))
	assert.Equal(t, "control/c1/message", ControlTopic("c1"))
	assert.Equal(t, "pk/dev/device/connect", ConnectTopic("pk", "dev"))
}

func TestParseDocumentNullPartitionIsAbsent(t *testing.T) {
	update, err := ParseDocument([]byte(`{"state":{"desired":null,"reported":{"a":1}}}`))
	require.NoError(t, err)
	assert.Nil(t, update.Desired)
	require.NotNil(t, update.Reported)
	assert.Equal(t, []string{"a"}, update.Reported.Keys())

	_, err = ParseDocument([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrBadDocument)
}

func TestEncodeUpdateRoundTrip(t *testing.T) {
	values := NewOrderedMap()
	values.Set("z", "last")
	values.Set("a", float64(1))

	payload, err := EncodeUpdate(PartitionDesired, values)
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":{"desired":{"z":"last","a":1}}}`, string(payload))

	update, err := ParseDocument(payload)
	require.NoError(t, err)
	assert.True(t, values.Equal(update.Desired))

	_, err = EncodeUpdate(Partition("x"), values)
	assert.ErrorIs(t, err, ErrUnknownPartition)
}

func TestOrderedMapPreservesOrder(t *testing.T) {
	m, err := OrderedMapFromJSON([]byte(`{"c":1,"a":2,"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, m.Keys())

	out, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"c":1,"a":2,"b":3}`, string(out))

	assert.False(t, m.Set("a", float64(2)), "same value is not a change")
	assert.True(t, m.Set("a", float64(5)))
	assert.Equal(t, []string{"c", "a", "b"}, m.Keys(), "overwrite keeps position")

	assert.True(t, m.Delete("c"))
	assert.False(t, m.Delete("c"))
	assert.Equal(t, []string{"a", "b"}, m.Keys())
}

func TestOrderedMapUnmarshalJSON(t *testing.T) {
	var m OrderedMap
	require.NoError(t, m.UnmarshalJSON([]byte(`{"x":"y"}`)))
	v, ok := m.GetString("x")
	assert.True(t, ok)
	assert.Equal(t, "y", v)

	assert.Error(t, m.UnmarshalJSON([]byte(`[1]`)))
}
