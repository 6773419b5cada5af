package shadow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Partition names one half of a shadow document.
type Partition string

const (
	// PartitionDesired holds caller-set intent.
	PartitionDesired Partition = "desired"
	// PartitionReported holds device-set fact.
	PartitionReported Partition = "reported"
)

// Valid reports whether p is a known partition.
func (p Partition) Valid() bool {
	return p == PartitionDesired || p == PartitionReported
}

var (
	// ErrBadDocument indicates a shadow payload could not be parsed.
	ErrBadDocument = errors.New("bad shadow document")

	// ErrNotShadowTopic indicates a topic outside the $shadow namespace.
	ErrNotShadowTopic = errors.New("not a shadow topic")

	// ErrUnknownPartition indicates a partition other than desired/reported.
	ErrUnknownPartition = errors.New("unknown shadow partition")
)

const shadowPrefix = "$shadow/things/"

// FanInGetFilter matches get replies for every device and shadow.
const FanInGetFilter = "$shadow/things/+/get/+"

// UpdateTopic is where a client publishes a partial update for a named
// shadow of device.
func UpdateTopic(device, name string) string {
	return fmt.Sprintf("$shadow/things/%s/name/%s/update", device, name)
}

// UpdateAcceptedTopic is where the cloud announces an accepted update.
func UpdateAcceptedTopic(device, name string) string {
	return UpdateTopic(device, name) + "/accepted"
}

// GetTopic requests the full named shadow of device.
func GetTopic(device, name string) string {
	return fmt.Sprintf("$shadow/things/%s/name/%s/get", device, name)
}

// GetAcceptedTopic carries the reply to GetTopic.
func GetAcceptedTopic(device, name string) string {
	return GetTopic(device, name) + "/accepted"
}

// ControlTopic carries out-of-band service notices for a client.
func ControlTopic(clientID string) string {
	return fmt.Sprintf("control/%s/message", clientID)
}

// ConnectTopic carries online/offline notices for a physical device.
func ConnectTopic(productKey, deviceID string) string {
	return fmt.Sprintf("%s/%s/device/connect", productKey, deviceID)
}

// TopicInfo is the decomposition of a shadow topic.
type TopicInfo struct {
	Device string
	Name   string
	Action string
	Result string
}

// ParseTopic splits a $shadow topic. Both the named form
// $shadow/things/{D}/name/{N}/{action}[/{result}] and the unnamed form
// $shadow/things/{D}/{action}[/{result}] are accepted.
func ParseTopic(topic string) (TopicInfo, error) {
	if !strings.HasPrefix(topic, shadowPrefix) {
		return TopicInfo{}, fmt.Errorf("%w: %s", ErrNotShadowTopic, topic)
	}
	levels := strings.Split(strings.TrimPrefix(topic, shadowPrefix), "/")
	if len(levels) < 2 || levels[0] == "" {
		return TopicInfo{}, fmt.Errorf("%w: %s", ErrNotShadowTopic, topic)
	}

	info := TopicInfo{Device: levels[0]}
	rest := levels[1:]
	if rest[0] == "name" {
		if len(rest) < 3 {
			return TopicInfo{}, fmt.Errorf("%w: %s", ErrNotShadowTopic, topic)
		}
		info.Name = rest[1]
		rest = rest[2:]
	}
	info.Action = rest[0]
	if len(rest) > 1 {
		info.Result = rest[1]
	}
	return info, nil
}

// Update is the parsed state section of a shadow payload. A nil partition
// was absent from the message.
type Update struct {
	Desired  *OrderedMap
	Reported *OrderedMap
}

// Partition returns the update for p.
func (u Update) Partition(p Partition) *OrderedMap {
	switch p {
	case PartitionDesired:
		return u.Desired
	case PartitionReported:
		return u.Reported
	default:
		return nil
	}
}

// ParseDocument extracts state.desired and state.reported from payload.
// A partition present with a null value is treated as absent.
func ParseDocument(payload []byte) (Update, error) {
	if !gjson.ValidBytes(payload) {
		return Update{}, fmt.Errorf("%w: invalid JSON", ErrBadDocument)
	}
	state := gjson.GetBytes(payload, "state")
	if !state.Exists() {
		return Update{}, fmt.Errorf("%w: missing state", ErrBadDocument)
	}

	var update Update
	for _, p := range []Partition{PartitionDesired, PartitionReported} {
		r := state.Get(string(p))
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		m, err := orderedMapFromResult(r)
		if err != nil {
			return Update{}, fmt.Errorf("state.%s: %w", p, err)
		}
		if p == PartitionDesired {
			update.Desired = m
		} else {
			update.Reported = m
		}
	}
	return update, nil
}

// EncodeUpdate renders a {"state":{partition:{...}}} payload.
func EncodeUpdate(p Partition, values *OrderedMap) ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, p)
	}
	inner, err := values.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]map[string]json.RawMessage{
		"state": {string(p): inner},
	})
}
