package account

import (
	"encoding/json"

	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/limits"
	"github.com/opd-ai/shadowcall/shadow"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Control notice types carried in messageType.
const (
	MessageDeviceOnline   = 1
	MessagePropertyReport = 2
	MessageBindList       = 3
	MessageKick           = 4
)

func (m *Manager) handleShadow(msg interfaces.Message) {
	if m.store == nil {
		return
	}
	if _, err := m.store.Apply(msg.Topic, msg.Payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleShadow",
			"topic":    msg.Topic,
			"error":    err.Error(),
		}).Warn("Dropping shadow message")
	}
}

func (m *Manager) handleControl(msg interfaces.Message) {
	if err := limits.ValidateShadowPayload(msg.Payload); err != nil || !gjson.ValidBytes(msg.Payload) {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleControl",
			"topic":    msg.Topic,
		}).Warn("Dropping malformed control message")
		return
	}
	root := gjson.ParseBytes(msg.Payload)
	data := root.Get("data")
	var raw json.RawMessage
	if data.Exists() {
		raw = json.RawMessage(data.Raw)
	}
	device := firstString(data, "deviceId", "devId", "deviceName")
	account := m.accountFor(msg.Topic)
	if account == "" {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleControl",
			"topic":    msg.Topic,
		}).Debug("Control message for a stale client, ignoring")
		return
	}

	switch messageType := root.Get("messageType").Int(); messageType {
	case MessageDeviceOnline:
		online := data.Get("online")
		if !online.Exists() {
			online = data.Get("connect")
		}
		m.emit(Event{Kind: EventDeviceOnline, Account: account, Device: device, Online: online.Bool(), Payload: raw})
	case MessagePropertyReport:
		m.emit(Event{Kind: EventPropertyReport, Account: account, Device: device, Payload: raw})
	case MessageBindList:
		m.emit(Event{Kind: EventBindListChanged, Account: account, Payload: raw})
	case MessageKick:
		m.InvalidateToken(CauseLoginOtherDevice)
	default:
		logrus.WithFields(logrus.Fields{
			"function":     "Manager.handleControl",
			"message_type": messageType,
		}).Debug("Ignoring unknown control message type")
	}
}

func (m *Manager) handleDeviceConnect(deviceID string, msg interfaces.Message) {
	connect := gjson.GetBytes(msg.Payload, "data.connect")
	if !connect.Exists() {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleDeviceConnect",
			"topic":    msg.Topic,
		}).Warn("Device connect notice without data.connect")
		return
	}
	m.emit(Event{
		Kind:    EventDeviceConnect,
		Account: m.LoggedAccount(),
		Device:  deviceID,
		Online:  connect.Bool(),
	})
}

// accountFor returns the running account whose control topic is topic.
func (m *Manager) accountFor(topic string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	if shadow.ControlTopic(m.session.Identity.ClientID) != topic {
		return ""
	}
	return m.session.Account
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v.String()
		}
	}
	return ""
}
