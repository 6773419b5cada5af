package shadow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/shadowcall/clock"
	"github.com/opd-ai/shadowcall/limits"
	"github.com/opd-ai/shadowcall/listener"
	"github.com/sirupsen/logrus"
)

// ChangeEvent is emitted after a merge changed at least one key.
// Snapshot is a private copy of the whole partition after the merge.
type ChangeEvent struct {
	Device      string
	Shadow      string
	Partition   Partition
	ChangedKeys []string
	Snapshot    *OrderedMap
}

// Document is the last-known state of one device.
type Document struct {
	Desired   *OrderedMap
	Reported  *OrderedMap
	UpdatedAt time.Time
}

func newDocument() *Document {
	return &Document{Desired: NewOrderedMap(), Reported: NewOrderedMap()}
}

func (d *Document) partition(p Partition) *OrderedMap {
	if p == PartitionDesired {
		return d.Desired
	}
	return d.Reported
}

// Store holds shadow documents keyed by device name and reconciles partial
// updates into them.
//
// Merges are serialized so that change events leave the store in the same
// order the merges were applied. Listeners may read the store from inside a
// callback but must not call Merge or Apply from there.
type Store struct {
	mu           sync.RWMutex
	applyMu      sync.Mutex
	docs         map[string]*Document
	listeners    *listener.Registry[ChangeEvent]
	timeProvider clock.TimeProvider
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		docs:         make(map[string]*Document),
		listeners:    listener.NewRegistry[ChangeEvent](),
		timeProvider: clock.DefaultTimeProvider{},
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (s *Store) SetTimeProvider(tp clock.TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp == nil {
		tp = clock.DefaultTimeProvider{}
	}
	s.timeProvider = tp
}

// Subscribe registers l for change events.
func (s *Store) Subscribe(l listener.Listener[ChangeEvent]) listener.Handle {
	return s.listeners.Add(l)
}

// SubscribeFunc registers f for change events.
func (s *Store) SubscribeFunc(f func(ChangeEvent)) listener.Handle {
	return s.listeners.AddFunc(f)
}

// Unsubscribe removes a change listener.
func (s *Store) Unsubscribe(h listener.Handle) {
	s.listeners.Remove(h)
}

// Merge overwrites the keys of update into the device's partition and
// returns the keys whose value changed. An event is emitted only when at
// least one key changed. Unknown devices get an empty record first.
func (s *Store) Merge(device string, p Partition, update *OrderedMap) ([]string, error) {
	ev, _, err := s.merge(device, "", p, update)
	return ev.ChangedKeys, err
}

func (s *Store) merge(device, shadowName string, p Partition, update *OrderedMap) (ChangeEvent, bool, error) {
	if !p.Valid() {
		return ChangeEvent{}, false, fmt.Errorf("%w: %s", ErrUnknownPartition, p)
	}
	if device == "" {
		return ChangeEvent{}, false, fmt.Errorf("merge: %w", limits.ErrMessageEmpty)
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	doc, ok := s.docs[device]
	if !ok {
		doc = newDocument()
		s.docs[device] = doc
		logrus.WithFields(logrus.Fields{
			"function": "Store.Merge",
			"device":   device,
		}).Debug("Created shadow record for new device")
	}
	target := doc.partition(p)
	var changed []string
	update.Range(func(k string, v any) bool {
		if target.Set(k, cloneValue(v)) {
			changed = append(changed, k)
		}
		return true
	})
	var snapshot *OrderedMap
	if len(changed) > 0 {
		doc.UpdatedAt = s.timeProvider.Now()
		snapshot = target.Clone()
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "Store.Merge",
			"device":    device,
			"partition": p,
		}).Debug("Merge changed nothing, suppressing event")
		return ChangeEvent{}, false, nil
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Store.Merge",
		"device":       device,
		"partition":    p,
		"changed_keys": changed,
	}).Debug("Shadow partition changed")

	ev := ChangeEvent{
		Device:      device,
		Shadow:      shadowName,
		Partition:   p,
		ChangedKeys: changed,
		Snapshot:    snapshot,
	}
	// Listeners get their own copy so the returned event stays untouched.
	dispatched := ev
	dispatched.Snapshot = snapshot.Clone()
	s.listeners.Dispatch(dispatched)
	return ev, true, nil
}

// Apply reconciles an inbound shadow message. Only partitions present in
// the payload are merged; the rest of the document is untouched. It returns
// the events that were emitted.
func (s *Store) Apply(topic string, payload []byte) ([]ChangeEvent, error) {
	info, err := ParseTopic(topic)
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateShadowPayload(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	update, err := ParseDocument(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Store.Apply",
			"topic":    topic,
			"error":    err.Error(),
		}).Warn("Dropping malformed shadow message")
		return nil, err
	}

	var events []ChangeEvent
	for _, p := range []Partition{PartitionDesired, PartitionReported} {
		values := update.Partition(p)
		if values == nil {
			continue
		}
		ev, changed, err := s.merge(info.Device, info.Name, p, values)
		if err != nil {
			return events, err
		}
		if changed {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Snapshot returns a copy of the device's partition. Unknown devices yield
// an empty map.
func (s *Store) Snapshot(device string, p Partition) *OrderedMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[device]
	if !ok || !p.Valid() {
		return NewOrderedMap()
	}
	return doc.partition(p).Clone()
}

// Desired is shorthand for Snapshot(device, PartitionDesired).
func (s *Store) Desired(device string) *OrderedMap {
	return s.Snapshot(device, PartitionDesired)
}

// Reported is shorthand for Snapshot(device, PartitionReported).
func (s *Store) Reported(device string) *OrderedMap {
	return s.Snapshot(device, PartitionReported)
}

// Has reports whether the store holds a record for device.
func (s *Store) Has(device string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[device]
	return ok
}

// UpdatedAt returns when the device's record last changed.
func (s *Store) UpdatedAt(device string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[device]
	if !ok {
		return time.Time{}, false
	}
	return doc.UpdatedAt, true
}

// Devices returns the known device names sorted.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for name := range s.docs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Forget drops the record for device without emitting an event.
func (s *Store) Forget(device string) bool {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[device]; !ok {
		return false
	}
	delete(s.docs, device)
	return true
}

// Reset drops every record.
func (s *Store) Reset() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]*Document)
}
