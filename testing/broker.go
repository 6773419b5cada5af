package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/shadow"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned by operations on a client that has not
	// connected or has been closed.
	ErrNotConnected = errors.New("simulated client not connected")

	// ErrAuthRejected is returned when the broker authenticator refuses
	// the credentials.
	ErrAuthRejected = errors.New("simulated broker rejected credentials")
)

// PublishRecord represents a publish event for testing verification
type PublishRecord struct {
	ClientID  string
	Topic     string
	Payload   []byte
	Timestamp time.Time
}

// Broker is an in-memory pub/sub broker with a built-in shadow service.
//
// A publish to $shadow/things/{D}[/name/{N}]/update is merged into the
// broker's own copy of the document and re-published on .../update/accepted.
// A publish to .../get is answered on .../get/accepted with the full
// document.
type Broker struct {
	mu            sync.RWMutex
	clients       map[*SimulatedPubSub]struct{}
	publishLog    []PublishRecord
	authenticator func(interfaces.Credentials) error
	publishErr    error
	cloudShadow   *shadow.Store
	settlers      []func() bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	logrus.WithFields(logrus.Fields{
		"function": "NewBroker",
	}).Info("Creating simulated broker for testing")

	return &Broker{
		clients:     make(map[*SimulatedPubSub]struct{}),
		publishLog:  make([]PublishRecord, 0),
		cloudShadow: shadow.NewStore(),
	}
}

// NewClient creates a client attached to this broker. It must Connect
// before it can subscribe or publish.
func (b *Broker) NewClient() *SimulatedPubSub {
	return &SimulatedPubSub{
		broker: b,
		subs:   make(map[string]interfaces.MessageHandler),
		status: make(chan interfaces.ConnStatus, 16),
		queue:  newDeliveryQueue(),
	}
}

// SetAuthenticator installs a credential check used by Connect.
func (b *Broker) SetAuthenticator(auth func(interfaces.Credentials) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authenticator = auth
}

// SetPublishError makes every client publish fail with err until cleared
// with nil.
func (b *Broker) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Inject publishes a message on behalf of the cloud, bypassing clients.
func (b *Broker) Inject(topic string, payload []byte) {
	b.record("", topic, payload)
	b.route(topic, payload)
}

// PublishLog returns a copy of every publish seen by the broker.
func (b *Broker) PublishLog() []PublishRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	log := make([]PublishRecord, len(b.publishLog))
	copy(log, b.publishLog)
	return log
}

// PublishesTo returns the publishes made to topic.
func (b *Broker) PublishesTo(topic string) []PublishRecord {
	var out []PublishRecord
	for _, rec := range b.PublishLog() {
		if rec.Topic == topic {
			out = append(out, rec)
		}
	}
	return out
}

// ClearPublishLog clears the publish log for test cleanup
func (b *Broker) ClearPublishLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLog = make([]PublishRecord, 0)
}

// Shadow exposes the broker's authoritative shadow documents.
func (b *Broker) Shadow() *shadow.Store {
	return b.cloudShadow
}

// Subscribers returns how many connected clients hold a subscription
// matching topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	clients := make([]*SimulatedPubSub, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	n := 0
	for _, c := range clients {
		if len(c.matching(topic)) > 0 {
			n++
		}
	}
	return n
}

// DropClient simulates the broker losing a client's connection.
func (b *Broker) DropClient(clientID string) {
	b.mu.Lock()
	var victims []*SimulatedPubSub
	for c := range b.clients {
		if c.ClientID() == clientID {
			victims = append(victims, c)
			delete(b.clients, c)
		}
	}
	b.mu.Unlock()

	for _, c := range victims {
		c.lose()
	}
}

func (b *Broker) attach(c *SimulatedPubSub, creds interfaces.Credentials) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.authenticator != nil {
		if err := b.authenticator(creds); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
	}
	b.clients[c] = struct{}{}
	return nil
}

func (b *Broker) detach(c *SimulatedPubSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

func (b *Broker) publish(clientID, topic string, payload []byte) error {
	b.mu.RLock()
	err := b.publishErr
	b.mu.RUnlock()
	if err != nil {
		return err
	}

	b.record(clientID, topic, payload)
	b.route(topic, payload)
	b.reflectShadow(topic, payload)
	return nil
}

func (b *Broker) record(clientID, topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLog = append(b.publishLog, PublishRecord{
		ClientID:  clientID,
		Topic:     topic,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now(),
	})
}

func (b *Broker) route(topic string, payload []byte) {
	b.mu.RLock()
	clients := make([]*SimulatedPubSub, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		for _, h := range c.matching(topic) {
			c.queue.push(delivery{
				msg:     interfaces.Message{Topic: topic, Payload: append([]byte(nil), payload...)},
				handler: h,
			})
			delivered++
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Broker.route",
		"topic":      topic,
		"deliveries": delivered,
	}).Debug("Routed simulated publish")
}

func (b *Broker) reflectShadow(topic string, payload []byte) {
	info, err := shadow.ParseTopic(topic)
	if err != nil || info.Result != "" {
		return
	}
	switch info.Action {
	case "update":
		if _, err := b.cloudShadow.Apply(topic, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Broker.reflectShadow",
				"topic":    topic,
				"error":    err.Error(),
			}).Warn("Simulated shadow service rejected update")
			return
		}
		accepted := topic + "/accepted"
		b.record("", accepted, payload)
		b.route(accepted, payload)
	case "get":
		doc, err := b.encodeDocument(info.Device)
		if err != nil {
			return
		}
		accepted := topic + "/accepted"
		b.record("", accepted, doc)
		b.route(accepted, doc)
	}
}

func (b *Broker) encodeDocument(device string) ([]byte, error) {
	desired, err := b.cloudShadow.Desired(device).MarshalJSON()
	if err != nil {
		return nil, err
	}
	reported, err := b.cloudShadow.Reported(device).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"state":{"desired":%s,"reported":%s}}`, desired, reported)), nil
}

// SimulatedPubSub implements interfaces.IPubSub against a Broker. Each
// client delivers its messages in order on its own callback goroutine.
type SimulatedPubSub struct {
	broker    *Broker
	mu        sync.RWMutex
	creds     interfaces.Credentials
	connected bool
	subs      map[string]interfaces.MessageHandler
	status    chan interfaces.ConnStatus
	queue     *deliveryQueue
}

// Connect implements IPubSub.Connect with simulation
func (s *SimulatedPubSub) Connect(ctx context.Context, creds interfaces.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.emit(interfaces.StatusConnecting)
	if err := s.broker.attach(s, creds); err != nil {
		s.emit(interfaces.StatusDisconnected)
		return err
	}

	s.mu.Lock()
	s.creds = creds
	s.connected = true
	s.mu.Unlock()
	s.queue.start()
	s.emit(interfaces.StatusConnected)

	logrus.WithFields(logrus.Fields{
		"function":  "SimulatedPubSub.Connect",
		"client_id": creds.ClientID,
	}).Info("Simulated client connected")
	return nil
}

// Status implements IPubSub.Status
func (s *SimulatedPubSub) Status() <-chan interfaces.ConnStatus {
	return s.status
}

// IsConnected implements IPubSub.IsConnected
func (s *SimulatedPubSub) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ClientID returns the client id used to connect.
func (s *SimulatedPubSub) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.ClientID
}

// Subscribe implements IPubSub.Subscribe
func (s *SimulatedPubSub) Subscribe(ctx context.Context, filter string, handler interfaces.MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.subs[filter] = handler
	return nil
}

// Unsubscribe implements IPubSub.Unsubscribe
func (s *SimulatedPubSub) Unsubscribe(ctx context.Context, filter string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	delete(s.subs, filter)
	return nil
}

// Subscriptions returns the active filters.
func (s *SimulatedPubSub) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for f := range s.subs {
		out = append(out, f)
	}
	return out
}

// Publish implements IPubSub.Publish with simulation
func (s *SimulatedPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	connected, clientID := s.connected, s.creds.ClientID
	s.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	return s.broker.publish(clientID, topic, payload)
}

// Close implements IPubSub.Close
func (s *SimulatedPubSub) Close() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.subs = make(map[string]interfaces.MessageHandler)
	s.mu.Unlock()

	s.broker.detach(s)
	s.queue.stop()
	if wasConnected {
		s.emit(interfaces.StatusDisconnected)
	}
	return nil
}

// IsSimulation implements IPubSub.IsSimulation
func (s *SimulatedPubSub) IsSimulation() bool {
	return true
}

func (s *SimulatedPubSub) lose() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.emit(interfaces.StatusConnectionLost)
}

func (s *SimulatedPubSub) matching(topic string) []interfaces.MessageHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return nil
	}
	var out []interfaces.MessageHandler
	for filter, h := range s.subs {
		if interfaces.MatchTopic(filter, topic) {
			out = append(out, h)
		}
	}
	return out
}

func (s *SimulatedPubSub) emit(status interfaces.ConnStatus) {
	select {
	case s.status <- status:
	default:
	}
}

type delivery struct {
	msg     interfaces.Message
	handler interfaces.MessageHandler
}

// deliveryQueue is an unbounded FIFO drained by one goroutine, so a handler
// may publish without blocking on its own queue.
type deliveryQueue struct {
	mu      sync.Mutex
	items   []delivery
	notify  chan struct{}
	done    chan struct{}
	running bool
	idle    *sync.Cond
	busy    bool
}

func newDeliveryQueue() *deliveryQueue {
	q := &deliveryQueue{notify: make(chan struct{}, 1)}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *deliveryQueue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.done = make(chan struct{})
	go q.run(q.done)
}

func (q *deliveryQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	q.running = false
	q.items = nil
	close(q.done)
	q.idle.Broadcast()
}

func (q *deliveryQueue) push(d delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain blocks until the queue is empty and no handler is running.
func (q *deliveryQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running && (len(q.items) > 0 || q.busy) {
		q.idle.Wait()
	}
}

func (q *deliveryQueue) run(done chan struct{}) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.busy = false
			q.idle.Broadcast()
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-done:
				return
			}
		}
		d := q.items[0]
		q.items = q.items[1:]
		q.busy = true
		q.mu.Unlock()

		d.handler(d.msg)
	}
}

// Flush waits until every message already routed to this client has been
// handled. Handlers that publish further messages are followed until the
// client is quiet.
func (s *SimulatedPubSub) Flush() {
	s.queue.drain()
}

// AddSettler registers work that runs outside the delivery queues, such as
// a call manager's media connects. Settle calls f after flushing the
// clients; f waits for that work and reports whether there was any.
func (b *Broker) AddSettler(f func() bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settlers = append(b.settlers, f)
}

// Settle flushes every connected client and runs the settlers until the
// whole broker is quiet.
func (b *Broker) Settle() {
	for i := 0; i < 10; i++ {
		b.mu.RLock()
		clients := make([]*SimulatedPubSub, 0, len(b.clients))
		for c := range b.clients {
			clients = append(clients, c)
		}
		settlers := append([]func() bool(nil), b.settlers...)
		b.mu.RUnlock()

		pending := false
		for _, c := range clients {
			c.queue.mu.Lock()
			if len(c.queue.items) > 0 || c.queue.busy {
				pending = true
			}
			c.queue.mu.Unlock()
			c.Flush()
		}
		for _, settle := range settlers {
			if settle() {
				pending = true
			}
		}
		if !pending {
			return
		}
	}
}
