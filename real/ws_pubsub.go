package real

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/limits"
	"github.com/sirupsen/logrus"
)

const (
	heartbeatInterval = 20 * time.Second
	heartbeatTimeout  = 45 * time.Second
	writeQueueSize    = 64
	workerQueueSize   = 128
)

// ErrClosed is returned for requests on a closed or lost connection.
var ErrClosed = errors.New("pub/sub connection closed")

// WSPubSub implements interfaces.IPubSub over a WebSocket connection using
// JSON frames.
//
// Inbound messages are handed to a fixed pool of callback workers. Messages
// on the same topic always land on the same worker, so per-topic order is
// preserved.
type WSPubSub struct {
	config *interfaces.TransportConfig
	dialer *websocket.Dialer

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	subs      map[string]interfaces.MessageHandler
	pending   map[string]chan Frame
	writeCh   chan []byte
	done      chan struct{}
	workers   []chan interfaces.Message

	status chan interfaces.ConnStatus
}

// NewWSPubSub creates a disconnected client for config.Endpoint.
func NewWSPubSub(config *interfaces.TransportConfig) *WSPubSub {
	logrus.WithFields(logrus.Fields{
		"function": "NewWSPubSub",
		"endpoint": config.Endpoint,
		"workers":  config.CallbackWorkers,
	}).Info("Creating WebSocket pub/sub client")

	return &WSPubSub{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: config.Timeout()},
		subs:   make(map[string]interfaces.MessageHandler),
		status: make(chan interfaces.ConnStatus, 16),
	}
}

// SetDialer replaces the WebSocket dialer (primarily for testing).
func (p *WSPubSub) SetDialer(d *websocket.Dialer) {
	p.dialer = d
}

// Connect implements IPubSub.Connect
func (p *WSPubSub) Connect(ctx context.Context, creds interfaces.Credentials) error {
	p.mu.RLock()
	already := p.connected
	p.mu.RUnlock()
	if already {
		return errmap.New(errmap.KindWrongState, "already connected")
	}

	p.emit(interfaces.StatusConnecting)
	conn, _, err := p.dialer.DialContext(ctx, p.config.Endpoint, nil)
	if err != nil {
		p.emit(interfaces.StatusDisconnected)
		logrus.WithFields(logrus.Fields{
			"function": "WSPubSub.Connect",
			"endpoint": p.config.Endpoint,
			"error":    err.Error(),
		}).Error("Failed to dial broker")
		return errmap.Wrap(errmap.KindConnectFailed, err)
	}
	conn.SetReadLimit(limits.MaxProcessingBuffer)

	p.start(conn)

	ack, err := p.request(ctx, Frame{
		Op:       OpConnect,
		ClientID: creds.ClientID,
		Username: creds.Username,
		Password: creds.Password,
	})
	if err == nil && ack.Code != 0 {
		err = errmap.FromResponse(ack.Code, "connect refused", errmap.KindConnectFailed)
	}
	if err != nil {
		p.shutdown(interfaces.StatusDisconnected)
		return err
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.emit(interfaces.StatusConnected)

	logrus.WithFields(logrus.Fields{
		"function":  "WSPubSub.Connect",
		"client_id": creds.ClientID,
	}).Info("Connected to broker")
	return nil
}

func (p *WSPubSub) start(conn *websocket.Conn) {
	workers := p.config.CallbackWorkers
	if workers < 1 {
		workers = 1
	}

	p.mu.Lock()
	p.conn = conn
	p.pending = make(map[string]chan Frame)
	p.writeCh = make(chan []byte, writeQueueSize)
	p.done = make(chan struct{})
	p.workers = make([]chan interfaces.Message, workers)
	for i := range p.workers {
		p.workers[i] = make(chan interfaces.Message, workerQueueSize)
	}
	done, writeCh, pool := p.done, p.writeCh, p.workers
	p.mu.Unlock()

	for _, ch := range pool {
		go p.worker(ch, done)
	}
	go p.writeLoop(conn, writeCh, done)
	go p.readLoop(conn, done)
}

// Status implements IPubSub.Status
func (p *WSPubSub) Status() <-chan interfaces.ConnStatus {
	return p.status
}

// IsConnected implements IPubSub.IsConnected
func (p *WSPubSub) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Subscribe implements IPubSub.Subscribe
func (p *WSPubSub) Subscribe(ctx context.Context, filter string, handler interfaces.MessageHandler) error {
	if handler == nil {
		return errmap.New(errmap.KindInvalidParameter, "nil handler")
	}
	if err := limits.ValidateTopic(filter); err != nil {
		return errmap.Wrap(errmap.KindInvalidParameter, err)
	}

	p.mu.Lock()
	p.subs[filter] = handler
	p.mu.Unlock()

	ack, err := p.request(ctx, Frame{Op: OpSubscribe, Topic: filter})
	if err == nil && ack.Code != 0 {
		err = errmap.FromResponse(ack.Code, "subscribe refused", errmap.KindUnknown)
	}
	if err != nil {
		p.mu.Lock()
		delete(p.subs, filter)
		p.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe implements IPubSub.Unsubscribe
func (p *WSPubSub) Unsubscribe(ctx context.Context, filter string) error {
	p.mu.Lock()
	delete(p.subs, filter)
	p.mu.Unlock()

	ack, err := p.request(ctx, Frame{Op: OpUnsubscribe, Topic: filter})
	if err == nil && ack.Code != 0 {
		err = errmap.FromResponse(ack.Code, "unsubscribe refused", errmap.KindUnknown)
	}
	return err
}

// Publish implements IPubSub.Publish. It returns once the broker has
// acknowledged the message.
func (p *WSPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := limits.ValidateTopic(topic); err != nil {
		return errmap.Wrap(errmap.KindInvalidParameter, err)
	}
	ack, err := p.request(ctx, Frame{Op: OpPublish, Topic: topic, Payload: payload})
	if err == nil && ack.Code != 0 {
		err = errmap.FromResponse(ack.Code, "publish refused", errmap.KindUnknown)
	}
	return err
}

// Close implements IPubSub.Close
func (p *WSPubSub) Close() error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	p.shutdown(interfaces.StatusDisconnected)
	return nil
}

// IsSimulation implements IPubSub.IsSimulation
func (p *WSPubSub) IsSimulation() bool {
	return false
}

// request sends f with a fresh id and waits for the matching ack.
func (p *WSPubSub) request(ctx context.Context, f Frame) (Frame, error) {
	f.ID = uuid.NewString()
	data, err := EncodeFrame(f)
	if err != nil {
		return Frame{}, errmap.Wrap(errmap.KindMalformed, err)
	}

	reply := make(chan Frame, 1)
	p.mu.Lock()
	if p.conn == nil {
		p.mu.Unlock()
		return Frame{}, errmap.Wrap(errmap.KindConnectFailed, ErrClosed)
	}
	p.pending[f.ID] = reply
	writeCh, done := p.writeCh, p.done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending != nil {
			delete(p.pending, f.ID)
		}
		p.mu.Unlock()
	}()

	timer := time.NewTimer(p.config.Timeout())
	defer timer.Stop()

	select {
	case writeCh <- data:
	case <-done:
		return Frame{}, errmap.Wrap(errmap.KindConnectFailed, ErrClosed)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}

	select {
	case ack := <-reply:
		if ack.Op != AckOp(f.Op) {
			return Frame{}, errmap.New(errmap.KindMalformed, fmt.Sprintf("expected %s, got %s", AckOp(f.Op), ack.Op))
		}
		return ack, nil
	case <-timer.C:
		return Frame{}, errmap.New(errmap.KindTimeout, f.Op+" not acknowledged")
	case <-done:
		return Frame{}, errmap.Wrap(errmap.KindConnectFailed, ErrClosed)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *WSPubSub) writeLoop(conn *websocket.Conn, writeCh <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-writeCh:
			_ = conn.SetWriteDeadline(time.Now().Add(p.config.Timeout()))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "WSPubSub.writeLoop",
					"error":    err.Error(),
				}).Warn("Write to broker failed")
				go p.shutdown(interfaces.StatusConnectionLost)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.config.Timeout())); err != nil {
				go p.shutdown(interfaces.StatusConnectionLost)
				return
			}
		case <-done:
			return
		}
	}
}

func (p *WSPubSub) readLoop(conn *websocket.Conn, done <-chan struct{}) {
	_ = conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logrus.WithFields(logrus.Fields{
						"function": "WSPubSub.readLoop",
						"error":    err.Error(),
					}).Warn("Broker connection lost")
				}
				go p.shutdown(interfaces.StatusConnectionLost)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		p.handleFrame(data)
	}
}

func (p *WSPubSub) handleFrame(data []byte) {
	op := PeekOp(data)
	if op != OpMessage && !IsAck(op) {
		logrus.WithFields(logrus.Fields{
			"function": "WSPubSub.handleFrame",
			"op":       op,
		}).Debug("Ignoring unknown frame")
		return
	}
	f, err := DecodeFrame(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "WSPubSub.handleFrame",
			"error":    err.Error(),
		}).Warn("Dropping malformed frame")
		return
	}

	if IsAck(op) {
		p.mu.RLock()
		reply, ok := p.pending[f.ID]
		p.mu.RUnlock()
		if ok {
			select {
			case reply <- f:
			default:
			}
		}
		return
	}

	p.mu.RLock()
	pool := p.workers
	p.mu.RUnlock()
	if len(pool) == 0 {
		return
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(f.Topic))
	ch := pool[int(h.Sum32())%len(pool)]
	select {
	case ch <- interfaces.Message{Topic: f.Topic, Payload: f.Payload}:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "WSPubSub.handleFrame",
			"topic":    f.Topic,
		}).Warn("Callback worker queue full, dropping message")
	}
}

func (p *WSPubSub) worker(ch <-chan interfaces.Message, done <-chan struct{}) {
	for {
		select {
		case msg := <-ch:
			for _, handler := range p.matching(msg.Topic) {
				handler(msg)
			}
		case <-done:
			return
		}
	}
}

func (p *WSPubSub) matching(topic string) []interfaces.MessageHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []interfaces.MessageHandler
	for filter, h := range p.subs {
		if interfaces.MatchTopic(filter, topic) {
			out = append(out, h)
		}
	}
	return out
}

// shutdown tears down the current connection once and reports status.
func (p *WSPubSub) shutdown(status interfaces.ConnStatus) {
	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return
	}
	wasConnected := p.connected
	p.conn = nil
	p.connected = false
	p.pending = nil
	close(p.done)
	p.mu.Unlock()

	_ = conn.Close()
	if wasConnected || status == interfaces.StatusDisconnected {
		p.emit(status)
	}
}

func (p *WSPubSub) emit(status interfaces.ConnStatus) {
	select {
	case p.status <- status:
	default:
	}
}
