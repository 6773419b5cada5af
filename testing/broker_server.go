package testing

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/shadowcall/errmap"
	"github.com/opd-ai/shadowcall/interfaces"
	"github.com/opd-ai/shadowcall/real"
	"github.com/sirupsen/logrus"
)

// BrokerPath is the WebSocket path served by BrokerServer.
const BrokerPath = "/mqtt"

// BrokerServer exposes a Broker over the WebSocket frame protocol so the
// production client can be tested end to end.
type BrokerServer struct {
	broker   *Broker
	upgrader websocket.Upgrader
}

// NewBrokerServer wraps broker.
func NewBrokerServer(broker *Broker) *BrokerServer {
	return &BrokerServer{
		broker: broker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns a router serving BrokerPath.
func (s *BrokerServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(BrokerPath, s.serveWS)
	return r
}

// serverConn is one WebSocket client bridged onto a simulated client.
type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	client  *SimulatedPubSub
}

func (c *serverConn) write(f real.Frame) {
	data, err := real.EncodeFrame(f)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *BrokerServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "BrokerServer.serveWS",
			"error":    err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}
	sc := &serverConn{conn: conn, client: s.broker.NewClient()}
	defer func() {
		_ = sc.client.Close()
		_ = conn.Close()
	}()

	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := real.DecodeFrame(data)
		if err != nil {
			continue
		}
		sc.write(s.serve(ctx, sc, f))
	}
}

func (s *BrokerServer) serve(ctx context.Context, sc *serverConn, f real.Frame) real.Frame {
	ack := real.Frame{Op: real.AckOp(f.Op), ID: f.ID}
	var err error
	switch f.Op {
	case real.OpConnect:
		err = sc.client.Connect(ctx, interfaces.Credentials{
			ClientID: f.ClientID,
			Username: f.Username,
			Password: f.Password,
		})
	case real.OpSubscribe:
		err = sc.client.Subscribe(ctx, f.Topic, func(msg interfaces.Message) {
			sc.write(real.Frame{Op: real.OpMessage, Topic: msg.Topic, Payload: msg.Payload})
		})
	case real.OpUnsubscribe:
		err = sc.client.Unsubscribe(ctx, f.Topic)
	case real.OpPublish:
		err = sc.client.Publish(ctx, f.Topic, f.Payload)
	default:
		ack.Code = errmap.CodeInvalidParameter
		return ack
	}
	if err != nil {
		if f.Op == real.OpConnect {
			ack.Code = errmap.CodeTokenInvalid
		} else {
			ack.Code = errmap.CodeSystem
		}
	}
	return ack
}
