package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pkgerrors "github.com/barberdeskapp/barberdesk-backend/pkg/errors"
	"github.com/barberdeskapp/barberdesk-backend/pkg/logger"
	"github.com/gorilla/websocket"
)

// Client frame actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionHeartbeat   = "heartbeat"
)

const (
	maxFrameBytes    = 4 << 10
	defaultWriteWait = 2 * time.Second
)

// ClientFrame is a client-to-server control message on a live connection.
type ClientFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WSConn adapts a gorilla websocket connection to the Sink interface with
// serialized writes.
type WSConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

// NewWSConn wraps an upgraded websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send writes one text frame, honoring the context deadline.
func (c *WSConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(defaultWriteWait)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a best-effort close frame and tears the transport down.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		deadline := time.Now().Add(defaultWriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

// ReadPump consumes control frames until the peer disconnects or goes silent
// past the heartbeat timeout, then unregisters the connection. Every
// registration reaches this removal path: the pump is started immediately
// after Register.
func ReadPump(ctx context.Context, registry *Registry, connID string, conn *websocket.Conn, sink Sink, heartbeatTimeout time.Duration, logg *logger.Logger) {
	defer registry.Unregister(connID)

	logCtx := logg.WithConnID(ctx, connID)

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		_ = registry.Heartbeat(connID)
		return conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logg.Info(logCtx, "live connection closed")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sendError(ctx, sink, "malformed frame")
			continue
		}

		switch frame.Action {
		case ActionSubscribe:
			if err := registry.Subscribe(connID, frame.Topic); err != nil {
				sendError(ctx, sink, subscribeErrorMessage(err))
			}
		case ActionUnsubscribe:
			registry.Unsubscribe(connID, frame.Topic)
		case ActionHeartbeat:
			_ = registry.Heartbeat(connID)
		default:
			sendError(ctx, sink, "unknown action")
		}
	}
}

func sendError(ctx context.Context, sink Sink, message string) {
	payload, err := json.Marshal(errorFrame{Type: "error", Message: message})
	if err != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, defaultWriteWait)
	defer cancel()
	_ = sink.Send(sendCtx, payload)
}

func subscribeErrorMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return "subscribe failed"
}
