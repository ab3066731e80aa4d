package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/transport/wsdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
	"sentinal-realtime/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 512
)

// Client represents a single WebSocket connection. It implements
// realtime.Conn.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	principal domain.Principal
	clientID  string

	mu     sync.Mutex
	closed bool

	connectedAt  time.Time
	lastActivity atomic.Int64
	logger       *WebSocketLogger
}

func NewClient(hub *Hub, conn *websocket.Conn, principal domain.Principal, clientID string, logger *WebSocketLogger) *Client {
	now := time.Now()
	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		principal:   principal,
		clientID:    clientID,
		connectedAt: now,
		logger:      logger,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Client) ID() string                  { return c.clientID }
func (c *Client) Principal() domain.Principal { return c.principal }

// Send queues frame for the write pump. It never blocks: a closed or
// saturated client drops the frame.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("client send buffer full", c.principal.ID, c.clientID)
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) baseContext() context.Context {
	ctx := context.WithValue(context.Background(), logger.UserIdKey, c.principal.ID)
	return context.WithValue(ctx, logger.ConnectionIdKey, c.clientID)
}

// readPump handles frames one at a time, so requests from a single
// connection are processed in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity.Store(time.Now().UnixNano())
		return nil
	})

	ctx := c.baseContext()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.principal.ID, c.clientID, err)
			}
			break
		}
		c.lastActivity.Store(time.Now().UnixNano())
		c.handleMessage(ctx, message)
	}
}

func (c *Client) handleMessage(ctx context.Context, message []byte) {
	var frame wsdto.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Warn("malformed frame", c.principal.ID, c.clientID)
		return
	}

	var data any
	var err error
	if frame.Event == "" {
		err = fmt.Errorf("%w: missing event", sentinal_errors.ErrValidation)
		c.logger.Warn("frame without event", c.principal.ID, c.clientID)
	} else if data, err = c.hub.dispatch(ctx, c, frame); err != nil {
		c.hub.logError(c, frame.Event, err)
	}

	if len(frame.Ack) == 0 {
		return
	}

	var ack []byte
	if err != nil {
		ack, err = wsdto.NewErrorAck(frame.Ack, err)
	} else {
		ack, err = wsdto.NewSuccessAck(frame.Ack, data)
	}
	if err != nil {
		c.logger.Error("encode ack failed", c.principal.ID, c.clientID, err, zap.String("msg_type", frame.Event))
		return
	}
	c.Send(ack)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			if time.Since(time.Unix(0, c.lastActivity.Load())) > pongWait*2 {
				c.logger.Info("client idle timeout", c.principal.ID, c.clientID)
				return
			}
		}
	}
}
