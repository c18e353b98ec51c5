package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/locshare/presence/router"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is one WebSocket connection. It implements session.Conn.
type Client struct {
	hub     *Hub
	id      string
	conn    *websocket.Conn
	logger  *zap.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:     h,
		id:      id,
		conn:    conn,
		logger:  h.logger.With(zap.String("conn_id", id)),
		limiter: rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst),
		send:    make(chan []byte, h.opts.SendBuffer),
	}
}

// ID returns the connection's identifier.
func (c *Client) ID() string {
	return c.id
}

// Send queues frame without blocking. It returns false if the buffer is full
// or the client is closed.
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
		return false
	}
}

// Close stops accepting frames. The write pump flushes what is queued, sends
// a close message and drops the connection, which ends the read pump.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump pumps frames from the WebSocket connection to the router. It owns
// the peer, so frames from one connection are handled in arrival order.
func (c *Client) readPump(peer *router.Peer) {
	defer func() {
		peer.Close()
		c.Close()
		c.hub.remove(c)
		c.conn.Close()
		c.logger.Info("client disconnected")
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.hub.metrics.FrameDropped("too_large")
				c.logger.Warn("frame exceeds read limit", zap.Int64("limit", c.hub.opts.MaxMessageBytes))
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure):
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			peer.Throttled()
			continue
		}
		peer.HandleFrame(frame)
	}
}

// writePump pumps frames from the send buffer to the WebSocket connection.
// Each frame is written as its own text message.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if !ok {
				// Close was called.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
