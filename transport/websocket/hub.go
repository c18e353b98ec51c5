package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wricardo/locshare/metrics"
	"github.com/wricardo/locshare/presence/router"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tunes every connection the hub accepts.
type Options struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration

	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration

	// Maximum message size allowed from peer.
	MaxMessageBytes int64

	// Outbound frames queued per connection before it counts as too slow.
	SendBuffer int

	// Inbound frames per second, with bursts up to RateBurst.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxMessageBytes: 8192,
		SendBuffer:      64,
		RateLimit:       20,
		RateBurst:       40,
	}
}

// Hub accepts WebSocket connections and tracks them until they go away.
// Session membership is not the hub's business; each connection is handed to
// the router as a Peer.
type Hub struct {
	router   *router.Router
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader

	// Owned by Run.
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// mu orders wg.Add in ServeWS against closing done, so no connection
	// goroutine is added once Wait may be running.
	mu   sync.Mutex
	done chan struct{}

	count atomic.Int64
	wg    sync.WaitGroup
}

// NewHub creates a hub. m may be nil.
func NewHub(r *router.Router, logger *zap.Logger, m *metrics.Metrics, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		router:  r,
		logger:  logger,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are mobile browsers and native apps on arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. When ctx is cancelled every open connection
// is closed and new upgrades are refused; use Wait to block until their
// goroutines have finished.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
			h.metrics.ConnectionOpened()
			client.logger.Debug("client registered", zap.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Add(-1)
				h.metrics.ConnectionClosed()
				client.logger.Debug("client unregistered", zap.Int("clients", len(h.clients)))
			}

		case <-ctx.Done():
			h.mu.Lock()
			close(h.done)
			h.mu.Unlock()
			h.logger.Info("closing websocket connections", zap.Int("clients", len(h.clients)))
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
				h.count.Add(-1)
				h.metrics.ConnectionClosed()
			}
			return
		}
	}
}

// Wait blocks until Run has shut down and every connection goroutine has
// exited.
func (h *Hub) Wait() {
	<-h.done
	h.wg.Wait()
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request and starts the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	client := newClient(h, conn, uuid.NewString())
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close()
		return
	default:
		h.wg.Add(2)
	}
	h.mu.Unlock()

	select {
	case h.register <- client:
	case <-h.done:
		h.wg.Add(-2)
		conn.Close()
		return
	}
	client.logger.Info("client connected", zap.String("remote", r.RemoteAddr))

	peer := h.router.Open(client)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump(peer)
	}()
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
