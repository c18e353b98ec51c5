package router

import (
	"errors"
	"strings"
	"time"

	"github.com/wricardo/locshare/metrics"
	"github.com/wricardo/locshare/presence/protocol"
	"github.com/wricardo/locshare/presence/session"
	"go.uber.org/zap"
)

// errNotBound is returned inside a session update when the connection is no
// longer bound, e.g. after another connection took over its username.
var errNotBound = errors.New("connection not bound to session")

// Router dispatches inbound frames and performs fan-out. It is safe for
// concurrent use; per-connection state lives in Peer.
type Router struct {
	registry *session.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Router over registry. m may be nil.
func New(registry *session.Registry, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Registry returns the registry the router mutates.
func (r *Router) Registry() *session.Registry {
	return r.registry
}

// Open starts tracking a new connection in the Unbound state.
func (r *Router) Open(conn session.Conn) *Peer {
	return &Peer{
		router: r,
		conn:   conn,
		logger: r.logger.With(zap.String("conn_id", conn.ID())),
		state:  StateUnbound,
	}
}

// encode marshals v, logging failures. A nil result means nothing to send.
func (r *Router) encode(v any) []byte {
	frame, err := protocol.Encode(v)
	if err != nil {
		r.logger.Error("encode outbound frame", zap.Error(err))
		return nil
	}
	return frame
}

// deliver queues frame on c. A connection that cannot keep up is closed,
// which routes it through the normal disconnect path; nobody else waits on it.
func (r *Router) deliver(c session.Conn, frame []byte) {
	if frame == nil {
		return
	}
	if c.Send(frame) {
		r.metrics.FrameSent()
		return
	}
	r.metrics.FrameDropped("overflow")
	r.logger.Warn("outbound buffer full or closed, closing connection", zap.String("conn_id", c.ID()))
	c.Close()
}

// broadcastRoster pushes users_update to every bound connection except skip.
// Each recipient's list leaves out its own entry. Must run inside Update.
func (r *Router) broadcastRoster(tx *session.Tx, skip session.Conn) {
	for _, b := range tx.Bindings() {
		if b.Conn == skip {
			continue
		}
		users := protocol.Users(tx.Roster(b.Username))
		r.deliver(b.Conn, r.encode(protocol.NewUsersUpdate(users)))
	}
}

// metricType keeps the frames_received label set bounded.
func metricType(t string) string {
	switch t {
	case protocol.TypeCreateSession, protocol.TypeJoinSession, protocol.TypeLocation, protocol.TypeChatMessage:
		return t
	}
	return "unknown"
}

// sameSession reports whether a client-supplied code refers to bound.
// An empty code means the client relies on the binding.
func sameSession(claimed, bound string) bool {
	return claimed == "" || strings.EqualFold(claimed, bound)
}
