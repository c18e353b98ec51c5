package router

import (
	"errors"

	"github.com/wricardo/locshare/presence/protocol"
	"github.com/wricardo/locshare/presence/session"
	"go.uber.org/zap"
)

// State is where a connection is in its lifecycle.
type State int

const (
	// StateUnbound accepts only create_session and join_session.
	StateUnbound State = iota
	// StateBound is entered exactly once and never left for another session.
	StateBound
	// StateClosed ignores everything.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Peer is the router's state for one connection. HandleFrame, Throttled and
// Close must be called from a single goroutine, the connection's read loop,
// which is what keeps per-connection handling in arrival order.
type Peer struct {
	router *Router
	conn   session.Conn
	logger *zap.Logger

	state    State
	sess     *session.Session
	username string
}

// State returns the connection's current state.
func (p *Peer) State() State { return p.state }

// SessionCode returns the bound session code, or "" while unbound.
func (p *Peer) SessionCode() string {
	if p.sess == nil {
		return ""
	}
	return p.sess.Code
}

// Username returns the bound username, or "" while unbound.
func (p *Peer) Username() string { return p.username }

// HandleFrame decodes one inbound frame and dispatches it. Malformed or
// invalid frames are answered with an error frame; the connection stays open
// and no session state changes.
func (p *Peer) HandleFrame(frame []byte) {
	if p.state == StateClosed {
		return
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		p.router.metrics.FrameDropped("malformed")
		p.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(frame)))
		p.reject(protocol.CodeMalformed, err.Error())
		return
	}
	p.router.metrics.FrameReceived(metricType(msg.Type))

	switch msg.Type {
	case protocol.TypeCreateSession:
		p.handleCreate(msg)
	case protocol.TypeJoinSession:
		p.handleJoin(msg)
	case protocol.TypeLocation:
		p.handleLocation(msg)
	case protocol.TypeChatMessage:
		p.handleChat(msg)
	default:
		p.logger.Debug("ignoring unknown message type", zap.String("type", msg.Type))
	}
}

// Throttled reports a frame dropped by the transport's rate limiter.
func (p *Peer) Throttled() {
	if p.state == StateClosed {
		return
	}
	p.router.metrics.FrameDropped("rate_limited")
	p.reject(protocol.CodeRateLimited, "too many messages")
}

// Close runs the disconnect path: the participant goes offline with its last
// location kept, the rest of the session gets a fresh roster, and the session
// is reaped if nobody is left online. Only the first call does anything.
func (p *Peer) Close() {
	if p.state == StateClosed {
		return
	}
	wasBound := p.state == StateBound
	p.state = StateClosed
	if !wasBound {
		p.logger.Debug("connection closed before joining a session")
		return
	}

	reaped, err := p.router.registry.Leave(p.sess, p.conn, func(tx *session.Tx, _ string) error {
		p.router.broadcastRoster(tx, nil)
		return nil
	})
	if err != nil && !errors.Is(err, session.ErrSessionClosed) {
		p.logger.Error("disconnect", zap.Error(err))
	}
	if reaped {
		p.router.metrics.SessionReaped()
		p.logger.Info("session reaped")
	}
	p.logger.Info("participant disconnected")
}

func (p *Peer) handleCreate(msg *protocol.Inbound) {
	if p.state != StateUnbound {
		p.reject(protocol.CodeAlreadyJoined, "connection already joined session "+p.sess.Code)
		return
	}
	req, err := msg.AsCreateSession()
	if err != nil {
		p.invalid(msg.Type, err)
		return
	}

	sess, err := p.router.registry.Create(p.conn, req.Username, req.Color, func(tx *session.Tx) error {
		p.router.deliver(p.conn, p.router.encode(protocol.NewSessionCreated(tx.Code())))
		return nil
	})
	if err != nil {
		p.logger.Error("create session", zap.Error(err))
		p.reject(protocol.CodeInternal, "could not create a session")
		return
	}

	p.bind(sess, req.Username)
	p.router.metrics.SessionCreated(false)
	p.logger.Info("session created")
}

func (p *Peer) handleJoin(msg *protocol.Inbound) {
	if p.state != StateUnbound {
		p.reject(protocol.CodeAlreadyJoined, "connection already joined session "+p.sess.Code)
		return
	}
	req, err := msg.AsJoinSession()
	if err != nil {
		p.invalid(msg.Type, err)
		return
	}

	sess, res, err := p.router.registry.Join(req.SessionID, p.conn, req.Username, req.Color, func(tx *session.Tx, res session.JoinResult) error {
		users := protocol.Users(tx.Roster(req.Username))
		p.router.deliver(p.conn, p.router.encode(protocol.NewSessionJoined(tx.Code(), users)))
		if res.Displaced != nil {
			p.router.deliver(res.Displaced, p.router.encode(protocol.NewError(protocol.CodeReplaced, "username joined from another connection")))
		}
		p.router.broadcastRoster(tx, p.conn)
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidCode) || errors.Is(err, session.ErrInvalidUsername) {
			p.invalid(msg.Type, err)
			return
		}
		p.logger.Error("join session", zap.Error(err))
		p.reject(protocol.CodeInternal, "could not join the session")
		return
	}

	if res.Displaced != nil {
		res.Displaced.Close()
	}
	p.bind(sess, req.Username)
	if res.Created {
		p.router.metrics.SessionCreated(true)
	}
	p.logger.Info("joined session",
		zap.Bool("implicit_create", res.Created),
		zap.Bool("revived", res.Revived),
		zap.Bool("took_over", res.Displaced != nil))
}

func (p *Peer) handleLocation(msg *protocol.Inbound) {
	if p.state != StateBound {
		p.notJoined(msg.Type)
		return
	}
	req, err := msg.AsLocation()
	if err != nil {
		p.invalid(msg.Type, err)
		return
	}
	if !sameSession(req.SessionID, p.sess.Code) {
		p.mismatch(req.SessionID)
		return
	}

	now := p.router.now()
	err = p.sess.Update(func(tx *session.Tx) error {
		username, ok := tx.UsernameOf(p.conn)
		if !ok {
			return errNotBound
		}
		view, err := tx.SetLocation(username, req.Location, now)
		if err != nil {
			return err
		}
		frame := p.router.encode(protocol.NewLocationUpdate(view))
		for _, b := range tx.Bindings() {
			if b.Conn != p.conn {
				p.router.deliver(b.Conn, frame)
			}
		}
		return nil
	})
	if err != nil {
		p.lostBinding(msg.Type, err)
	}
}

func (p *Peer) handleChat(msg *protocol.Inbound) {
	if p.state != StateBound {
		p.notJoined(msg.Type)
		return
	}
	req, err := msg.AsChat()
	if err != nil {
		p.invalid(msg.Type, err)
		return
	}
	if !sameSession(req.SessionID, p.sess.Code) {
		p.mismatch(req.SessionID)
		return
	}
	if req.From != "" && req.From != p.username {
		p.logger.Warn("chat sender does not match binding, using bound username", zap.String("claimed", req.From))
	}
	req.From = p.username

	frame := p.router.encode(protocol.NewChatMessage(req))
	now := p.router.now()
	err = p.sess.Update(func(tx *session.Tx) error {
		if _, ok := tx.UsernameOf(p.conn); !ok {
			return errNotBound
		}
		tx.Touch(p.username, now)
		for _, b := range tx.Bindings() {
			p.router.deliver(b.Conn, frame)
		}
		return nil
	})
	if err != nil {
		p.lostBinding(msg.Type, err)
	}
}

func (p *Peer) bind(sess *session.Session, username string) {
	p.state = StateBound
	p.sess = sess
	p.username = username
	p.logger = p.logger.With(zap.String("session", sess.Code), zap.String("username", username))
}

func (p *Peer) reject(code, message string) {
	p.router.deliver(p.conn, p.router.encode(protocol.NewError(code, message)))
}

func (p *Peer) invalid(msgType string, err error) {
	p.router.metrics.FrameDropped("invalid_payload")
	p.logger.Warn("dropping invalid payload", zap.String("type", msgType), zap.Error(err))
	p.reject(protocol.CodeInvalidPayload, err.Error())
}

func (p *Peer) notJoined(msgType string) {
	p.router.metrics.FrameDropped("not_joined")
	p.logger.Debug("dropping frame sent before joining", zap.String("type", msgType))
	p.reject(protocol.CodeNotJoined, msgType+" requires joining a session first")
}

func (p *Peer) mismatch(claimed string) {
	p.router.metrics.FrameDropped("session_mismatch")
	p.logger.Warn("dropping frame for another session", zap.String("claimed", claimed))
	p.reject(protocol.CodeSessionMismatch, "connection is bound to session "+p.sess.Code)
}

// lostBinding handles a bound peer whose session no longer knows it, which
// happens after another connection took over the username.
func (p *Peer) lostBinding(msgType string, err error) {
	if errors.Is(err, errNotBound) || errors.Is(err, session.ErrSessionClosed) {
		p.notJoined(msgType)
		return
	}
	p.logger.Error("update session", zap.String("type", msgType), zap.Error(err))
}
