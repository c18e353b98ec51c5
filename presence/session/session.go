package session

import (
	"sync"
	"time"
)

// Session is an isolated group of participants sharing one code. All state is
// guarded by mu; callers reach it through Update, which hands out a Tx.
type Session struct {
	Code      string
	CreatedAt time.Time

	mu           sync.Mutex
	participants map[string]*Participant
	order        []string
	connections  map[Conn]string
	closed       bool
}

func newSession(code string, now time.Time) *Session {
	return &Session{
		Code:         code,
		CreatedAt:    now,
		participants: make(map[string]*Participant),
		connections:  make(map[Conn]string),
	}
}

// Update runs fn with the session lock held. It returns ErrSessionClosed if
// the session has already been reaped.
func (s *Session) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return fn(&Tx{s: s})
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Code:         s.Code,
		CreatedAt:    s.CreatedAt,
		Participants: make([]ParticipantView, 0, len(s.order)),
	}
	for _, name := range s.order {
		snap.Participants = append(snap.Participants, s.participants[name].view())
	}
	return snap
}

// Closed reports whether the session has been reaped.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// bind attaches conn to username. Must be called with s.mu held.
func (s *Session) bind(conn Conn, username, color string, now time.Time) JoinResult {
	var res JoinResult

	p, exists := s.participants[username]
	if exists {
		res.Revived = true
		if p.Online && p.conn != nil && p.conn != conn {
			delete(s.connections, p.conn)
			res.Displaced = p.conn
		}
		if color != "" {
			p.Color = color
		}
	} else {
		p = &Participant{
			Username: username,
			Color:    color,
			JoinedAt: now,
		}
		s.participants[username] = p
		s.order = append(s.order, username)
	}

	p.Online = true
	p.LastSeen = now
	p.conn = conn
	s.connections[conn] = username
	return res
}

// onlineCount must be called with s.mu held.
func (s *Session) onlineCount() int {
	n := 0
	for _, p := range s.participants {
		if p.Online {
			n++
		}
	}
	return n
}

// Tx exposes session state to code running inside Update. It must not be
// retained after the callback returns.
type Tx struct {
	s *Session
}

// Code returns the session code.
func (tx *Tx) Code() string {
	return tx.s.Code
}

// UsernameOf returns the username conn is bound to.
func (tx *Tx) UsernameOf(conn Conn) (string, bool) {
	name, ok := tx.s.connections[conn]
	return name, ok
}

// Participant returns a copy of the named participant.
func (tx *Tx) Participant(username string) (ParticipantView, bool) {
	p, ok := tx.s.participants[username]
	if !ok {
		return ParticipantView{}, false
	}
	return p.view(), true
}

// SetLocation records loc as the participant's last known location.
func (tx *Tx) SetLocation(username string, loc Location, now time.Time) (ParticipantView, error) {
	p, ok := tx.s.participants[username]
	if !ok {
		return ParticipantView{}, ErrParticipantNotFound
	}
	p.LastLocation = &loc
	p.LastSeen = now
	return p.view(), nil
}

// Touch marks the participant as recently active.
func (tx *Tx) Touch(username string, now time.Time) {
	if p, ok := tx.s.participants[username]; ok {
		p.LastSeen = now
	}
}

// Unbind detaches conn from the session and marks its participant offline.
// The participant record and last location are kept. It reports false when
// conn was not bound, which makes repeated disconnects harmless.
func (tx *Tx) Unbind(conn Conn, now time.Time) (string, bool) {
	name, ok := tx.s.connections[conn]
	if !ok {
		return "", false
	}
	delete(tx.s.connections, conn)

	if p, exists := tx.s.participants[name]; exists && p.conn == conn {
		p.Online = false
		p.LastSeen = now
		p.conn = nil
	}
	return name, true
}

// Bindings returns every bound connection in join order.
func (tx *Tx) Bindings() []Binding {
	out := make([]Binding, 0, len(tx.s.connections))
	for _, name := range tx.s.order {
		p := tx.s.participants[name]
		if p.Online && p.conn != nil {
			out = append(out, Binding{Conn: p.conn, Username: name})
		}
	}
	return out
}

// Roster returns every participant except exclude, in join order.
func (tx *Tx) Roster(exclude string) []ParticipantView {
	out := make([]ParticipantView, 0, len(tx.s.order))
	for _, name := range tx.s.order {
		if name == exclude {
			continue
		}
		out = append(out, tx.s.participants[name].view())
	}
	return out
}
