package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionClosed       = errors.New("session closed")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidCode         = errors.New("invalid session code")
	ErrInvalidUsername     = errors.New("invalid username")
	ErrCodeSpaceExhausted  = errors.New("could not generate an unused session code")
)

// maxCodeAttempts bounds how many generated codes Create tries before giving up.
const maxCodeAttempts = 16

// Registry maps session codes to live sessions.
//
// Lock order is Registry.mu before Session.mu, and Registry.mu is only held
// long enough to look a session up or insert it. Membership changes and the
// callbacks passed to Create, Join and Leave run under the session lock
// alone. Leave marks a session closed in the same critical section that takes
// its last participant offline, and Join never binds into a closed session,
// so a join after everyone left always starts a fresh one.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	random io.Reader
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithRandom sets the source used for session codes.
func WithRandom(r io.Reader) Option {
	return func(reg *Registry) { reg.random = r }
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		random:   rand.Reader,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create makes a session under a fresh code and binds conn as its first
// online participant. then, if non-nil, runs with the session lock held right
// after the bind.
func (r *Registry) Create(conn Conn, username, color string, then func(tx *Tx) error) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	r.mu.Lock()
	code, err := r.uniqueCode()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	now := r.now()
	sess := newSession(code, now)
	sess.mu.Lock()
	r.sessions[code] = sess
	r.mu.Unlock()
	defer sess.mu.Unlock()

	sess.bind(conn, username, color, now)
	if then != nil {
		if err := then(&Tx{s: sess}); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// Join binds conn to username in the session identified by code, creating the
// session if it does not exist. An existing participant with the same name is
// revived instead of duplicated. then, if non-nil, runs with the session lock
// held right after the bind.
func (r *Registry) Join(code string, conn Conn, username, color string, then func(tx *Tx, res JoinResult) error) (*Session, JoinResult, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, JoinResult{}, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, JoinResult{}, ErrInvalidUsername
	}

	sess, created := r.acquire(code)
	defer sess.mu.Unlock()

	res := sess.bind(conn, username, color, r.now())
	res.Created = created
	if then != nil {
		if err := then(&Tx{s: sess}, res); err != nil {
			return sess, res, err
		}
	}
	return sess, res, nil
}

// Leave takes conn's participant offline, keeping its record and last
// location. then, if non-nil, runs with the session lock held right after,
// and only when conn was still bound. If nobody is left online the session
// is closed and deleted before the lock is released; Leave reports whether
// that happened. Deleting discards all of the session's history.
func (r *Registry) Leave(sess *Session, conn Conn, then func(tx *Tx, username string) error) (bool, error) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return false, ErrSessionClosed
	}

	var err error
	tx := &Tx{s: sess}
	if name, ok := tx.Unbind(conn, r.now()); ok && then != nil {
		err = then(tx, name)
	}
	empty := sess.onlineCount() == 0
	if empty {
		sess.closed = true
	}
	sess.mu.Unlock()

	if empty {
		r.forget(sess)
	}
	return empty, err
}

// acquire returns the live session for code with its lock held, creating it
// if needed. Closed sessions found in the map are dropped and replaced.
func (r *Registry) acquire(code string) (*Session, bool) {
	for {
		r.mu.Lock()
		sess, exists := r.sessions[code]
		if !exists {
			sess = newSession(code, r.now())
			sess.mu.Lock()
			r.sessions[code] = sess
			r.mu.Unlock()
			return sess, true
		}
		r.mu.Unlock()

		sess.mu.Lock()
		if !sess.closed {
			return sess, false
		}
		sess.mu.Unlock()
		r.forget(sess)
	}
}

// forget removes sess from the map unless its code already belongs to a
// newer session.
func (r *Registry) forget(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sess.Code] == sess {
		delete(r.sessions, sess.Code)
	}
}

// Get retrieves a live session by code (case-insensitive).
func (r *Registry) Get(code string) (*Session, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[code]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns all live sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	result := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		result = append(result, sess)
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Code < result[j].Code
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// uniqueCode must be called with r.mu held.
func (r *Registry) uniqueCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateCode(r.random)
		if err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		if _, taken := r.sessions[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
