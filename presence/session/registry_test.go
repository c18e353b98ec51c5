package session

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func onlineNames(snap Snapshot) []string {
	var names []string
	for _, p := range snap.Participants {
		if p.Online {
			names = append(names, p.Username)
		}
	}
	return names
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry(WithClock(fixedClock()))
	alice := newFakeConn("a")

	sess, err := reg.Create(alice, "alice", "#f00", nil)
	require.NoError(t, err)

	t.Run("code shape", func(t *testing.T) {
		assert.Len(t, sess.Code, CodeLength)
		assert.Equal(t, strings.ToUpper(sess.Code), sess.Code)
		for _, r := range sess.Code {
			assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected rune %q", r)
		}
	})

	t.Run("creator is online", func(t *testing.T) {
		snap := sess.Snapshot()
		require.Len(t, snap.Participants, 1)
		assert.Equal(t, "alice", snap.Participants[0].Username)
		assert.Equal(t, "#f00", snap.Participants[0].Color)
		assert.True(t, snap.Participants[0].Online)
		assert.Nil(t, snap.Participants[0].LastLocation)
	})

	t.Run("empty username", func(t *testing.T) {
		_, err := reg.Create(newFakeConn("x"), "  ", "", nil)
		assert.ErrorIs(t, err, ErrInvalidUsername)
	})

	t.Run("callback runs under the new session", func(t *testing.T) {
		var seen string
		s, err := reg.Create(newFakeConn("b"), "bob", "", func(tx *Tx) error {
			seen = tx.Code()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, s.Code, seen)
		assert.Equal(t, 2, reg.Count())
	})
}

func TestRegistry_CreateSkipsLiveCodes(t *testing.T) {
	// The first six usable bytes spell AAAAAA, the next six BBBBBB.
	src := bytes.NewReader(append(bytes.Repeat([]byte{0}, 12), bytes.Repeat([]byte{1}, 24)...))
	reg := NewRegistry(WithRandom(src))

	_, _, err := reg.Join("AAAAAA", newFakeConn("squatter"), "zed", "", nil)
	require.NoError(t, err)

	sess, err := reg.Create(newFakeConn("a"), "alice", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", sess.Code)

	squatted, err := reg.Get("aaaaaa")
	require.NoError(t, err)
	assert.Equal(t, []string{"zed"}, onlineNames(squatted.Snapshot()))
}

func TestRegistry_CreateCodeSpaceExhausted(t *testing.T) {
	reg := NewRegistry(WithRandom(zeroReader{}))

	_, err := reg.Create(newFakeConn("a"), "alice", "", nil)
	require.NoError(t, err)

	_, err = reg.Create(newFakeConn("b"), "bob", "", nil)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, 1, reg.Count())
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestRegistry_Join(t *testing.T) {
	reg := NewRegistry(WithClock(fixedClock()))
	alice := newFakeConn("a")
	sess, err := reg.Create(alice, "alice", "", nil)
	require.NoError(t, err)

	t.Run("case-insensitive code", func(t *testing.T) {
		bob := newFakeConn("b")
		var roster []ParticipantView
		joined, res, err := reg.Join(strings.ToLower(sess.Code), bob, "bob", "", func(tx *Tx, res JoinResult) error {
			roster = tx.Roster("bob")
			return nil
		})
		require.NoError(t, err)
		assert.Same(t, sess, joined)
		assert.False(t, res.Created)
		assert.False(t, res.Revived)
		require.Len(t, roster, 1)
		assert.Equal(t, "alice", roster[0].Username)
		assert.True(t, roster[0].Online)
	})

	t.Run("unknown code creates session", func(t *testing.T) {
		s, res, err := reg.Join("  typo1 ", newFakeConn("c"), "carol", "", nil)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, "TYPO1", s.Code)
	})

	t.Run("invalid code", func(t *testing.T) {
		_, _, err := reg.Join("no spaces", newFakeConn("d"), "dave", "", nil)
		assert.ErrorIs(t, err, ErrInvalidCode)
		_, _, err = reg.Join("", newFakeConn("d"), "dave", "", nil)
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("invalid username", func(t *testing.T) {
		_, _, err := reg.Join(sess.Code, newFakeConn("e"), "", "", nil)
		assert.ErrorIs(t, err, ErrInvalidUsername)
	})
}

func TestRegistry_RejoinRevivesParticipant(t *testing.T) {
	reg := NewRegistry(WithClock(fixedClock()))
	alice := newFakeConn("a")
	sess, err := reg.Create(alice, "alice", "", nil)
	require.NoError(t, err)

	bob := newFakeConn("b")
	_, _, err = reg.Join(sess.Code, bob, "bob", "blue", nil)
	require.NoError(t, err)

	loc := Location{Latitude: 52.52, Longitude: 13.405}
	require.NoError(t, sess.Update(func(tx *Tx) error {
		_, err := tx.SetLocation("bob", loc, time.Now())
		return err
	}))

	require.NoError(t, sess.Update(func(tx *Tx) error {
		name, ok := tx.Unbind(bob, time.Now())
		assert.True(t, ok)
		assert.Equal(t, "bob", name)
		return nil
	}))
	assert.Equal(t, []string{"alice"}, onlineNames(sess.Snapshot()))

	bob2 := newFakeConn("b2")
	_, res, err := reg.Join(sess.Code, bob2, "bob", "", nil)
	require.NoError(t, err)
	assert.True(t, res.Revived)
	assert.Nil(t, res.Displaced)

	snap := sess.Snapshot()
	require.Len(t, snap.Participants, 2, "rejoin must not duplicate the participant")
	revived := snap.Participants[1]
	assert.Equal(t, "bob", revived.Username)
	assert.True(t, revived.Online)
	assert.Equal(t, "blue", revived.Color, "empty color keeps the previous one")
	require.NotNil(t, revived.LastLocation)
	assert.Equal(t, loc.Latitude, revived.LastLocation.Latitude)
}

func TestRegistry_JoinTakesOverOnlineUsername(t *testing.T) {
	reg := NewRegistry()
	first := newFakeConn("first")
	sess, err := reg.Create(first, "alice", "", nil)
	require.NoError(t, err)

	second := newFakeConn("second")
	_, res, err := reg.Join(sess.Code, second, "alice", "", func(tx *Tx, res JoinResult) error {
		bindings := tx.Bindings()
		require.Len(t, bindings, 1)
		assert.Same(t, second, bindings[0].Conn)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, res.Revived)
	assert.Same(t, first, res.Displaced)

	// The displaced connection's disconnect must not take alice offline.
	reaped, err := reg.Leave(sess, first, func(tx *Tx, username string) error {
		t.Error("leave callback ran for a displaced connection")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, reaped)
	assert.Equal(t, []string{"alice"}, onlineNames(sess.Snapshot()))
}

func TestRegistry_Leave(t *testing.T) {
	reg := NewRegistry()
	alice := newFakeConn("a")
	bob := newFakeConn("b")

	sess, err := reg.Create(alice, "alice", "", nil)
	require.NoError(t, err)
	_, _, err = reg.Join(sess.Code, bob, "bob", "", nil)
	require.NoError(t, err)
	require.NoError(t, sess.Update(func(tx *Tx) error {
		_, err := tx.SetLocation("bob", Location{Latitude: 1, Longitude: 2}, time.Now())
		return err
	}))

	var left string
	reaped, err := reg.Leave(sess, bob, func(tx *Tx, username string) error {
		left = username
		assert.Len(t, tx.Bindings(), 1, "bob is unbound before the callback")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, reaped, "alice is still online")
	assert.Equal(t, "bob", left)
	_, err = reg.Get(sess.Code)
	require.NoError(t, err)

	snap := sess.Snapshot()
	require.Len(t, snap.Participants, 2)
	assert.False(t, snap.Participants[1].Online)
	assert.NotNil(t, snap.Participants[1].LastLocation, "location survives the disconnect")

	reaped, err = reg.Leave(sess, alice, nil)
	require.NoError(t, err)
	assert.True(t, reaped)
	assert.True(t, sess.Closed())
	_, err = reg.Get(strings.ToLower(sess.Code))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = sess.Update(func(tx *Tx) error { return nil })
	assert.ErrorIs(t, err, ErrSessionClosed)

	t.Run("second leave is a no-op", func(t *testing.T) {
		reaped, err := reg.Leave(sess, alice, nil)
		assert.ErrorIs(t, err, ErrSessionClosed)
		assert.False(t, reaped)
	})

	t.Run("join after the last leave starts empty", func(t *testing.T) {
		fresh, res, err := reg.Join(sess.Code, newFakeConn("c"), "carol", "", nil)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.NotSame(t, sess, fresh)
		assert.Len(t, fresh.Snapshot().Participants, 1)
	})
}

func TestRegistry_JoinRacingLastLeaveStartsFresh(t *testing.T) {
	for i := 0; i < 20; i++ {
		reg := NewRegistry()
		alice := newFakeConn("a")
		sess, err := reg.Create(alice, "alice", "", nil)
		require.NoError(t, err)
		require.NoError(t, sess.Update(func(tx *Tx) error {
			_, err := tx.SetLocation("alice", Location{Latitude: 1, Longitude: 2}, time.Now())
			return err
		}))

		type joined struct {
			sess  *Session
			res   JoinResult
			users []ParticipantView
		}
		result := make(chan joined, 1)

		reaped, err := reg.Leave(sess, alice, func(tx *Tx, username string) error {
			// The join looks the code up while the last participant is
			// leaving and has to wait for the session lock.
			go func() {
				var out joined
				var err error
				out.sess, out.res, err = reg.Join(sess.Code, newFakeConn("c"), "carol", "", func(tx *Tx, res JoinResult) error {
					out.users = tx.Roster("carol")
					return nil
				})
				assert.NoError(t, err)
				result <- out
			}()
			time.Sleep(time.Millisecond)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, reaped)

		got := <-result
		assert.True(t, got.res.Created)
		assert.NotSame(t, sess, got.sess)
		assert.Empty(t, got.users, "no history from the reaped session")

		live, err := reg.Get(sess.Code)
		require.NoError(t, err)
		assert.Same(t, got.sess, live)
		assert.Equal(t, 1, reg.Count())
	}
}

func TestRegistry_JoinDoesNotWaitOnOtherSessions(t *testing.T) {
	reg := NewRegistry()
	busy, err := reg.Create(newFakeConn("a"), "alice", "", nil)
	require.NoError(t, err)

	_, _, err = reg.Join(busy.Code, newFakeConn("b"), "bob", "", func(tx *Tx, res JoinResult) error {
		// Fan-out for this session is still running; other sessions must
		// make progress meanwhile.
		done := make(chan error, 1)
		go func() {
			other, err := reg.Create(newFakeConn("c"), "carol", "", nil)
			if err == nil {
				_, _, err = reg.Join(other.Code, newFakeConn("d"), "dave", "", nil)
			}
			if err == nil {
				_, err = reg.Leave(other, newFakeConn("x"), nil)
			}
			done <- err
		}()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("another session blocked behind this join")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_ConcurrentJoinsShareOneSession(t *testing.T) {
	reg := NewRegistry()
	const joiners = 32

	var wg sync.WaitGroup
	sessions := make([]*Session, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := reg.Join("race42", newFakeConn("c"), "user"+string(rune('A'+i)), "", nil)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Count())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Len(t, sessions[0].Snapshot().Participants, joiners)
}

func TestRegistry_List(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := NewRegistry(WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	first, err := reg.Create(newFakeConn("a"), "alice", "", nil)
	require.NoError(t, err)
	second, err := reg.Create(newFakeConn("b"), "bob", "", nil)
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Same(t, first, list[0])
	assert.Same(t, second, list[1])
}

func TestTx_Roster(t *testing.T) {
	reg := NewRegistry()
	sess, err := reg.Create(newFakeConn("a"), "alice", "", nil)
	require.NoError(t, err)
	for _, name := range []string{"bob", "carol"} {
		_, _, err := reg.Join(sess.Code, newFakeConn(name), name, "", nil)
		require.NoError(t, err)
	}

	require.NoError(t, sess.Update(func(tx *Tx) error {
		var names []string
		for _, p := range tx.Roster("bob") {
			names = append(names, p.Username)
		}
		assert.Equal(t, []string{"alice", "carol"}, names)
		assert.Len(t, tx.Bindings(), 3)
		return nil
	}))
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{"abc123", "ABC123", nil},
		{"  AbC123\n", "ABC123", nil},
		{"team-a_1", "TEAM-A_1", nil},
		{"", "", ErrInvalidCode},
		{"a b", "", ErrInvalidCode},
		{"héllo", "", ErrInvalidCode},
		{strings.Repeat("A", MaxCodeLength+1), "", ErrInvalidCode},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeCode(tt.in)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
