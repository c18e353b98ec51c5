package session

import (
	"encoding/json"
	"time"
)

// Conn is the hub's view of one client connection. Send and Close are called
// with a session lock held, so neither may block.
type Conn interface {
	// ID returns a stable identifier used in logs.
	ID() string

	// Send queues a frame for delivery. It returns false when the frame
	// could not be queued (buffer full or connection already closed).
	Send(frame []byte) bool

	// Close starts tearing the connection down. It must be idempotent.
	Close()
}

// Location is the last fix a participant reported.
type Location struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Accuracy  *float64        `json:"accuracy,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Participant is a named member of a session. It outlives the connection
// that created it and is only destroyed with its session.
type Participant struct {
	Username     string
	Color        string
	Online       bool
	LastLocation *Location
	JoinedAt     time.Time
	LastSeen     time.Time

	conn Conn
}

// ParticipantView is a copy of a participant safe to use outside the lock.
type ParticipantView struct {
	Username     string
	Color        string
	Online       bool
	LastLocation *Location
	JoinedAt     time.Time
	LastSeen     time.Time
}

func (p *Participant) view() ParticipantView {
	v := ParticipantView{
		Username: p.Username,
		Color:    p.Color,
		Online:   p.Online,
		JoinedAt: p.JoinedAt,
		LastSeen: p.LastSeen,
	}
	if p.LastLocation != nil {
		loc := *p.LastLocation
		v.LastLocation = &loc
	}
	return v
}

// Binding pairs a bound connection with its username.
type Binding struct {
	Conn     Conn
	Username string
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Code         string
	CreatedAt    time.Time
	Participants []ParticipantView
}

// Online returns how many participants in the snapshot are online.
func (s Snapshot) Online() int {
	n := 0
	for _, p := range s.Participants {
		if p.Online {
			n++
		}
	}
	return n
}

// JoinResult describes what a join did to the session.
type JoinResult struct {
	// Created is true when the join created the session implicitly.
	Created bool

	// Revived is true when the username already existed in the session.
	Revived bool

	// Displaced is the connection that previously held the username, if it
	// was still online. It has already been unbound; the caller closes it.
	Displaced Conn
}
