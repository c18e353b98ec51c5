package api

import (
	"time"

	"github.com/wricardo/locshare/presence/session"
)

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	Participants int       `json:"participants"`
	Online       int       `json:"online"`
}

// SessionList is the body of GET /api/sessions.
type SessionList struct {
	Count    int              `json:"count"`
	Total    int              `json:"total"`
	Sessions []SessionSummary `json:"sessions"`
	Sort     string           `json:"sort"`
	Order    string           `json:"order"`
}

// UserInfo describes a participant without its coordinates.
type UserInfo struct {
	Username    string    `json:"username"`
	Color       string    `json:"color,omitempty"`
	Online      bool      `json:"online"`
	HasLocation bool      `json:"hasLocation"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// SessionDetail is the body of GET /api/sessions/{code}.
type SessionDetail struct {
	SessionID string     `json:"sessionId"`
	CreatedAt time.Time  `json:"createdAt"`
	Online    int        `json:"online"`
	Users     []UserInfo `json:"users"`
}

// Health is the body of GET /api/health.
type Health struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

// ErrorResponse is returned with every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func summarize(snap session.Snapshot) SessionSummary {
	return SessionSummary{
		SessionID:    snap.Code,
		CreatedAt:    snap.CreatedAt,
		Participants: len(snap.Participants),
		Online:       snap.Online(),
	}
}

func detail(snap session.Snapshot) SessionDetail {
	d := SessionDetail{
		SessionID: snap.Code,
		CreatedAt: snap.CreatedAt,
		Online:    snap.Online(),
		Users:     make([]UserInfo, 0, len(snap.Participants)),
	}
	for _, p := range snap.Participants {
		d.Users = append(d.Users, UserInfo{
			Username:    p.Username,
			Color:       p.Color,
			Online:      p.Online,
			HasLocation: p.LastLocation != nil,
			JoinedAt:    p.JoinedAt,
			LastSeen:    p.LastSeen,
		})
	}
	return d
}
