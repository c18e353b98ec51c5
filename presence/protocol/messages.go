package protocol

import (
	"encoding/json"

	"github.com/wricardo/locshare/presence/session"
)

// Inbound message types.
const (
	TypeCreateSession = "create_session"
	TypeJoinSession   = "join_session"
	TypeLocation      = "location"
	TypeChatMessage   = "chat_message"
)

// Outbound message types. TypeChatMessage is used in both directions.
const (
	TypeSessionCreated = "session_created"
	TypeSessionJoined  = "session_joined"
	TypeUsersUpdate    = "users_update"
	TypeLocationUpdate = "location_update"
	TypeError          = "error"
)

// Error codes carried by error frames.
const (
	CodeMalformed       = "malformed"
	CodeInvalidPayload  = "invalid_payload"
	CodeNotJoined       = "not_joined"
	CodeAlreadyJoined   = "already_joined"
	CodeSessionMismatch = "session_mismatch"
	CodeRateLimited     = "rate_limited"
	CodeReplaced        = "replaced"
	CodeInternal        = "internal"
)

// Inbound is the union of every client frame. Fields a type does not use are
// ignored.
type Inbound struct {
	Type      string           `json:"type"`
	SessionID string           `json:"sessionId,omitempty"`
	Username  string           `json:"username,omitempty"`
	Color     string           `json:"color,omitempty"`
	Location  *LocationPayload `json:"location,omitempty"`
	To        string           `json:"to,omitempty"`
	From      string           `json:"from,omitempty"`
	Text      string           `json:"text,omitempty"`
	Timestamp json.RawMessage  `json:"timestamp,omitempty"`
}

// LocationPayload is a location as sent by clients. Pointers distinguish a
// missing coordinate from zero.
type LocationPayload struct {
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Accuracy  *float64        `json:"accuracy,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// CreateSession is a validated create_session request.
type CreateSession struct {
	Username string
	Color    string
}

// JoinSession is a validated join_session request.
type JoinSession struct {
	SessionID string
	Username  string
	Color     string
}

// Location is a validated location report.
type Location struct {
	SessionID string
	Location  session.Location
}

// Chat is a validated chat_message request.
type Chat struct {
	SessionID string
	From      string
	To        string
	Text      string
	Timestamp json.RawMessage
}

// User is one roster entry as seen by clients.
type User struct {
	Username string            `json:"username"`
	Color    string            `json:"color,omitempty"`
	Location *session.Location `json:"location,omitempty"`
	Online   bool              `json:"online"`
}

// SessionCreated answers create_session.
type SessionCreated struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SessionJoined answers join_session with every other participant.
type SessionJoined struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Users     []User `json:"users"`
}

// UsersUpdate is the full-roster presence broadcast.
type UsersUpdate struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

// LocationUpdate fans a participant's new location out to the session.
type LocationUpdate struct {
	Type     string           `json:"type"`
	Username string           `json:"username"`
	Color    string           `json:"color,omitempty"`
	Location session.Location `json:"location"`
	Online   bool             `json:"online"`
}

// ChatMessage is the relayed chat frame. Delivery is at-least-once from a
// consumer's point of view; (From, To, Timestamp) identifies a message.
type ChatMessage struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Text      string          `json:"text"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Error reports a rejected frame. The connection stays open.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func NewSessionCreated(code string) SessionCreated {
	return SessionCreated{Type: TypeSessionCreated, SessionID: code}
}

func NewSessionJoined(code string, users []User) SessionJoined {
	return SessionJoined{Type: TypeSessionJoined, SessionID: code, Users: users}
}

func NewUsersUpdate(users []User) UsersUpdate {
	return UsersUpdate{Type: TypeUsersUpdate, Users: users}
}

func NewLocationUpdate(p session.ParticipantView) LocationUpdate {
	u := LocationUpdate{
		Type:     TypeLocationUpdate,
		Username: p.Username,
		Color:    p.Color,
		Online:   true,
	}
	if p.LastLocation != nil {
		u.Location = *p.LastLocation
	}
	return u
}

func NewChatMessage(c Chat) ChatMessage {
	return ChatMessage{
		Type:      TypeChatMessage,
		From:      c.From,
		To:        c.To,
		Text:      c.Text,
		Timestamp: c.Timestamp,
	}
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

// Users converts a roster to its wire form. The result is never nil so it
// encodes as an empty JSON array.
func Users(roster []session.ParticipantView) []User {
	users := make([]User, 0, len(roster))
	for _, p := range roster {
		users = append(users, User{
			Username: p.Username,
			Color:    p.Color,
			Location: p.LastLocation,
			Online:   p.Online,
		})
	}
	return users
}
