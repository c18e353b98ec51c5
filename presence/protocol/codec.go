package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
)

// Decode parses one inbound frame. Only the envelope is checked here; the
// As* methods validate the fields a given type needs.
func Decode(frame []byte) (*Inbound, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	var msg Inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	return &msg, nil
}

// Encode marshals an outbound message into a single text frame.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// AsCreateSession validates the message as create_session.
func (m *Inbound) AsCreateSession() (CreateSession, error) {
	username, err := validateUsername(m.Username)
	if err != nil {
		return CreateSession{}, err
	}
	if err := validateColor(m.Color); err != nil {
		return CreateSession{}, err
	}
	return CreateSession{Username: username, Color: m.Color}, nil
}

// AsJoinSession validates the message as join_session.
func (m *Inbound) AsJoinSession() (JoinSession, error) {
	code, err := validateSessionID(m.SessionID, true)
	if err != nil {
		return JoinSession{}, err
	}
	username, err := validateUsername(m.Username)
	if err != nil {
		return JoinSession{}, err
	}
	if err := validateColor(m.Color); err != nil {
		return JoinSession{}, err
	}
	return JoinSession{SessionID: code, Username: username, Color: m.Color}, nil
}

// AsLocation validates the message as location. sessionId is optional; when
// present it is normalized so the router can compare it with the binding.
func (m *Inbound) AsLocation() (Location, error) {
	code, err := validateSessionID(m.SessionID, false)
	if err != nil {
		return Location{}, err
	}
	loc, err := validateLocation(m.Location)
	if err != nil {
		return Location{}, err
	}
	return Location{SessionID: code, Location: loc}, nil
}

// AsChat validates the message as chat_message.
func (m *Inbound) AsChat() (Chat, error) {
	code, err := validateSessionID(m.SessionID, false)
	if err != nil {
		return Chat{}, err
	}
	to, err := validateUsername(m.To)
	if err != nil {
		return Chat{}, fmt.Errorf("to: %w", err)
	}
	text, err := validateText(m.Text)
	if err != nil {
		return Chat{}, err
	}
	if isNull(m.Timestamp) {
		return Chat{}, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	return Chat{
		SessionID: code,
		From:      m.From,
		To:        to,
		Text:      text,
		Timestamp: m.Timestamp,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
