package protocol

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wricardo/locshare/presence/session"
)

// Field limits for inbound payloads.
const (
	MaxUsernameRunes = 64
	MaxColorBytes    = 32
	MaxTextRunes     = 2000
)

func validateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: username", ErrMissingField)
	}
	if !utf8.ValidString(name) || utf8.RuneCountInString(name) > MaxUsernameRunes {
		return "", fmt.Errorf("%w: username must be at most %d characters", ErrInvalidField, MaxUsernameRunes)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: username contains control characters", ErrInvalidField)
		}
	}
	return name, nil
}

func validateColor(color string) error {
	if len(color) > MaxColorBytes {
		return fmt.Errorf("%w: color must be at most %d bytes", ErrInvalidField, MaxColorBytes)
	}
	return nil
}

func validateSessionID(id string, required bool) (string, error) {
	if strings.TrimSpace(id) == "" {
		if required {
			return "", fmt.Errorf("%w: sessionId", ErrMissingField)
		}
		return "", nil
	}
	code, err := session.NormalizeCode(id)
	if err != nil {
		return "", fmt.Errorf("%w: sessionId: %v", ErrInvalidField, err)
	}
	return code, nil
}

func validateLocation(p *LocationPayload) (session.Location, error) {
	if p == nil {
		return session.Location{}, fmt.Errorf("%w: location", ErrMissingField)
	}
	if p.Latitude == nil {
		return session.Location{}, fmt.Errorf("%w: location.latitude", ErrMissingField)
	}
	if p.Longitude == nil {
		return session.Location{}, fmt.Errorf("%w: location.longitude", ErrMissingField)
	}

	lat, lng := *p.Latitude, *p.Longitude
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return session.Location{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidField, lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return session.Location{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidField, lng)
	}

	loc := session.Location{Latitude: lat, Longitude: lng}
	if p.Accuracy != nil {
		if *p.Accuracy < 0 || math.IsNaN(*p.Accuracy) || math.IsInf(*p.Accuracy, 0) {
			return session.Location{}, fmt.Errorf("%w: accuracy must be a non-negative number", ErrInvalidField)
		}
		acc := *p.Accuracy
		loc.Accuracy = &acc
	}
	if !isNull(p.Timestamp) {
		loc.Timestamp = append([]byte(nil), p.Timestamp...)
	}
	return loc, nil
}

func validateText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text", ErrMissingField)
	}
	if !utf8.ValidString(text) || utf8.RuneCountInString(text) > MaxTextRunes {
		return "", fmt.Errorf("%w: text must be at most %d characters", ErrInvalidField, MaxTextRunes)
	}
	return text, nil
}
