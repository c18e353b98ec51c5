package session

import (
	"fmt"
	"io"
	"strings"
)

const (
	// CodeLength is the length of generated session codes.
	CodeLength = 6

	// MaxCodeLength bounds codes typed by users, which may not be generated ones.
	MaxCodeLength = 32

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Bytes at or above this value are rejected so every symbol is equally likely.
	codeByteLimit = 256 - (256 % len(codeAlphabet))
)

// NormalizeCode returns the canonical (upper case) form of a session code.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > MaxCodeLength {
		return "", ErrInvalidCode
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", ErrInvalidCode
		}
	}
	return code, nil
}

// generateCode draws CodeLength symbols from codeAlphabet using r.
func generateCode(r io.Reader) (string, error) {
	var sb strings.Builder
	sb.Grow(CodeLength)

	buf := make([]byte, CodeLength*2)
	for sb.Len() < CodeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= codeByteLimit {
				continue
			}
			sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
			if sb.Len() == CodeLength {
				break
			}
		}
	}
	return sb.String(), nil
}
