package session

import "errors"

var (
	ErrHostRequired      = errors.New("session: host required")
	ErrSessionClosed     = errors.New("session: closed")
	ErrNotListening      = errors.New("session: not listening")
	ErrAlreadyListening  = errors.New("session: already listening")
	ErrProtocolViolation = errors.New("session: protocol violation")
)
