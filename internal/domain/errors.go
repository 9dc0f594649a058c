package domain

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrInvalidUserID  = errors.New("invalid user id")
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
)

// MaxMessageLength bounds message content in runes.
const MaxMessageLength = 4000
