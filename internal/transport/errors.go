package transport

import "errors"

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrNoUser       = errors.New("transport has no user")
	ErrClosed       = errors.New("connection closed")
)
