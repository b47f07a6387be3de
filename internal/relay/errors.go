package relay

import "errors"

var (
	ErrInvalidClient      = errors.New("invalid client")
	ErrInvalidBroadcast   = errors.New("invalid broadcast")
	ErrNoSource           = errors.New("client has no source for stream")
	ErrConfig             = errors.New("broadcast configuration failed")
	ErrAlreadyInitialized = errors.New("connection already initialized")
	ErrNoTransport        = errors.New("client has no such connection")
	ErrServerClosed       = errors.New("relay server closed")
)
