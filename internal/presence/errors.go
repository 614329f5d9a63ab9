package presence

import "errors"

var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrNoIdentity          = errors.New("connection has no resolved identity")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrConnectionNotFound  = errors.New("connection not registered")
	ErrHeartbeatRunning    = errors.New("heartbeat already running for connection")
)
