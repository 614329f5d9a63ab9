package websocket

import (
	"errors"
	"fmt"

	"liveclass/pkg/types"
)

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrSlowConsumer     = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// ErrMissingEvent is reported back through the ack.
var (
	ErrMissingEvent = fmt.Errorf("%w: frame has no event name", types.ErrValidation)
)
