package hub

import (
	"errors"
	"fmt"

	"liveclass/pkg/types"
)

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrAlreadyConnected  = errors.New("connection already attached to hub")
	ErrTornDown          = errors.New("connection was torn down while connecting")
)

// Request errors, reported through the ack.
var (
	ErrUnknownEvent   = fmt.Errorf("%w: unknown event", types.ErrValidation)
	ErrMissingPayload = fmt.Errorf("%w: event requires a payload", types.ErrValidation)
	ErrInvalidPayload = fmt.Errorf("%w: payload does not match event", types.ErrValidation)
)
