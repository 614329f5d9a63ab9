package router

import (
	"fmt"

	"liveclass/pkg/types"
)

var (
	ErrMissingRecipient    = fmt.Errorf("%w: private message missing recipient", types.ErrValidation)
	ErrMissingCounterpart  = fmt.Errorf("%w: withUserId is required", types.ErrValidation)
	ErrTooManyMessageIDs   = fmt.Errorf("%w: too many message ids", types.ErrValidation)
	ErrRecipientNotFound   = fmt.Errorf("recipient %w", types.ErrNotFound)
	ErrCounterpartNotFound = fmt.Errorf("counterpart %w", types.ErrNotFound)
	ErrRateLimitExceeded   = fmt.Errorf("%w: too many private messages", types.ErrRateLimited)
)
