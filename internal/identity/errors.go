package identity

import (
	"fmt"

	"liveclass/pkg/types"
)

var (
	ErrNotFound     = fmt.Errorf("identity %w", types.ErrNotFound)
	ErrRoleMismatch = fmt.Errorf("%w: registration number does not match", types.ErrAuthentication)
	ErrUnknownRole  = fmt.Errorf("%w: no identity store for role", types.ErrValidation)
)
