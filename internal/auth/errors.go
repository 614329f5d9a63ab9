package auth

import (
	"fmt"

	"liveclass/pkg/types"
)

var (
	ErrMissingCredentials  = fmt.Errorf("%w: userId and role are required", types.ErrAuthentication)
	ErrIdentityUnavailable = fmt.Errorf("%w: identity store unavailable", types.ErrPersistence)
)
