package interfaces

import (
	"fmt"

	"liveclass/pkg/types"
)

// Common store errors used across implementations.
var (
	ErrIdentityNotFound = fmt.Errorf("identity %w", types.ErrNotFound)
	ErrStoreClosed      = fmt.Errorf("%w: store is closed", types.ErrPersistence)
)
