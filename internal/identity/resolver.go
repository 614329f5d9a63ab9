// Package identity resolves handshake claims into verified identities.
package identity

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// RoleStore finds identities of a single role.
type RoleStore interface {
	Role() types.Role
	Find(ctx context.Context, userID string) (*types.Identity, error)
}

// roleAdapter narrows a multi-role IdentityStore to one role.
type roleAdapter struct {
	role  types.Role
	store interfaces.IdentityStore
}

func (a roleAdapter) Role() types.Role { return a.role }

func (a roleAdapter) Find(ctx context.Context, userID string) (*types.Identity, error) {
	return a.store.FindIdentity(ctx, a.role, userID)
}

// RoleAdapters returns one RoleStore per known role backed by store.
func RoleAdapters(store interfaces.IdentityStore) []RoleStore {
	adapters := make([]RoleStore, 0, len(types.Roles))
	for _, role := range types.Roles {
		adapters = append(adapters, roleAdapter{role: role, store: store})
	}
	return adapters
}

// Resolver is read-only. Concurrent lookups of the same user and role
// share one store query.
type Resolver struct {
	stores map[types.Role]RoleStore
	order  []types.Role
	group  singleflight.Group
	logger zerolog.Logger
}

// NewResolver builds a resolver over the given role stores. Find searches
// them in the order given.
func NewResolver(logger zerolog.Logger, stores ...RoleStore) *Resolver {
	r := &Resolver{
		stores: make(map[types.Role]RoleStore, len(stores)),
		logger: logger.With().Str("component", "identity").Logger(),
	}
	for _, s := range stores {
		if _, dup := r.stores[s.Role()]; !dup {
			r.order = append(r.order, s.Role())
		}
		r.stores[s.Role()] = s
	}
	return r
}

// NewStoreResolver is NewResolver over RoleAdapters(store).
func NewStoreResolver(store interfaces.IdentityStore, logger zerolog.Logger) *Resolver {
	return NewResolver(logger, RoleAdapters(store)...)
}

// Resolve looks userID up in the store for role. For students a non-empty
// registrationNumber must equal the stored one.
func (r *Resolver) Resolve(ctx context.Context, userID string, role types.Role, registrationNumber string) (*types.Identity, error) {
	identity, err := r.lookup(ctx, role, userID)
	if err != nil {
		return nil, err
	}

	if role == types.RoleStudent && registrationNumber != "" && registrationNumber != identity.RegistrationNumber {
		r.logger.Debug().Str("user_id", userID).Msg("registration number mismatch")
		return nil, ErrRoleMismatch
	}

	return identity, nil
}

// Find returns the identity for userID under whichever role holds it.
func (r *Resolver) Find(ctx context.Context, userID string) (*types.Identity, error) {
	for _, role := range r.order {
		identity, err := r.lookup(ctx, role, userID)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (r *Resolver) lookup(ctx context.Context, role types.Role, userID string) (*types.Identity, error) {
	store, ok := r.stores[role]
	if !ok {
		return nil, ErrUnknownRole
	}

	v, err, _ := r.group.Do(string(role)+"/"+userID, func() (interface{}, error) {
		return store.Find(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	identity, ok := v.(*types.Identity)
	if !ok || identity == nil {
		return nil, ErrNotFound
	}

	// Callers may hold on to the result; never hand out the shared pointer.
	resolved := *identity
	resolved.Role = role
	if role != types.RoleStudent {
		resolved.RegistrationNumber = ""
	}
	return &resolved, nil
}
