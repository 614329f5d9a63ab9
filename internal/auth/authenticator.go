// Package auth admits or rejects a connection attempt before any
// connection state exists.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"liveclass/internal/logging"
	"liveclass/pkg/types"
)

// Handshake is the identity claim a client presents when connecting.
type Handshake struct {
	UserID             string
	Role               string
	RegistrationNumber string
}

// HandshakeFromRequest reads the claim from the query string.
func HandshakeFromRequest(r *http.Request) Handshake {
	q := r.URL.Query()
	return Handshake{
		UserID:             strings.TrimSpace(q.Get("userId")),
		Role:               strings.TrimSpace(q.Get("role")),
		RegistrationNumber: strings.TrimSpace(q.Get("registrationNumber")),
	}
}

// IdentityResolver is the lookup the authenticator depends on.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string, role types.Role, registrationNumber string) (*types.Identity, error)
}

type Authenticator struct {
	resolver IdentityResolver
	logger   zerolog.Logger
}

func NewAuthenticator(resolver IdentityResolver, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		resolver: resolver,
		logger:   logger.With().Str(logging.FieldComponent, "auth").Logger(),
	}
}

// Authenticate validates the handshake and resolves it into an identity.
// Every failure wraps types.ErrAuthentication except identity store
// outages, which wrap types.ErrPersistence.
func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake) (*types.Identity, error) {
	identity, err := a.authenticate(ctx, hs)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str(logging.FieldUserID, hs.UserID).
			Str(logging.FieldRole, hs.Role).
			Msg("connection rejected")
		return nil, err
	}
	return identity, nil
}

func (a *Authenticator) authenticate(ctx context.Context, hs Handshake) (*types.Identity, error) {
	if hs.UserID == "" || hs.Role == "" {
		return nil, ErrMissingCredentials
	}
	if !types.IsValidUserID(hs.UserID) {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthentication, types.ErrInvalidUserID)
	}
	role, err := types.ParseRole(hs.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthentication, err)
	}

	identity, err := a.resolver.Resolve(ctx, hs.UserID, role, hs.RegistrationNumber)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, types.ErrAuthentication):
		return nil, err
	case errors.Is(err, types.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", types.ErrAuthentication, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
}

// StatusCode maps an Authenticate error onto the HTTP status returned in
// place of the upgrade.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrValidation), errors.Is(err, ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrAuthentication):
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}
