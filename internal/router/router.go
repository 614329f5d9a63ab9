// Package router delivers durable private messages and serves
// conversation history.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liveclass/internal/logging"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// MaxMarkDeliveredIDs bounds one mark_as_delivered request.
const MaxMarkDeliveredIDs = 1000

// IdentityFinder resolves a user id under any role.
type IdentityFinder interface {
	Find(ctx context.Context, userID string) (*types.Identity, error)
}

// ConnectionSource lists a user's live connections.
type ConnectionSource interface {
	Connections(userID string) []interfaces.Connection
}

type Config struct {
	MaxContentBytes int
}

// Router persists first and pushes second. A message that fails to
// persist is never pushed; a failed push never fails the send.
type Router struct {
	store       interfaces.MessageStore
	identities  IdentityFinder
	connections ConnectionSource
	rateLimiter *RateLimiter
	config      Config
	logger      zerolog.Logger
}

func NewRouter(store interfaces.MessageStore, identities IdentityFinder, connections ConnectionSource, limiter *RateLimiter, config Config, logger zerolog.Logger) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRateLimit, DefaultRateWindow)
	}
	if config.MaxContentBytes <= 0 {
		config.MaxContentBytes = types.DefaultMaxContentBytes
	}
	return &Router{
		store:       store,
		identities:  identities,
		connections: connections,
		rateLimiter: limiter,
		config:      config,
		logger:      logger.With().Str(logging.FieldComponent, "router").Logger(),
	}
}

// RateLimiter exposes the limiter so its cleanup loop can be scheduled.
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// Send stores a private message from sender to recipientID and pushes it
// to every live connection of the recipient.
func (r *Router) Send(ctx context.Context, sender *types.Identity, recipientID, content string) (*types.Message, error) {
	if recipientID == "" {
		return nil, ErrMissingRecipient
	}
	if recipientID == sender.ID {
		return nil, types.ErrSelfMessage
	}
	if !types.IsValidUserID(recipientID) {
		return nil, types.ErrInvalidUserID
	}
	if err := types.ValidateContent(content, r.config.MaxContentBytes); err != nil {
		return nil, err
	}
	if !r.rateLimiter.Allow(sender.ID) {
		return nil, ErrRateLimitExceeded
	}

	recipient, err := r.identities.Find(ctx, recipientID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("%w: resolving recipient: %v", types.ErrPersistence, err)
	}

	message := &types.Message{
		ID:                     uuid.New().String(),
		FromID:                 sender.ID,
		FromRole:               sender.Role,
		FromName:               sender.DisplayName,
		FromRegistrationNumber: sender.RegistrationNumber,
		ToID:                   recipient.ID,
		ToRole:                 recipient.Role,
		Content:                content,
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}

	if err := r.store.StoreMessage(ctx, message); err != nil {
		r.logger.Error().Err(err).
			Str(logging.FieldUserID, sender.ID).
			Str("to", recipientID).
			Msg("failed to persist message")
		return nil, persistenceError(err)
	}

	delivered := 0
	for _, conn := range r.connections.Connections(recipient.ID) {
		if err := conn.Emit(types.EventPrivateMessage, message); err != nil {
			r.logger.Debug().Err(err).
				Str(logging.FieldConnectionID, conn.ID()).
				Str(logging.FieldMessageID, message.ID).
				Msg("push failed, recipient will catch up from history")
			continue
		}
		delivered++
	}

	r.logger.Debug().
		Str(logging.FieldMessageID, message.ID).
		Str(logging.FieldUserID, sender.ID).
		Str("to", recipient.ID).
		Int("pushed", delivered).
		Msg("private message stored")

	return message, nil
}

// GetHistory returns the conversation between requester and withUserID
// oldest first. The result is the same whichever side asks.
func (r *Router) GetHistory(ctx context.Context, requester *types.Identity, withUserID string) ([]*types.Message, error) {
	if withUserID == "" {
		return nil, ErrMissingCounterpart
	}
	if !types.IsValidUserID(withUserID) {
		return nil, types.ErrInvalidUserID
	}

	if _, err := r.identities.Find(ctx, withUserID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, ErrCounterpartNotFound
		}
		return nil, fmt.Errorf("%w: resolving counterpart: %v", types.ErrPersistence, err)
	}

	messages, err := r.store.GetConversation(ctx, requester.ID, withUserID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return messages, nil
}

// MarkDelivered flags messages addressed to by as delivered and returns
// how many changed. Repeating a call changes nothing.
func (r *Router) MarkDelivered(ctx context.Context, messageIDs []string, by *types.Identity) (int64, error) {
	if len(messageIDs) > MaxMarkDeliveredIDs {
		return 0, ErrTooManyMessageIDs
	}

	seen := make(map[string]struct{}, len(messageIDs))
	ids := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	count, err := r.store.MarkDelivered(ctx, ids, by.ID)
	if err != nil {
		return 0, persistenceError(err)
	}
	return count, nil
}

func persistenceError(err error) error {
	if errors.Is(err, types.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrPersistence, err)
}
