package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// IdentityStore looks up identities in the backing store for one role.
// It returns types.ErrNotFound (possibly wrapped) when no record exists.
type IdentityStore interface {
	FindIdentity(ctx context.Context, role types.Role, userID string) (*types.Identity, error)
}

// MessageStore is the durable home of private messages.
type MessageStore interface {
	// StoreMessage persists message. The store assigns Timestamp and Seq
	// inside the write so ordering follows persistence completion.
	StoreMessage(ctx context.Context, message *types.Message) error

	// GetConversation returns every message between a and b, oldest first.
	GetConversation(ctx context.Context, a, b string) ([]*types.Message, error)

	// MarkDelivered flips delivered for undelivered messages addressed to
	// recipientID and returns how many changed.
	MarkDelivered(ctx context.Context, messageIDs []string, recipientID string) (int64, error)

	// HealthCheck verifies connectivity.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Store is the full persistence surface the application wires in.
type Store interface {
	IdentityStore
	MessageStore

	// SaveIdentity inserts or replaces an identity record.
	SaveIdentity(ctx context.Context, identity *types.Identity) error
}
