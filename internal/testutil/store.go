package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// MemoryStore is an in-memory interfaces.Store. Setting StoreErr or
// ReadErr makes the matching calls fail.
type MemoryStore struct {
	mu         sync.Mutex
	identities map[string]*types.Identity
	messages   []*types.Message
	seq        int64

	StoreErr error
	ReadErr  error
}

var _ interfaces.Store = (*MemoryStore)(nil)

func NewMemoryStore(identities ...*types.Identity) *MemoryStore {
	s := &MemoryStore{identities: make(map[string]*types.Identity)}
	for _, identity := range identities {
		_ = s.SaveIdentity(context.Background(), identity)
	}
	return s
}

func (s *MemoryStore) FindIdentity(ctx context.Context, role types.Role, userID string) (*types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	identity, ok := s.identities[string(role)+"/"+userID]
	if !ok {
		return nil, interfaces.ErrIdentityNotFound
	}
	c := *identity
	return &c, nil
}

func (s *MemoryStore) SaveIdentity(ctx context.Context, identity *types.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *identity
	s.identities[string(identity.Role)+"/"+identity.ID] = &c
	return nil
}

func (s *MemoryStore) StoreMessage(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StoreErr != nil {
		return s.StoreErr
	}
	s.seq++
	message.Seq = s.seq
	message.Timestamp = time.Now().UTC()
	message.Delivered = false
	c := *message
	s.messages = append(s.messages, &c)
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, a, b string) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	out := make([]*types.Message, 0)
	for _, m := range s.messages {
		if (m.FromID == a && m.ToID == b) || (m.FromID == b && m.ToID == a) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, messageIDs []string, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StoreErr != nil {
		return 0, s.StoreErr
	}
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}
	var n int64
	for _, m := range s.messages {
		if want[m.ID] && m.ToID == recipientID && !m.Delivered {
			m.Delivered = true
			n++
		}
	}
	return n, nil
}

// Messages returns how many messages are stored.
func (s *MemoryStore) Messages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                          { return nil }
