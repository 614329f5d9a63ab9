package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/types"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[types.Role]map[string]*types.Identity
	calls   int32
	delay   time.Duration
	failFor string
}

func newMemoryStore(identities ...*types.Identity) *memoryStore {
	s := &memoryStore{records: make(map[types.Role]map[string]*types.Identity)}
	for _, id := range identities {
		if s.records[id.Role] == nil {
			s.records[id.Role] = make(map[string]*types.Identity)
		}
		s.records[id.Role][id.ID] = id
	}
	return s
}

func (s *memoryStore) FindIdentity(ctx context.Context, role types.Role, userID string) (*types.Identity, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if userID == s.failFor {
		return nil, errors.New("connection refused")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.records[role][userID]; ok {
		return id, nil
	}
	return nil, types.ErrNotFound
}

func fixtures() *memoryStore {
	return newMemoryStore(
		&types.Identity{ID: "s1", Role: types.RoleStudent, DisplayName: "Sam", RegistrationNumber: "REG-001"},
		&types.Identity{ID: "l1", Role: types.RoleLecturer, DisplayName: "Dr Lee"},
		&types.Identity{ID: "h1", Role: types.RoleDepartmentHead, DisplayName: "Prof Hale"},
	)
}

func TestResolve(t *testing.T) {
	resolver := NewStoreResolver(fixtures(), zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		role    types.Role
		regNo   string
		wantErr error
	}{
		{"student without hint", "s1", types.RoleStudent, "", nil},
		{"student with matching hint", "s1", types.RoleStudent, "REG-001", nil},
		{"student with wrong hint", "s1", types.RoleStudent, "REG-999", ErrRoleMismatch},
		{"lecturer ignores hint", "l1", types.RoleLecturer, "anything", nil},
		{"wrong role store", "s1", types.RoleLecturer, "", ErrNotFound},
		{"unknown user", "nobody", types.RoleStudent, "", ErrNotFound},
		{"unknown role", "s1", types.Role("guest"), "", ErrUnknownRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := resolver.Resolve(ctx, tt.userID, tt.role, tt.regNo)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, identity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.userID, identity.ID)
			assert.Equal(t, tt.role, identity.Role)
		})
	}
}

func TestResolve_ErrorKinds(t *testing.T) {
	resolver := NewStoreResolver(fixtures(), zerolog.Nop())

	_, err := resolver.Resolve(context.Background(), "s1", types.RoleStudent, "REG-999")
	assert.ErrorIs(t, err, types.ErrAuthentication)

	_, err = resolver.Resolve(context.Background(), "ghost", types.RoleStudent, "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResolve_ReturnsCopy(t *testing.T) {
	store := fixtures()
	resolver := NewStoreResolver(store, zerolog.Nop())

	identity, err := resolver.Resolve(context.Background(), "l1", types.RoleLecturer, "")
	require.NoError(t, err)
	identity.DisplayName = "changed"

	again, err := resolver.Resolve(context.Background(), "l1", types.RoleLecturer, "")
	require.NoError(t, err)
	assert.Equal(t, "Dr Lee", again.DisplayName)
}

func TestFind_SearchesAllRoles(t *testing.T) {
	resolver := NewStoreResolver(fixtures(), zerolog.Nop())
	ctx := context.Background()

	head, err := resolver.Find(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleDepartmentHead, head.Role)

	_, err = resolver.Find(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFind_PropagatesStoreFailure(t *testing.T) {
	store := fixtures()
	store.failFor = "s1"
	resolver := NewStoreResolver(store, zerolog.Nop())

	_, err := resolver.Find(context.Background(), "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrNotFound)
}

func TestResolve_CollapsesConcurrentLookups(t *testing.T) {
	store := fixtures()
	store.delay = 50 * time.Millisecond
	resolver := NewStoreResolver(store, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.Resolve(context.Background(), "l1", types.RoleLecturer, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&store.calls), int32(10))
}
