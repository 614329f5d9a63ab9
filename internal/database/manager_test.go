package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.WriteTimeout = 5 * time.Second

	manager, err := NewManager(config, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, manager.Migrate())
	t.Cleanup(func() { _ = manager.Close() })

	return manager
}

func seedIdentities(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	for _, identity := range []*types.Identity{
		{ID: "s1", Role: types.RoleStudent, DisplayName: "Sam", RegistrationNumber: "REG-001"},
		{ID: "s2", Role: types.RoleStudent, DisplayName: "Sue", RegistrationNumber: "REG-002"},
		{ID: "l1", Role: types.RoleLecturer, DisplayName: "Dr Lee"},
		{ID: "h1", Role: types.RoleDepartmentHead, DisplayName: "Prof Hale"},
	} {
		require.NoError(t, m.SaveIdentity(ctx, identity))
	}
}

func newMessage(from, to *types.Identity, content string) *types.Message {
	return &types.Message{
		ID:                     uuid.New().String(),
		FromID:                 from.ID,
		FromRole:               from.Role,
		FromName:               from.DisplayName,
		FromRegistrationNumber: from.RegistrationNumber,
		ToID:                   to.ID,
		ToRole:                 to.Role,
		Content:                content,
	}
}

func TestManager_FindIdentity(t *testing.T) {
	m := setupTestDB(t)
	seedIdentities(t, m)
	ctx := context.Background()

	student, err := m.FindIdentity(ctx, types.RoleStudent, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Sam", student.DisplayName)
	assert.Equal(t, "REG-001", student.RegistrationNumber)
	assert.Equal(t, types.RoleStudent, student.Role)

	head, err := m.FindIdentity(ctx, types.RoleDepartmentHead, "h1")
	require.NoError(t, err)
	assert.Equal(t, "Prof Hale", head.DisplayName)
	assert.Empty(t, head.RegistrationNumber)

	_, err = m.FindIdentity(ctx, types.RoleLecturer, "s1")
	assert.ErrorIs(t, err, interfaces.ErrIdentityNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.FindIdentity(ctx, types.Role("guest"), "s1")
	assert.ErrorIs(t, err, types.ErrInvalidRole)
}

func TestManager_SaveIdentityUpserts(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, m.SaveIdentity(ctx, &types.Identity{ID: "l1", Role: types.RoleLecturer, DisplayName: "Old"}))
	require.NoError(t, m.SaveIdentity(ctx, &types.Identity{ID: "l1", Role: types.RoleLecturer, DisplayName: "New"}))

	lecturer, err := m.FindIdentity(ctx, types.RoleLecturer, "l1")
	require.NoError(t, err)
	assert.Equal(t, "New", lecturer.DisplayName)

	assert.ErrorIs(t, m.SaveIdentity(ctx, &types.Identity{ID: "bad id", Role: types.RoleLecturer}), types.ErrInvalidUserID)
}

func TestManager_StoreMessageAndConversation(t *testing.T) {
	m := setupTestDB(t)
	seedIdentities(t, m)
	ctx := context.Background()

	s1 := &types.Identity{ID: "s1", Role: types.RoleStudent, DisplayName: "Sam", RegistrationNumber: "REG-001"}
	l1 := &types.Identity{ID: "l1", Role: types.RoleLecturer, DisplayName: "Dr Lee"}
	s2 := &types.Identity{ID: "s2", Role: types.RoleStudent, DisplayName: "Sue"}

	first := newMessage(s1, l1, "question")
	require.NoError(t, m.StoreMessage(ctx, first))
	assert.NotZero(t, first.Seq)
	assert.False(t, first.Timestamp.IsZero())

	reply := newMessage(l1, s1, "answer")
	require.NoError(t, m.StoreMessage(ctx, reply))
	assert.Greater(t, reply.Seq, first.Seq)

	require.NoError(t, m.StoreMessage(ctx, newMessage(s2, l1, "unrelated")))

	ab, err := m.GetConversation(ctx, "s1", "l1")
	require.NoError(t, err)
	ba, err := m.GetConversation(ctx, "l1", "s1")
	require.NoError(t, err)

	require.Len(t, ab, 2)
	assert.Equal(t, ab, ba)
	assert.Equal(t, first.ID, ab[0].ID)
	assert.Equal(t, reply.ID, ab[1].ID)
	assert.Equal(t, "REG-001", ab[0].FromRegistrationNumber)
	assert.Empty(t, ab[1].FromRegistrationNumber)
	assert.False(t, ab[0].Delivered)

	empty, err := m.GetConversation(ctx, "s1", "h1")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestManager_StoreMessageRejectsSelfMessage(t *testing.T) {
	m := setupTestDB(t)
	s1 := &types.Identity{ID: "s1", Role: types.RoleStudent, DisplayName: "Sam"}

	err := m.StoreMessage(context.Background(), newMessage(s1, s1, "me"))
	assert.Error(t, err)
}

func TestManager_MarkDelivered(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	s1 := &types.Identity{ID: "s1", Role: types.RoleStudent, DisplayName: "Sam"}
	l1 := &types.Identity{ID: "l1", Role: types.RoleLecturer, DisplayName: "Dr Lee"}

	toLecturer := newMessage(s1, l1, "one")
	toStudent := newMessage(l1, s1, "two")
	require.NoError(t, m.StoreMessage(ctx, toLecturer))
	require.NoError(t, m.StoreMessage(ctx, toStudent))

	count, err := m.MarkDelivered(ctx, []string{toLecturer.ID, toStudent.ID, "missing"}, "l1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = m.MarkDelivered(ctx, []string{toLecturer.ID}, "l1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = m.MarkDelivered(ctx, nil, "l1")
	require.NoError(t, err)
	assert.Zero(t, count)

	history, err := m.GetConversation(ctx, "s1", "l1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Delivered)
	assert.False(t, history[1].Delivered)
}

func TestManager_ConcurrentWritesKeepOrder(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	s1 := &types.Identity{ID: "s1", Role: types.RoleStudent, DisplayName: "Sam"}
	l1 := &types.Identity{ID: "l1", Role: types.RoleLecturer, DisplayName: "Dr Lee"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := s1, l1
			if i%2 == 0 {
				from, to = l1, s1
			}
			assert.NoError(t, m.StoreMessage(ctx, newMessage(from, to, "msg")))
		}(i)
	}
	wg.Wait()

	history, err := m.GetConversation(ctx, "s1", "l1")
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Seq, history[i-1].Seq)
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	s1 := &types.Identity{ID: "s1", Role: types.RoleStudent}
	l1 := &types.Identity{ID: "l1", Role: types.RoleLecturer}
	err := m.StoreMessage(ctx, newMessage(s1, l1, "late"))
	assert.ErrorIs(t, err, interfaces.ErrStoreClosed)
	assert.ErrorIs(t, err, types.ErrPersistence)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = ""

	_, err := NewManager(config, zerolog.Nop())
	assert.Error(t, err)
}
