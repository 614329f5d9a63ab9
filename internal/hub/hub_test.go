package hub

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/identity"
	"liveclass/internal/lecture"
	"liveclass/internal/presence"
	"liveclass/internal/router"
	"liveclass/internal/testutil"
	"liveclass/pkg/types"
)

type fixture struct {
	hub      *Hub
	store    *testutil.MemoryStore
	registry *presence.Registry
	lectures *lecture.Coordinator
}

func newFixture(t *testing.T, heartbeat HeartbeatConfig) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	store := testutil.NewMemoryStore(
		testutil.Student("S"),
		testutil.Student("T"),
		testutil.Lecturer("L"),
	)
	resolver := identity.NewStoreResolver(store, logger)
	registry := presence.NewRegistry(3, logger)
	rt := router.NewRouter(store, resolver, registry, router.NewRateLimiter(100, time.Minute), router.Config{}, logger)
	lectures := lecture.NewCoordinator(lecture.Config{}, logger)

	h := NewHub(registry, rt, lectures, heartbeat, logger)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })

	return &fixture{hub: h, store: store, registry: registry, lectures: lectures}
}

func quiet() HeartbeatConfig {
	return HeartbeatConfig{Interval: time.Hour, Timeout: time.Hour}
}

func envelope(t *testing.T, event string, data interface{}) *types.Envelope {
	t.Helper()
	env := &types.Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		env.Data = raw
	}
	return env
}

func (f *fixture) connect(t *testing.T, identity *types.Identity) *testutil.Connection {
	t.Helper()
	conn := testutil.NewConnection(identity)
	require.NoError(t, f.hub.Connect(conn))
	return conn
}

func TestHub_StartStop(t *testing.T) {
	logger := zerolog.Nop()
	registry := presence.NewRegistry(3, logger)
	h := NewHub(registry, nil, lecture.NewCoordinator(lecture.Config{}, logger), quiet(), logger)

	conn := testutil.NewConnection(testutil.Student("S"))
	assert.ErrorIs(t, h.Connect(conn), ErrHubNotRunning)
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)

	require.NoError(t, h.Start(context.Background()))
	assert.True(t, h.Running())
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)

	require.NoError(t, h.Connect(conn))
	require.NoError(t, h.Stop())

	assert.False(t, h.Running())
	assert.True(t, conn.Closed())
	assert.Zero(t, registry.Count())
	assert.Zero(t, h.Heartbeats())
}

func TestHub_ConnectTwiceFails(t *testing.T) {
	f := newFixture(t, quiet())
	conn := f.connect(t, testutil.Student("S"))
	assert.ErrorIs(t, f.hub.Connect(conn), ErrAlreadyConnected)
}

func TestHub_DisconnectTearsDownEverything(t *testing.T) {
	f := newFixture(t, quiet())
	ctx := context.Background()

	lecturer := f.connect(t, testutil.Lecturer("L"))
	student := f.connect(t, testutil.Student("S"))
	assert.Equal(t, 2, f.hub.Heartbeats())

	for _, conn := range []*testutil.Connection{lecturer, student} {
		ack := f.hub.Dispatch(ctx, conn, envelope(t, types.EventJoinLecture, types.LectureRequest{LectureID: "R1"}))
		require.Equal(t, types.AckStatusSuccess, ack.Status, ack.Error)
	}

	f.hub.Disconnect(student)

	assert.False(t, f.registry.IsOnline("S"))
	assert.Equal(t, 1, f.hub.Heartbeats())
	snap, err := f.lectures.Snapshot(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "L", snap.Participants[0].UserID)

	e, ok := lecturer.Last(types.EventAttendanceUpdate)
	require.True(t, ok)
	assert.Equal(t, 1, e.Payload.(types.AttendanceUpdate).Count)

	f.hub.Disconnect(student)
	assert.True(t, f.registry.IsOnline("L"))
}

func TestHub_EvictionTearsDownOldest(t *testing.T) {
	f := newFixture(t, quiet())
	ctx := context.Background()
	identity := testutil.Student("S")

	oldest := f.connect(t, identity)
	ack := f.hub.Dispatch(ctx, oldest, envelope(t, types.EventJoinLecture, types.LectureRequest{LectureID: "R1"}))
	require.Equal(t, types.AckStatusSuccess, ack.Status)

	f.connect(t, identity)
	f.connect(t, identity)
	newest := f.connect(t, identity)

	assert.True(t, oldest.Closed())
	conns := f.registry.GetConnections("S")
	require.Len(t, conns, 3)
	assert.Equal(t, newest.ID(), conns[2].ConnectionID)
	assert.Equal(t, 3, f.hub.Heartbeats())

	assert.Eventually(t, func() bool { return f.lectures.Rooms() == 0 }, time.Second, 5*time.Millisecond,
		"evicted connection must leave its rooms")
}

// closeHookConnection runs onClose the first time it is closed.
type closeHookConnection struct {
	*testutil.Connection
	onClose func()
	fired   atomic.Bool
}

func (c *closeHookConnection) Close() error {
	if c.fired.CompareAndSwap(false, true) {
		c.onClose()
	}
	return c.Connection.Close()
}

func TestHub_ConnectRacingStopLeavesNoHeartbeat(t *testing.T) {
	f := newFixture(t, quiet())
	identity := testutil.Student("S")

	// Evicting the oldest connection stops the hub mid-Connect.
	oldest := &closeHookConnection{Connection: testutil.NewConnection(identity)}
	oldest.onClose = func() { _ = f.hub.Stop() }
	require.NoError(t, f.hub.Connect(oldest))
	f.connect(t, identity)
	f.connect(t, identity)

	err := f.hub.Connect(testutil.NewConnection(identity))
	assert.ErrorIs(t, err, ErrTornDown)
	assert.Zero(t, f.hub.Heartbeats())
	assert.Empty(t, f.registry.GetConnections("S"))
}

func TestHub_HeartbeatTimeoutDisconnects(t *testing.T) {
	f := newFixture(t, HeartbeatConfig{Interval: 10 * time.Millisecond, Timeout: 30 * time.Millisecond})
	ctx := context.Background()

	silent := f.connect(t, testutil.Student("S"))
	ack := f.hub.Dispatch(ctx, silent, envelope(t, types.EventJoinLecture, types.LectureRequest{LectureID: "R1"}))
	require.Equal(t, types.AckStatusSuccess, ack.Status)

	silent.WaitFor(t, types.EventHeartbeat, time.Second)

	assert.Eventually(t, func() bool {
		return silent.Closed() && !f.registry.IsOnline("S") && f.lectures.Rooms() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_HeartbeatAckKeepsConnection(t *testing.T) {
	f := newFixture(t, HeartbeatConfig{Interval: 10 * time.Millisecond, Timeout: 40 * time.Millisecond})
	conn := f.connect(t, testutil.Student("S"))

	ack := envelope(t, types.EventHeartbeatAck, nil)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.hub.Dispatch(context.Background(), conn, ack)
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	<-done

	assert.False(t, conn.Closed())
	assert.True(t, f.registry.IsOnline("S"))
	info := f.registry.GetConnections("S")
	require.Len(t, info, 1)
	assert.Positive(t, info[0].HeartbeatCount)
}

func TestHub_EmptyHistoryCarriesMessages(t *testing.T) {
	f := newFixture(t, quiet())
	student := f.connect(t, testutil.Student("S"))

	ack := f.hub.Dispatch(context.Background(), student, envelope(t, types.EventGetChatHistory, types.ChatHistoryRequest{WithUserID: "L"}))
	require.Equal(t, types.AckStatusSuccess, ack.Status, ack.Error)

	data, err := json.Marshal(ack)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","messages":[]}`, string(data))
}

func TestHub_PrivateMessaging(t *testing.T) {
	f := newFixture(t, quiet())
	ctx := context.Background()
	student := f.connect(t, testutil.Student("S"))

	ack := f.hub.Dispatch(ctx, student, envelope(t, types.EventPrivateMessage, types.PrivateMessageRequest{To: "L", Content: "offline question"}))
	require.Equal(t, types.AckStatusSuccess, ack.Status, ack.Error)
	require.NotEmpty(t, ack.MessageID)

	lecturer := f.connect(t, testutil.Lecturer("L"))
	ack = f.hub.Dispatch(ctx, lecturer, envelope(t, types.EventGetChatHistory, types.ChatHistoryRequest{WithUserID: "S"}))
	require.Equal(t, types.AckStatusSuccess, ack.Status, ack.Error)
	require.Len(t, ack.Messages, 1)
	assert.False(t, ack.Messages[0].Delivered)
	messageID := ack.Messages[0].ID

	for i, want := range []int64{1, 0} {
		ack = f.hub.Dispatch(ctx, lecturer, envelope(t, types.EventMarkAsDelivered, []string{messageID}))
		require.Equal(t, types.AckStatusSuccess, ack.Status, ack.Error)
		require.NotNil(t, ack.ModifiedCount)
		assert.Equal(t, want, *ack.ModifiedCount, "call %d", i)
	}

	ack = f.hub.Dispatch(ctx, student, envelope(t, types.EventPrivateMessage, types.PrivateMessageRequest{To: "L", Content: "live"}))
	require.Equal(t, types.AckStatusSuccess, ack.Status)
	e := lecturer.WaitFor(t, types.EventPrivateMessage, time.Second)
	assert.Equal(t, ack.MessageID, e.Payload.(*types.Message).ID)
}

func TestHub_DispatchErrors(t *testing.T) {
	f := newFixture(t, quiet())
	conn := f.connect(t, testutil.Student("S"))

	tests := []struct {
		name string
		env  *types.Envelope
		code string
	}{
		{"self message", envelope(t, types.EventPrivateMessage, types.PrivateMessageRequest{To: "S", Content: "x"}), types.CodeSelfMessage},
		{"unknown recipient", envelope(t, types.EventPrivateMessage, types.PrivateMessageRequest{To: "ghost", Content: "x"}), types.CodeNotFound},
		{"missing recipient", envelope(t, types.EventPrivateMessage, types.PrivateMessageRequest{Content: "x"}), types.CodeValidation},
		{"missing payload", envelope(t, types.EventGetChatHistory, nil), types.CodeValidation},
		{"wrong payload shape", &types.Envelope{Event: types.EventMarkAsDelivered, Data: json.RawMessage(`{"id":1}`)}, types.CodeValidation},
		{"unknown event", envelope(t, "teleport", map[string]string{}), types.CodeValidation},
		{"invalid lecture id", envelope(t, types.EventJoinLecture, types.LectureRequest{}), types.CodeValidation},
		{"room not joined", envelope(t, types.EventRaiseHand, types.RaiseHandRequest{LectureID: "R9", IsRaised: true}), types.CodeNotFound},
		{"presentation in unknown room", envelope(t, types.EventStartPresentation, types.LectureRequest{LectureID: "R9"}), types.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := f.hub.Dispatch(context.Background(), conn, tt.env)
			assert.Equal(t, types.AckStatusError, ack.Status)
			require.NotNil(t, ack.Error)
			assert.Equal(t, tt.code, ack.Error.Code)
			assert.NotEmpty(t, ack.Error.Message)
		})
	}
	assert.Zero(t, f.store.Messages())
}

func TestHub_LectureScenario(t *testing.T) {
	f := newFixture(t, quiet())
	ctx := context.Background()
	lecturer := f.connect(t, testutil.Lecturer("L"))
	student := f.connect(t, testutil.Student("S"))

	dispatch := func(conn *testutil.Connection, event string, data interface{}) *types.Ack {
		t.Helper()
		ack := f.hub.Dispatch(ctx, conn, envelope(t, event, data))
		require.Equal(t, types.AckStatusSuccess, ack.Status, "%s: %+v", event, ack.Error)
		return ack
	}

	ack := dispatch(lecturer, types.EventJoinLecture, types.LectureRequest{LectureID: "R1"})
	require.NotNil(t, ack.Room)
	assert.Len(t, ack.Room.Participants, 1)

	ack = dispatch(student, types.EventJoinLecture, types.LectureRequest{LectureID: "R1"})
	assert.Len(t, ack.Room.Participants, 2)

	dispatch(student, types.EventRaiseHand, types.RaiseHandRequest{LectureID: "R1", UserID: "someone-else", IsRaised: true})
	e, ok := lecturer.Last(types.EventHandRaised)
	require.True(t, ok)
	assert.Equal(t, "S", e.Payload.(types.HandRaised).UserID, "identity comes from the connection")

	dispatch(student, types.EventRequestPresentation, types.LectureRequest{LectureID: "R1"})
	_, ok = lecturer.Last(types.EventPresentationRequested)
	assert.True(t, ok)

	dispatch(lecturer, types.EventApprovePresentation, types.ApprovePresentationRequest{LectureID: "R1", StudentID: "S"})
	e, ok = student.Last(types.EventPresentationStarted)
	require.True(t, ok)
	assert.Equal(t, "S", e.Payload.(types.PresentationChange).UserID)

	fail := f.hub.Dispatch(ctx, lecturer, envelope(t, types.EventStartPresentation, types.LectureRequest{LectureID: "R1"}))
	require.NotNil(t, fail.Error)
	assert.Equal(t, types.CodeState, fail.Error.Code)

	dispatch(student, types.EventStopPresentation, types.LectureRequest{LectureID: "R1"})
	_, ok = lecturer.Last(types.EventPresentationStopped)
	assert.True(t, ok)

	dispatch(lecturer, types.EventSendChatMessage, types.RoomChatRequest{LectureID: "R1", Message: "see you next week"})
	e, ok = student.Last(types.EventChatMessage)
	require.True(t, ok)
	assert.Equal(t, "see you next week", e.Payload.(types.RoomChatMessage).Text)

	dispatch(student, types.EventLeave, types.LectureRequest{LectureID: "R1"})
	snap, err := f.lectures.Snapshot(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 1)
	assert.Zero(t, f.store.Messages(), "room chat is not persisted")
}
