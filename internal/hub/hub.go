// Package hub ties the real-time components together. It owns the
// connection lifecycle (connect, heartbeat, disconnect) and dispatches
// client requests to the message router and the lecture coordinator.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liveclass/internal/lecture"
	"liveclass/internal/logging"
	"liveclass/internal/presence"
	"liveclass/internal/router"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// HeartbeatConfig sets the application level liveness probe.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Hub is constructed and owned by the application; it holds no global
// state.
type Hub struct {
	registry *presence.Registry
	monitor  *presence.Monitor
	router   *router.Router
	lectures *lecture.Coordinator
	logger   zerolog.Logger

	mu      sync.RWMutex
	running bool
	active  map[string]interfaces.Connection
}

// NewHub wires the hub over its components. Heartbeats are created here
// so a timeout can run the hub's own disconnect path.
func NewHub(registry *presence.Registry, router *router.Router, lectures *lecture.Coordinator, heartbeat HeartbeatConfig, logger zerolog.Logger) *Hub {
	h := &Hub{
		registry: registry,
		router:   router,
		lectures: lectures,
		logger:   logger.With().Str(logging.FieldComponent, "hub").Logger(),
		active:   make(map[string]interfaces.Connection),
	}
	h.monitor = presence.NewMonitor(registry, heartbeat.Interval, heartbeat.Timeout, h.onHeartbeatTimeout, logger)
	return h
}

// Start opens the hub for connections.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.logger.Info().Msg("hub started")
	return nil
}

// Stop closes every connection, runs its teardown and stops all rooms.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	conns := make([]interfaces.Connection, 0, len(h.active))
	for _, conn := range h.active {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	h.logger.Info().Int("connections", len(conns)).Msg("stopping hub")

	for _, conn := range conns {
		_ = conn.Close()
		h.Disconnect(conn)
	}
	h.monitor.StopAll()
	h.lectures.Stop()

	return nil
}

// Running reports whether the hub accepts connections.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Connect registers an authenticated connection and starts its heartbeat.
// If the user was at the connection cap the oldest connection is torn
// down first.
func (h *Hub) Connect(conn interfaces.Connection) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	if _, exists := h.active[conn.ID()]; exists {
		h.mu.Unlock()
		return ErrAlreadyConnected
	}
	h.active[conn.ID()] = conn
	h.mu.Unlock()

	evicted, err := h.registry.Add(conn)
	if err != nil {
		h.mu.Lock()
		delete(h.active, conn.ID())
		h.mu.Unlock()
		return fmt.Errorf("failed to register connection: %w", err)
	}
	if evicted != nil {
		h.Disconnect(evicted)
	}

	if err := h.monitor.Start(conn); err != nil {
		h.logger.Error().Err(err).Str(logging.FieldConnectionID, conn.ID()).Msg("failed to start heartbeat")
	}

	// A teardown that ran during registration found no heartbeat to stop.
	if !h.attached(conn.ID()) {
		h.monitor.Stop(conn.ID())
		return ErrTornDown
	}

	return nil
}

// Disconnect tears down everything the connection owns: heartbeat, room
// memberships and registry entry. Only the first call for a connection
// does anything.
func (h *Hub) Disconnect(conn interfaces.Connection) {
	h.mu.Lock()
	_, ok := h.active[conn.ID()]
	delete(h.active, conn.ID())
	h.mu.Unlock()
	if !ok {
		return
	}

	h.monitor.Stop(conn.ID())
	h.lectures.LeaveAll(conn)
	h.registry.Remove(conn.ID())

	h.logger.Debug().
		Str(logging.FieldConnectionID, conn.ID()).
		Str(logging.FieldUserID, conn.Identity().ID).
		Msg("connection torn down")
}

func (h *Hub) attached(connectionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.active[connectionID]
	return ok
}

func (h *Hub) onHeartbeatTimeout(conn interfaces.Connection) {
	_ = conn.Close()
	go h.Disconnect(conn)
}

// Heartbeats returns the number of running heartbeats.
func (h *Hub) Heartbeats() int {
	return h.monitor.Active()
}

// Dispatch handles one client request and returns its single reply.
// Operation errors are carried in the ack, never returned.
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, envelope *types.Envelope) *types.Ack {
	ack, err := h.dispatch(ctx, conn, envelope)
	if err != nil {
		logger := logging.Ctx(ctx)
		logger.Debug().Err(err).
			Str(logging.FieldEvent, envelope.Event).
			Str(logging.FieldConnectionID, conn.ID()).
			Msg("request failed")
		return types.ErrorAck(err)
	}
	if ack == nil {
		ack = types.SuccessAck()
	}
	return ack
}

func (h *Hub) dispatch(ctx context.Context, conn interfaces.Connection, envelope *types.Envelope) (*types.Ack, error) {
	identity := conn.Identity()

	switch envelope.Event {
	case types.EventHeartbeatAck:
		return nil, h.monitor.Ack(conn.ID())

	case types.EventPrivateMessage:
		var req types.PrivateMessageRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		message, err := h.router.Send(ctx, identity, req.To, req.Content)
		if err != nil {
			return nil, err
		}
		ack := types.SuccessAck()
		ack.MessageID = message.ID
		return ack, nil

	case types.EventGetChatHistory:
		var req types.ChatHistoryRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		messages, err := h.router.GetHistory(ctx, identity, req.WithUserID)
		if err != nil {
			return nil, err
		}
		if messages == nil {
			messages = []*types.Message{}
		}
		ack := types.SuccessAck()
		ack.Messages = messages
		return ack, nil

	case types.EventMarkAsDelivered:
		var ids []string
		if err := decode(envelope.Data, &ids); err != nil {
			return nil, err
		}
		count, err := h.router.MarkDelivered(ctx, ids, identity)
		if err != nil {
			return nil, err
		}
		ack := types.SuccessAck()
		ack.ModifiedCount = &count
		return ack, nil

	case types.EventJoinLecture:
		var req types.LectureRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		room, err := h.lectures.Join(ctx, req.LectureID, conn)
		if err != nil {
			return nil, err
		}
		// A disconnect racing this join has already run LeaveAll.
		if !h.attached(conn.ID()) {
			_ = h.lectures.Leave(ctx, req.LectureID, conn)
			return nil, ErrHubNotRunning
		}
		ack := types.SuccessAck()
		ack.Room = room
		return ack, nil

	case types.EventLeaveLecture, types.EventLeave:
		var req types.LectureRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.lectures.Leave(ctx, req.LectureID, conn)

	case types.EventRaiseHand:
		var req types.RaiseHandRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.lectures.SetRaisedHand(ctx, req.LectureID, conn, req.IsRaised)

	case types.EventStartPresentation:
		var req types.LectureRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.lectures.StartPresentation(ctx, req.LectureID, conn)

	case types.EventStopPresentation:
		var req types.LectureRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.lectures.StopPresentation(ctx, req.LectureID, conn)

	case types.EventRequestPresentation:
		var req types.LectureRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.lectures.RequestPresentation(ctx, req.LectureID, conn)

	case types.EventApprovePresentation:
		var req types.ApprovePresentationRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.lectures.ApprovePresentation(ctx, req.LectureID, conn, req.StudentID)

	case types.EventSendChatMessage:
		var req types.RoomChatRequest
		if err := decode(envelope.Data, &req); err != nil {
			return nil, err
		}
		return nil, h.lectures.BroadcastChat(ctx, req.LectureID, conn, req.Message)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
