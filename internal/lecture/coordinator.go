// Package lecture runs live lecture rooms: attendance, raised hands,
// single-presenter hand-off and ephemeral room chat. Each room is owned
// by one goroutine; every operation on a room is a command it executes
// in arrival order.
package lecture

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liveclass/internal/logging"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Config tunes the coordinator.
type Config struct {
	// MaxChatBytes bounds room chat lines. Zero means
	// types.DefaultMaxContentBytes.
	MaxChatBytes int
}

// Coordinator owns every live room. Rooms are created on first join and
// reaped once empty with no queued commands.
type Coordinator struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	rooms       map[string]*room
	memberships map[string]map[string]struct{} // connection id -> lecture ids
	stopped     bool
	wg          sync.WaitGroup
}

func NewCoordinator(config Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		config:      config,
		logger:      logger.With().Str(logging.FieldComponent, "lecture").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
	}
}

// exec runs fn on the room's goroutine and waits for its result. When
// create is false a missing room is ErrLectureNotFound.
func (c *Coordinator) exec(ctx context.Context, lectureID string, create bool, fn func(*room) error) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrCoordinatorStopped
	}
	rm, ok := c.rooms[lectureID]
	if !ok {
		if !create {
			c.mu.Unlock()
			return ErrLectureNotFound
		}
		rm = newRoom(lectureID, c.logger)
		c.rooms[lectureID] = rm
		c.wg.Add(1)
		go c.run(rm)
		c.logger.Debug().Str(logging.FieldLectureID, lectureID).Msg("lecture room opened")
	}
	rm.pending++
	c.mu.Unlock()

	result := make(chan error, 1)
	select {
	case rm.commands <- func() { result <- fn(rm) }:
	case <-rm.quit:
		return ErrCoordinatorStopped
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-rm.quit:
		select {
		case err := <-result:
			return err
		default:
			return ErrCoordinatorStopped
		}
	}
}

// run is the room's goroutine.
func (c *Coordinator) run(rm *room) {
	defer c.wg.Done()

	for {
		select {
		case cmd := <-rm.commands:
			cmd()

			c.mu.Lock()
			rm.pending--
			if rm.pending == 0 && rm.empty() {
				delete(c.rooms, rm.id)
				c.mu.Unlock()
				rm.logger.Debug().Msg("lecture room closed")
				return
			}
			c.mu.Unlock()

		case <-rm.quit:
			return
		}
	}
}

func (c *Coordinator) track(connectionID, lectureID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.memberships[connectionID]
	if !ok {
		ids = make(map[string]struct{})
		c.memberships[connectionID] = ids
	}
	ids[lectureID] = struct{}{}
}

func (c *Coordinator) untrack(connectionID, lectureID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.memberships[connectionID]
	delete(ids, lectureID)
	if len(ids) == 0 {
		delete(c.memberships, connectionID)
	}
}

// Join adds conn to the lecture, creating the room when needed, and
// broadcasts the new attendance. Joining twice is a no-op.
func (c *Coordinator) Join(ctx context.Context, lectureID string, conn interfaces.Connection) (*types.RoomSnapshot, error) {
	if !types.IsValidLectureID(lectureID) {
		return nil, types.ErrInvalidLectureID
	}

	var snapshot *types.RoomSnapshot
	err := c.exec(ctx, lectureID, true, func(r *room) error {
		if r.join(conn) {
			c.track(conn.ID(), lectureID)
			r.logger.Info().
				Str(logging.FieldUserID, conn.Identity().ID).
				Str(logging.FieldRole, string(conn.Identity().Role)).
				Int("attendance", len(r.members)).
				Msg("joined lecture")
		}
		snapshot = r.snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Leave removes conn from the lecture. Leaving a lecture the connection
// never joined is a no-op.
func (c *Coordinator) Leave(ctx context.Context, lectureID string, conn interfaces.Connection) error {
	if !types.IsValidLectureID(lectureID) {
		return types.ErrInvalidLectureID
	}

	err := c.exec(ctx, lectureID, false, func(r *room) error {
		c.leave(r, conn.Identity().ID, conn.ID())
		return nil
	})
	if errors.Is(err, ErrLectureNotFound) {
		return nil
	}
	return err
}

func (c *Coordinator) leave(r *room, userID, connectionID string) {
	if !r.leave(userID, connectionID) {
		return
	}
	c.untrack(connectionID, r.id)
	r.logger.Info().
		Str(logging.FieldUserID, userID).
		Str(logging.FieldConnectionID, connectionID).
		Int("attendance", len(r.members)).
		Msg("left lecture")
}

// LeaveAll removes conn from every lecture it joined and returns once all
// rooms have processed the departure.
func (c *Coordinator) LeaveAll(conn interfaces.Connection) {
	c.mu.Lock()
	lectureIDs := make([]string, 0, len(c.memberships[conn.ID()]))
	for id := range c.memberships[conn.ID()] {
		lectureIDs = append(lectureIDs, id)
	}
	c.mu.Unlock()

	for _, id := range lectureIDs {
		if err := c.Leave(context.Background(), id, conn); err != nil && !errors.Is(err, ErrCoordinatorStopped) {
			c.logger.Warn().Err(err).
				Str(logging.FieldLectureID, id).
				Str(logging.FieldConnectionID, conn.ID()).
				Msg("failed to leave lecture on disconnect")
		}
	}
}

// withMember runs fn for the member attending through conn.
func (c *Coordinator) withMember(ctx context.Context, lectureID string, conn interfaces.Connection, fn func(*room, *member) error) error {
	if !types.IsValidLectureID(lectureID) {
		return types.ErrInvalidLectureID
	}
	return c.exec(ctx, lectureID, false, func(r *room) error {
		m, ok := r.memberFor(conn)
		if !ok {
			return ErrNotInLecture
		}
		return fn(r, m)
	})
}

// SetRaisedHand sets the caller's hand and broadcasts the change.
func (c *Coordinator) SetRaisedHand(ctx context.Context, lectureID string, conn interfaces.Connection, raised bool) error {
	return c.withMember(ctx, lectureID, conn, func(r *room, m *member) error {
		r.setRaisedHand(m, raised)
		return nil
	})
}

// StartPresentation makes the calling lecturer the presenter.
func (c *Coordinator) StartPresentation(ctx context.Context, lectureID string, conn interfaces.Connection) error {
	return c.withMember(ctx, lectureID, conn, func(r *room, m *member) error {
		if err := r.startPresentation(m); err != nil {
			return err
		}
		r.logger.Info().Str(logging.FieldUserID, m.identity.ID).Msg("presentation started")
		return nil
	})
}

// RequestPresentation asks the room's lecturers for the floor.
func (c *Coordinator) RequestPresentation(ctx context.Context, lectureID string, conn interfaces.Connection) error {
	return c.withMember(ctx, lectureID, conn, func(r *room, m *member) error {
		return r.requestPresentation(m)
	})
}

// ApprovePresentation hands the floor to a student with a pending
// request. It fails while anyone is presenting.
func (c *Coordinator) ApprovePresentation(ctx context.Context, lectureID string, conn interfaces.Connection, studentID string) error {
	if studentID == "" {
		return ErrMissingStudentID
	}
	return c.withMember(ctx, lectureID, conn, func(r *room, m *member) error {
		if err := r.approvePresentation(m, studentID); err != nil {
			return err
		}
		r.logger.Info().
			Str(logging.FieldUserID, studentID).
			Str("approved_by", m.identity.ID).
			Msg("presentation handed off")
		return nil
	})
}

// StopPresentation ends the running presentation, if any.
func (c *Coordinator) StopPresentation(ctx context.Context, lectureID string, conn interfaces.Connection) error {
	return c.withMember(ctx, lectureID, conn, func(r *room, m *member) error {
		r.stopPresentation()
		return nil
	})
}

// BroadcastChat relays text to every attendee. Room chat is not stored.
func (c *Coordinator) BroadcastChat(ctx context.Context, lectureID string, conn interfaces.Connection, text string) error {
	if err := types.ValidateContent(text, c.config.MaxChatBytes); err != nil {
		return err
	}
	at := c.now()
	return c.withMember(ctx, lectureID, conn, func(r *room, m *member) error {
		r.chat(m, text, at)
		return nil
	})
}

// Snapshot returns the current state of one lecture.
func (c *Coordinator) Snapshot(ctx context.Context, lectureID string) (*types.RoomSnapshot, error) {
	var snapshot *types.RoomSnapshot
	err := c.exec(ctx, lectureID, false, func(r *room) error {
		snapshot = r.snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// List returns a snapshot of every open lecture ordered by id. Rooms that
// close while the list is built are skipped.
func (c *Coordinator) List(ctx context.Context) ([]*types.RoomSnapshot, error) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)

	out := make([]*types.RoomSnapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, err := c.Snapshot(ctx, id)
		if errors.Is(err, ErrLectureNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

// Rooms returns the number of open lectures.
func (c *Coordinator) Rooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// Stop terminates every room goroutine. Later calls fail with
// ErrCoordinatorStopped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for _, rm := range c.rooms {
		close(rm.quit)
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	c.rooms = make(map[string]*room)
	c.memberships = make(map[string]map[string]struct{})
	c.mu.Unlock()
	c.logger.Info().Msg("lecture coordinator stopped")
}
