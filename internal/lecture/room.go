package lecture

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"liveclass/internal/logging"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// member is one identity in a room. The same user may attend through
// several connections; it leaves the room with its last one.
type member struct {
	identity   types.Identity
	conns      map[string]interfaces.Connection
	handRaised bool
	order      uint64
}

// room is the state of one lecture. It is only touched from the room's
// own goroutine.
type room struct {
	id        string
	members   map[string]*member
	presenter string
	requests  []string
	nextOrder uint64

	commands chan func()
	quit     chan struct{}
	// pending counts queued commands; guarded by Coordinator.mu.
	pending int

	logger zerolog.Logger
}

func newRoom(id string, logger zerolog.Logger) *room {
	return &room{
		id:       id,
		members:  make(map[string]*member),
		commands: make(chan func(), 64),
		quit:     make(chan struct{}),
		logger:   logger.With().Str(logging.FieldLectureID, id).Logger(),
	}
}

func (r *room) empty() bool {
	return len(r.members) == 0
}

// memberFor returns the member attending through conn.
func (r *room) memberFor(conn interfaces.Connection) (*member, bool) {
	m, ok := r.members[conn.Identity().ID]
	if !ok {
		return nil, false
	}
	if _, ok := m.conns[conn.ID()]; !ok {
		return nil, false
	}
	return m, true
}

// join adds conn to the room and reports whether it was new.
func (r *room) join(conn interfaces.Connection) bool {
	identity := conn.Identity()
	m, ok := r.members[identity.ID]
	if !ok {
		r.nextOrder++
		m = &member{
			identity: *identity,
			conns:    make(map[string]interfaces.Connection),
			order:    r.nextOrder,
		}
		r.members[identity.ID] = m
	}
	if _, dup := m.conns[conn.ID()]; dup {
		return false
	}
	m.conns[conn.ID()] = conn

	r.broadcastAttendance()
	return true
}

// leave drops connectionID from userID's membership. When it was the
// user's last connection the user leaves the room: hand, pending request
// and presenter role go with them.
func (r *room) leave(userID, connectionID string) bool {
	m, ok := r.members[userID]
	if !ok {
		return false
	}
	if _, ok := m.conns[connectionID]; !ok {
		return false
	}
	delete(m.conns, connectionID)
	if len(m.conns) > 0 {
		return true
	}

	delete(r.members, userID)
	r.dropRequest(userID)
	if r.presenter == userID {
		r.presenter = ""
		r.broadcast(types.EventPresentationStopped, types.PresentationChange{LectureID: r.id, UserID: userID})
	}
	r.broadcastAttendance()
	return true
}

func (r *room) setRaisedHand(m *member, raised bool) {
	m.handRaised = raised
	r.broadcast(types.EventHandRaised, types.HandRaised{
		LectureID: r.id,
		UserID:    m.identity.ID,
		IsRaised:  raised,
	})
}

func (r *room) startPresentation(m *member) error {
	if !m.identity.IsLecturer() {
		return ErrNotLecturer
	}
	if r.presenter != "" {
		return ErrAlreadyPresenting
	}
	r.setPresenter(m.identity.ID)
	return nil
}

// requestPresentation records the request and notifies the lecturers
// only. Repeating a pending request notifies them again.
func (r *room) requestPresentation(m *member) error {
	if m.identity.IsLecturer() {
		return ErrLecturerMustStart
	}
	if r.presenter == m.identity.ID {
		return ErrAlreadyPresenting
	}

	lecturers := r.lecturers()
	if len(lecturers) == 0 {
		return ErrNoLecturer
	}

	if !r.hasRequest(m.identity.ID) {
		r.requests = append(r.requests, m.identity.ID)
	}

	event := types.PresentationRequested{
		LectureID:   r.id,
		UserID:      m.identity.ID,
		DisplayName: m.identity.DisplayName,
	}
	for _, l := range lecturers {
		r.emitTo(l, types.EventPresentationRequested, event)
	}
	return nil
}

// approvePresentation hands the floor to studentID. It never replaces a
// running presentation.
func (r *room) approvePresentation(m *member, studentID string) error {
	if !m.identity.IsLecturer() {
		return ErrNotLecturer
	}
	if r.presenter != "" {
		return ErrAlreadyPresenting
	}
	if !r.hasRequest(studentID) {
		return ErrNoPendingRequest
	}
	r.dropRequest(studentID)
	r.setPresenter(studentID)
	return nil
}

// stopPresentation returns the room to idle. It is a no-op when idle.
func (r *room) stopPresentation() {
	if r.presenter == "" {
		return
	}
	previous := r.presenter
	r.presenter = ""
	r.broadcast(types.EventPresentationStopped, types.PresentationChange{LectureID: r.id, UserID: previous})
}

func (r *room) chat(m *member, text string, at time.Time) {
	r.broadcast(types.EventChatMessage, types.RoomChatMessage{
		LectureID: r.id,
		Text:      text,
		Sender:    m.identity,
		Timestamp: at,
	})
}

func (r *room) setPresenter(userID string) {
	r.presenter = userID
	r.broadcast(types.EventPresentationStarted, types.PresentationChange{LectureID: r.id, UserID: userID})
}

func (r *room) hasRequest(userID string) bool {
	for _, id := range r.requests {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *room) dropRequest(userID string) {
	for i, id := range r.requests {
		if id == userID {
			r.requests = append(r.requests[:i], r.requests[i+1:]...)
			return
		}
	}
}

func (r *room) lecturers() []*member {
	var out []*member
	for _, m := range r.ordered() {
		if m.identity.IsLecturer() {
			out = append(out, m)
		}
	}
	return out
}

// ordered returns members in join order.
func (r *room) ordered() []*member {
	out := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (r *room) participants() []types.Participant {
	members := r.ordered()
	out := make([]types.Participant, 0, len(members))
	for _, m := range members {
		out = append(out, types.Participant{
			UserID:      m.identity.ID,
			Role:        m.identity.Role,
			DisplayName: m.identity.DisplayName,
			HandRaised:  m.handRaised,
		})
	}
	return out
}

func (r *room) snapshot() *types.RoomSnapshot {
	requests := make([]string, len(r.requests))
	copy(requests, r.requests)
	return &types.RoomSnapshot{
		LectureID:       r.id,
		Participants:    r.participants(),
		PresenterID:     r.presenter,
		PendingRequests: requests,
	}
}

func (r *room) broadcastAttendance() {
	participants := r.participants()
	r.broadcast(types.EventAttendanceUpdate, types.AttendanceUpdate{
		LectureID:    r.id,
		Count:        len(participants),
		Participants: participants,
	})
}

func (r *room) broadcast(event string, payload interface{}) {
	for _, m := range r.members {
		r.emitTo(m, event, payload)
	}
}

func (r *room) emitTo(m *member, event string, payload interface{}) {
	for _, conn := range m.conns {
		if err := conn.Emit(event, payload); err != nil {
			r.logger.Debug().Err(err).
				Str(logging.FieldConnectionID, conn.ID()).
				Str(logging.FieldEvent, event).
				Msg("room emit failed")
		}
	}
}
