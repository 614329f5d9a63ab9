// Package testutil holds fakes shared by package tests.
package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"liveclass/pkg/types"
)

var ErrClosed = errors.New("fake connection closed")

// Event is one recorded Emit call.
type Event struct {
	Name    string
	Payload interface{}
}

// Connection records everything emitted to it. It satisfies
// interfaces.Connection.
type Connection struct {
	id       string
	identity *types.Identity

	mu         sync.Mutex
	events     []Event
	closed     bool
	closeCount int
	notify     chan struct{}
}

func NewConnection(identity *types.Identity) *Connection {
	return &Connection{
		id:       uuid.New().String(),
		identity: identity,
		notify:   make(chan struct{}, 1),
	}
}

func (c *Connection) ID() string                { return c.id }
func (c *Connection) Identity() *types.Identity { return c.identity }

func (c *Connection) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.events = append(c.events, Event{Name: event, Payload: payload})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCount++
	return nil
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// Events returns a copy of every recorded event.
func (c *Connection) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Named returns the recorded events with the given name, in order.
func (c *Connection) Named(name string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event with the given name.
func (c *Connection) Last(name string) (Event, bool) {
	named := c.Named(name)
	if len(named) == 0 {
		return Event{}, false
	}
	return named[len(named)-1], true
}

func (c *Connection) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// WaitFor blocks until an event with the given name has been recorded or
// fails the test after timeout.
func (c *Connection) WaitFor(t testing.TB, name string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if e, ok := c.Last(name); ok {
			return e
		}
		select {
		case <-c.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %q on %s", name, c.identity.ID)
			return Event{}
		}
	}
}

func Student(id string) *types.Identity {
	return &types.Identity{ID: id, Role: types.RoleStudent, DisplayName: "Student " + id, RegistrationNumber: "REG-" + id}
}

func Lecturer(id string) *types.Identity {
	return &types.Identity{ID: id, Role: types.RoleLecturer, DisplayName: "Lecturer " + id}
}

func DepartmentHead(id string) *types.Identity {
	return &types.Identity{ID: id, Role: types.RoleDepartmentHead, DisplayName: "Head " + id}
}
