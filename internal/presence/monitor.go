package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liveclass/internal/logging"
	"liveclass/pkg/interfaces"
)

// Monitor owns one Heartbeat per connection.
type Monitor struct {
	registry  *Registry
	interval  time.Duration
	timeout   time.Duration
	onTimeout func(interfaces.Connection)
	logger    zerolog.Logger

	mu         sync.Mutex
	heartbeats map[string]*Heartbeat
}

// NewMonitor returns a monitor that touches registry on every ack and
// calls onTimeout for connections that stop answering. onTimeout runs on
// the heartbeat goroutine and must not call Stop for the same connection
// synchronously.
func NewMonitor(registry *Registry, interval, timeout time.Duration, onTimeout func(interfaces.Connection), logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Monitor{
		registry:   registry,
		interval:   interval,
		timeout:    timeout,
		onTimeout:  onTimeout,
		logger:     logger.With().Str(logging.FieldComponent, "heartbeat").Logger(),
		heartbeats: make(map[string]*Heartbeat),
	}
}

// Start begins probing conn.
func (m *Monitor) Start(conn interfaces.Connection) error {
	id := conn.ID()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.heartbeats[id]; exists {
		return ErrHeartbeatRunning
	}

	hb := newHeartbeat(conn, m.interval, m.timeout,
		func() {
			if err := m.registry.Touch(id); err != nil {
				m.logger.Debug().Err(err).Str(logging.FieldConnectionID, id).Msg("ack for unregistered connection")
			}
		},
		func(c interfaces.Connection) {
			m.forget(id)
			m.logger.Warn().
				Str(logging.FieldConnectionID, id).
				Str(logging.FieldUserID, c.Identity().ID).
				Dur("timeout", m.timeout).
				Msg("heartbeat timed out")
			if m.onTimeout != nil {
				m.onTimeout(c)
			}
		},
	)
	m.heartbeats[id] = hb
	go hb.run()

	return nil
}

// forget drops a heartbeat that ended on its own.
func (m *Monitor) forget(id string) {
	m.mu.Lock()
	delete(m.heartbeats, id)
	m.mu.Unlock()
}

// Ack forwards a heartbeat_ack to the connection's heartbeat.
func (m *Monitor) Ack(connectionID string) error {
	m.mu.Lock()
	hb, ok := m.heartbeats[connectionID]
	m.mu.Unlock()
	if !ok {
		return ErrConnectionNotFound
	}
	hb.Ack()
	return nil
}

// Stop destroys the connection's heartbeat and returns once its goroutine
// has exited. Unknown ids are a no-op.
func (m *Monitor) Stop(connectionID string) {
	m.mu.Lock()
	hb, ok := m.heartbeats[connectionID]
	delete(m.heartbeats, connectionID)
	m.mu.Unlock()

	if ok {
		hb.Stop()
	}
}

// StopAll stops every heartbeat.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	all := m.heartbeats
	m.heartbeats = make(map[string]*Heartbeat)
	m.mu.Unlock()

	for _, hb := range all {
		hb.Stop()
	}
}

// Active returns the number of running heartbeats.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heartbeats)
}
