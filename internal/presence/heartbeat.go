package presence

import (
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Default probe timing.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 20 * time.Second
)

// Heartbeat probes one connection. A probe left unanswered for longer
// than timeout ends the heartbeat and calls onTimeout once.
type Heartbeat struct {
	conn      interfaces.Connection
	interval  time.Duration
	timeout   time.Duration
	onAck     func()
	onTimeout func(interfaces.Connection)

	acks     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newHeartbeat(conn interfaces.Connection, interval, timeout time.Duration, onAck func(), onTimeout func(interfaces.Connection)) *Heartbeat {
	return &Heartbeat{
		conn:      conn,
		interval:  interval,
		timeout:   timeout,
		onAck:     onAck,
		onTimeout: onTimeout,
		acks:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (h *Heartbeat) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// deadline is nil while no probe is outstanding.
	var deadline <-chan time.Time
	var deadlineTimer *time.Timer
	defer func() {
		if deadlineTimer != nil {
			deadlineTimer.Stop()
		}
	}()

	for {
		select {
		case <-ticker.C:
			_ = h.conn.Emit(types.EventHeartbeat, types.HeartbeatEvent{Timestamp: time.Now().UTC()})
			if deadline == nil {
				deadlineTimer = time.NewTimer(h.timeout)
				deadline = deadlineTimer.C
			}

		case <-h.acks:
			if deadlineTimer != nil {
				deadlineTimer.Stop()
				deadlineTimer = nil
				deadline = nil
			}
			if h.onAck != nil {
				h.onAck()
			}

		case <-deadline:
			if h.onTimeout != nil {
				h.onTimeout(h.conn)
			}
			return

		case <-h.stop:
			return
		}
	}
}

// Ack records a heartbeat_ack from the client.
func (h *Heartbeat) Ack() {
	select {
	case h.acks <- struct{}{}:
	default:
	}
}

// Stop ends the heartbeat and waits for its goroutine to exit. Only the
// first call has any effect. It must not be called from onTimeout.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.done
}

// Done is closed once the heartbeat goroutine has exited.
func (h *Heartbeat) Done() <-chan struct{} {
	return h.done
}
