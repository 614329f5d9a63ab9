package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveclass/internal/config"
	"liveclass/internal/logging"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Connection wraps one authenticated websocket. All writes go through a
// single writer goroutine which also sends transport pings.
type Connection struct {
	conn     *websocket.Conn
	id       string
	identity *types.Identity
	config   *config.WebSocketConfig
	logger   zerolog.Logger

	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection starts the writer for conn. The identity is fixed for the
// connection's lifetime.
func NewConnection(conn *websocket.Conn, identity *types.Identity, cfg *config.WebSocketConfig, logger zerolog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	c := &Connection{
		conn:     conn,
		id:       id,
		identity: identity,
		config:   cfg,
		logger: logger.With().
			Str(logging.FieldConnectionID, id).
			Str(logging.FieldUserID, identity.ID).
			Logger(),
		writeCh: make(chan []byte, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.writerWG.Add(1)
	go c.writeLoop()

	return c
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Identity() *types.Identity {
	return c.identity
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) writeLoop() {
	defer c.writerWG.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// fail closes the socket after a write error; the read pump then sees the
// error and runs the disconnect path.
func (c *Connection) fail(err error) {
	c.logger.Debug().Err(err).Msg("websocket write failed")
	c.cancel()
	_ = c.conn.Close()
}

// Emit queues an outbound event and never blocks. A client that cannot
// keep up with its buffer is disconnected.
func (c *Connection) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(types.OutboundEnvelope{Event: event, Data: payload})
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		// Close would wait on the stalled writer; drop the socket instead
		// and let the read pump run the teardown.
		c.logger.Warn().Str(logging.FieldEvent, event).Msg("send buffer full, closing slow connection")
		c.fail(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

// WriteAck queues the reply to a request carrying ack id. Unlike Emit it
// waits up to the write timeout for buffer space.
func (c *Connection) WriteAck(ack int64, reply *types.Ack) error {
	return c.WriteJSON(types.OutboundEnvelope{Event: types.EventAck, Ack: &ack, Data: reply})
}

// WriteJSON queues v with the write timeout.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.config.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket. Queued frames are
// flushed on a best-effort basis first. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.writerWG.Wait()
		c.flush()

		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) flush() {
	deadline := time.Now().Add(c.config.WriteTimeout)
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(deadline); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
