// Package websocket is the client transport: handshake authentication,
// connection upgrade, the JSON envelope codec and per-connection pumps.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveclass/internal/auth"
	"liveclass/internal/config"
	"liveclass/internal/logging"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Authenticator verifies the connect handshake.
type Authenticator interface {
	Authenticate(ctx context.Context, hs auth.Handshake) (*types.Identity, error)
}

// Hub owns connection state and answers requests.
type Hub interface {
	Connect(conn interfaces.Connection) error
	Disconnect(conn interfaces.Connection)
	Dispatch(ctx context.Context, conn interfaces.Connection, envelope *types.Envelope) *types.Ack
}

// Handler upgrades authenticated requests and pumps frames between the
// socket and the hub.
type Handler struct {
	authenticator Authenticator
	hub           Hub
	config        *config.WebSocketConfig
	upgrader      websocket.Upgrader
	logger        zerolog.Logger
}

func NewHandler(authenticator Authenticator, hub Hub, cfg *config.WebSocketConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		authenticator: authenticator,
		hub:           hub,
		config:        cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(cfg.AllowedOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With().Str(logging.FieldComponent, "websocket").Logger(),
	}
}

// originChecker allows every origin when allowed is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP authenticates before upgrading so a rejected handshake gets a
// plain HTTP error and never creates connection state.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs := auth.HandshakeFromRequest(r)

	identity, err := h.authenticator.Authenticate(r.Context(), hs)
	if err != nil {
		http.Error(w, err.Error(), auth.StatusCode(err))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str(logging.FieldUserID, identity.ID).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, identity, h.config, h.logger)
	if err := h.hub.Connect(conn); err != nil {
		conn.logger.Error().Err(err).Msg("failed to register connection")
		_ = conn.Close()
		return
	}

	conn.logger.Info().Str(logging.FieldRole, string(identity.Role)).Msg("client connected")

	go h.readPump(conn)
}

func (h *Handler) readPump(conn *Connection) {
	defer func() {
		_ = conn.Close()
		h.hub.Disconnect(conn)
		conn.logger.Info().Msg("client disconnected")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ctx := logging.WithLogger(context.Background(), conn.logger)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		h.handleFrame(ctx, conn, data)
	}
}

// handleFrame decodes one envelope, dispatches it and writes the ack when
// the client asked for one.
func (h *Handler) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	var envelope types.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		conn.logger.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	var reply *types.Ack
	if envelope.Event == "" {
		reply = types.ErrorAck(ErrMissingEvent)
	} else {
		reply = h.hub.Dispatch(ctx, conn, &envelope)
	}

	if envelope.Ack == nil || reply == nil {
		return
	}
	if err := conn.WriteAck(*envelope.Ack, reply); err != nil {
		conn.logger.Debug().Err(err).Str(logging.FieldEvent, envelope.Event).Msg("failed to write ack")
	}
}
