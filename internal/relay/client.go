package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/auth"
	"github.com/aura-webinar/liverelay/pkg/response"
)

// DefaultSendBuffer is the per-client outbound queue length.
const DefaultSendBuffer = 256

// ErrNotAuthorized is returned when a client without operator rights sends a control command.
var ErrNotAuthorized = errors.New("not authorized")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Replier delivers a message to the client that issued a command.
type Replier interface {
	Send(eventType string, payload interface{})
}

// Controller executes the upstream control commands clients may send.
// Both methods must have taken effect on the connection state by the time they return,
// so a client's commands apply in the order it sent them.
type Controller interface {
	// StartConnect begins connecting to handle without waiting for the upstream.
	StartConnect(ctx context.Context, handle string, reply Replier) error
	Disconnect(ctx context.Context, reply Replier) error
}

// TokenValidator returns the role carried by a token.
type TokenValidator func(token string) (role string, err error)

// RoleOperator is the role allowed to send control commands when tokens are enforced.
const RoleOperator = auth.RoleOperator

// Client represents a single WebSocket subscriber.
type Client struct {
	ID         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	control    Controller
	canControl bool
	logger     *zap.Logger
}

// ServeOptions tunes ServeWs.
type ServeOptions struct {
	SendBuffer int
	// Validate, when set, gates control commands behind an operator token passed as ?token=.
	Validate TokenValidator
}

func newClient(hub *Hub, conn *websocket.Conn, control Controller, sendBuffer int, logger *zap.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Client{
		ID:      uuid.New().String(),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		control: control,
		logger:  logger,
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, control Controller, opts ServeOptions, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		canControl := true
		if opts.Validate != nil {
			canControl = false
			if token := c.Query("token"); token != "" {
				role, err := opts.Validate(token)
				if err != nil {
					response.Unauthorized(c, "invalid token")
					return
				}
				canControl = role == RoleOperator
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, conn, control, opts.SendBuffer, logger)
		client.canControl = canControl
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// Send queues a message for this client only.
func (c *Client) Send(eventType string, payload interface{}) {
	c.hub.SendTo(c.ID, eventType, payload)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.logger.Debug("invalid client frame", zap.String("client_id", c.ID), zap.Error(err))
		c.Send(TypeError, ErrorPayload{Message: MsgInvalidFormat})
		return
	}

	switch msg.Type {
	case TypeConnectTiktok:
		var payload ConnectPayload
		if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &payload) != nil || strings.TrimSpace(payload.Username) == "" {
			c.Send(TypeError, ErrorPayload{Message: MsgInvalidFormat})
			return
		}
		if !c.authorize() {
			return
		}
		if err := c.control.StartConnect(context.Background(), payload.Username, c); err != nil {
			c.logger.Debug("connect command rejected", zap.String("client_id", c.ID), zap.Error(err))
		}
	case TypeDisconnectTiktok:
		if !c.authorize() {
			return
		}
		if err := c.control.Disconnect(context.Background(), c); err != nil {
			c.logger.Debug("disconnect command failed", zap.String("client_id", c.ID), zap.Error(err))
		}
	default:
		c.logger.Debug("ignoring client message", zap.String("client_id", c.ID), zap.String("type", msg.Type))
	}
}

func (c *Client) authorize() bool {
	if c.canControl && c.control != nil {
		return true
	}
	c.logger.Debug("control command rejected", zap.String("client_id", c.ID), zap.Error(ErrNotAuthorized))
	c.Send(TypeError, ErrorPayload{Message: MsgNotAuthorized})
	return false
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
