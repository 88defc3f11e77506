package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// bridgeFrame is one message from the webcast bridge: {"event": "...", "data": {...}}.
type bridgeFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type bridgeError struct {
	Message string `json:"message"`
}

// BridgeConnector opens upstream connections through a webcast bridge reachable over websocket.
// The bridge is asked for a room with ?uniqueId=<handle> and must answer with a connected or error frame.
type BridgeConnector struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewBridgeConnector creates a connector for the bridge at rawURL.
func NewBridgeConnector(rawURL string, logger *zap.Logger) *BridgeConnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BridgeConnector{
		url: rawURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}
}

// Connect dials the bridge and waits for the room to be reported ready. ctx bounds the whole handshake.
func (b *BridgeConnector) Connect(ctx context.Context, handle string, l Listener) (Conn, error) {
	u, err := url.Parse(b.url)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	q := u.Query()
	q.Set("uniqueId", handle)
	u.RawQuery = q.Encode()

	ws, _, err := b.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	room, err := readHandshake(ws)
	if !stop() {
		_ = ws.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := &bridgeConn{ws: ws, room: room, listener: l, logger: b.logger.With(zap.String("handle", handle))}
	go c.readLoop()
	return c, nil
}

func readHandshake(ws *websocket.Conn) (RoomInfo, error) {
	var frame bridgeFrame
	if err := ws.ReadJSON(&frame); err != nil {
		return RoomInfo{}, fmt.Errorf("read bridge handshake: %w", err)
	}
	switch frame.Event {
	case rawConnected:
		var room RoomInfo
		if err := json.Unmarshal(frame.Data, &room); err != nil {
			return RoomInfo{}, fmt.Errorf("decode room info: %w", err)
		}
		return room, nil
	case rawError:
		var be bridgeError
		_ = json.Unmarshal(frame.Data, &be)
		if be.Message == "" {
			return RoomInfo{}, ErrRoomOffline
		}
		return RoomInfo{}, fmt.Errorf("%s: %w", be.Message, ErrRoomOffline)
	}
	return RoomInfo{}, fmt.Errorf("unexpected handshake event %q", frame.Event)
}

type bridgeConn struct {
	ws       *websocket.Conn
	room     RoomInfo
	listener Listener
	logger   *zap.Logger
	closed   atomic.Bool
}

func (c *bridgeConn) Room() RoomInfo {
	return c.room
}

func (c *bridgeConn) Disconnect() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.ws.Close()
}

func (c *bridgeConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.end(fmt.Errorf("bridge read: %w", err))
			return
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("malformed bridge frame", zap.Error(err))
			continue
		}
		if frame.Event == rawStreamEnd {
			c.end(ErrStreamEnded)
			return
		}

		ev, err := Normalize(frame.Event, frame.Data)
		if errors.Is(err, ErrUnsupportedEvent) {
			c.logger.Debug("skipping bridge event", zap.String("event", frame.Event))
			continue
		}
		if err != nil {
			c.logger.Warn("bad bridge event", zap.String("event", frame.Event), zap.Error(err))
			continue
		}
		if c.closed.Load() {
			return
		}
		c.listener.OnEvent(ev)
	}
}

// end reports an unrequested disconnect exactly once.
func (c *bridgeConn) end(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	_ = c.ws.Close()
	c.listener.OnDisconnected(err)
}
