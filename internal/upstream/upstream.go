// Package upstream connects to the live platform and turns its raw events into events.Event values.
package upstream

import (
	"context"
	"errors"

	"github.com/aura-webinar/liverelay/internal/events"
)

var (
	// ErrRoomOffline is returned by Connect when the requested handle is not live.
	ErrRoomOffline = errors.New("room offline")
	// ErrStreamEnded is passed to OnDisconnected when the broadcaster ends the stream.
	ErrStreamEnded = errors.New("stream ended")
	// ErrUnsupportedEvent is returned by Normalize for raw events the relay does not track.
	ErrUnsupportedEvent = errors.New("unsupported event")
)

// RoomInfo is the room metadata reported when a connection becomes ready.
type RoomInfo struct {
	RoomID      string `json:"roomId"`
	ViewerCount int    `json:"viewerCount"`
}

// Listener receives events from one upstream connection, one at a time, in delivery order.
type Listener interface {
	OnEvent(ev events.Event)
	// OnDisconnected is called at most once when the connection ends without Disconnect being called.
	OnDisconnected(err error)
}

// Conn is a live upstream connection.
type Conn interface {
	Room() RoomInfo
	// Disconnect tears the connection down. No callbacks are delivered after it returns. It does not wait
	// for an in-flight callback to finish.
	Disconnect()
}

// Connector opens upstream connections.
type Connector interface {
	Connect(ctx context.Context, handle string, l Listener) (Conn, error)
}
