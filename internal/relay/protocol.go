package relay

import (
	"encoding/json"

	"github.com/aura-webinar/liverelay/internal/events"
)

// Client -> server message types.
const (
	TypeConnectTiktok    = "connect-tiktok"
	TypeDisconnectTiktok = "disconnect-tiktok"
)

// Server -> client message types.
const (
	TypeConnectionStatus = "connection-status"
	TypeStreamStats      = "stream-stats"
	TypeNewChat          = "new-chat"
	TypeNewGift          = "new-gift"
	TypeNewLike          = "new-like"
	TypeNewFollow        = "new-follow"
	TypeNewShare         = "new-share"
	TypeNewMember        = "new-member"
	TypeError            = "error"
)

// MsgInvalidFormat is sent back when a client frame cannot be decoded.
const MsgInvalidFormat = "Invalid message format"

// MsgNotAuthorized is sent back when a client without operator rights sends a control command.
const MsgNotAuthorized = "not authorized"

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Status is the upstream connection state reported to clients.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// StatusPayload is the data of a connection-status message.
type StatusPayload struct {
	Status   Status `json:"status"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorPayload is the data of an error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ConnectPayload is the data of a connect-tiktok message.
type ConnectPayload struct {
	Username string `json:"username"`
}

// EntryType maps an event kind to the message type used to relay its stored entry.
// Viewer count changes have no entry message.
func EntryType(kind events.Kind) (string, bool) {
	switch kind {
	case events.KindChat:
		return TypeNewChat, true
	case events.KindGift:
		return TypeNewGift, true
	case events.KindLike:
		return TypeNewLike, true
	case events.KindFollow:
		return TypeNewFollow, true
	case events.KindShare:
		return TypeNewShare, true
	case events.KindMember:
		return TypeNewMember, true
	}
	return "", false
}

// Encode marshals payload into a complete envelope frame.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Type: eventType, Data: data})
}
