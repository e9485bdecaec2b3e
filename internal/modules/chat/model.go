// README: Chat model: persisted messages and the {event, data} frames exchanged over the socket.
package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"roadside/internal/types"
)

var (
	ErrInvalidInput = errors.New("invalid chat input")
	ErrUnauthorized = errors.New("sender does not match caller")
)

type Role string

const (
	RoleDriver   Role = "driver"
	RoleMechanic Role = "mechanic"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleDriver, RoleMechanic:
		return r, true
	}
	return "", false
}

type Message struct {
	ID         types.ID  `bson:"_id" json:"_id"`
	RequestID  types.ID  `bson:"requestId" json:"requestId"`
	SenderID   types.ID  `bson:"senderId" json:"senderId"`
	SenderRole Role      `bson:"senderRole" json:"senderRole"`
	Message    string    `bson:"message" json:"message"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

type SendCommand struct {
	RequestID  types.ID
	SenderID   types.ID
	SenderRole string
	Message    string
}

// Socket event names.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// relayPayload is the send_message body. It is validated and forwarded, never
// stored; _id and timestamp pass through when the client echoes the message
// returned by POST /api/chats.
type relayPayload struct {
	ID         types.ID   `json:"_id,omitempty"`
	RequestID  types.ID   `json:"requestId"`
	SenderID   types.ID   `json:"senderId"`
	SenderRole string     `json:"senderRole"`
	Message    string     `json:"message"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}
