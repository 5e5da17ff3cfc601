package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message type tags exchanged over the signaling socket. The set is closed:
// anything else is a protocol error.
const (
	// client -> server
	TypeCreateRoom      = "create_room"
	TypeJoinRoom        = "join_room"
	TypeRegisterUser    = "register_user" // legacy alias of join_room
	TypeLeaveRoom       = "leave_room"
	TypeSignal          = "signal"
	TypeRequestRoomList = "request_room_list"

	// server -> client
	TypeYourID        = "your_id"
	TypeRoomList      = "room_list"
	TypeMembersUpdate = "room_members_update"
	TypeRoomRemoved   = "room_removed"
	TypeError         = "error"
)

// Error codes carried in the Code field of error messages.
const (
	CodeAuthFailed    = "auth_failed"
	CodeBadMessage    = "bad_message"
	CodeStateConflict = "state_conflict"
)

// Room display name bounds enforced at create time.
const (
	RoomNameMinLen = 3
	RoomNameMaxLen = 30
)

// ErrUnknownType is returned for a message type outside the closed set.
var ErrUnknownType = errors.New("unknown message type")

// RoomSummary is the lobby view of a room.
type RoomSummary struct {
	RoomID      string `json:"roomId"`
	Name        string `json:"name"`
	CreatorName string `json:"creatorName"`
	MemberCount int    `json:"memberCount"`
}

// Message is a single signaling frame. One JSON object per frame; the Type
// tag decides which of the optional fields are meaningful.
type Message struct {
	Type string `json:"type"`

	// room commands and membership updates
	RoomID     string            `json:"roomId,omitempty"`
	RoomName   string            `json:"roomName,omitempty"`
	DeleteChat bool              `json:"deleteChat,omitempty"`
	Members    map[string]string `json:"members,omitempty"`
	Rooms      []RoomSummary     `json:"rooms,omitempty"`

	// peer-to-peer signal relay
	ReceiverID string          `json:"receiverId,omitempty"`
	SenderID   string          `json:"senderId,omitempty"`
	Signal     json.RawMessage `json:"signal,omitempty"`

	// connection identity (your_id)
	ConnID      string `json:"connId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	// errors
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseCommand decodes and validates a client -> server frame. The legacy
// "register_user" tag is normalized to "join_room". A nil error means the
// message carries every field its type requires.
func ParseCommand(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON frame: %w", err)
	}

	if msg.Type == TypeRegisterUser {
		msg.Type = TypeJoinRoom
	}

	switch msg.Type {
	case TypeCreateRoom:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%s: missing roomId", msg.Type)
		}
		if len(msg.RoomName) < RoomNameMinLen || len(msg.RoomName) > RoomNameMaxLen {
			return nil, fmt.Errorf("%s: room name must be %d-%d characters", msg.Type, RoomNameMinLen, RoomNameMaxLen)
		}
	case TypeJoinRoom:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%s: missing roomId", msg.Type)
		}
	case TypeLeaveRoom:
		// roomId may be empty; the server falls back to the sender's room
	case TypeSignal:
		if msg.ReceiverID == "" {
			return nil, fmt.Errorf("%s: missing receiverId", msg.Type)
		}
		if len(msg.Signal) == 0 {
			return nil, fmt.Errorf("%s: missing signal payload", msg.Type)
		}
	case TypeRequestRoomList:
		// no fields
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	return &msg, nil
}

// NewError builds an error frame with the given code.
func NewError(code, format string, v ...any) *Message {
	return &Message{
		Type:    TypeError,
		Code:    code,
		Message: fmt.Sprintf(format, v...),
	}
}
