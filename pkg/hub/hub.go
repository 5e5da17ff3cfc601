package hub

import (
	"errors"
	"sync"

	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/signaling"
)

// Hub applies signaling commands to the room and connection state. A single
// mutex serializes command handling, so every broadcast is enqueued in the
// order its mutation happened.
type Hub struct {
	mu       sync.Mutex
	registry *Registry
	rooms    *RoomStore
	log      *logger.Logger
}

func New(registry *Registry, rooms *RoomStore, log *logger.Logger) *Hub {
	return &Hub{
		registry: registry,
		rooms:    rooms,
		log:      log,
	}
}

// HandleConnect greets a freshly registered connection with its identity
// and the current room list.
func (h *Hub) HandleConnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.registry.DisplayName(connID)
	if !ok {
		return
	}

	h.registry.Unicast(connID, &signaling.Message{
		Type:        signaling.TypeYourID,
		ConnID:      connID,
		DisplayName: name,
	})
	h.registry.Unicast(connID, h.roomListMessage())
}

// HandleFrame parses and dispatches a raw frame from the connection. A
// malformed frame gets an error reply; the connection stays open.
func (h *Hub) HandleFrame(connID string, data []byte) {
	msg, err := signaling.ParseCommand(data)
	if err != nil {
		h.log.Debug("bad frame from %s: %v", connID, err)
		h.registry.Unicast(connID, signaling.NewError(signaling.CodeBadMessage, "%v", err))
		return
	}
	h.HandleMessage(connID, msg)
}

// HandleMessage applies a validated command.
func (h *Hub) HandleMessage(connID string, msg *signaling.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Type {
	case signaling.TypeCreateRoom:
		h.handleCreateRoom(connID, msg)
	case signaling.TypeJoinRoom:
		h.handleJoinRoom(connID, msg)
	case signaling.TypeLeaveRoom:
		h.handleLeaveRoom(connID, msg.RoomID, msg.DeleteChat)
	case signaling.TypeSignal:
		h.handleSignal(connID, msg)
	case signaling.TypeRequestRoomList:
		h.registry.Unicast(connID, h.roomListMessage())
	}
}

// HandleDisconnect treats a dropped transport as an implicit leave. The
// room is never deleted on disconnect, only an explicit leave can do that.
func (h *Hub) HandleDisconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	roomID := h.registry.RoomID(connID)
	h.registry.Deregister(connID)

	if roomID == "" {
		return
	}

	res, err := h.rooms.Leave(roomID, connID, false)
	if err != nil {
		h.log.Debug("disconnect leave %s from %s: %v", connID, roomID, err)
		return
	}

	if len(res.Members) > 0 {
		h.broadcastMembers(roomID, res.RoomName, res.Members)
	}
	h.registry.Broadcast(h.roomListMessage())
}

func (h *Hub) handleCreateRoom(connID string, msg *signaling.Message) {
	name, ok := h.registry.DisplayName(connID)
	if !ok {
		return
	}
	if current := h.registry.RoomID(connID); current != "" {
		h.sendError(connID, signaling.CodeStateConflict, "already in a room")
		return
	}

	members, err := h.rooms.Create(msg.RoomID, msg.RoomName, connID, name)
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomExists):
			h.sendError(connID, signaling.CodeStateConflict, "room %s already exists", msg.RoomID)
		case errors.Is(err, ErrInvalidRoomName):
			h.sendError(connID, signaling.CodeBadMessage, "room name must be %d-%d characters",
				signaling.RoomNameMinLen, signaling.RoomNameMaxLen)
		default:
			h.sendError(connID, signaling.CodeStateConflict, "%v", err)
		}
		return
	}

	h.registry.SetRoom(connID, msg.RoomID)
	h.log.Info("room %s (%q) created by %s", msg.RoomID, msg.RoomName, name)

	h.broadcastMembers(msg.RoomID, msg.RoomName, members)
	h.registry.Broadcast(h.roomListMessage())
}

func (h *Hub) handleJoinRoom(connID string, msg *signaling.Message) {
	name, ok := h.registry.DisplayName(connID)
	if !ok {
		return
	}
	if current := h.registry.RoomID(connID); current != "" && current != msg.RoomID {
		h.sendError(connID, signaling.CodeStateConflict, "already in a room")
		return
	}

	roomName, members, err := h.rooms.Join(msg.RoomID, connID, name)
	if err != nil {
		h.sendError(connID, signaling.CodeStateConflict, "room %s not found", msg.RoomID)
		return
	}

	h.registry.SetRoom(connID, msg.RoomID)
	h.log.Info("%s joined room %s", name, msg.RoomID)

	h.broadcastMembers(msg.RoomID, roomName, members)
	h.registry.Broadcast(h.roomListMessage())
}

func (h *Hub) handleLeaveRoom(connID, roomID string, deleteOnEmpty bool) {
	if roomID == "" {
		roomID = h.registry.RoomID(connID)
	}
	if roomID == "" {
		// leaving while in the lobby is a no-op
		return
	}

	res, err := h.rooms.Leave(roomID, connID, deleteOnEmpty)
	if err != nil {
		h.log.Debug("leave %s from %s: %v", connID, roomID, err)
		return
	}

	h.registry.SetRoom(connID, "")
	h.log.Info("%s left room %s (deleted=%t)", connID, roomID, res.Deleted)

	if res.Deleted {
		h.registry.Broadcast(&signaling.Message{
			Type:   signaling.TypeRoomRemoved,
			RoomID: roomID,
		})
	} else if len(res.Members) > 0 {
		h.broadcastMembers(roomID, res.RoomName, res.Members)
	}
	h.registry.Broadcast(h.roomListMessage())
}

func (h *Hub) handleSignal(connID string, msg *signaling.Message) {
	roomID := h.registry.RoomID(connID)
	if roomID == "" ||
		!h.rooms.IsMember(roomID, msg.ReceiverID) ||
		!h.registry.Connected(msg.ReceiverID) {
		h.sendError(connID, signaling.CodeStateConflict, "target %s unavailable", msg.ReceiverID)
		return
	}

	h.registry.Unicast(msg.ReceiverID, &signaling.Message{
		Type:     signaling.TypeSignal,
		RoomID:   roomID,
		SenderID: connID,
		Signal:   msg.Signal,
	})
}

// broadcastMembers pushes the membership snapshot to every current member.
func (h *Hub) broadcastMembers(roomID, roomName string, members map[string]string) {
	update := &signaling.Message{
		Type:     signaling.TypeMembersUpdate,
		RoomID:   roomID,
		RoomName: roomName,
		Members:  members,
	}
	for connID := range members {
		h.registry.Unicast(connID, update)
	}
}

func (h *Hub) roomListMessage() *signaling.Message {
	return &signaling.Message{
		Type:  signaling.TypeRoomList,
		Rooms: h.rooms.Summaries(),
	}
}

func (h *Hub) sendError(connID, code, format string, v ...any) {
	h.registry.Unicast(connID, signaling.NewError(code, format, v...))
}
