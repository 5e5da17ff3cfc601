package hub

import (
	"errors"
	"sort"
	"sync"

	"github.com/tphan267/meshtalk/pkg/signaling"
)

var (
	// ErrRoomExists is returned when creating a room with a taken id.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound is returned when the room id matches nothing.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidRoomName is returned when a display name is out of bounds.
	ErrInvalidRoomName = errors.New("invalid room name")

	// ErrNotMember is returned when leaving a room the connection is not in.
	ErrNotMember = errors.New("not a member of the room")
)

type room struct {
	id          string
	name        string
	creatorName string
	members     map[string]string // connId -> displayName
}

// LeaveResult describes the outcome of a leave operation.
type LeaveResult struct {
	RoomName string
	Deleted  bool
	Members  map[string]string // remaining members, nil when deleted
}

// RoomStore holds the live room set. Rooms survive becoming empty; they are
// deleted only when a leave explicitly asks for it and the room drains.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*room)}
}

// Create registers a new room with the creator as its first member.
func (s *RoomStore) Create(roomID, name, connID, displayName string) (map[string]string, error) {
	if len(name) < signaling.RoomNameMinLen || len(name) > signaling.RoomNameMaxLen {
		return nil, ErrInvalidRoomName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[roomID]; exists {
		return nil, ErrRoomExists
	}

	s.rooms[roomID] = &room{
		id:          roomID,
		name:        name,
		creatorName: displayName,
		members:     map[string]string{connID: displayName},
	}
	return map[string]string{connID: displayName}, nil
}

// Join adds the connection to an existing room. Joining a room the
// connection is already in refreshes its display name and succeeds.
func (s *RoomStore) Join(roomID, connID, displayName string) (string, map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return "", nil, ErrRoomNotFound
	}

	r.members[connID] = displayName
	return r.name, copyMembers(r.members), nil
}

// Leave removes the connection from the room. When deleteOnEmpty is set and
// the leaver was the last member, the room itself is deleted.
func (s *RoomStore) Leave(roomID, connID string, deleteOnEmpty bool) (*LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if _, member := r.members[connID]; !member {
		return nil, ErrNotMember
	}

	delete(r.members, connID)

	if len(r.members) == 0 && deleteOnEmpty {
		delete(s.rooms, roomID)
		return &LeaveResult{RoomName: r.name, Deleted: true}, nil
	}

	return &LeaveResult{RoomName: r.name, Members: copyMembers(r.members)}, nil
}

// Members returns a snapshot of the room's membership.
func (s *RoomStore) Members(roomID string) (string, map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return "", nil, false
	}
	return r.name, copyMembers(r.members), true
}

// IsMember reports whether the connection is in the room.
func (s *RoomStore) IsMember(roomID, connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	_, member := r.members[connID]
	return member
}

// Summaries returns the lobby view of every room, sorted by room id so the
// output is stable.
func (s *RoomStore) Summaries() []signaling.RoomSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]signaling.RoomSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, signaling.RoomSummary{
			RoomID:      r.id,
			Name:        r.name,
			CreatorName: r.creatorName,
			MemberCount: len(r.members),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Len returns the number of rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rooms)
}

func copyMembers(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
