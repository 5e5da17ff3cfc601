package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/signaling"
)

// ErrEmptyDisplayName is returned when registering a connection without a name.
var ErrEmptyDisplayName = errors.New("display name cannot be empty")

// Transport is the send surface of a connected client. Send must not block;
// implementations queue the frame or report failure immediately.
type Transport interface {
	Send(msg *signaling.Message) error
	Close()
}

type connection struct {
	id          string
	displayName string
	roomID      string // "" while in the lobby
	transport   Transport
}

// Registry owns the connId -> transport mapping. Delivery is fire and
// forget: a frame to a missing or stalled connection is dropped and logged,
// never retried.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	log   *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		conns: make(map[string]*connection),
		log:   log,
	}
}

// Register assigns a fresh connection id to the transport. The id is unique
// for the lifetime of the process and never reused.
func (r *Registry) Register(t Transport, displayName string) (string, error) {
	if displayName == "" {
		return "", ErrEmptyDisplayName
	}

	id := uuid.NewString()

	r.mu.Lock()
	r.conns[id] = &connection{
		id:          id,
		displayName: displayName,
		transport:   t,
	}
	r.mu.Unlock()

	return id, nil
}

// Deregister removes the connection. Safe to call for an unknown id.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// Unicast delivers a frame to a single connection. Unknown ids and send
// failures are dropped silently.
func (r *Registry) Unicast(connID string, msg *signaling.Message) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()

	if !ok {
		r.log.Debug("unicast to unknown connection %s, dropped", connID)
		return
	}
	if err := c.transport.Send(msg); err != nil {
		r.log.Debug("send to %s failed: %v", connID, err)
	}
}

// Broadcast delivers a frame to every registered connection.
func (r *Registry) Broadcast(msg *signaling.Message) {
	r.mu.RLock()
	targets := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.transport.Send(msg); err != nil {
			r.log.Debug("broadcast to %s failed: %v", c.id, err)
		}
	}
}

// DisplayName returns the name registered for the connection.
func (r *Registry) DisplayName(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return c.displayName, true
}

// RoomID returns the room the connection is currently in, or "".
func (r *Registry) RoomID(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.conns[connID]; ok {
		return c.roomID
	}
	return ""
}

// SetRoom records the connection's current room ("" for the lobby).
func (r *Registry) SetRoom(connID, roomID string) {
	r.mu.Lock()
	if c, ok := r.conns[connID]; ok {
		c.roomID = roomID
	}
	r.mu.Unlock()
}

// Connected reports whether the id maps to a live connection.
func (r *Registry) Connected(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[connID]
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
