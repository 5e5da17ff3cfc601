package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/signaling"
)

// ChatPayload is the application frame exchanged over peer data channels.
type ChatPayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// RoomState is the client's view of the room it is currently in.
type RoomState struct {
	ID      string
	Name    string
	Members map[string]string
}

// Client maintains the signaling connection and drives the peer mesh. It
// reconnects at a fixed interval while it still holds a session token; an
// authentication failure clears the token and stops all retries.
type Client struct {
	serverURL         string
	reconnectInterval time.Duration
	adapter           TransportAdapter
	logger            *logger.Logger

	conn  *websocket.Conn
	mutex sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	token    string
	username string
	credMu   sync.RWMutex

	connID      string
	rooms       []signaling.RoomSummary
	current     *RoomState
	pendingRoom string // optimistic create/join target, reverted on error
	reconciler  *Reconciler
	stateMu     sync.Mutex

	// Callbacks are optional and must be set before Connect.
	OnChat        func(sender, text string)
	OnRoomList    func(rooms []signaling.RoomSummary)
	OnMembers     func(room RoomState)
	OnServerError func(code, message string)
	OnAuthExpired func()

	reconnecting   bool
	reconnectMutex sync.Mutex
}

// NewClient creates a new mesh client
func NewClient(serverURL string, reconnectInterval time.Duration, adapter TransportAdapter, log *logger.Logger) *Client {
	return &Client{
		serverURL:         serverURL,
		reconnectInterval: reconnectInterval,
		adapter:           adapter,
		logger:            log,
	}
}

// Connect establishes the signaling connection with a session token.
// If the initial attempt fails it retries in the background at a fixed
// interval for as long as the token remains valid.
func (c *Client) Connect(ctx context.Context, token, username string) {
	c.credMu.Lock()
	c.token = token
	c.username = username
	c.credMu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connectOnce(); err != nil {
		c.logger.Warn("[Mesh] Connection failed: %v", err)
		c.logger.Warn("[Mesh] Will retry in background...")
		go c.reconnect()
	}
}

// connectOnce performs a single connection attempt
func (c *Client) connectOnce() error {
	c.credMu.RLock()
	token := c.token
	c.credMu.RUnlock()

	if token == "" {
		return fmt.Errorf("no session token")
	}

	serverURL := c.serverURL
	if after, ok := strings.CutPrefix(serverURL, "http://"); ok {
		serverURL = "ws://" + after
	} else if after, ok := strings.CutPrefix(serverURL, "https://"); ok {
		serverURL = "wss://" + after
	}

	wsURL := fmt.Sprintf("%s/signal?token=%s", serverURL, token)

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to signaling server: %w", err)
	}

	c.mutex.Lock()
	c.conn = conn
	c.mutex.Unlock()

	// Any previous room membership is gone; the server assigns a fresh
	// connection id over this socket.
	c.resetRoomState()

	c.logger.Info("[Mesh] Connected to signaling server")

	go c.readMessages(conn)
	go c.keepalive()

	return nil
}

// readMessages reads incoming frames until the socket drops
func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("[Mesh] Read error: %v", err)
			c.resetRoomState()
			go c.reconnect()
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("[Mesh] Failed to unmarshal message: %v", err)
			continue
		}

		c.handleMessage(&msg)
	}
}

// handleMessage dispatches a server frame. The type set is closed; an
// unrecognized tag is logged and dropped.
func (c *Client) handleMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeYourID:
		c.handleYourID(msg)
	case signaling.TypeRoomList:
		c.handleRoomList(msg)
	case signaling.TypeMembersUpdate:
		c.handleMembersUpdate(msg)
	case signaling.TypeRoomRemoved:
		c.handleRoomRemoved(msg)
	case signaling.TypeSignal:
		c.handleSignal(msg)
	case signaling.TypeError:
		c.handleError(msg)
	default:
		c.logger.Warn("[Mesh] Unknown message type: %s", msg.Type)
	}
}

func (c *Client) handleYourID(msg *signaling.Message) {
	c.stateMu.Lock()
	c.connID = msg.ConnID
	c.reconciler = NewReconciler(msg.ConnID, c.adapter, c.sendSignal, c.logger)
	c.reconciler.SetDataHandler(c.handlePeerData)
	c.stateMu.Unlock()

	c.logger.Info("[Mesh] Assigned connection id %s", msg.ConnID)
}

func (c *Client) handleRoomList(msg *signaling.Message) {
	c.stateMu.Lock()
	c.rooms = msg.Rooms
	c.stateMu.Unlock()

	if c.OnRoomList != nil {
		c.OnRoomList(msg.Rooms)
	}
}

func (c *Client) handleMembersUpdate(msg *signaling.Message) {
	c.stateMu.Lock()
	relevant := c.pendingRoom == msg.RoomID ||
		(c.current != nil && c.current.ID == msg.RoomID)
	if !relevant {
		c.stateMu.Unlock()
		return
	}

	c.pendingRoom = ""
	c.current = &RoomState{
		ID:      msg.RoomID,
		Name:    msg.RoomName,
		Members: msg.Members,
	}
	rec := c.reconciler
	c.stateMu.Unlock()

	if rec != nil {
		rec.Apply(msg.Members)
	}
	if c.OnMembers != nil {
		c.OnMembers(RoomState{ID: msg.RoomID, Name: msg.RoomName, Members: msg.Members})
	}
}

func (c *Client) handleRoomRemoved(msg *signaling.Message) {
	c.stateMu.Lock()
	kept := c.rooms[:0]
	for _, r := range c.rooms {
		if r.RoomID != msg.RoomID {
			kept = append(kept, r)
		}
	}
	c.rooms = kept

	inRemoved := c.current != nil && c.current.ID == msg.RoomID
	rec := c.reconciler
	if inRemoved {
		c.current = nil
	}
	c.stateMu.Unlock()

	if inRemoved {
		c.logger.Info("[Mesh] Current room %s was removed", msg.RoomID)
		if rec != nil {
			rec.Reset()
		}
	}
}

func (c *Client) handleSignal(msg *signaling.Message) {
	c.stateMu.Lock()
	relevant := c.current != nil && c.current.ID == msg.RoomID
	rec := c.reconciler
	c.stateMu.Unlock()

	if !relevant || rec == nil {
		c.logger.Debug("[Mesh] Signal for room %s dropped", msg.RoomID)
		return
	}
	rec.HandleSignal(msg.SenderID, msg.Signal)
}

func (c *Client) handleError(msg *signaling.Message) {
	if msg.Code == signaling.CodeAuthFailed {
		c.logger.Error("[Mesh] Session rejected: %s", msg.Message)
		c.credMu.Lock()
		c.token = ""
		c.credMu.Unlock()
		if c.OnAuthExpired != nil {
			c.OnAuthExpired()
		}
		c.Close()
		return
	}

	// Revert any optimistic room transition the server refused.
	c.stateMu.Lock()
	c.pendingRoom = ""
	c.stateMu.Unlock()

	c.logger.Warn("[Mesh] Server error (%s): %s", msg.Code, msg.Message)
	if c.OnServerError != nil {
		c.OnServerError(msg.Code, msg.Message)
	}
}

func (c *Client) handlePeerData(peerID, peerName string, data []byte) {
	var chat ChatPayload
	if err := json.Unmarshal(data, &chat); err != nil {
		c.logger.Warn("[Mesh] Bad frame from peer %s: %v", peerID, err)
		return
	}
	if chat.Sender == "" {
		chat.Sender = peerName
	}
	if c.OnChat != nil {
		c.OnChat(chat.Sender, chat.Text)
	}
}

// CreateRoom asks the server to create a room with a client-generated id.
// The transition is optimistic; a server error reverts it.
func (c *Client) CreateRoom(name string) (string, error) {
	roomID := uuid.NewString()

	c.stateMu.Lock()
	c.pendingRoom = roomID
	c.stateMu.Unlock()

	err := c.send(&signaling.Message{
		Type:     signaling.TypeCreateRoom,
		RoomID:   roomID,
		RoomName: name,
	})
	if err != nil {
		c.stateMu.Lock()
		c.pendingRoom = ""
		c.stateMu.Unlock()
		return "", err
	}
	return roomID, nil
}

// JoinRoom asks the server to add this connection to a room.
func (c *Client) JoinRoom(roomID string) error {
	c.stateMu.Lock()
	c.pendingRoom = roomID
	c.stateMu.Unlock()

	err := c.send(&signaling.Message{
		Type:   signaling.TypeJoinRoom,
		RoomID: roomID,
	})
	if err != nil {
		c.stateMu.Lock()
		c.pendingRoom = ""
		c.stateMu.Unlock()
	}
	return err
}

// LeaveRoom leaves the current room and tears down every peer link
// immediately. With deleteRoom set the server removes the room if this
// client was its last member.
func (c *Client) LeaveRoom(deleteRoom bool) error {
	c.stateMu.Lock()
	if c.current == nil {
		c.stateMu.Unlock()
		return nil
	}
	roomID := c.current.ID
	rec := c.reconciler
	c.current = nil
	c.pendingRoom = ""
	c.stateMu.Unlock()

	if rec != nil {
		rec.Reset()
	}

	return c.send(&signaling.Message{
		Type:       signaling.TypeLeaveRoom,
		RoomID:     roomID,
		DeleteChat: deleteRoom,
	})
}

// RequestRoomList asks the server for a fresh lobby snapshot.
func (c *Client) RequestRoomList() error {
	return c.send(&signaling.Message{Type: signaling.TypeRequestRoomList})
}

// SendChat fans a chat message out to every connected peer in the room.
// Being alone in the room is a success; having peers but no open link to
// any of them is not.
func (c *Client) SendChat(text string) error {
	c.stateMu.Lock()
	if c.current == nil {
		c.stateMu.Unlock()
		return fmt.Errorf("not in a room")
	}
	memberCount := len(c.current.Members)
	rec := c.reconciler
	c.stateMu.Unlock()

	c.credMu.RLock()
	sender := c.username
	c.credMu.RUnlock()

	data, err := json.Marshal(ChatPayload{Sender: sender, Text: text})
	if err != nil {
		return err
	}

	sent := 0
	if rec != nil {
		sent = rec.Broadcast(data)
	}
	if sent == 0 && memberCount > 1 {
		return fmt.Errorf("no peers connected")
	}
	return nil
}

// sendSignal relays a negotiation payload to a peer via the server.
func (c *Client) sendSignal(receiverID string, payload json.RawMessage) error {
	c.stateMu.Lock()
	roomID := ""
	if c.current != nil {
		roomID = c.current.ID
	} else if c.pendingRoom != "" {
		roomID = c.pendingRoom
	}
	c.stateMu.Unlock()

	return c.send(&signaling.Message{
		Type:       signaling.TypeSignal,
		RoomID:     roomID,
		ReceiverID: receiverID,
		Signal:     payload,
	})
}

// send writes a frame to the signaling socket
func (c *Client) send(msg *signaling.Message) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected to signaling server")
	}
	return c.conn.WriteJSON(msg)
}

// keepalive sends periodic ping messages
func (c *Client) keepalive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mutex.Lock()
			if c.conn != nil {
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Warn("[Mesh] Ping failed: %v", err)
				}
			}
			c.mutex.Unlock()
		}
	}
}

// reconnect retries the signaling connection at a fixed interval. It gives
// up only when the context is cancelled or the token has been cleared.
func (c *Client) reconnect() {
	c.reconnectMutex.Lock()
	if c.reconnecting {
		c.reconnectMutex.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMutex.Unlock()

	defer func() {
		c.reconnectMutex.Lock()
		c.reconnecting = false
		c.reconnectMutex.Unlock()
	}()

	c.mutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mutex.Unlock()

	attempt := 1
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.credMu.RLock()
		hasToken := c.token != ""
		c.credMu.RUnlock()

		if !hasToken {
			c.logger.Info("[Mesh] No session token, reconnection stopped")
			return
		}

		c.logger.Info("[Mesh] Reconnection attempt #%d...", attempt)

		if err := c.connectOnce(); err != nil {
			c.logger.Warn("[Mesh] Reconnect failed: %v (retrying in %v)", err, c.reconnectInterval)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.reconnectInterval):
			}
			attempt++
			continue
		}

		c.logger.Info("[Mesh] Reconnected on attempt #%d", attempt)
		return
	}
}

// resetRoomState drops the connection-scoped state: room membership, the
// pending transition and every peer link.
func (c *Client) resetRoomState() {
	c.stateMu.Lock()
	rec := c.reconciler
	c.reconciler = nil
	c.current = nil
	c.pendingRoom = ""
	c.connID = ""
	c.stateMu.Unlock()

	if rec != nil {
		rec.Reset()
	}
}

// Close shuts down the client
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}

	c.resetRoomState()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// ConnID returns the server-assigned connection id, or "" while offline.
func (c *Client) ConnID() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.connID
}

// Rooms returns the last received lobby snapshot.
func (c *Client) Rooms() []signaling.RoomSummary {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	out := make([]signaling.RoomSummary, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// CurrentRoom returns the room the client is in, or nil in the lobby.
func (c *Client) CurrentRoom() *RoomState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.current == nil {
		return nil
	}
	members := make(map[string]string, len(c.current.Members))
	for k, v := range c.current.Members {
		members[k] = v
	}
	return &RoomState{ID: c.current.ID, Name: c.current.Name, Members: members}
}

// IsConnected returns true if the signaling socket is up.
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.conn != nil
}
