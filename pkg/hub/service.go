package hub

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tphan267/meshtalk/pkg/config"
	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/providers"
	"github.com/tphan267/meshtalk/pkg/signaling"
)

// Service runs the signaling WebSocket endpoint as a background provider.
// It owns its own HTTP listener, separate from the REST API server.
type Service struct {
	registry *Registry
	rooms    *RoomStore
	hub      *Hub
	auth     providers.AuthProvider
	cfg      *config.Config
	log      *logger.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewService creates the signaling hub service
func NewService() *Service {
	return &Service{}
}

// Name returns the service name
func (s *Service) Name() string {
	return "hub"
}

// Initialize wires the hub to the auth provider and configuration
func (s *Service) Initialize(ctx context.Context, reg *providers.Registry) error {
	cfg, ok := reg.Config().(*config.Config)
	if !ok {
		return fmt.Errorf("hub service requires *config.Config")
	}

	auth, err := reg.GetAuth()
	if err != nil {
		return fmt.Errorf("hub service requires auth provider: %w", err)
	}

	s.cfg = cfg
	s.auth = auth
	s.log = reg.Logger()
	s.registry = NewRegistry(s.log)
	s.rooms = NewRoomStore()
	s.hub = New(s.registry, s.rooms, s.log)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.AllowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == cfg.AllowedOrigin
		},
	}

	return nil
}

// IsRunnable returns true as the hub runs its own listener
func (s *Service) IsRunnable() bool {
	return true
}

// Start runs the signaling listener until Stop is called
func (s *Service) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/signal", s.handleWS)

	s.server = &http.Server{
		Addr:    s.cfg.SignalAddr,
		Handler: mux,
	}

	s.log.Info("Signaling hub listening on %s", s.cfg.SignalAddr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts down the signaling listener
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// RegisterAPIRoutes is a no-op; the hub serves its own endpoint
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	return nil
}

// Hub exposes the command state machine
func (s *Service) Hub() *Hub {
	return s.hub
}

// Registry exposes the connection registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// Rooms exposes the room store
func (s *Service) Rooms() *RoomStore {
	return s.rooms
}

// handleWS upgrades the connection, authenticates the session token and
// hands the socket to the hub. An invalid token gets a single error frame
// before the transport is closed.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed: %v", err)
		return
	}

	token := r.URL.Query().Get("token")
	identity, err := s.auth.ValidateToken(r.Context(), token)
	if err != nil {
		s.log.Warn("rejected signaling connection: %v", err)
		conn.WriteJSON(signaling.NewError(signaling.CodeAuthFailed, "authentication failed"))
		conn.Close()
		return
	}

	wc := newWSConn(conn, s.log)
	go wc.writePump()

	connID, err := s.registry.Register(wc, identity.Username)
	if err != nil {
		wc.Close()
		return
	}

	s.log.Info("connection %s authenticated as %s", connID, identity.Username)
	s.hub.HandleConnect(connID)

	wc.readPump(s.hub, connID)
	s.hub.HandleDisconnect(connID)
}

var _ providers.Service = (*Service)(nil)
