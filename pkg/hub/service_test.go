package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tphan267/meshtalk/pkg/config"
	"github.com/tphan267/meshtalk/pkg/logger"
	"github.com/tphan267/meshtalk/pkg/providers"
	"github.com/tphan267/meshtalk/pkg/providers/auth"
	"github.com/tphan267/meshtalk/pkg/signaling"
	"github.com/tphan267/meshtalk/pkg/storage"
)

func setupService(t *testing.T) (*Service, providers.AuthProvider, *httptest.Server) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	testLogger := logger.NewDefault("TEST")
	testLogger.SetLevel(logger.ErrorLevel)
	cfg := &config.Config{AllowedOrigin: "*"}

	registry := providers.NewRegistry(store, testLogger, cfg)
	registry.MustRegister(auth.NewService())

	svc := NewService()
	registry.MustRegister(svc)

	if err := registry.InitializeAll(context.Background()); err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}

	authProvider, err := registry.GetAuth()
	if err != nil {
		t.Fatalf("Failed to get auth provider: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(svc.handleWS))
	t.Cleanup(ts.Close)

	return svc, authProvider, ts
}

func dialSignaling(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial signaling endpoint: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *signaling.Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg signaling.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return &msg
}

func registerAndLogin(t *testing.T, authProvider providers.AuthProvider, username string) string {
	t.Helper()

	ctx := context.Background()
	if _, err := authProvider.Register(ctx, username, "secret123"); err != nil {
		t.Fatalf("Failed to register %s: %v", username, err)
	}
	token, _, err := authProvider.Authenticate(ctx, username, "secret123")
	if err != nil {
		t.Fatalf("Failed to authenticate %s: %v", username, err)
	}
	return token
}

func TestServiceAcceptsValidToken(t *testing.T) {
	svc, authProvider, ts := setupService(t)

	token := registerAndLogin(t, authProvider, "alice")
	conn := dialSignaling(t, ts, token)

	yourID := readFrame(t, conn)
	if yourID.Type != signaling.TypeYourID {
		t.Fatalf("Expected your_id first, got %s", yourID.Type)
	}
	if yourID.ConnID == "" || yourID.DisplayName != "alice" {
		t.Errorf("Unexpected your_id: %+v", yourID)
	}

	list := readFrame(t, conn)
	if list.Type != signaling.TypeRoomList {
		t.Errorf("Expected room_list second, got %s", list.Type)
	}

	if svc.Registry().Count() != 1 {
		t.Errorf("Expected one registered connection, got %d", svc.Registry().Count())
	}
}

func TestServiceRejectsInvalidToken(t *testing.T) {
	_, _, ts := setupService(t)

	conn := dialSignaling(t, ts, "bogus")

	errMsg := readFrame(t, conn)
	if errMsg.Type != signaling.TypeError || errMsg.Code != signaling.CodeAuthFailed {
		t.Fatalf("Expected auth_failed error, got %+v", errMsg)
	}

	// The server closes the transport after the error frame.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var discard signaling.Message
	if err := conn.ReadJSON(&discard); err == nil {
		t.Error("Expected the connection to be closed after auth failure")
	}
}

func TestServiceRoundTrip(t *testing.T) {
	svc, authProvider, ts := setupService(t)

	aliceConn := dialSignaling(t, ts, registerAndLogin(t, authProvider, "alice"))
	readFrame(t, aliceConn) // your_id
	readFrame(t, aliceConn) // room_list

	err := aliceConn.WriteJSON(&signaling.Message{
		Type:     signaling.TypeCreateRoom,
		RoomID:   "r1",
		RoomName: "Team",
	})
	if err != nil {
		t.Fatalf("Failed to send create_room: %v", err)
	}

	sawUpdate := false
	for i := 0; i < 2; i++ {
		msg := readFrame(t, aliceConn)
		if msg.Type == signaling.TypeMembersUpdate {
			sawUpdate = true
			if msg.RoomID != "r1" || msg.RoomName != "Team" {
				t.Errorf("Unexpected membership update: %+v", msg)
			}
		}
	}
	if !sawUpdate {
		t.Error("Expected a membership update after create_room")
	}

	if svc.Rooms().Len() != 1 {
		t.Errorf("Expected one room on the server, got %d", svc.Rooms().Len())
	}
}

func TestServiceDisconnectLeavesRoom(t *testing.T) {
	svc, authProvider, ts := setupService(t)

	conn := dialSignaling(t, ts, registerAndLogin(t, authProvider, "alice"))
	readFrame(t, conn)
	readFrame(t, conn)

	if err := conn.WriteJSON(&signaling.Message{Type: signaling.TypeCreateRoom, RoomID: "r1", RoomName: "Team"}); err != nil {
		t.Fatalf("Failed to send create_room: %v", err)
	}
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Registry().Count() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if svc.Registry().Count() != 0 {
		t.Fatal("Expected the connection to be deregistered")
	}

	// The room survives its last member dropping.
	if svc.Rooms().Len() != 1 {
		t.Errorf("Expected the room to survive the disconnect, got %d", svc.Rooms().Len())
	}
	_, members, ok := svc.Rooms().Members("r1")
	if !ok || len(members) != 0 {
		t.Errorf("Expected an empty room, got %v", members)
	}
}
