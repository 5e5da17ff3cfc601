package signaling

import (
	"errors"
	"testing"
)

func TestParseCommandCreateRoom(t *testing.T) {
	msg, err := ParseCommand([]byte(`{"type":"create_room","roomId":"r1","roomName":"Team"}`))
	if err != nil {
		t.Fatalf("Failed to parse create_room: %v", err)
	}
	if msg.Type != TypeCreateRoom {
		t.Errorf("Expected type %s, got %s", TypeCreateRoom, msg.Type)
	}
	if msg.RoomID != "r1" || msg.RoomName != "Team" {
		t.Errorf("Unexpected fields: %+v", msg)
	}
}

func TestParseCommandCreateRoomNameBounds(t *testing.T) {
	cases := []string{
		`{"type":"create_room","roomId":"r1","roomName":"ab"}`,
		`{"type":"create_room","roomId":"r1","roomName":"0123456789012345678901234567890"}`,
		`{"type":"create_room","roomId":"r1"}`,
	}
	for _, raw := range cases {
		if _, err := ParseCommand([]byte(raw)); err == nil {
			t.Errorf("Expected room name error for %s", raw)
		}
	}
}

func TestParseCommandRegisterUserAlias(t *testing.T) {
	msg, err := ParseCommand([]byte(`{"type":"register_user","roomId":"r1"}`))
	if err != nil {
		t.Fatalf("Failed to parse register_user: %v", err)
	}
	if msg.Type != TypeJoinRoom {
		t.Errorf("Expected register_user to normalize to %s, got %s", TypeJoinRoom, msg.Type)
	}
}

func TestParseCommandSignalRequiresFields(t *testing.T) {
	if _, err := ParseCommand([]byte(`{"type":"signal","signal":{"type":"offer"}}`)); err == nil {
		t.Error("Expected error for signal without receiverId")
	}
	if _, err := ParseCommand([]byte(`{"type":"signal","receiverId":"c2"}`)); err == nil {
		t.Error("Expected error for signal without payload")
	}

	msg, err := ParseCommand([]byte(`{"type":"signal","receiverId":"c2","signal":{"type":"offer","sdp":"x"}}`))
	if err != nil {
		t.Fatalf("Failed to parse signal: %v", err)
	}
	if msg.ReceiverID != "c2" {
		t.Errorf("Expected receiver c2, got %s", msg.ReceiverID)
	}
}

func TestParseCommandLeaveRoomAllowsEmptyRoom(t *testing.T) {
	msg, err := ParseCommand([]byte(`{"type":"leave_room","deleteChat":true}`))
	if err != nil {
		t.Fatalf("Failed to parse leave_room: %v", err)
	}
	if !msg.DeleteChat {
		t.Error("Expected deleteChat to be true")
	}
}

func TestParseCommandUnknownType(t *testing.T) {
	_, err := ParseCommand([]byte(`{"type":"chat_message"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestParseCommandInvalidJSON(t *testing.T) {
	if _, err := ParseCommand([]byte(`{not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
