package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Lifecycle and zone envelope types.
const (
	TypeJoin              = "join"
	TypeSubscribeRoomList = "subscribeRoomList"
	TypeCreateRoom        = "createRoom"
	TypeJoinRoom          = "joinRoom"
	TypeJoinRoomByCode    = "joinRoomByCode"
	TypeLeaveRoom         = "leaveRoom"
	TypeSetReady          = "setReady"
	TypeStartGame         = "startGame"
	TypePing              = "ping"
	TypeEnterZone         = "enterZone"

	TypeRegistered         = "registered"
	TypeRoomListUpdated    = "roomListUpdated"
	TypeRoomCreated        = "roomCreated"
	TypeJoinedRoom         = "joinedRoom"
	TypePlayerJoinedRoom   = "playerJoinedRoom"
	TypePlayerLeftRoom     = "playerLeftRoom"
	TypePlayerReadyChanged = "playerReadyChanged"
	TypeGameStarting       = "gameStarting"
	TypeGameStarted        = "gameStarted"
	TypePong               = "pong"
	TypeError              = "error"
)

// ErrMalformedEnvelope is returned when a frame is not a JSON envelope with a type.
var ErrMalformedEnvelope = errors.New("wire: malformed envelope")

// Envelope is the `{"type": ..., "data": ...}` frame shape.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a frame into its type and raw data.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// Bind decodes the envelope data into v. Absent data leaves v untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedEnvelope, e.Type, err)
	}
	return nil
}

// Encode renders an outbound envelope. A nil data omits the data member.
func Encode(typ string, data any) ([]byte, error) {
	out := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: typ, Data: data}
	return json.Marshal(out)
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Message string `json:"message"`
}

// ID is an identifier that clients may send as a JSON string or number.
type ID string

// UnmarshalJSON accepts `"abc"`, `42` and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Inbound lifecycle payloads.
type (
	JoinRequest struct {
		PlayerName *string `json:"playerName"`
	}
	CreateRoomRequest struct {
		RoomName   string `json:"roomName"`
		MaxPlayers *int   `json:"maxPlayers"`
		IsPrivate  *bool  `json:"isPrivate"`
	}
	RoomRequest struct {
		RoomID ID `json:"roomId"`
	}
	JoinByCodeRequest struct {
		JoinCode string `json:"joinCode"`
	}
	SetReadyRequest struct {
		RoomID ID   `json:"roomId"`
		Ready  bool `json:"ready"`
	}
)

// Inbound zone payloads.
type (
	ZoneJoinRequest struct {
		PlayerID ID `json:"playerId"`
		RoomID   ID `json:"roomId"`
	}
	EnterZoneRequest struct {
		ZoneID string `json:"zoneId"`
		Prompt string `json:"prompt"`
	}
)

// RoomView is the client representation of a room.
type RoomView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxPlayers  int    `json:"maxPlayers"`
	PlayerCount int    `json:"playerCount"`
	IsPrivate   bool   `json:"isPrivate"`
	JoinCode    string `json:"joinCode"`
	HostID      string `json:"hostId,omitempty"`
}

// PlayerView is the client representation of a room member.
type PlayerView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsReady bool   `json:"isReady"`
}

// Outbound lifecycle payloads.
type (
	RegisteredData struct {
		PlayerID string `json:"playerId"`
	}
	RoomCreatedData struct {
		Room RoomView `json:"room"`
	}
	JoinedRoomData struct {
		Room    RoomView     `json:"room"`
		Players []PlayerView `json:"players"`
	}
	PlayerJoinedRoomData struct {
		PlayerID   string `json:"playerId"`
		PlayerName string `json:"playerName"`
	}
	PlayerLeftRoomData struct {
		PlayerID string `json:"playerId"`
	}
	PlayerReadyChangedData struct {
		PlayerID string `json:"playerId"`
		IsReady  bool   `json:"isReady"`
	}
	GameStartingData struct {
		Countdown int `json:"countdown"`
	}
)
