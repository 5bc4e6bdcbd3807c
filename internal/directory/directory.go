// Package directory defines the durable player and room directory consumed by
// the real-time channels, together with an in-memory implementation.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Room defaults applied when a create request omits them.
const (
	DefaultMaxPlayers = 20
	DefaultPlayerName = "Anonymous"
)

var (
	// ErrPlayerNotFound is returned when a player id does not resolve.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrRoomNotFound is returned when a room id or join code does not resolve.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when a room is at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrNotInRoom is returned when a room-scoped update names a non-member.
	ErrNotInRoom = errors.New("player is not in room")
	// ErrInvalidRoom is returned when a room spec fails validation.
	ErrInvalidRoom = errors.New("invalid room")
)

// Player is a registered participant.
type Player struct {
	ID        string
	Name      string
	RoomID    string
	CreatedAt time.Time
}

// Room is a bounded group of players addressable by id or join code.
type Room struct {
	ID          string
	Name        string
	JoinCode    string
	MaxPlayers  int
	IsPrivate   bool
	HostID      string
	PlayerCount int
	CreatedAt   time.Time
}

// Member is one player's membership in a room.
type Member struct {
	PlayerID string
	Name     string
	Ready    bool
}

// RoomSpec describes a room to create.
type RoomSpec struct {
	Name       string
	MaxPlayers int
	IsPrivate  bool
	HostID     string
}

// Normalize applies defaults and validates the spec.
//
// Postcondition: MaxPlayers is positive; an error wrapping ErrInvalidRoom is
// returned for a blank name or negative capacity.
func (s RoomSpec) Normalize() (RoomSpec, error) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return s, errorf(ErrInvalidRoom, "name must not be empty")
	}
	if s.MaxPlayers < 0 {
		return s, errorf(ErrInvalidRoom, "max players must be positive, got %d", s.MaxPlayers)
	}
	if s.MaxPlayers == 0 {
		s.MaxPlayers = DefaultMaxPlayers
	}
	return s, nil
}

// NormalizeJoinCode canonicalises a user-typed join code.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Directory stores players and rooms.
// Implementations must be safe for concurrent use.
type Directory interface {
	// CreatePlayer registers a player with the given display name.
	CreatePlayer(ctx context.Context, name string) (Player, error)
	// GetPlayer returns ErrPlayerNotFound for an unknown id.
	GetPlayer(ctx context.Context, id string) (Player, error)
	// CreateRoom stores a room with a freshly generated unique join code.
	CreateRoom(ctx context.Context, spec RoomSpec) (Room, error)
	// GetRoom returns ErrRoomNotFound for an unknown id.
	GetRoom(ctx context.Context, id string) (Room, error)
	// GetRoomByJoinCode resolves a join code case-insensitively.
	GetRoomByJoinCode(ctx context.Context, code string) (Room, error)
	// AddPlayerToRoom places the player in the room, leaving any previous room.
	// Adding an existing member succeeds. Errors: ErrRoomNotFound,
	// ErrPlayerNotFound, ErrRoomFull.
	AddPlayerToRoom(ctx context.Context, roomID, playerID string) error
	// RemovePlayerFromRoom removes the player and deletes the room once empty.
	RemovePlayerFromRoom(ctx context.Context, roomID, playerID string) error
	// ListPlayersInRoom returns members in join order.
	ListPlayersInRoom(ctx context.Context, roomID string) ([]Member, error)
	// IsHost reports whether playerID hosts the room. An unknown room is not hosted by anyone.
	IsHost(ctx context.Context, roomID, playerID string) (bool, error)
	// SetReady records a member's readiness.
	SetReady(ctx context.Context, roomID, playerID string, ready bool) error
	// ListRooms returns every room, oldest first.
	ListRooms(ctx context.Context) ([]Room, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
