package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memRoom struct {
	room    Room
	players []string
	ready   map[string]bool
}

// Memory is an in-process Directory. All methods are safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	codes   *JoinCodes
	now     func() time.Time
	players map[string]*Player
	rooms   map[string]*memRoom
	byCode  map[string]string
}

// NewMemory creates an empty in-memory Directory.
// A nil codes uses a crypto-backed generator.
func NewMemory(codes *JoinCodes) *Memory {
	if codes == nil {
		codes = NewJoinCodes(nil)
	}
	return &Memory{
		codes:   codes,
		now:     time.Now,
		players: make(map[string]*Player),
		rooms:   make(map[string]*memRoom),
		byCode:  make(map[string]string),
	}
}

// CreatePlayer registers a player. A blank name becomes DefaultPlayerName.
func (m *Memory) CreatePlayer(_ context.Context, name string) (Player, error) {
	if name == "" {
		name = DefaultPlayerName
	}
	p := &Player{ID: uuid.NewString(), Name: name, CreatedAt: m.now()}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[p.ID] = p
	return *p, nil
}

// GetPlayer returns the player with the given id.
func (m *Memory) GetPlayer(_ context.Context, id string) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return Player{}, errorf(ErrPlayerNotFound, "%s", id)
	}
	return *p, nil
}

// CreateRoom stores a room with a unique join code.
func (m *Memory) CreateRoom(ctx context.Context, spec RoomSpec) (Room, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	code, err := m.codes.Generate(ctx, func(_ context.Context, code string) (bool, error) {
		_, used := m.byCode[code]
		return used, nil
	})
	if err != nil {
		return Room{}, err
	}

	r := &memRoom{
		room: Room{
			ID:         uuid.NewString(),
			Name:       spec.Name,
			JoinCode:   code,
			MaxPlayers: spec.MaxPlayers,
			IsPrivate:  spec.IsPrivate,
			HostID:     spec.HostID,
			CreatedAt:  m.now(),
		},
		ready: make(map[string]bool),
	}
	m.rooms[r.room.ID] = r
	m.byCode[code] = r.room.ID
	return r.snapshot(), nil
}

// GetRoom returns the room with the given id.
func (m *Memory) GetRoom(_ context.Context, id string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, errorf(ErrRoomNotFound, "%s", id)
	}
	return r.snapshot(), nil
}

// GetRoomByJoinCode resolves a join code.
func (m *Memory) GetRoomByJoinCode(_ context.Context, code string) (Room, error) {
	code = NormalizeJoinCode(code)

	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCode[code]
	if !ok {
		return Room{}, errorf(ErrRoomNotFound, "join code %q", code)
	}
	return m.rooms[id].snapshot(), nil
}

// AddPlayerToRoom places the player in the room.
func (m *Memory) AddPlayerToRoom(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return errorf(ErrRoomNotFound, "%s", roomID)
	}
	p, ok := m.players[playerID]
	if !ok {
		return errorf(ErrPlayerNotFound, "%s", playerID)
	}
	if p.RoomID == roomID {
		return nil
	}
	if len(r.players) >= r.room.MaxPlayers {
		return errorf(ErrRoomFull, "%s holds %d", roomID, r.room.MaxPlayers)
	}
	if p.RoomID != "" {
		m.removeLocked(p.RoomID, playerID)
	}
	r.players = append(r.players, playerID)
	p.RoomID = roomID
	return nil
}

// RemovePlayerFromRoom removes the player and deletes the room once empty.
func (m *Memory) RemovePlayerFromRoom(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return errorf(ErrRoomNotFound, "%s", roomID)
	}
	m.removeLocked(roomID, playerID)
	return nil
}

func (m *Memory) removeLocked(roomID, playerID string) {
	r, ok := m.rooms[roomID]
	if !ok {
		return
	}
	for i, id := range r.players {
		if id == playerID {
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}
	delete(r.ready, playerID)
	if p, ok := m.players[playerID]; ok && p.RoomID == roomID {
		p.RoomID = ""
	}
	if len(r.players) == 0 {
		delete(m.byCode, r.room.JoinCode)
		delete(m.rooms, roomID)
	}
}

// ListPlayersInRoom returns members in join order.
func (m *Memory) ListPlayersInRoom(_ context.Context, roomID string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, errorf(ErrRoomNotFound, "%s", roomID)
	}
	out := make([]Member, 0, len(r.players))
	for _, id := range r.players {
		out = append(out, Member{PlayerID: id, Name: m.players[id].Name, Ready: r.ready[id]})
	}
	return out, nil
}

// IsHost reports whether playerID hosts roomID.
func (m *Memory) IsHost(_ context.Context, roomID, playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return false, nil
	}
	return playerID != "" && r.room.HostID == playerID, nil
}

// SetReady records a member's readiness.
func (m *Memory) SetReady(_ context.Context, roomID, playerID string, ready bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return errorf(ErrRoomNotFound, "%s", roomID)
	}
	if p, ok := m.players[playerID]; !ok || p.RoomID != roomID {
		return errorf(ErrNotInRoom, "%s in %s", playerID, roomID)
	}
	r.ready[playerID] = ready
	return nil
}

// ListRooms returns every room, oldest first.
func (m *Memory) ListRooms(_ context.Context) ([]Room, error) {
	m.mu.Lock()
	out := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (r *memRoom) snapshot() Room {
	out := r.room
	out.PlayerCount = len(r.players)
	return out
}
