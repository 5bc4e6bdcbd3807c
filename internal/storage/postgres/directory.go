package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/officeverse/internal/directory"
)

// insertAttempts bounds retries when a concurrent insert claims the same join code.
const insertAttempts = 3

// Directory is a directory.Directory backed by PostgreSQL. Membership lives in
// players.room_id and readiness in room_ready; capacity checks run inside a
// transaction holding the room row lock.
type Directory struct {
	db    *pgxpool.Pool
	codes *directory.JoinCodes
}

var _ directory.Directory = (*Directory)(nil)

// NewDirectory creates a Directory on db. A nil codes uses crypto-random join codes.
//
// Precondition: db must be a valid, open connection pool with migrations applied.
func NewDirectory(db *pgxpool.Pool, codes *directory.JoinCodes) *Directory {
	if codes == nil {
		codes = directory.NewJoinCodes(nil)
	}
	return &Directory{db: db, codes: codes}
}

// CreatePlayer inserts a player. A blank name becomes directory.DefaultPlayerName.
func (d *Directory) CreatePlayer(ctx context.Context, name string) (directory.Player, error) {
	if name == "" {
		name = directory.DefaultPlayerName
	}
	p := directory.Player{ID: uuid.NewString(), Name: name}
	err := d.db.QueryRow(ctx,
		`INSERT INTO players (id, name) VALUES ($1, $2) RETURNING created_at`,
		p.ID, p.Name,
	).Scan(&p.CreatedAt)
	if err != nil {
		return directory.Player{}, fmt.Errorf("inserting player: %w", err)
	}
	return p, nil
}

// GetPlayer returns the player with the given id.
func (d *Directory) GetPlayer(ctx context.Context, id string) (directory.Player, error) {
	var p directory.Player
	err := d.db.QueryRow(ctx,
		`SELECT id, name, COALESCE(room_id, ''), created_at FROM players WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.RoomID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return directory.Player{}, fmt.Errorf("%w: %s", directory.ErrPlayerNotFound, id)
	}
	if err != nil {
		return directory.Player{}, fmt.Errorf("querying player: %w", err)
	}
	return p, nil
}

// CreateRoom inserts a room under a freshly generated join code.
//
// Postcondition: Returns the stored room, an error wrapping
// directory.ErrInvalidRoom, or directory.ErrJoinCodeExhausted.
func (d *Directory) CreateRoom(ctx context.Context, spec directory.RoomSpec) (directory.Room, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return directory.Room{}, err
	}

	for attempt := 0; ; attempt++ {
		code, err := d.codes.Generate(ctx, d.codeTaken)
		if err != nil {
			return directory.Room{}, err
		}
		r := directory.Room{
			ID:         uuid.NewString(),
			Name:       spec.Name,
			JoinCode:   code,
			MaxPlayers: spec.MaxPlayers,
			IsPrivate:  spec.IsPrivate,
			HostID:     spec.HostID,
		}
		err = d.db.QueryRow(ctx,
			`INSERT INTO rooms (id, name, join_code, max_players, is_private, host_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING created_at`,
			r.ID, r.Name, r.JoinCode, r.MaxPlayers, r.IsPrivate, r.HostID,
		).Scan(&r.CreatedAt)
		if err == nil {
			return r, nil
		}
		if !isDuplicateKeyError(err) || attempt+1 >= insertAttempts {
			return directory.Room{}, fmt.Errorf("inserting room: %w", err)
		}
	}
}

func (d *Directory) codeTaken(ctx context.Context, code string) (bool, error) {
	var taken bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE join_code = $1)`, code).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("checking join code: %w", err)
	}
	return taken, nil
}

const roomColumns = `r.id, r.name, r.join_code, r.max_players, r.is_private, r.host_id, r.created_at,
	(SELECT COUNT(*) FROM players p WHERE p.room_id = r.id)`

func scanRoom(row pgx.Row) (directory.Room, error) {
	var r directory.Room
	err := row.Scan(&r.ID, &r.Name, &r.JoinCode, &r.MaxPlayers, &r.IsPrivate, &r.HostID, &r.CreatedAt, &r.PlayerCount)
	return r, err
}

// GetRoom returns the room with the given id.
func (d *Directory) GetRoom(ctx context.Context, id string) (directory.Room, error) {
	r, err := scanRoom(d.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return directory.Room{}, fmt.Errorf("%w: %s", directory.ErrRoomNotFound, id)
	}
	if err != nil {
		return directory.Room{}, fmt.Errorf("querying room: %w", err)
	}
	return r, nil
}

// GetRoomByJoinCode resolves a join code case-insensitively.
func (d *Directory) GetRoomByJoinCode(ctx context.Context, code string) (directory.Room, error) {
	code = directory.NormalizeJoinCode(code)
	r, err := scanRoom(d.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.join_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return directory.Room{}, fmt.Errorf("%w: join code %q", directory.ErrRoomNotFound, code)
	}
	if err != nil {
		return directory.Room{}, fmt.Errorf("querying room by join code: %w", err)
	}
	return r, nil
}

// AddPlayerToRoom places the player in the room, leaving any previous room.
//
// Postcondition: The room never holds more than max_players members, even
// under concurrent joins.
func (d *Directory) AddPlayerToRoom(ctx context.Context, roomID, playerID string) error {
	return pgx.BeginFunc(ctx, d.db, func(tx pgx.Tx) error {
		var maxPlayers int
		err := tx.QueryRow(ctx, `SELECT max_players FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&maxPlayers)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", directory.ErrRoomNotFound, roomID)
		}
		if err != nil {
			return fmt.Errorf("locking room: %w", err)
		}

		var current string
		err = tx.QueryRow(ctx, `SELECT COALESCE(room_id, '') FROM players WHERE id = $1 FOR UPDATE`, playerID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", directory.ErrPlayerNotFound, playerID)
		}
		if err != nil {
			return fmt.Errorf("locking player: %w", err)
		}
		if current == roomID {
			return nil
		}

		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM players WHERE room_id = $1`, roomID).Scan(&count); err != nil {
			return fmt.Errorf("counting members: %w", err)
		}
		if count >= maxPlayers {
			return fmt.Errorf("%w: %s holds %d", directory.ErrRoomFull, roomID, maxPlayers)
		}

		if current != "" {
			if err := removeTx(ctx, tx, current, playerID); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`UPDATE players SET room_id = $1, join_seq = nextval('player_join_seq') WHERE id = $2`,
			roomID, playerID)
		if err != nil {
			return fmt.Errorf("joining room: %w", err)
		}
		return nil
	})
}

// RemovePlayerFromRoom removes the player and deletes the room once empty.
func (d *Directory) RemovePlayerFromRoom(ctx context.Context, roomID, playerID string) error {
	return pgx.BeginFunc(ctx, d.db, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT TRUE FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", directory.ErrRoomNotFound, roomID)
		}
		if err != nil {
			return fmt.Errorf("locking room: %w", err)
		}
		return removeTx(ctx, tx, roomID, playerID)
	})
}

func removeTx(ctx context.Context, tx pgx.Tx, roomID, playerID string) error {
	if _, err := tx.Exec(ctx,
		`UPDATE players SET room_id = NULL, join_seq = NULL WHERE id = $1 AND room_id = $2`,
		playerID, roomID); err != nil {
		return fmt.Errorf("leaving room: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM room_ready WHERE room_id = $1 AND player_id = $2`, roomID, playerID); err != nil {
		return fmt.Errorf("clearing readiness: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM rooms r WHERE r.id = $1 AND NOT EXISTS (SELECT 1 FROM players p WHERE p.room_id = r.id)`,
		roomID); err != nil {
		return fmt.Errorf("deleting empty room: %w", err)
	}
	return nil
}

// ListPlayersInRoom returns members in join order.
func (d *Directory) ListPlayersInRoom(ctx context.Context, roomID string) ([]directory.Member, error) {
	if _, err := d.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := d.db.Query(ctx,
		`SELECT p.id, p.name, COALESCE(rr.ready, FALSE)
		 FROM players p
		 LEFT JOIN room_ready rr ON rr.room_id = p.room_id AND rr.player_id = p.id
		 WHERE p.room_id = $1
		 ORDER BY p.join_seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (directory.Member, error) {
		var m directory.Member
		err := row.Scan(&m.PlayerID, &m.Name, &m.Ready)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning members: %w", err)
	}
	return members, nil
}

// IsHost reports whether playerID hosts roomID. An unknown room is not hosted by anyone.
func (d *Directory) IsHost(ctx context.Context, roomID, playerID string) (bool, error) {
	if playerID == "" {
		return false, nil
	}
	var host bool
	err := d.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1 AND host_id = $2)`, roomID, playerID,
	).Scan(&host)
	if err != nil {
		return false, fmt.Errorf("checking host: %w", err)
	}
	return host, nil
}

// SetReady records a member's readiness.
func (d *Directory) SetReady(ctx context.Context, roomID, playerID string, ready bool) error {
	tag, err := d.db.Exec(ctx,
		`INSERT INTO room_ready (room_id, player_id, ready)
		 SELECT p.room_id, p.id, $3 FROM players p WHERE p.id = $2 AND p.room_id = $1
		 ON CONFLICT (room_id, player_id) DO UPDATE SET ready = EXCLUDED.ready`,
		roomID, playerID, ready)
	if err != nil {
		return fmt.Errorf("setting readiness: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := d.GetRoom(ctx, roomID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s in %s", directory.ErrNotInRoom, playerID, roomID)
	}
	return nil
}

// ListRooms returns every room, oldest first.
func (d *Directory) ListRooms(ctx context.Context) ([]directory.Room, error) {
	rows, err := d.db.Query(ctx, `SELECT `+roomColumns+` FROM rooms r ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	rooms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (directory.Room, error) {
		return scanRoom(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning rooms: %w", err)
	}
	return rooms, nil
}

// Ping checks that the database is reachable.
func (d *Directory) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.db.Ping(ctx)
}
