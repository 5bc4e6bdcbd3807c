// Package wire parses and formats the frames exchanged on the real-time
// channels: positional colon-delimited text for movement and chat, and a
// JSON envelope for room lifecycle and zone events.
package wire

import (
	"errors"
	"strconv"
	"strings"
)

// Separator delimits positional fields.
const Separator = ":"

// Movement defaults applied when trailing fields are omitted.
const (
	DefaultName = "Unknown"
	DefaultSkin = "0xffffff"
	DefaultAnim = "idle"
	DefaultFlip = "0"
)

// Replies sent back to the sender of a rejected movement frame.
const (
	ReplyInvalidFormat  = "Invalid format. Use roomId:playerId:x:y[:name][:skin][:anim][:flip]"
	ReplyInvalidNumbers = "Invalid numbers"
)

var (
	// ErrMovementFormat is returned when a movement frame has the wrong field count.
	ErrMovementFormat = errors.New("movement: invalid field count")
	// ErrMovementNumbers is returned when x or y is not an integer.
	ErrMovementNumbers = errors.New("movement: invalid coordinates")
)

// Movement is one position/appearance update.
type Movement struct {
	Room   string
	Player string
	X      int
	Y      int
	Name   string
	Skin   string
	Anim   string
	Flip   string
}

// ParseMovement parses `room:player:x:y[:name][:skin][:anim][:flip]`.
//
// Precondition: none; any string is accepted.
// Postcondition: Returns a Movement with defaults filled in, or ErrMovementFormat
// when the field count is outside [4,8] or an id is empty, or ErrMovementNumbers
// when x or y does not parse as an integer.
func ParseMovement(line string) (Movement, error) {
	fields := trimTrailingEmpty(strings.Split(line, Separator))
	if len(fields) < 4 || len(fields) > 8 {
		return Movement{}, ErrMovementFormat
	}
	if fields[0] == "" || fields[1] == "" {
		return Movement{}, ErrMovementFormat
	}

	x, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Movement{}, ErrMovementNumbers
	}
	y, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return Movement{}, ErrMovementNumbers
	}

	m := Movement{
		Room:   fields[0],
		Player: fields[1],
		X:      x,
		Y:      y,
		Name:   DefaultName,
		Skin:   DefaultSkin,
		Anim:   DefaultAnim,
		Flip:   DefaultFlip,
	}
	optional := []*string{&m.Name, &m.Skin, &m.Anim, &m.Flip}
	for i, f := range fields[4:] {
		*optional[i] = f
	}
	return m, nil
}

// Broadcast formats the movement as the frame fanned out to room peers.
func (m Movement) Broadcast() string {
	return Join("Broadcast", m.Player, strconv.Itoa(m.X), strconv.Itoa(m.Y), m.Name, m.Skin, m.Anim, m.Flip)
}

// PlayerLeft formats the departure notice for player.
func PlayerLeft(player string) string {
	return Join("PlayerLeft", player)
}

// Join concatenates fields with Separator.
func Join(fields ...string) string {
	return strings.Join(fields, Separator)
}

// trimTrailingEmpty drops empty trailing fields so a frame ending in a
// separator has the same arity as one without it.
func trimTrailingEmpty(fields []string) []string {
	n := len(fields)
	for n > 0 && fields[n-1] == "" {
		n--
	}
	return fields[:n]
}
