// Package presence fans movement and appearance updates out to everyone in a room.
package presence

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/channel"
	"github.com/cory-johannsen/officeverse/internal/registry"
	"github.com/cory-johannsen/officeverse/internal/wire"
)

// Options tunes presence fan-out.
type Options struct {
	// ExcludeSender suppresses the echo of a movement back to its sender.
	ExcludeSender bool
}

// Handler implements channel.Handler for movement frames.
type Handler struct {
	reg    *registry.Registry[channel.Identity]
	logger *zap.Logger
	opts   Options
}

// NewHandler creates a presence Handler.
//
// Precondition: logger must be non-nil.
func NewHandler(logger *zap.Logger, opts Options) *Handler {
	return &Handler{
		reg:    registry.New[channel.Identity](),
		logger: logger.Named("presence"),
		opts:   opts,
	}
}

// Connect is a no-op; a connection joins a room with its first valid frame.
func (h *Handler) Connect(peer registry.Peer) {
	channel.ConnLogger(h.logger, peer).Debug("connected")
}

// HandleMessage parses a movement frame, binds the sender to its room and
// rebroadcasts the update.
func (h *Handler) HandleMessage(_ context.Context, peer registry.Peer, frame []byte) channel.Outcome {
	m, err := wire.ParseMovement(string(frame))
	if err != nil {
		reply := wire.ReplyInvalidFormat
		if errors.Is(err, wire.ErrMovementNumbers) {
			reply = wire.ReplyInvalidNumbers
		}
		channel.ConnLogger(h.logger, peer).Debug("rejected movement", zap.Error(err))
		channel.Send(h.logger, peer, []byte(reply))
		return channel.OutcomeRejected
	}

	// Re-binding is idempotent; a frame naming another room moves the connection.
	if room, ok := h.reg.RoomOf(peer.ID()); !ok || room != m.Room {
		prev, had := h.reg.Bind(peer, m.Room, channel.Identity{PlayerID: m.Player, Name: m.Name})
		if had && prev.Room != "" && prev.Room != m.Room {
			channel.Broadcast(h.logger, h.reg.MembersOf(prev.Room), []byte(wire.PlayerLeft(prev.Identity.PlayerID)), "")
		}
	}

	var skip registry.ConnID
	if h.opts.ExcludeSender {
		skip = peer.ID()
	}
	channel.Broadcast(h.logger, h.reg.MembersOf(m.Room), []byte(m.Broadcast()), skip)
	return channel.OutcomeHandled
}

// Disconnect unbinds the connection and tells the remaining room members.
func (h *Handler) Disconnect(peer registry.Peer) {
	b, ok := h.reg.Unbind(peer.ID())
	if !ok {
		return
	}
	remaining := h.reg.MembersOf(b.Room)
	if len(remaining) > 0 {
		channel.Broadcast(h.logger, remaining, []byte(wire.PlayerLeft(b.Identity.PlayerID)), "")
	}
	channel.ConnLogger(h.logger, peer).Debug("left room",
		zap.String("room_id", b.Room),
		zap.String("player_id", b.Identity.PlayerID),
		zap.Int("remaining", len(remaining)),
	)
}

// MembersOf returns a snapshot of the connections in room.
func (h *Handler) MembersOf(room string) []registry.Member[channel.Identity] {
	return h.reg.MembersOf(room)
}
