// Package zone tracks which connections are present in a room for ambient
// zone events. Entering a zone is observed and logged only.
package zone

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/channel"
	"github.com/cory-johannsen/officeverse/internal/directory"
	"github.com/cory-johannsen/officeverse/internal/registry"
	"github.com/cory-johannsen/officeverse/internal/wire"
	"github.com/cory-johannsen/officeverse/internal/zonecatalog"
)

// MsgPlayerNotFound is sent when join names an unknown player.
const MsgPlayerNotFound = "Player not found"

// PlayerLookup resolves player ids. directory.Directory satisfies it.
type PlayerLookup interface {
	GetPlayer(ctx context.Context, id string) (directory.Player, error)
}

// Handler implements channel.Handler for zone envelopes.
type Handler struct {
	players PlayerLookup
	zones   *zonecatalog.Catalog
	reg     *registry.Registry[channel.Identity]
	logger  *zap.Logger
}

// NewHandler creates a zone Handler. A nil catalog is treated as empty.
//
// Precondition: players and logger must be non-nil.
func NewHandler(players PlayerLookup, zones *zonecatalog.Catalog, logger *zap.Logger) *Handler {
	if zones == nil {
		zones = zonecatalog.Empty()
	}
	return &Handler{
		players: players,
		zones:   zones,
		reg:     registry.New[channel.Identity](),
		logger:  logger.Named("zone"),
	}
}

// Connect is a no-op; a connection joins a room with join.
func (h *Handler) Connect(peer registry.Peer) {
	channel.ConnLogger(h.logger, peer).Debug("connected")
}

// HandleMessage dispatches one zone envelope.
func (h *Handler) HandleMessage(ctx context.Context, peer registry.Peer, frame []byte) channel.Outcome {
	env, err := wire.DecodeEnvelope(frame)
	if err != nil {
		return h.reject(peer, err)
	}

	switch env.Type {
	case wire.TypeJoin:
		var req wire.ZoneJoinRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, err)
		}
		return h.join(ctx, peer, req)
	case wire.TypeEnterZone:
		var req wire.EnterZoneRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, err)
		}
		return h.enterZone(peer, req)
	default:
		return h.reject(peer, fmt.Errorf("unknown message type %q", env.Type))
	}
}

func (h *Handler) join(ctx context.Context, peer registry.Peer, req wire.ZoneJoinRequest) channel.Outcome {
	if req.RoomID == "" {
		return h.reject(peer, errors.New("roomId is required"))
	}
	p, err := h.players.GetPlayer(ctx, string(req.PlayerID))
	if errors.Is(err, directory.ErrPlayerNotFound) {
		h.reply(peer, wire.ErrorData{Message: MsgPlayerNotFound})
		return channel.OutcomeNotFound
	}
	if err != nil {
		channel.ConnLogger(h.logger, peer).Error("looking up player", zap.Error(err))
		h.reply(peer, wire.ErrorData{Message: "Request failed"})
		return channel.OutcomeFailed
	}

	h.reg.Bind(peer, string(req.RoomID), channel.Identity{PlayerID: p.ID, Name: p.Name})
	channel.ConnLogger(h.logger, peer).Debug("joined zone room",
		zap.String("room_id", string(req.RoomID)),
		zap.String("player_id", p.ID),
	)
	return channel.OutcomeHandled
}

func (h *Handler) enterZone(peer registry.Peer, req wire.EnterZoneRequest) channel.Outcome {
	self, ok := h.reg.IdentityOf(peer.ID())
	if !ok {
		return channel.OutcomeUnbound
	}
	room, _ := h.reg.RoomOf(peer.ID())

	fields := []zap.Field{
		zap.String("room_id", room),
		zap.String("player_id", self.PlayerID),
		zap.String("zone_id", req.ZoneID),
		zap.Int("prompt_len", len(req.Prompt)),
	}
	if z, known := h.zones.Lookup(req.ZoneID); known {
		fields = append(fields, zap.String("zone", z.Name), zap.String("kind", z.Kind), zap.Bool("assistant", z.Assistant))
	}
	channel.ConnLogger(h.logger, peer).Info("entered zone", fields...)
	return channel.OutcomeHandled
}

// Disconnect unbinds the connection.
func (h *Handler) Disconnect(peer registry.Peer) {
	h.reg.Unbind(peer.ID())
}

// MembersOf returns a snapshot of the connections in room.
func (h *Handler) MembersOf(room string) []registry.Member[channel.Identity] {
	return h.reg.MembersOf(room)
}

func (h *Handler) reject(peer registry.Peer, err error) channel.Outcome {
	channel.ConnLogger(h.logger, peer).Debug("zone frame rejected", zap.Error(err))
	h.reply(peer, wire.ErrorData{Message: "Malformed message"})
	return channel.OutcomeRejected
}

func (h *Handler) reply(peer registry.Peer, data wire.ErrorData) {
	frame, err := wire.Encode(wire.TypeError, data)
	if err != nil {
		h.logger.Error("encoding error reply", zap.Error(err))
		return
	}
	channel.Send(h.logger, peer, frame)
}
