// Package lifecycle handles room creation, membership, readiness and game
// start over the JSON envelope protocol.
//
// A lifecycle disconnect only forgets the connection locally. Directory
// membership is left untouched and nobody is notified, since a player is
// expected to stay present through the other channels or to reconnect.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/channel"
	"github.com/cory-johannsen/officeverse/internal/directory"
	"github.com/cory-johannsen/officeverse/internal/registry"
	"github.com/cory-johannsen/officeverse/internal/wire"
)

// StartCountdown is the advisory countdown sent with gameStarting. The server
// does not wait for it.
const StartCountdown = 3

// Error messages sent to clients.
const (
	MsgRoomNotFound    = "Room not found"
	MsgInvalidJoinCode = "Invalid join code"
	MsgRoomFull        = "Room is full"
	MsgJoinFailed      = "Failed to join room"
	MsgNotInRoom       = "Not in room"
	MsgNotHost         = "Only host can start the game"
	MsgCreateFailed    = "Failed to create room"
	MsgInvalidRoom     = "Invalid room settings"
	MsgCodesExhausted  = "Could not allocate a join code, try again"
	MsgRequestFailed   = "Request failed"
	MsgMalformed       = "Malformed message"
)

// Handler implements channel.Handler for the lifecycle envelope protocol.
type Handler struct {
	dir      directory.Directory
	reg      *registry.Registry[channel.Identity]
	sessions sync.Map // registry.ConnID → registry.Peer
	logger   *zap.Logger
}

// NewHandler creates a lifecycle Handler backed by dir.
//
// Precondition: dir and logger must be non-nil.
func NewHandler(dir directory.Directory, logger *zap.Logger) *Handler {
	return &Handler{
		dir:    dir,
		reg:    registry.New[channel.Identity](),
		logger: logger.Named("lifecycle"),
	}
}

// Connect subscribes the connection to global room announcements.
func (h *Handler) Connect(peer registry.Peer) {
	h.sessions.Store(peer.ID(), peer)
	channel.ConnLogger(h.logger, peer).Debug("connected")
}

// Disconnect forgets the connection locally.
func (h *Handler) Disconnect(peer registry.Peer) {
	h.sessions.Delete(peer.ID())
	b, ok := h.reg.Unbind(peer.ID())
	if ok {
		channel.ConnLogger(h.logger, peer).Debug("disconnected",
			zap.String("player_id", b.Identity.PlayerID),
			zap.String("room_id", b.Room),
		)
	}
}

// HandleMessage dispatches one envelope.
func (h *Handler) HandleMessage(ctx context.Context, peer registry.Peer, frame []byte) channel.Outcome {
	env, err := wire.DecodeEnvelope(frame)
	if err != nil {
		return h.reject(peer, MsgMalformed, err)
	}
	log := channel.ConnLogger(h.logger, peer).With(zap.String("type", env.Type))
	log.Debug("lifecycle message")

	switch env.Type {
	case wire.TypeJoin:
		var req wire.JoinRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, MsgMalformed, err)
		}
		return h.join(ctx, peer, req)
	case wire.TypeSubscribeRoomList:
		return h.subscribeRoomList(ctx, peer)
	case wire.TypePing:
		h.reply(peer, wire.TypePong, nil)
		return channel.OutcomeHandled
	}

	self, ok := h.reg.IdentityOf(peer.ID())
	if !ok {
		if !knownType(env.Type) {
			return h.reject(peer, fmt.Sprintf("Unknown message type: %s", env.Type), nil)
		}
		log.Debug("lifecycle message before join")
		return channel.OutcomeUnbound
	}

	switch env.Type {
	case wire.TypeCreateRoom:
		var req wire.CreateRoomRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, MsgMalformed, err)
		}
		return h.createRoom(ctx, peer, self, req)
	case wire.TypeJoinRoom:
		var req wire.RoomRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, MsgMalformed, err)
		}
		room, err := h.dir.GetRoom(ctx, string(req.RoomID))
		if err != nil {
			return h.lookupFailed(peer, MsgRoomNotFound, err)
		}
		return h.joinRoom(ctx, peer, self, room)
	case wire.TypeJoinRoomByCode:
		var req wire.JoinByCodeRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, MsgMalformed, err)
		}
		room, err := h.dir.GetRoomByJoinCode(ctx, req.JoinCode)
		if err != nil {
			return h.lookupFailed(peer, MsgInvalidJoinCode, err)
		}
		return h.joinRoom(ctx, peer, self, room)
	case wire.TypeLeaveRoom:
		var req wire.RoomRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, MsgMalformed, err)
		}
		return h.leaveRoom(ctx, peer, self, h.roomOrCurrent(peer, req.RoomID))
	case wire.TypeSetReady:
		var req wire.SetReadyRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, MsgMalformed, err)
		}
		return h.setReady(ctx, peer, self, h.roomOrCurrent(peer, req.RoomID), req.Ready)
	case wire.TypeStartGame:
		var req wire.RoomRequest
		if err := env.Bind(&req); err != nil {
			return h.reject(peer, MsgMalformed, err)
		}
		return h.startGame(ctx, peer, self, h.roomOrCurrent(peer, req.RoomID))
	default:
		return h.reject(peer, fmt.Sprintf("Unknown message type: %s", env.Type), nil)
	}
}

func (h *Handler) join(ctx context.Context, peer registry.Peer, req wire.JoinRequest) channel.Outcome {
	name := directory.DefaultPlayerName
	if req.PlayerName != nil && *req.PlayerName != "" {
		name = *req.PlayerName
	}
	p, err := h.dir.CreatePlayer(ctx, name)
	if err != nil {
		return h.fail(peer, MsgRequestFailed, err)
	}
	h.leaveCurrentRoom(ctx, peer)
	h.reg.Identify(peer, channel.Identity{PlayerID: p.ID, Name: p.Name})
	h.reply(peer, wire.TypeRegistered, wire.RegisteredData{PlayerID: p.ID})
	channel.ConnLogger(h.logger, peer).Info("player registered",
		zap.String("player_id", p.ID),
		zap.String("name", p.Name),
	)
	return channel.OutcomeHandled
}

// leaveCurrentRoom takes a re-joining connection out of the room its previous
// identity was in, both in the directory and locally.
func (h *Handler) leaveCurrentRoom(ctx context.Context, peer registry.Peer) {
	roomID, ok := h.reg.RoomOf(peer.ID())
	if !ok || roomID == "" {
		return
	}
	old, _ := h.reg.IdentityOf(peer.ID())
	err := h.dir.RemovePlayerFromRoom(ctx, roomID, old.PlayerID)
	if err != nil && !errors.Is(err, directory.ErrRoomNotFound) {
		channel.ConnLogger(h.logger, peer).Warn("removing previous identity from room",
			zap.String("room_id", roomID),
			zap.String("player_id", old.PlayerID),
			zap.Error(err),
		)
	}
	h.reg.Leave(peer.ID())
	h.broadcast(roomID, wire.TypePlayerLeftRoom, wire.PlayerLeftRoomData{PlayerID: old.PlayerID}, "")
}

func (h *Handler) subscribeRoomList(ctx context.Context, peer registry.Peer) channel.Outcome {
	rooms, err := h.dir.ListRooms(ctx)
	if err != nil {
		return h.fail(peer, MsgRequestFailed, err)
	}
	views := make([]wire.RoomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, roomView(r))
	}
	h.reply(peer, wire.TypeRoomListUpdated, views)
	return channel.OutcomeHandled
}

func (h *Handler) createRoom(ctx context.Context, peer registry.Peer, self channel.Identity, req wire.CreateRoomRequest) channel.Outcome {
	spec := directory.RoomSpec{Name: req.RoomName, MaxPlayers: directory.DefaultMaxPlayers, HostID: self.PlayerID}
	if req.MaxPlayers != nil {
		spec.MaxPlayers = *req.MaxPlayers
	}
	if req.IsPrivate != nil {
		spec.IsPrivate = *req.IsPrivate
	}

	room, err := h.dir.CreateRoom(ctx, spec)
	switch {
	case errors.Is(err, directory.ErrInvalidRoom):
		return h.reject(peer, MsgInvalidRoom, err)
	case errors.Is(err, directory.ErrJoinCodeExhausted):
		return h.fail(peer, MsgCodesExhausted, err)
	case err != nil:
		return h.fail(peer, MsgCreateFailed, err)
	}

	channel.ConnLogger(h.logger, peer).Info("room created",
		zap.String("room_id", room.ID),
		zap.String("join_code", room.JoinCode),
		zap.String("host_id", self.PlayerID),
	)
	frame, err := wire.Encode(wire.TypeRoomCreated, wire.RoomCreatedData{Room: roomView(room)})
	if err != nil {
		h.logger.Error("encoding roomCreated", zap.Error(err))
		return channel.OutcomeFailed
	}
	h.sessions.Range(func(_, v any) bool {
		channel.Send(h.logger, v.(registry.Peer), frame)
		return true
	})
	return channel.OutcomeHandled
}

func (h *Handler) joinRoom(ctx context.Context, peer registry.Peer, self channel.Identity, room directory.Room) channel.Outcome {
	err := h.dir.AddPlayerToRoom(ctx, room.ID, self.PlayerID)
	switch {
	case errors.Is(err, directory.ErrRoomFull):
		return h.reject(peer, MsgRoomFull, err)
	case errors.Is(err, directory.ErrRoomNotFound):
		return h.reject(peer, MsgRoomNotFound, err)
	case err != nil:
		return h.fail(peer, MsgJoinFailed, err)
	}

	prev, had := h.reg.Bind(peer, room.ID, self)
	if had && prev.Room != "" && prev.Room != room.ID {
		// The directory moved the player, so the old room hears about it.
		h.broadcast(prev.Room, wire.TypePlayerLeftRoom, wire.PlayerLeftRoomData{PlayerID: self.PlayerID}, "")
	}

	if fresh, err := h.dir.GetRoom(ctx, room.ID); err == nil {
		room = fresh
	}
	members, err := h.dir.ListPlayersInRoom(ctx, room.ID)
	if err != nil {
		h.logger.Warn("listing room players", zap.String("room_id", room.ID), zap.Error(err))
	}
	players := make([]wire.PlayerView, 0, len(members))
	for _, m := range members {
		players = append(players, wire.PlayerView{ID: m.PlayerID, Name: m.Name, IsReady: m.Ready})
	}

	h.reply(peer, wire.TypeJoinedRoom, wire.JoinedRoomData{Room: roomView(room), Players: players})
	h.broadcast(room.ID, wire.TypePlayerJoinedRoom, wire.PlayerJoinedRoomData{
		PlayerID:   self.PlayerID,
		PlayerName: self.Name,
	}, peer.ID())
	channel.ConnLogger(h.logger, peer).Info("joined room",
		zap.String("room_id", room.ID),
		zap.String("player_id", self.PlayerID),
	)
	return channel.OutcomeHandled
}

func (h *Handler) leaveRoom(ctx context.Context, peer registry.Peer, self channel.Identity, roomID string) channel.Outcome {
	if roomID == "" {
		return h.reject(peer, MsgNotInRoom, nil)
	}
	err := h.dir.RemovePlayerFromRoom(ctx, roomID, self.PlayerID)
	if err != nil && !errors.Is(err, directory.ErrRoomNotFound) {
		return h.fail(peer, MsgRequestFailed, err)
	}
	if current, ok := h.reg.RoomOf(peer.ID()); ok && current == roomID {
		h.reg.Leave(peer.ID())
	}
	h.broadcast(roomID, wire.TypePlayerLeftRoom, wire.PlayerLeftRoomData{PlayerID: self.PlayerID}, "")
	return channel.OutcomeHandled
}

func (h *Handler) setReady(ctx context.Context, peer registry.Peer, self channel.Identity, roomID string, ready bool) channel.Outcome {
	err := h.dir.SetReady(ctx, roomID, self.PlayerID, ready)
	switch {
	case errors.Is(err, directory.ErrRoomNotFound):
		return h.reject(peer, MsgRoomNotFound, err)
	case errors.Is(err, directory.ErrNotInRoom):
		return h.reject(peer, MsgNotInRoom, err)
	case err != nil:
		return h.fail(peer, MsgRequestFailed, err)
	}
	h.broadcast(roomID, wire.TypePlayerReadyChanged, wire.PlayerReadyChangedData{
		PlayerID: self.PlayerID,
		IsReady:  ready,
	}, "")
	return channel.OutcomeHandled
}

func (h *Handler) startGame(ctx context.Context, peer registry.Peer, self channel.Identity, roomID string) channel.Outcome {
	host, err := h.dir.IsHost(ctx, roomID, self.PlayerID)
	if err != nil {
		return h.fail(peer, MsgRequestFailed, err)
	}
	if !host {
		return h.reject(peer, MsgNotHost, nil)
	}
	h.broadcast(roomID, wire.TypeGameStarting, wire.GameStartingData{Countdown: StartCountdown}, "")
	h.broadcast(roomID, wire.TypeGameStarted, struct{}{}, "")
	channel.ConnLogger(h.logger, peer).Info("game started", zap.String("room_id", roomID))
	return channel.OutcomeHandled
}

// roomOrCurrent resolves an optional room id against the connection's current room.
func (h *Handler) roomOrCurrent(peer registry.Peer, id wire.ID) string {
	if id != "" {
		return string(id)
	}
	room, _ := h.reg.RoomOf(peer.ID())
	return room
}

func (h *Handler) broadcast(roomID, typ string, data any, skip registry.ConnID) {
	frame, err := wire.Encode(typ, data)
	if err != nil {
		h.logger.Error("encoding broadcast", zap.String("type", typ), zap.Error(err))
		return
	}
	channel.Broadcast(h.logger, h.reg.MembersOf(roomID), frame, skip)
}

func (h *Handler) reply(peer registry.Peer, typ string, data any) {
	frame, err := wire.Encode(typ, data)
	if err != nil {
		h.logger.Error("encoding reply", zap.String("type", typ), zap.Error(err))
		return
	}
	channel.Send(h.logger, peer, frame)
}

// reject tells the sender its request was refused.
func (h *Handler) reject(peer registry.Peer, msg string, cause error) channel.Outcome {
	log := channel.ConnLogger(h.logger, peer)
	if cause != nil {
		log = log.With(zap.Error(cause))
	}
	log.Debug("request rejected", zap.String("message", msg))
	h.reply(peer, wire.TypeError, wire.ErrorData{Message: msg})
	return channel.OutcomeRejected
}

// fail reports a collaborator failure to the sender.
func (h *Handler) fail(peer registry.Peer, msg string, cause error) channel.Outcome {
	channel.ConnLogger(h.logger, peer).Error("request failed", zap.String("message", msg), zap.Error(cause))
	h.reply(peer, wire.TypeError, wire.ErrorData{Message: msg})
	return channel.OutcomeFailed
}

// lookupFailed maps a room lookup error to not-found or failure.
func (h *Handler) lookupFailed(peer registry.Peer, notFound string, err error) channel.Outcome {
	if errors.Is(err, directory.ErrRoomNotFound) {
		h.reply(peer, wire.TypeError, wire.ErrorData{Message: notFound})
		return channel.OutcomeNotFound
	}
	return h.fail(peer, MsgRequestFailed, err)
}

func knownType(t string) bool {
	switch t {
	case wire.TypeCreateRoom, wire.TypeJoinRoom, wire.TypeJoinRoomByCode,
		wire.TypeLeaveRoom, wire.TypeSetReady, wire.TypeStartGame:
		return true
	}
	return false
}

func roomView(r directory.Room) wire.RoomView {
	return wire.RoomView{
		ID:          r.ID,
		Name:        r.Name,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: r.PlayerCount,
		IsPrivate:   r.IsPrivate,
		JoinCode:    r.JoinCode,
		HostID:      r.HostID,
	}
}

// MembersOf returns a snapshot of the connections tracked in room.
func (h *Handler) MembersOf(room string) []registry.Member[channel.Identity] {
	return h.reg.MembersOf(room)
}
