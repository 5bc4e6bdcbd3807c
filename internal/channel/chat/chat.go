// Package chat routes room text, private messages, voice negotiation relays
// and meeting membership between connections.
package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/channel"
	"github.com/cory-johannsen/officeverse/internal/registry"
	"github.com/cory-johannsen/officeverse/internal/wire"
)

// Notices sent back to the sender of a frame that cannot be parsed.
const (
	MsgUnknownTag = "Unknown message type."
	MsgMalformed  = "Invalid message format."
)

// Handler implements channel.Handler for chat frames.
type Handler struct {
	// members maps rooms to registered connections.
	members *registry.Registry[channel.Identity]
	// meetings maps rooms to connections currently in the room's meeting.
	meetings *registry.Registry[channel.Identity]
	logger   *zap.Logger
}

// NewHandler creates a chat Handler.
//
// Precondition: logger must be non-nil.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		members:  registry.New[channel.Identity](),
		meetings: registry.New[channel.Identity](),
		logger:   logger.Named("chat"),
	}
}

// Connect is a no-op; a connection joins a room with REGISTER.
func (h *Handler) Connect(peer registry.Peer) {
	channel.ConnLogger(h.logger, peer).Debug("connected")
}

// HandleMessage dispatches one chat frame.
func (h *Handler) HandleMessage(_ context.Context, peer registry.Peer, frame []byte) channel.Outcome {
	msg, err := wire.ParseChat(string(frame))
	if err != nil {
		notice := MsgMalformed
		if errors.Is(err, wire.ErrUnknownTag) {
			notice = MsgUnknownTag
		}
		channel.ConnLogger(h.logger, peer).Debug("rejected chat frame", zap.Error(err))
		channel.Send(h.logger, peer, []byte(wire.Notice(notice)))
		return channel.OutcomeRejected
	}

	if reg, ok := msg.(wire.Register); ok {
		return h.register(peer, reg)
	}

	room, bound := h.members.RoomOf(peer.ID())
	if !bound {
		channel.ConnLogger(h.logger, peer).Debug("chat frame before register")
		return channel.OutcomeUnbound
	}
	self, _ := h.members.IdentityOf(peer.ID())

	switch m := msg.(type) {
	case wire.Global:
		channel.Broadcast(h.logger, h.members.MembersOf(room), []byte(wire.GlobalFrame(m.Sender, m.Text)), "")
		return channel.OutcomeHandled
	case wire.Private:
		return h.private(peer, room, m)
	case wire.VoiceSignal:
		return h.voice(peer, room, m)
	case wire.MeetingJoin:
		return h.meetingJoin(peer, room, self)
	case wire.MeetingLeave:
		return h.meetingLeave(peer, room)
	default:
		return channel.OutcomeRejected
	}
}

func (h *Handler) register(peer registry.Peer, m wire.Register) channel.Outcome {
	self := channel.Identity{PlayerID: m.Player, Name: m.Name}
	prev, had := h.members.Bind(peer, m.Room, self)
	switch {
	case had && prev.Room != m.Room:
		// Leaving a room also leaves its meeting.
		h.leaveMeeting(peer.ID())
		remaining := h.members.MembersOf(prev.Room)
		channel.Broadcast(h.logger, remaining, []byte(wire.Left(prev.Identity.Name)), "")
		channel.Broadcast(h.logger, remaining, []byte(wire.PlayerList(playerList(remaining))), "")
	case had:
		if room, ok := h.meetings.RoomOf(peer.ID()); ok {
			h.meetings.Bind(peer, room, self)
		}
	}
	channel.ConnLogger(h.logger, peer).Info("registered",
		zap.String("room_id", m.Room),
		zap.String("player_id", m.Player),
		zap.String("name", m.Name),
	)

	members := h.members.MembersOf(m.Room)
	channel.Broadcast(h.logger, members, []byte(wire.Joined(m.Name)), "")
	channel.Broadcast(h.logger, members, []byte(wire.PlayerList(playerList(members))), "")
	return channel.OutcomeHandled
}

func (h *Handler) private(peer registry.Peer, room string, m wire.Private) channel.Outcome {
	target, ok := h.findPlayer(room, m.Target)
	if !ok {
		channel.Send(h.logger, peer, []byte(wire.NotFound(m.Target)))
		return channel.OutcomeNotFound
	}
	channel.Send(h.logger, target.Peer, []byte(wire.PrivateFrame(m.Sender, m.Text)))
	channel.Send(h.logger, peer, []byte(wire.PrivateEcho(m.Target, m.Text)))
	return channel.OutcomeHandled
}

func (h *Handler) voice(peer registry.Peer, room string, m wire.VoiceSignal) channel.Outcome {
	target, ok := h.findPlayer(room, m.Target)
	if !ok {
		channel.ConnLogger(h.logger, peer).Debug("voice signal target absent",
			zap.String("room_id", room),
			zap.String("target", m.Target),
		)
		return channel.OutcomeNotFound
	}
	channel.Send(h.logger, target.Peer, []byte(wire.VoiceFrame(m.Sender, m.Payload)))
	return channel.OutcomeHandled
}

func (h *Handler) meetingJoin(peer registry.Peer, room string, self channel.Identity) channel.Outcome {
	h.meetings.Bind(peer, room, self)
	group := h.meetings.MembersOf(room)
	channel.Broadcast(h.logger, group, []byte(wire.MeetingUserJoined(self.PlayerID)), "")

	seen := map[string]bool{self.PlayerID: true}
	others := make([]string, 0, len(group))
	for _, g := range group {
		if !seen[g.Identity.PlayerID] {
			seen[g.Identity.PlayerID] = true
			others = append(others, g.Identity.PlayerID)
		}
	}
	channel.Send(h.logger, peer, []byte(wire.MeetingList(others)))
	return channel.OutcomeHandled
}

func (h *Handler) meetingLeave(peer registry.Peer, room string) channel.Outcome {
	if !h.leaveMeeting(peer.ID()) {
		channel.ConnLogger(h.logger, peer).Debug("meeting leave without join", zap.String("room_id", room))
	}
	return channel.OutcomeHandled
}

// leaveMeeting drops the connection from its meeting and tells the rest of the group.
func (h *Handler) leaveMeeting(id registry.ConnID) bool {
	b, ok := h.meetings.Unbind(id)
	if !ok {
		return false
	}
	channel.Broadcast(h.logger, h.meetings.MembersOf(b.Room), []byte(wire.MeetingUserLeft(b.Identity.PlayerID)), "")
	return true
}

// Disconnect removes every trace of the connection and tells the room.
func (h *Handler) Disconnect(peer registry.Peer) {
	h.leaveMeeting(peer.ID())

	b, ok := h.members.Unbind(peer.ID())
	if !ok {
		return
	}
	remaining := h.members.MembersOf(b.Room)
	channel.Broadcast(h.logger, remaining, []byte(wire.Left(b.Identity.Name)), "")
	channel.Broadcast(h.logger, remaining, []byte(wire.PlayerList(playerList(remaining))), "")
	channel.ConnLogger(h.logger, peer).Info("left room",
		zap.String("room_id", b.Room),
		zap.String("player_id", b.Identity.PlayerID),
		zap.Int("remaining", len(remaining)),
	)
}

// findPlayer returns the first connection in room registered as player.
func (h *Handler) findPlayer(room, player string) (registry.Member[channel.Identity], bool) {
	return h.members.Lookup(room, func(id channel.Identity) bool {
		return id.PlayerID == player
	})
}

// MembersOf returns a snapshot of the connections registered in room.
func (h *Handler) MembersOf(room string) []registry.Member[channel.Identity] {
	return h.members.MembersOf(room)
}

// MeetingOf returns a snapshot of the connections in room's meeting.
func (h *Handler) MeetingOf(room string) []registry.Member[channel.Identity] {
	return h.meetings.MembersOf(room)
}

// playerList collapses members to one entry per player id in registration
// order, keeping the most recently registered name.
func playerList(members []registry.Member[channel.Identity]) []wire.PlayerEntry {
	index := make(map[string]int, len(members))
	out := make([]wire.PlayerEntry, 0, len(members))
	for _, m := range members {
		if i, ok := index[m.Identity.PlayerID]; ok {
			out[i].Name = m.Identity.Name
			continue
		}
		index[m.Identity.PlayerID] = len(out)
		out = append(out, wire.PlayerEntry{ID: m.Identity.PlayerID, Name: m.Identity.Name})
	}
	return out
}
