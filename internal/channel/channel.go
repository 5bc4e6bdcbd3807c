// Package channel holds what the four real-time channels share: the handler
// contract the transport drives, the named outcome of each inbound frame, and
// best-effort fan-out over a registry snapshot.
package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/registry"
)

// Handler reacts to the life of connections on one channel.
// The transport calls Connect once, HandleMessage for each inbound frame in
// arrival order, then Disconnect once. Calls for one connection never overlap.
type Handler interface {
	Connect(peer registry.Peer)
	HandleMessage(ctx context.Context, peer registry.Peer, frame []byte) Outcome
	Disconnect(peer registry.Peer)
}

// Identity is the player a connection speaks for on a channel.
type Identity struct {
	PlayerID string
	Name     string
}

// Outcome names what handling one inbound frame amounted to.
type Outcome int

const (
	// OutcomeHandled means the frame took effect.
	OutcomeHandled Outcome = iota
	// OutcomeRejected means the frame was malformed or refused and the sender was told.
	OutcomeRejected
	// OutcomeUnbound means the frame needs a prior register/join the connection never made. Nothing happens.
	OutcomeUnbound
	// OutcomeNotFound means the frame named a target that is not present.
	OutcomeNotFound
	// OutcomeFailed means a collaborator failed and the sender was told.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHandled:
		return "handled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnbound:
		return "unbound"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Send delivers frame to one peer, logging a failed enqueue.
func Send(logger *zap.Logger, peer registry.Peer, frame []byte) bool {
	if err := peer.Send(frame); err != nil {
		logger.Warn("send failed",
			zap.String("conn_id", string(peer.ID())),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Broadcast sends frame to every member except skip, which may be empty.
// A failed send is logged and the remaining members are still tried.
//
// Postcondition: Returns the number of members the frame was enqueued for.
func Broadcast[I any](logger *zap.Logger, members []registry.Member[I], frame []byte, skip registry.ConnID) int {
	delivered := 0
	for _, m := range members {
		if skip != "" && m.Peer.ID() == skip {
			continue
		}
		if Send(logger, m.Peer, frame) {
			delivered++
		}
	}
	return delivered
}

// ConnLogger returns logger annotated with the connection id, and the remote
// address when the peer exposes one.
func ConnLogger(logger *zap.Logger, peer registry.Peer) *zap.Logger {
	fields := []zap.Field{zap.String("conn_id", string(peer.ID()))}
	if ra, ok := peer.(interface{ RemoteAddr() string }); ok {
		fields = append(fields, zap.String("remote_addr", ra.RemoteAddr()))
	}
	return logger.With(fields...)
}
