// Package registry tracks which live connections belong to which room, and
// which identity each connection carries, for a single real-time channel.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ConnID uniquely identifies one open connection.
type ConnID string

// Peer is the send side of one open connection.
type Peer interface {
	// ID returns the connection's unique identifier.
	ID() ConnID
	// Send enqueues data for delivery without blocking.
	// It returns an error when the peer cannot accept the frame.
	Send(data []byte) error
}

// Binding is the room and identity a connection is bound to.
// Room is empty when the connection carries an identity but has not joined a room.
type Binding[I any] struct {
	Room     string
	Identity I
}

// Member is one entry of a room snapshot.
type Member[I any] struct {
	Peer     Peer
	Identity I
}

type entry[I any] struct {
	peer     Peer
	identity I
	seq      uint64
}

// roomSet holds one room's members. A set that reached zero members is
// marked dead and removed; writers that observe a dead set retry against a
// fresh one.
type roomSet[I any] struct {
	mu      sync.Mutex
	dead    bool
	members map[ConnID]entry[I]
}

type binding[I any] struct {
	peer     Peer
	room     string
	identity I
}

// Registry maps rooms to member connections and connections to identities.
// All methods are safe for concurrent use. Each room and each connection is
// guarded independently; there is no registry-wide lock.
type Registry[I any] struct {
	rooms    sync.Map // string → *roomSet[I]
	bindings sync.Map // ConnID → binding[I]
	seq      atomic.Uint64
}

// New creates an empty Registry.
func New[I any]() *Registry[I] {
	return &Registry[I]{}
}

// Bind binds peer to room with the given identity.
//
// Precondition: peer must be non-nil and room must be non-empty.
// Postcondition: peer is a member of room and of no other room. The previous
// binding is returned when one existed.
func (r *Registry[I]) Bind(peer Peer, room string, identity I) (Binding[I], bool) {
	id := peer.ID()
	prev, had := r.bindings.Swap(id, binding[I]{peer: peer, room: room, identity: identity})
	var old Binding[I]
	if had {
		b := prev.(binding[I])
		old = Binding[I]{Room: b.room, Identity: b.identity}
		if b.room != "" && b.room != room {
			r.removeMember(b.room, id)
		}
	}
	r.addMember(room, peer, identity)
	return old, had
}

// Identify records identity for peer without placing it in a room.
// An existing room membership is dropped.
func (r *Registry[I]) Identify(peer Peer, identity I) {
	id := peer.ID()
	prev, had := r.bindings.Swap(id, binding[I]{peer: peer, identity: identity})
	if had {
		if b := prev.(binding[I]); b.room != "" {
			r.removeMember(b.room, id)
		}
	}
}

// Leave removes the connection from its room but keeps its identity.
// It returns the room that was left, or false if the connection was in none.
func (r *Registry[I]) Leave(id ConnID) (string, bool) {
	v, ok := r.bindings.Load(id)
	if !ok {
		return "", false
	}
	b := v.(binding[I])
	if b.room == "" {
		return "", false
	}
	r.bindings.Store(id, binding[I]{peer: b.peer, identity: b.identity})
	r.removeMember(b.room, id)
	return b.room, true
}

// Unbind removes every trace of the connection.
//
// Postcondition: Returns the binding the connection held, or false if it had none.
func (r *Registry[I]) Unbind(id ConnID) (Binding[I], bool) {
	v, ok := r.bindings.LoadAndDelete(id)
	if !ok {
		return Binding[I]{}, false
	}
	b := v.(binding[I])
	if b.room != "" {
		r.removeMember(b.room, id)
	}
	return Binding[I]{Room: b.room, Identity: b.identity}, true
}

// MembersOf returns a snapshot of room's members in bind order.
// An unknown or empty room yields nil.
func (r *Registry[I]) MembersOf(room string) []Member[I] {
	v, ok := r.rooms.Load(room)
	if !ok {
		return nil
	}
	set := v.(*roomSet[I])
	set.mu.Lock()
	entries := make([]entry[I], 0, len(set.members))
	for _, e := range set.members {
		entries = append(entries, e)
	}
	set.mu.Unlock()
	if len(entries) == 0 {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Member[I], len(entries))
	for i, e := range entries {
		out[i] = Member[I]{Peer: e.peer, Identity: e.identity}
	}
	return out
}

// Lookup returns the first member of room, in bind order, whose identity satisfies match.
func (r *Registry[I]) Lookup(room string, match func(I) bool) (Member[I], bool) {
	for _, m := range r.MembersOf(room) {
		if match(m.Identity) {
			return m, true
		}
	}
	return Member[I]{}, false
}

// IdentityOf returns the identity bound to the connection.
func (r *Registry[I]) IdentityOf(id ConnID) (I, bool) {
	v, ok := r.bindings.Load(id)
	if !ok {
		var zero I
		return zero, false
	}
	return v.(binding[I]).identity, true
}

// RoomOf returns the room the connection is a member of.
func (r *Registry[I]) RoomOf(id ConnID) (string, bool) {
	v, ok := r.bindings.Load(id)
	if !ok {
		return "", false
	}
	room := v.(binding[I]).room
	return room, room != ""
}

// Rooms returns the ids of rooms that currently have members, sorted.
func (r *Registry[I]) Rooms() []string {
	var out []string
	r.rooms.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Len returns the number of connections carrying a binding.
func (r *Registry[I]) Len() int {
	n := 0
	r.bindings.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Registry[I]) addMember(room string, peer Peer, identity I) {
	e := entry[I]{peer: peer, identity: identity, seq: r.seq.Add(1)}
	for {
		v, _ := r.rooms.LoadOrStore(room, &roomSet[I]{members: make(map[ConnID]entry[I])})
		set := v.(*roomSet[I])
		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		if existing, ok := set.members[peer.ID()]; ok {
			// rebinding within the same room keeps the original position
			e.seq = existing.seq
		}
		set.members[peer.ID()] = e
		set.mu.Unlock()
		return
	}
}

func (r *Registry[I]) removeMember(room string, id ConnID) {
	v, ok := r.rooms.Load(room)
	if !ok {
		return
	}
	set := v.(*roomSet[I])
	set.mu.Lock()
	defer set.mu.Unlock()
	delete(set.members, id)
	if len(set.members) == 0 && !set.dead {
		set.dead = true
		r.rooms.CompareAndDelete(room, set)
	}
}
