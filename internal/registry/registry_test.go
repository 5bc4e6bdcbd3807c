package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type stubPeer ConnID

func (p stubPeer) ID() ConnID          { return ConnID(p) }
func (p stubPeer) Send(_ []byte) error { return nil }

type ident struct {
	Player string
}

func memberIDs[I any](ms []Member[I]) []ConnID {
	out := make([]ConnID, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Peer.ID())
	}
	return out
}

func TestRegistry_BindAndMembers(t *testing.T) {
	r := New[ident]()
	_, had := r.Bind(stubPeer("c1"), "room_a", ident{"p1"})
	assert.False(t, had)
	r.Bind(stubPeer("c2"), "room_a", ident{"p2"})
	r.Bind(stubPeer("c3"), "room_b", ident{"p3"})

	assert.Equal(t, []ConnID{"c1", "c2"}, memberIDs(r.MembersOf("room_a")))
	assert.Equal(t, []ConnID{"c3"}, memberIDs(r.MembersOf("room_b")))
	assert.Nil(t, r.MembersOf("nowhere"))
	assert.Equal(t, []string{"room_a", "room_b"}, r.Rooms())
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_RebindMovesRoom(t *testing.T) {
	r := New[ident]()
	r.Bind(stubPeer("c1"), "room_a", ident{"p1"})

	prev, had := r.Bind(stubPeer("c1"), "room_b", ident{"p1"})
	require.True(t, had)
	assert.Equal(t, "room_a", prev.Room)

	assert.Nil(t, r.MembersOf("room_a"))
	assert.Equal(t, []ConnID{"c1"}, memberIDs(r.MembersOf("room_b")))
	assert.Equal(t, []string{"room_b"}, r.Rooms())
}

func TestRegistry_RebindSameRoomKeepsOrder(t *testing.T) {
	r := New[ident]()
	r.Bind(stubPeer("c1"), "room_a", ident{"p1"})
	r.Bind(stubPeer("c2"), "room_a", ident{"p2"})
	r.Bind(stubPeer("c1"), "room_a", ident{"renamed"})

	members := r.MembersOf("room_a")
	require.Len(t, members, 2)
	assert.Equal(t, ConnID("c1"), members[0].Peer.ID())
	assert.Equal(t, "renamed", members[0].Identity.Player)
}

func TestRegistry_Unbind(t *testing.T) {
	r := New[ident]()
	r.Bind(stubPeer("c1"), "room_a", ident{"p1"})

	b, ok := r.Unbind("c1")
	require.True(t, ok)
	assert.Equal(t, "room_a", b.Room)
	assert.Equal(t, "p1", b.Identity.Player)

	assert.Nil(t, r.MembersOf("room_a"))
	assert.Empty(t, r.Rooms())
	_, ok = r.IdentityOf("c1")
	assert.False(t, ok)

	_, ok = r.Unbind("c1")
	assert.False(t, ok, "second unbind reports absence")
}

func TestRegistry_IdentifyAndLeave(t *testing.T) {
	r := New[ident]()
	r.Identify(stubPeer("c1"), ident{"p1"})

	id, ok := r.IdentityOf("c1")
	require.True(t, ok)
	assert.Equal(t, "p1", id.Player)
	_, ok = r.RoomOf("c1")
	assert.False(t, ok)
	assert.Empty(t, r.Rooms())

	r.Bind(stubPeer("c1"), "room_a", id)
	room, ok := r.Leave("c1")
	require.True(t, ok)
	assert.Equal(t, "room_a", room)
	assert.Nil(t, r.MembersOf("room_a"))

	_, ok = r.IdentityOf("c1")
	assert.True(t, ok, "identity survives leaving the room")

	_, ok = r.Leave("c1")
	assert.False(t, ok)
}

func TestRegistry_Lookup(t *testing.T) {
	r := New[ident]()
	r.Bind(stubPeer("c1"), "room_a", ident{"p1"})
	r.Bind(stubPeer("c2"), "room_a", ident{"p2"})

	m, ok := r.Lookup("room_a", func(i ident) bool { return i.Player == "p2" })
	require.True(t, ok)
	assert.Equal(t, ConnID("c2"), m.Peer.ID())

	_, ok = r.Lookup("room_a", func(i ident) bool { return i.Player == "p9" })
	assert.False(t, ok)
}

func TestRegistry_ConcurrentBindUnbind(t *testing.T) {
	r := New[ident]()
	const n = 100
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Bind(stubPeer(fmt.Sprintf("c%d", i)), fmt.Sprintf("room_%d", i%3), ident{fmt.Sprintf("p%d", i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, r.Len())

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Unbind(ConnID(fmt.Sprintf("c%d", i)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Rooms())
}

func TestRegistry_ConcurrentChurnSingleRoom(t *testing.T) {
	r := New[ident]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := stubPeer(fmt.Sprintf("c%d", i))
			for j := 0; j < 20; j++ {
				r.Bind(p, "hot", ident{})
				r.Unbind(p.ID())
			}
			r.Bind(p, "hot", ident{})
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.MembersOf("hot"), 50)
}

func TestPropertyMembersMatchLiveBindings(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New[ident]()
		rooms := []string{"r1", "r2", "r3"}
		model := make(map[ConnID]string)

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			conn := ConnID(fmt.Sprintf("c%d", rapid.IntRange(0, 9).Draw(t, "conn")))
			if rapid.Bool().Draw(t, "bind") {
				room := rooms[rapid.IntRange(0, len(rooms)-1).Draw(t, "room")]
				r.Bind(stubPeer(conn), room, ident{})
				model[conn] = room
			} else {
				_, ok := r.Unbind(conn)
				_, want := model[conn]
				if ok != want {
					t.Fatalf("unbind %s reported %v, model says %v", conn, ok, want)
				}
				delete(model, conn)
			}
		}

		for _, room := range rooms {
			var want []ConnID
			for c, rm := range model {
				if rm == room {
					want = append(want, c)
				}
			}
			got := memberIDs(r.MembersOf(room))
			if len(want) == 0 {
				if len(got) != 0 {
					t.Fatalf("room %s should be empty, has %v", room, got)
				}
				for _, live := range r.Rooms() {
					if live == room {
						t.Fatalf("empty room %s left a residual entry", room)
					}
				}
				continue
			}
			assert.ElementsMatch(t, want, got)
		}
	})
}
