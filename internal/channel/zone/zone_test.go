package zone

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/officeverse/internal/channel"
	"github.com/cory-johannsen/officeverse/internal/directory"
	"github.com/cory-johannsen/officeverse/internal/testutil"
	"github.com/cory-johannsen/officeverse/internal/zonecatalog"
)

func setup(t *testing.T) (*Handler, *directory.Memory, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	dir := directory.NewMemory(nil)
	cat, err := zonecatalog.LoadBytes([]byte("zones:\n  - id: boardroom\n    name: Boardroom\n    kind: meeting\n"))
	require.NoError(t, err)
	return NewHandler(dir, cat, zap.New(core)), dir, logs
}

func msg(h *Handler, p *testutil.RecordingPeer, frame string) channel.Outcome {
	return h.HandleMessage(context.Background(), p, []byte(frame))
}

func TestJoin_UnknownPlayer(t *testing.T) {
	h, _, _ := setup(t)
	p := testutil.NewPeer("c1")

	assert.Equal(t, channel.OutcomeNotFound, msg(h, p, `{"type":"join","data":{"playerId":"ghost","roomId":"r1"}}`))
	assert.JSONEq(t, `{"type":"error","data":{"message":"Player not found"}}`, p.Last())
	assert.Empty(t, h.MembersOf("r1"))
}

func TestJoin_BindsIntoRoom(t *testing.T) {
	h, dir, _ := setup(t)
	player, err := dir.CreatePlayer(context.Background(), "Alice")
	require.NoError(t, err)
	p := testutil.NewPeer("c1")

	assert.Equal(t, channel.OutcomeHandled, msg(h, p, `{"type":"join","data":{"playerId":"`+player.ID+`","roomId":7}}`))
	members := h.MembersOf("7")
	require.Len(t, members, 1)
	assert.Equal(t, "Alice", members[0].Identity.Name)
	assert.Empty(t, p.Frames())
}

func TestEnterZone_ObservesOnly(t *testing.T) {
	h, dir, logs := setup(t)
	player, _ := dir.CreatePlayer(context.Background(), "Alice")
	a, b := testutil.NewPeer("a"), testutil.NewPeer("b")
	other, _ := dir.CreatePlayer(context.Background(), "Bob")
	msg(h, a, `{"type":"join","data":{"playerId":"`+player.ID+`","roomId":"r1"}}`)
	msg(h, b, `{"type":"join","data":{"playerId":"`+other.ID+`","roomId":"r1"}}`)

	out := msg(h, a, `{"type":"enterZone","data":{"zoneId":"boardroom","prompt":"summarise the sprint"}}`)
	assert.Equal(t, channel.OutcomeHandled, out)
	assert.Empty(t, a.Frames())
	assert.Empty(t, b.Frames())

	entries := logs.FilterMessage("entered zone").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "boardroom", fields["zone_id"])
	assert.Equal(t, "Boardroom", fields["zone"])
	assert.Equal(t, "r1", fields["room_id"])
}

func TestEnterZone_BeforeJoinIsNamedNoop(t *testing.T) {
	h, _, logs := setup(t)
	p := testutil.NewPeer("c1")
	assert.Equal(t, channel.OutcomeUnbound, msg(h, p, `{"type":"enterZone","data":{"zoneId":"x"}}`))
	assert.Empty(t, p.Frames())
	assert.Equal(t, 0, logs.FilterMessage("entered zone").Len())
}

func TestMalformedAndUnknown(t *testing.T) {
	h, _, _ := setup(t)
	p := testutil.NewPeer("c1")
	assert.Equal(t, channel.OutcomeRejected, msg(h, p, `garbage`))
	assert.Equal(t, channel.OutcomeRejected, msg(h, p, `{"type":"exitZone"}`))
	assert.Equal(t, channel.OutcomeRejected, msg(h, p, `{"type":"join","data":{"playerId":"x"}}`))
	assert.Len(t, p.Frames(), 3)
}

func TestDisconnect_RemovesEmptyRoom(t *testing.T) {
	h, dir, _ := setup(t)
	player, _ := dir.CreatePlayer(context.Background(), "Alice")
	p := testutil.NewPeer("c1")
	msg(h, p, `{"type":"join","data":{"playerId":"`+player.ID+`","roomId":"r1"}}`)

	h.Disconnect(p)
	assert.Empty(t, h.MembersOf("r1"))
	assert.Empty(t, h.reg.Rooms())
}
