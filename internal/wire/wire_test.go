package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseMovement_Defaults(t *testing.T) {
	m, err := ParseMovement("r1:p1:10:-20")
	require.NoError(t, err)
	assert.Equal(t, Movement{
		Room: "r1", Player: "p1", X: 10, Y: -20,
		Name: "Unknown", Skin: "0xffffff", Anim: "idle", Flip: "0",
	}, m)
	assert.Equal(t, "Broadcast:p1:10:-20:Unknown:0xffffff:idle:0", m.Broadcast())
}

func TestParseMovement_AllFields(t *testing.T) {
	m, err := ParseMovement("r1:p1:1:2:Alice:0xff0000:walk:1")
	require.NoError(t, err)
	assert.Equal(t, "Broadcast:p1:1:2:Alice:0xff0000:walk:1", m.Broadcast())
}

func TestParseMovement_PartialTrailing(t *testing.T) {
	m, err := ParseMovement("r1:p1:1:2:Alice:0x00ff00")
	require.NoError(t, err)
	assert.Equal(t, "Alice", m.Name)
	assert.Equal(t, "0x00ff00", m.Skin)
	assert.Equal(t, DefaultAnim, m.Anim)
	assert.Equal(t, DefaultFlip, m.Flip)
}

func TestParseMovement_Rejections(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"too few", "r1:p1:1", ErrMovementFormat},
		{"too many", "r1:p1:1:2:a:b:c:d:e", ErrMovementFormat},
		{"empty", "", ErrMovementFormat},
		{"empty room", ":p1:1:2", ErrMovementFormat},
		{"bad x", "r1:p1:one:2", ErrMovementNumbers},
		{"bad y", "r1:p1:1:2.5", ErrMovementNumbers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMovement(tt.line)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseMovement_TrailingSeparatorIgnored(t *testing.T) {
	m, err := ParseMovement("r1:p1:3:4:")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, m.Name)
}

func TestPlayerLeft(t *testing.T) {
	assert.Equal(t, "PlayerLeft:p9", PlayerLeft("p9"))
}

func TestParseChat_Variants(t *testing.T) {
	tests := []struct {
		line string
		want ChatMessage
	}{
		{"REGISTER:r1:p1:Alice", Register{Room: "r1", Player: "p1", Name: "Alice"}},
		{"GLOBAL:p1:hello there", Global{Sender: "p1", Text: "hello there"}},
		{"GLOBAL:p1:time is 10:30", Global{Sender: "p1", Text: "time is 10:30"}},
		{"PRIVATE:p1:p2:psst", Private{Sender: "p1", Target: "p2", Text: "psst"}},
		{`VOICE_SIGNAL:p1:p2:{"sdp":"v=0:a"}`, VoiceSignal{Sender: "p1", Target: "p2", Payload: `{"sdp":"v=0:a"}`}},
		{"MEETING_JOIN:", MeetingJoin{}},
		{"MEETING_JOIN", MeetingJoin{}},
		{"MEETING_LEAVE:", MeetingLeave{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseChat(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChat_Errors(t *testing.T) {
	_, err := ParseChat("SHOUT:p1:hi")
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = ParseChat("REGISTER:r1:p1")
	assert.ErrorIs(t, err, ErrChatFormat)

	_, err = ParseChat("PRIVATE:p1::hi")
	assert.ErrorIs(t, err, ErrChatFormat)

	_, err = ParseChat("GLOBAL")
	assert.ErrorIs(t, err, ErrChatFormat)
}

func TestChatFrames(t *testing.T) {
	assert.Equal(t, "GLOBAL:System:Alice joined the game.", Joined("Alice"))
	assert.Equal(t, "GLOBAL:System:Alice left the game.", Left("Alice"))
	assert.Equal(t, "PRIVATE:p1:hi", PrivateFrame("p1", "hi"))
	assert.Equal(t, "PRIVATE:To p2:hi", PrivateEcho("p2", "hi"))
	assert.Equal(t, "SYSTEM:Player p2 not found in this office.", NotFound("p2"))
	assert.Equal(t, "SYSTEM:Invalid message format.", Notice("Invalid message format."))
	assert.Equal(t, "PLAYER_LIST:p1,Alice,p2,Bob", PlayerList([]PlayerEntry{{"p1", "Alice"}, {"p2", "Bob"}}))
	assert.Equal(t, "PLAYER_LIST:", PlayerList(nil))
	assert.Equal(t, "MEETING_LIST:p1,p2", MeetingList([]string{"p1", "p2"}))
	assert.Equal(t, "MEETING_LIST:", MeetingList(nil))
	assert.Equal(t, "MEETING_USER_JOINED:p1", MeetingUserJoined("p1"))
	assert.Equal(t, "MEETING_USER_LEFT:p1", MeetingUserLeft("p1"))
}

func TestPropertyVoicePayloadRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sender := rapid.StringMatching(`[a-z0-9]{1,8}`).Draw(t, "sender")
		target := rapid.StringMatching(`[a-z0-9]{1,8}`).Draw(t, "target")
		payload := rapid.String().Draw(t, "payload")
		if rapid.Bool().Draw(t, "colons") {
			payload = payload + ":" + strings.Repeat(":", rapid.IntRange(0, 3).Draw(t, "extra"))
		}

		msg, err := ParseChat(Format(VoiceSignal{Sender: sender, Target: target, Payload: payload}))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		got := msg.(VoiceSignal)
		if got.Payload != payload {
			t.Fatalf("payload changed: %q != %q", got.Payload, payload)
		}
		if VoiceFrame(got.Sender, got.Payload) != "VOICE_SIGNAL:"+sender+":"+payload {
			t.Fatalf("relay frame altered payload")
		}
	})
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"joinRoom","data":{"roomId":42}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoinRoom, env.Type)

	var req RoomRequest
	require.NoError(t, env.Bind(&req))
	assert.Equal(t, ID("42"), req.RoomID)

	env, err = DecodeEnvelope([]byte(`{"type":"joinRoom","data":{"roomId":"b7c1"}}`))
	require.NoError(t, err)
	require.NoError(t, env.Bind(&req))
	assert.Equal(t, ID("b7c1"), req.RoomID)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	for _, frame := range []string{`not json`, `{"data":{}}`, `[]`} {
		_, err := DecodeEnvelope([]byte(frame))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, frame)
	}

	env, err := DecodeEnvelope([]byte(`{"type":"setReady","data":{"ready":"yes"}}`))
	require.NoError(t, err)
	var req SetReadyRequest
	assert.ErrorIs(t, env.Bind(&req), ErrMalformedEnvelope)
}

func TestEnvelope_BindMissingData(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"join"}`))
	require.NoError(t, err)
	var req JoinRequest
	require.NoError(t, env.Bind(&req))
	assert.Nil(t, req.PlayerName)
}

func TestID_RejectsFractions(t *testing.T) {
	var id ID
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))
	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}

func TestEncode(t *testing.T) {
	b, err := Encode(TypePong, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(b))

	b, err = Encode(TypeGameStarted, struct{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"gameStarted","data":{}}`, string(b))

	b, err = Encode(TypeError, ErrorData{Message: "Room not found"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","data":{"message":"Room not found"}}`, string(b))
}
