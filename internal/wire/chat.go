package wire

import (
	"errors"
	"fmt"
	"strings"
)

// Chat frame tags.
const (
	TagRegister          = "REGISTER"
	TagGlobal            = "GLOBAL"
	TagPrivate           = "PRIVATE"
	TagVoiceSignal       = "VOICE_SIGNAL"
	TagMeetingJoin       = "MEETING_JOIN"
	TagMeetingLeave      = "MEETING_LEAVE"
	TagSystem            = "SYSTEM"
	TagPlayerList        = "PLAYER_LIST"
	TagMeetingList       = "MEETING_LIST"
	TagMeetingUserJoined = "MEETING_USER_JOINED"
	TagMeetingUserLeft   = "MEETING_USER_LEFT"
)

// SystemSender is the sender name used for server-generated room notices.
const SystemSender = "System"

var (
	// ErrUnknownTag is returned for a chat frame whose leading tag is not recognised.
	ErrUnknownTag = errors.New("chat: unknown tag")
	// ErrChatFormat is returned when a recognised chat frame is missing fields.
	ErrChatFormat = errors.New("chat: missing fields")
)

// ChatMessage is one parsed inbound chat frame. The concrete type is one of
// Register, Global, Private, VoiceSignal, MeetingJoin or MeetingLeave.
type ChatMessage interface {
	chatMessage()
}

// Register binds a connection to a room under a player id and display name.
type Register struct {
	Room   string
	Player string
	Name   string
}

// Global is a room-wide text message.
type Global struct {
	Sender string
	Text   string
}

// Private is a text message for one player in the sender's room.
type Private struct {
	Sender string
	Target string
	Text   string
}

// VoiceSignal is an opaque negotiation payload relayed to one player.
type VoiceSignal struct {
	Sender  string
	Target  string
	Payload string
}

// MeetingJoin adds the sender to the room's meeting group.
type MeetingJoin struct{}

// MeetingLeave removes the sender from the room's meeting group.
type MeetingLeave struct{}

func (Register) chatMessage()     {}
func (Global) chatMessage()       {}
func (Private) chatMessage()      {}
func (VoiceSignal) chatMessage()  {}
func (MeetingJoin) chatMessage()  {}
func (MeetingLeave) chatMessage() {}

// ParseChat parses one inbound chat frame.
// The final field of every variant keeps any embedded separators.
//
// Postcondition: Returns one of the ChatMessage variants, or an error wrapping
// ErrUnknownTag or ErrChatFormat.
func ParseChat(line string) (ChatMessage, error) {
	tag, rest, _ := strings.Cut(line, Separator)
	switch tag {
	case TagRegister:
		f, err := fields(tag, rest, 3)
		if err != nil {
			return nil, err
		}
		return Register{Room: f[0], Player: f[1], Name: f[2]}, nil
	case TagGlobal:
		f, err := fields(tag, rest, 2)
		if err != nil {
			return nil, err
		}
		return Global{Sender: f[0], Text: f[1]}, nil
	case TagPrivate:
		f, err := fields(tag, rest, 3)
		if err != nil {
			return nil, err
		}
		return Private{Sender: f[0], Target: f[1], Text: f[2]}, nil
	case TagVoiceSignal:
		f, err := fields(tag, rest, 3)
		if err != nil {
			return nil, err
		}
		return VoiceSignal{Sender: f[0], Target: f[1], Payload: f[2]}, nil
	case TagMeetingJoin:
		return MeetingJoin{}, nil
	case TagMeetingLeave:
		return MeetingLeave{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

// fields splits rest into exactly n fields, the last keeping any separators.
// Every field but the last must be non-empty.
func fields(tag, rest string, n int) ([]string, error) {
	f := strings.SplitN(rest, Separator, n)
	if len(f) < n {
		return nil, fmt.Errorf("%w: %s wants %d fields, got %d", ErrChatFormat, tag, n, len(f))
	}
	for _, v := range f[:n-1] {
		if v == "" {
			return nil, fmt.Errorf("%w: %s has an empty field", ErrChatFormat, tag)
		}
	}
	return f, nil
}

// Format renders a variant back into its inbound frame form.
func Format(m ChatMessage) string {
	switch v := m.(type) {
	case Register:
		return Join(TagRegister, v.Room, v.Player, v.Name)
	case Global:
		return Join(TagGlobal, v.Sender, v.Text)
	case Private:
		return Join(TagPrivate, v.Sender, v.Target, v.Text)
	case VoiceSignal:
		return Join(TagVoiceSignal, v.Sender, v.Target, v.Payload)
	case MeetingJoin:
		return TagMeetingJoin + Separator
	case MeetingLeave:
		return TagMeetingLeave + Separator
	default:
		return ""
	}
}

// GlobalFrame formats a room broadcast.
func GlobalFrame(sender, text string) string {
	return Join(TagGlobal, sender, text)
}

// Joined formats the system notice announcing name.
func Joined(name string) string {
	return GlobalFrame(SystemSender, name+" joined the game.")
}

// Left formats the system notice announcing that name departed.
func Left(name string) string {
	return GlobalFrame(SystemSender, name+" left the game.")
}

// PrivateFrame formats the delivery to a private message's target.
func PrivateFrame(sender, text string) string {
	return Join(TagPrivate, sender, text)
}

// PrivateEcho formats the confirmation sent back to a private message's sender.
func PrivateEcho(target, text string) string {
	return Join(TagPrivate, "To "+target, text)
}

// NotFound formats the notice sent when a private message target is absent.
func NotFound(target string) string {
	return Notice("Player " + target + " not found in this office.")
}

// Notice formats a server notice addressed to one connection.
func Notice(text string) string {
	return Join(TagSystem, text)
}

// VoiceFrame formats a relayed voice signal as seen by its target.
func VoiceFrame(sender, payload string) string {
	return Join(TagVoiceSignal, sender, payload)
}

// PlayerEntry is one id/name pair of a player list.
type PlayerEntry struct {
	ID   string
	Name string
}

// PlayerList formats `PLAYER_LIST:id,name,id,name`.
func PlayerList(entries []PlayerEntry) string {
	parts := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		parts = append(parts, e.ID, e.Name)
	}
	return TagPlayerList + Separator + strings.Join(parts, ",")
}

// MeetingList formats the ids already in a meeting.
func MeetingList(ids []string) string {
	return TagMeetingList + Separator + strings.Join(ids, ",")
}

// MeetingUserJoined formats the notice that player entered the meeting.
func MeetingUserJoined(player string) string {
	return Join(TagMeetingUserJoined, player)
}

// MeetingUserLeft formats the notice that player left the meeting.
func MeetingUserLeft(player string) string {
	return Join(TagMeetingUserLeft, player)
}
