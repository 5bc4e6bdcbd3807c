package testutil

import (
	"errors"
	"sync"

	"github.com/cory-johannsen/officeverse/internal/registry"
)

// ErrPeerClosed is returned by a RecordingPeer that has been told to fail.
var ErrPeerClosed = errors.New("peer closed")

// RecordingPeer is an in-memory registry.Peer that keeps every frame sent to it.
type RecordingPeer struct {
	id     registry.ConnID
	mu     sync.Mutex
	frames []string
	fail   bool
}

// NewPeer creates a RecordingPeer with the given connection id.
func NewPeer(id string) *RecordingPeer {
	return &RecordingPeer{id: registry.ConnID(id)}
}

// ID returns the connection id.
func (p *RecordingPeer) ID() registry.ConnID { return p.id }

// Send records data, or fails once Fail has been called.
func (p *RecordingPeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return ErrPeerClosed
	}
	p.frames = append(p.frames, string(data))
	return nil
}

// Fail makes every later Send return ErrPeerClosed.
func (p *RecordingPeer) Fail() {
	p.mu.Lock()
	p.fail = true
	p.mu.Unlock()
}

// Frames returns a copy of the frames received so far.
func (p *RecordingPeer) Frames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.frames...)
}

// Last returns the most recent frame, or "" if none.
func (p *RecordingPeer) Last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return ""
	}
	return p.frames[len(p.frames)-1]
}

// Reset discards recorded frames.
func (p *RecordingPeer) Reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}
