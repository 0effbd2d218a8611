// Package rtc wraps the WebRTC peer connection behind a small interface,
// so that the session driver (and its tests) never touch pion directly.
package rtc

import (
	"time"

	"github.com/visioncore/visioncore/server/config"
)

// ConnState is a reduced view of the peer connection state. We only care
// about whether the connection is still worth keeping alive.
type ConnState int

const (
	ConnStateNew ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateDisconnected
	ConnStateFailed
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal returns true when the connection is dead and the session should
// tear down and retry from scratch.
func (s ConnState) Terminal() bool {
	return s == ConnStateFailed || s == ConnStateClosed
}

// Track is a send-only media track. WriteSample expects an encoded access
// unit (eg one H264 frame) and the wall-clock duration it covers.
type Track interface {
	WriteSample(data []byte, duration time.Duration) error
}

// Publisher is one outbound peer connection carrying any number of tracks.
// Tracks must all be added before CreateOffer.
type Publisher interface {
	// AddTrack creates a send-only video track with the given id.
	AddTrack(trackID string) (Track, error)

	// CreateOffer gathers the local description and returns its SDP.
	CreateOffer() (string, error)

	// SetAnswer applies the remote answer SDP.
	SetAnswer(sdp string) error

	// AddRemoteCandidate applies an ICE candidate received from the peer.
	// The payload is the JSON candidate object as sent on the wire.
	AddRemoteCandidate(candidate []byte) error

	// Candidates yields local ICE candidates as JSON payloads, and is
	// closed when gathering completes.
	Candidates() <-chan []byte

	// States yields connection state transitions. The channel is never
	// closed; after a Terminal state no further sends are guaranteed.
	States() <-chan ConnState

	Close()
}

// PublisherFactory creates publishers. Swapped out for a fake in tests.
type PublisherFactory func(iceServers []config.ICEServer) (Publisher, error)
