package defs

import (
	"image"
	"strings"
	"time"
)

// Frame is a single video frame flowing through the hub.
// Frames are immutable once published. A frame pointer is shared by every
// subscriber, so consumers must never mutate Image in place; anything that
// wants to alter a frame (eg annotation) makes a new Frame.
type Frame struct {
	Image    image.Image   // Decoded pixels. May be nil if the source only yields encoded data.
	H264     []byte        // Encoded access unit for the outbound transport. May be nil.
	PTS      time.Duration // Presentation timestamp on the source's clock
	Captured time.Time     // Wall clock time when the frame entered the system
}

// Agent run modes
const (
	RunModeScheduled  = "scheduled"  // Active between StartAt and EndAt
	RunModeContinuous = "continuous" // Always active
)

// Agent status values. Status is a pure function of (run mode, time window, now).
const (
	AgentStatusPending    = "pending"
	AgentStatusRunning    = "running"
	AgentStatusTerminated = "terminated"
)

// Signaling client IDs are "<role>:<userID>". The camera prefix marks the
// publisher side; everything else is treated as a viewer.
const (
	RolePublisherPrefix = "camera:"
	RoleViewerPrefix    = "viewer:"
)

// Hub channel for a camera's raw frames (just the camera ID).
func CameraChannel(cameraID string) string {
	return cameraID
}

// Hub channel carrying an agent's annotated output frames.
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// PublisherClientID returns the signaling identity of the publisher for a user.
func PublisherClientID(userID string) string {
	return RolePublisherPrefix + userID
}

// ViewerClientID returns the signaling identity of a viewer for a user.
func ViewerClientID(userID string) string {
	return RoleViewerPrefix + userID
}

// IsPublisher reports whether a signaling client ID belongs to the publisher role.
func IsPublisher(clientID string) bool {
	return strings.HasPrefix(clientID, RolePublisherPrefix)
}

// PublisherPeer maps a viewer client ID onto the publisher it watches
// ("viewer:bob" -> "camera:bob"). Returns "" if the ID carries no user part.
func PublisherPeer(viewerID string) string {
	_, user, found := strings.Cut(viewerID, ":")
	if !found {
		return ""
	}
	return RolePublisherPrefix + user
}
