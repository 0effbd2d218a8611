// Package camera feeds frames from a media source into the hub.
// The actual RTSP decode pipeline is an external capability: anything that
// implements FrameSource can drive a camera channel.
package camera

import (
	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/hub"
)

// FrameSource is an open connection to a camera (or a stand-in for one).
type FrameSource interface {
	// Frames is the stream of decoded frames. The channel is closed when the
	// source dies or is closed.
	Frames() <-chan *defs.Frame

	// Healthy reports whether the source has delivered a frame recently.
	Healthy() bool

	// Close shuts the source down and closes the Frames channel.
	Close()
}

// OpenFunc opens a frame source for a camera's stream URL.
type OpenFunc func(rtspURL string) (FrameSource, error)

// RunPump copies frames from a source into the hub until the source closes.
// Run it on its own goroutine, one per camera.
func RunPump(log logs.Log, src FrameSource, frameHub *hub.Hub, cameraID string) {
	channel := defs.CameraChannel(cameraID)
	n := 0
	for frame := range src.Frames() {
		frameHub.Publish(channel, frame)
		n++
	}
	log.Infof("Camera %v pump finished after %v frames", cameraID, n)
}
