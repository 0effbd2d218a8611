package session

import (
	"context"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/hub"
	"github.com/visioncore/visioncore/server/rtc"
)

// FrameEncoder turns a decoded frame into an encoded access unit for the
// outbound track. Frames that already carry encoded bytes bypass it.
type FrameEncoder interface {
	Encode(frame *defs.Frame) ([]byte, error)
}

// minSampleDuration is the floor for outbound sample durations. The track's
// output clock must advance on every sample, even when source timestamps
// stall or jump backwards.
const minSampleDuration = time.Millisecond

// agentPollInterval is how often an agent pump checks for a new output
// frame. Agents produce frames at their own (low) rate, so polling the
// latest frame is cheaper than a dedicated subscription.
const agentPollInterval = 100 * time.Millisecond

// trackWriter pushes frames onto one outbound track, keeping the output
// clock strictly monotonic regardless of what the source timestamps do.
type trackWriter struct {
	log     logs.Log
	track   rtc.Track
	encoder FrameEncoder

	havePrev bool
	prevPTS  time.Duration
}

func newTrackWriter(log logs.Log, track rtc.Track, encoder FrameEncoder) *trackWriter {
	return &trackWriter{
		log:     log,
		track:   track,
		encoder: encoder,
	}
}

// isRepeat reports whether frame is the same frame we wrote last.
func (w *trackWriter) isRepeat(frame *defs.Frame) bool {
	return w.havePrev && frame.PTS == w.prevPTS
}

func (w *trackWriter) write(frame *defs.Frame) error {
	payload := frame.H264
	if payload == nil && w.encoder != nil {
		var err error
		payload, err = w.encoder.Encode(frame)
		if err != nil {
			return err
		}
	}
	if payload == nil {
		// Nothing sendable in this frame
		return nil
	}

	duration := minSampleDuration
	if w.havePrev && frame.PTS > w.prevPTS {
		duration = frame.PTS - w.prevPTS
	}
	w.prevPTS = frame.PTS
	w.havePrev = true
	return w.track.WriteSample(payload, duration)
}

// runCameraPump drains a hub subscription into a track until ctx is done.
// The subscription's bounded queue handles backpressure: if the track can't
// keep up, old frames are dropped at the hub, not here.
func runCameraPump(ctx context.Context, log logs.Log, frameHub *hub.Hub, cameraID string, track rtc.Track, encoder FrameEncoder) {
	channel := defs.CameraChannel(cameraID)
	q := frameHub.Subscribe(channel)
	defer frameHub.Unsubscribe(channel, q)

	w := newTrackWriter(log, track, encoder)
	for {
		frame, err := q.Next(ctx)
		if err != nil {
			return
		}
		if err := w.write(frame); err != nil {
			log.Warnf("Camera %v track write failed: %v", cameraID, err)
		}
	}
}

// runAgentPump feeds an agent's annotated output onto a track. Agent
// channels update sporadically, so we poll the latest frame and suppress
// repeats rather than holding a subscription.
func runAgentPump(ctx context.Context, log logs.Log, frameHub *hub.Hub, agentID string, track rtc.Track, encoder FrameEncoder) {
	channel := defs.AgentChannel(agentID)
	w := newTrackWriter(log, track, encoder)

	ticker := time.NewTicker(agentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame := frameHub.Latest(channel)
		if frame == nil || w.isRepeat(frame) {
			continue
		}
		if err := w.write(frame); err != nil {
			log.Warnf("Agent %v track write failed: %v", agentID, err)
		}
	}
}
