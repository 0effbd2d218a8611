package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/fogleman/gg"
	"github.com/visioncore/visioncore/server/defs"
	"github.com/visioncore/visioncore/server/hub"
	"github.com/visioncore/visioncore/server/nn"
	"github.com/visioncore/visioncore/server/rules"
)

var errNoModels = errors.New("agent has no models configured")

// agentRuntime is one running analysis task: sample the camera's latest
// frame at the agent's rate, detect, evaluate rules, and publish an
// annotated frame when a rule matches.
type agentRuntime struct {
	log       logs.Log
	frameHub  *hub.Hub
	agentID   string
	cameraID  string
	fps       int
	detectors []nn.ObjectDetector
	rules     []rules.Rule

	lastPTS     time.Duration
	haveLastPTS bool
}

func (rt *agentRuntime) run(ctx context.Context) {
	fps := rt.fps
	if fps <= 0 {
		fps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rt.tick()
	}
}

func (rt *agentRuntime) tick() {
	frame := rt.frameHub.Latest(defs.CameraChannel(rt.cameraID))
	if frame == nil || frame.Image == nil {
		return
	}
	// Don't re-analyze a frame we've already seen
	if rt.haveLastPTS && frame.PTS == rt.lastPTS {
		return
	}
	rt.lastPTS = frame.PTS
	rt.haveLastPTS = true

	detections := []nn.ObjectDetection{}
	for _, det := range rt.detectors {
		found, err := det.DetectObjects(frame.Image)
		if err != nil {
			rt.log.Warnf("Agent %v detection failed: %v", rt.agentID, err)
			return
		}
		detections = append(detections, found...)
	}

	matched, kept := rules.Run(rt.log, rt.agentID, rt.rules, detections)
	if !matched {
		return
	}
	rt.frameHub.Publish(defs.AgentChannel(rt.agentID), &defs.Frame{
		Image:    annotate(frame.Image, kept),
		PTS:      frame.PTS,
		Captured: time.Now(),
	})
}

// annotate draws detection boxes and class labels onto a copy of img.
func annotate(img image.Image, detections []nn.ObjectDetection) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)
	for _, det := range detections {
		dc.SetRGB(0.1, 0.9, 0.2)
		dc.DrawRectangle(float64(det.Box.X), float64(det.Box.Y), float64(det.Box.Width), float64(det.Box.Height))
		dc.Stroke()
		label := fmt.Sprintf("%v %.2f", det.Class, det.Confidence)
		dc.DrawString(label, float64(det.Box.X), float64(det.Box.Y)-3)
	}
	return dc.Image()
}
