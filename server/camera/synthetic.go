package camera

import (
	"fmt"
	"image"
	"math"
	"sync/atomic"
	"time"

	"github.com/fogleman/gg"
	"github.com/visioncore/visioncore/server/defs"
)

// SyntheticSource generates test frames at a fixed rate: a dark background
// with a box orbiting the center, so you can see motion in a viewer.
// It satisfies FrameSource, which lets the whole publish path run on a dev
// box with no physical cameras.
type SyntheticSource struct {
	label     string
	fps       int
	frames    chan *defs.Frame
	stop      chan bool
	lastFrame atomic.Int64 // unix milliseconds of the last generated frame
}

const syntheticWidth = 320
const syntheticHeight = 240

func NewSyntheticSource(label string, fps int) *SyntheticSource {
	if fps <= 0 {
		fps = 15
	}
	s := &SyntheticSource{
		label:  label,
		fps:    fps,
		frames: make(chan *defs.Frame, 2),
		stop:   make(chan bool),
	}
	go s.run()
	return s
}

func (s *SyntheticSource) Frames() <-chan *defs.Frame {
	return s.frames
}

func (s *SyntheticSource) Healthy() bool {
	last := s.lastFrame.Load()
	return last != 0 && time.Since(time.UnixMilli(last)) < 3*time.Second
}

func (s *SyntheticSource) Close() {
	close(s.stop)
}

func (s *SyntheticSource) run() {
	defer close(s.frames)
	interval := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pts := time.Duration(0)
	start := time.Now()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		frame := &defs.Frame{
			Image:    s.render(time.Since(start)),
			PTS:      pts,
			Captured: time.Now(),
		}
		pts += interval
		s.lastFrame.Store(time.Now().UnixMilli())
		// The channel buffer is tiny on purpose. If nobody is consuming,
		// we'd rather skip frames than grow a backlog.
		select {
		case s.frames <- frame:
		default:
		}
	}
}

func (s *SyntheticSource) render(elapsed time.Duration) image.Image {
	dc := gg.NewContext(syntheticWidth, syntheticHeight)
	dc.SetRGB(0.1, 0.1, 0.12)
	dc.Clear()

	// Box orbiting the center, one revolution every 8 seconds
	angle := elapsed.Seconds() * 2 * math.Pi / 8
	cx := float64(syntheticWidth)/2 + 80*math.Cos(angle)
	cy := float64(syntheticHeight)/2 + 60*math.Sin(angle)
	dc.SetRGB(0.9, 0.6, 0.1)
	dc.DrawRectangle(cx-20, cy-15, 40, 30)
	dc.Fill()

	dc.SetRGB(0.8, 0.8, 0.8)
	dc.DrawString(fmt.Sprintf("%v %v", s.label, elapsed.Truncate(time.Second)), 8, 16)
	return dc.Image()
}
