package nn

import (
	"image"
	"sync"
)

// ScriptedDetector is an ObjectDetector that plays back canned results.
// It backs unit tests and the synthetic frame source, where there is no real
// model to run. Results queued with QueueResult are returned one call at a
// time; once the queue is empty, Static is returned for every call.
type ScriptedDetector struct {
	Static []ObjectDetection

	lock   sync.Mutex
	queue  [][]ObjectDetection
	nCalls int
}

func NewScriptedDetector(static ...ObjectDetection) *ScriptedDetector {
	return &ScriptedDetector{Static: static}
}

// QueueResult appends a one-shot result set, consumed in FIFO order.
func (d *ScriptedDetector) QueueResult(detections ...ObjectDetection) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.queue = append(d.queue, detections)
}

// NumCalls returns how many times DetectObjects has run.
func (d *ScriptedDetector) NumCalls() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.nCalls
}

func (d *ScriptedDetector) DetectObjects(img image.Image) ([]ObjectDetection, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.nCalls++
	if len(d.queue) != 0 {
		r := d.queue[0]
		d.queue = d.queue[1:]
		return r, nil
	}
	return d.Static, nil
}

func (d *ScriptedDetector) Close() {
}
