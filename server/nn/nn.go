// Package nn is the object detection interface layer.
// Models are loaded and cached by the nnload package.
package nn

import "image"

// Rect is a detection bounding box, in pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

// ObjectDetection is one object found in a frame.
// Detections are ephemeral: they are produced per frame, evaluated by the rule
// engine, and thrown away.
type ObjectDetection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// ObjectDetector is given an image, and returns zero or more detected objects.
// Implementations must be safe for concurrent callers, because one model can
// be shared by many agents.
type ObjectDetector interface {
	// DetectObjects returns a list of objects detected in the image
	DetectObjects(img image.Image) ([]ObjectDetection, error)

	// Close releases the model. Only the model cache calls this.
	Close()
}
