package dvsdriver

import "image"

// Event is a single brightness change reported by an event camera.
// Ts is in microseconds and is non-decreasing within one camera stream.
type Event struct {
	X        uint16
	Y        uint16
	Polarity bool
	Ts       int64
}

// EventArray is one batch of events from a camera, as carried on the wire.
type EventArray struct {
	Width  int
	Height int
	Events []Event
}

type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Correspondence pairs a detected image centroid with its known position on
// the calibration target.
type Correspondence struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Image Point2 `json:"image"`
	World Point3 `json:"world"`
}

// Blob is a connected cluster of blinking pixels, one LED candidate.
type Blob struct {
	Centroid Point2
	Mass     int
	Bounds   image.Rectangle
}

// Mask marks the pixels judged blinking, row-major (y*Width+x).
type Mask struct {
	Width  int
	Height int
	Pixels []bool
}

func NewMask(w, h int) Mask {
	return Mask{Width: w, Height: h, Pixels: make([]bool, w*h)}
}

func (m Mask) At(x, y int) bool {
	return m.Pixels[y*m.Width+x]
}

func (m Mask) Set(x, y int, v bool) {
	m.Pixels[y*m.Width+x] = v
}

// Count returns the number of set pixels.
func (m Mask) Count() int {
	var n int
	for _, p := range m.Pixels {
		if p {
			n++
		}
	}
	return n
}

type DetectionState byte

const (
	StateAccumulating DetectionState = iota
	StateEvaluating
	StatePatternFound
)

func (s DetectionState) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateEvaluating:
		return "evaluating"
	case StatePatternFound:
		return "pattern_found"
	}
	return "unknown"
}

type PatternMessage struct {
	CameraID        int              `json:"camera_id"`
	Detections      int              `json:"detections"`
	Correspondences []Correspondence `json:"correspondences"`
}
