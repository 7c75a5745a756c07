package dvsdriver

import "time"

// PixelTransitionState is the transition history kept for one pixel. Only
// the most recent transition is needed to time the next one, so the history
// is bounded to a single interval plus counters.
type PixelTransitionState struct {
	LastTransitionTs int64
	LastPolarity     bool
	Seen             bool
	Transitioned     bool
	Qualifying       uint32 // in-band transitions since reset
	Run              uint32 // current consecutive in-band transitions
	BestRun          uint32
}

// CameraAccumulatorState is a value copy of an accumulator.
type CameraAccumulatorState struct {
	TotalTransitions uint64
	MaxTransitions   uint32
	Dropped          uint64
	LastReset        time.Time
	Pixels           []PixelTransitionState
}

// EventAccumulator keeps per-pixel blink statistics for one camera on a
// fixed width*height grid. It is not safe for concurrent use; the owning
// Detector serializes access.
type EventAccumulator struct {
	width  int
	height int

	// interval band in microseconds, inclusive
	minInterval int64
	maxInterval int64

	pixels []PixelTransitionState

	totalTransitions uint64
	maxTransitions   uint32
	dropped          uint64
	lastReset        time.Time
}

func NewEventAccumulator(params CalibrationParameters, now time.Time) *EventAccumulator {
	return &EventAccumulator{
		width:       params.SensorWidth,
		height:      params.SensorHeight,
		minInterval: int64(params.BlinkingTimeUs - params.BlinkingTimeTolerance),
		maxInterval: int64(params.BlinkingTimeUs + params.BlinkingTimeTolerance),
		pixels:      make([]PixelTransitionState, params.SensorWidth*params.SensorHeight),
		lastReset:   now,
	}
}

func (a *EventAccumulator) Width() int  { return a.width }
func (a *EventAccumulator) Height() int { return a.height }

// Update ingests a batch in timestamp order. A transition is a polarity flip;
// its interval is measured from the previous flip of the same pixel.
func (a *EventAccumulator) Update(events []Event) {
	for _, e := range events {
		x, y := int(e.X), int(e.Y)
		if x >= a.width || y >= a.height {
			a.dropped++
			continue
		}
		p := &a.pixels[y*a.width+x]

		if !p.Seen {
			p.Seen = true
			p.LastPolarity = e.Polarity
			p.LastTransitionTs = e.Ts
			continue
		}
		if p.LastPolarity == e.Polarity {
			continue
		}

		interval := e.Ts - p.LastTransitionTs
		p.LastPolarity = e.Polarity
		p.LastTransitionTs = e.Ts
		a.totalTransitions++

		// the first flip only anchors the interval
		if !p.Transitioned {
			p.Transitioned = true
			continue
		}

		if interval >= a.minInterval && interval <= a.maxInterval {
			p.Qualifying++
			p.Run++
			if p.Run > p.BestRun {
				p.BestRun = p.Run
			}
			if p.Qualifying > a.maxTransitions {
				a.maxTransitions = p.Qualifying
			}
		} else {
			p.Run = 0
		}
	}
}

// Max returns the highest per-pixel qualifying transition count.
func (a *EventAccumulator) Max() int {
	return int(a.maxTransitions)
}

func (a *EventAccumulator) TotalTransitions() uint64 {
	return a.totalTransitions
}

func (a *EventAccumulator) Pixel(x, y int) PixelTransitionState {
	return a.pixels[y*a.width+x]
}

// ResetMaps clears every pixel and records now as the reset time.
func (a *EventAccumulator) ResetMaps(now time.Time) {
	for i := range a.pixels {
		a.pixels[i] = PixelTransitionState{}
	}
	a.totalTransitions = 0
	a.maxTransitions = 0
	a.dropped = 0
	a.lastReset = now
}

func (a *EventAccumulator) LastResetTime() time.Time {
	return a.lastReset
}

func (a *EventAccumulator) State() CameraAccumulatorState {
	pixels := make([]PixelTransitionState, len(a.pixels))
	copy(pixels, a.pixels)
	return CameraAccumulatorState{
		TotalTransitions: a.totalTransitions,
		MaxTransitions:   a.maxTransitions,
		Dropped:          a.dropped,
		LastReset:        a.lastReset,
		Pixels:           pixels,
	}
}
