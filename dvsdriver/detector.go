package dvsdriver

import (
	"sync"
	"time"
)

// Snapshot is the read-only view handed to a VisualizationHook after every
// ingestion cycle.
type Snapshot struct {
	CameraID        int
	State           DetectionState
	Evaluated       bool
	Found           bool
	Width           int
	Height          int
	Counts          []uint32 // qualifying transitions per pixel, row-major
	MaxTransitions  int
	Mask            Mask // set only when Evaluated
	Blobs           []Blob
	Correspondences []Correspondence
}

type VisualizationHook func(snap Snapshot)

// Outcome is what one Ingest call did.
type Outcome struct {
	Gated           bool
	TimedOut        bool
	Evaluated       bool
	Found           bool
	Correspondences []Correspondence
}

// Detector is the per-camera detection window: it owns one accumulator and
// extractor and decides when to evaluate and when to reset.
type Detector struct {
	mu sync.Mutex

	cameraID  int
	params    CalibrationParameters
	clock     Clock
	acc       *EventAccumulator
	extractor *PatternExtractor
	state     DetectionState
	hook      VisualizationHook
}

func NewDetector(cameraID int, params CalibrationParameters, clock Clock) *Detector {
	if clock == nil {
		clock = RealClock{}
	}
	return &Detector{
		cameraID:  cameraID,
		params:    params,
		clock:     clock,
		acc:       NewEventAccumulator(params, clock.Now()),
		extractor: NewPatternExtractor(params),
		state:     StateAccumulating,
	}
}

// SetVisualizationHook installs fn, called outside the detector lock.
func (d *Detector) SetVisualizationHook(fn VisualizationHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = fn
}

// Ingest applies one batch of events. While calibrationRunning is true the
// batch is dropped before it touches any state.
func (d *Detector) Ingest(events []Event, calibrationRunning bool) Outcome {
	if calibrationRunning {
		return Outcome{Gated: true}
	}

	var out Outcome
	var snap *Snapshot
	hook := func() VisualizationHook {
		d.mu.Lock()
		defer d.mu.Unlock()

		now := d.clock.Now()
		if now.Sub(d.acc.LastResetTime()) > d.params.SearchTimeout() {
			Logger.Info().Int("camera", d.cameraID).Int("max_transitions", d.acc.Max()).Msg("calling reset because of time")
			d.resetLocked(now)
			out.TimedOut = true
		}

		d.acc.Update(events)

		if d.acc.Max() > d.params.EnoughTransitionsThreshold {
			d.state = StateEvaluating
			out.Evaluated = true
			if d.extractor.FindPattern(d.acc) && d.extractor.HasPattern() {
				d.state = StatePatternFound
				out.Found = true
				out.Correspondences = d.extractor.Correspondences()
				Logger.Info().Int("camera", d.cameraID).Int("blobs", len(d.extractor.blobs)).Msg("Has pattern")
			} else {
				Logger.Debug().Int("camera", d.cameraID).Err(d.extractor.LastError()).Msg("No pattern in evaluation")
			}
		}

		if d.hook != nil {
			snap = d.snapshotLocked(out)
		}

		if out.Evaluated {
			d.acc.ResetMaps(now)
			d.state = StateAccumulating
		}
		return d.hook
	}()

	if hook != nil && snap != nil {
		hook(*snap)
	}
	return out
}

// Reset clears the accumulator on an external request.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked(d.clock.Now())
}

func (d *Detector) resetLocked(now time.Time) {
	d.acc.ResetMaps(now)
	d.extractor.Clear()
	d.state = StateAccumulating
}

func (d *Detector) State() DetectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// AccumulatorState returns a copy of the per-pixel state.
func (d *Detector) AccumulatorState() CameraAccumulatorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acc.State()
}

func (d *Detector) Max() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acc.Max()
}

func (d *Detector) snapshotLocked(out Outcome) *Snapshot {
	counts := make([]uint32, len(d.acc.pixels))
	for i, p := range d.acc.pixels {
		counts[i] = p.Qualifying
	}
	snap := &Snapshot{
		CameraID:        d.cameraID,
		State:           d.state,
		Evaluated:       out.Evaluated,
		Found:           out.Found,
		Width:           d.acc.Width(),
		Height:          d.acc.Height(),
		Counts:          counts,
		MaxTransitions:  d.acc.Max(),
		Correspondences: out.Correspondences,
	}
	if out.Evaluated {
		snap.Mask = d.extractor.Mask()
		snap.Blobs = d.extractor.Blobs()
	}
	return snap
}
