package dvsdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrUnknownCamera  = errors.New("unknown camera id")
	ErrNotEnoughViews = errors.New("not enough pattern detections to calibrate")
	ErrNotCalibrated  = errors.New("no calibration result to save")
)

// Publisher receives what the session exposes to the outside world.
type Publisher interface {
	PublishDetections(count int) error
	PublishPattern(msg PatternMessage) error
	PublishOutput(text string) error
}

// Session drives a multi-camera calibration run around the per-camera
// detectors. The running flag is the only state shared across cameras.
type Session struct {
	running atomic.Bool

	params    CalibrationParameters
	detectors []*Detector
	solver    Solver
	publisher Publisher

	mu            sync.Mutex
	id            uuid.UUID
	views         map[int][][]Correspondence
	numDetections int
	result        *CalibrationResult
}

func NewSession(params CalibrationParameters, clock Clock, solver Solver, publisher Publisher) *Session {
	detectors := make([]*Detector, params.NumCameras)
	for i := range detectors {
		detectors[i] = NewDetector(i, params, clock)
	}
	if solver == nil {
		solver = HomographySolver{}
	}
	return &Session{
		params:    params,
		detectors: detectors,
		solver:    solver,
		publisher: publisher,
		id:        uuid.New(),
		views:     make(map[int][][]Correspondence),
	}
}

func (s *Session) Detector(cameraID int) (*Detector, error) {
	if cameraID < 0 || cameraID >= len(s.detectors) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCamera, cameraID)
	}
	return s.detectors[cameraID], nil
}

func (s *Session) NumCameras() int {
	return len(s.detectors)
}

// HandleEvents feeds one batch into the camera's detector and records a
// detected pattern.
func (s *Session) HandleEvents(cameraID int, events []Event) (Outcome, error) {
	d, err := s.Detector(cameraID)
	if err != nil {
		return Outcome{}, err
	}
	out := d.Ingest(events, s.running.Load())
	if out.Found {
		s.addPattern(cameraID, out.Correspondences)
	}
	return out, nil
}

func (s *Session) addPattern(cameraID int, pattern []Correspondence) {
	s.mu.Lock()
	// a solve may have started while this detection was being evaluated
	if s.running.Load() {
		s.mu.Unlock()
		Logger.Debug().Int("camera", cameraID).Msg("Dropping detection, calibration running")
		return
	}
	s.views[cameraID] = append(s.views[cameraID], pattern)
	s.numDetections++
	count := s.numDetections
	s.mu.Unlock()

	Logger.Info().Int("camera", cameraID).Int("detections", count).Msg("Added pattern")
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDetections(count); err != nil {
		Logger.Error().Err(err).Msg("Failed to publish detection count")
	}
	msg := PatternMessage{CameraID: cameraID, Detections: count, Correspondences: pattern}
	if err := s.publisher.PublishPattern(msg); err != nil {
		Logger.Error().Err(err).Int("camera", cameraID).Msg("Failed to publish pattern")
	}
}

// StartCalibration stops detection and runs the solver over every view
// collected so far. Detection stays stopped until ResetCalibration.
func (s *Session) StartCalibration(ctx context.Context) (*CalibrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() && s.result != nil {
		return s.result, nil
	}
	s.running.Store(true)
	for cam := range s.detectors {
		if len(s.views[cam]) == 0 {
			s.running.Store(false)
			return nil, fmt.Errorf("%w: camera %d has no views", ErrNotEnoughViews, cam)
		}
	}

	views := make(map[int][][]Correspondence, len(s.views))
	for cam, v := range s.views {
		views[cam] = append([][]Correspondence(nil), v...)
	}
	Logger.Info().Str("session", s.id.String()).Int("detections", s.numDetections).Msg("Starting calibration")

	result, err := s.solver.Solve(ctx, views)
	if err != nil {
		s.running.Store(false)
		return nil, fmt.Errorf("calibration solve failed: %w", err)
	}
	result.SessionID = s.id
	s.result = result

	if s.publisher != nil {
		if err := s.publisher.PublishOutput(result.Report()); err != nil {
			Logger.Error().Err(err).Msg("Failed to publish calibration output")
		}
	}
	return result, nil
}

// ResetCalibration drops every view and detector state and re-enables
// detection.
func (s *Session) ResetCalibration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.detectors {
		d.Reset()
	}
	s.views = make(map[int][][]Correspondence)
	s.numDetections = 0
	s.result = nil
	s.id = uuid.New()
	s.running.Store(false)
	Logger.Info().Str("session", s.id.String()).Msg("Calibration reset")

	if s.publisher != nil {
		if err := s.publisher.PublishDetections(0); err != nil {
			Logger.Error().Err(err).Msg("Failed to publish detection count")
		}
	}
}

// SaveCalibration hands the last result to the output channel.
func (s *Session) SaveCalibration(ctx context.Context) error {
	s.mu.Lock()
	result := s.result
	s.mu.Unlock()

	if result == nil {
		return ErrNotCalibrated
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	Logger.Info().Str("session", result.SessionID.String()).Msg("Saving calibration")
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.PublishOutput("saved " + result.Report()); err != nil {
		return fmt.Errorf("failed to publish saved calibration: %w", err)
	}
	return nil
}

func (s *Session) Running() bool {
	return s.running.Load()
}

func (s *Session) NumDetections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numDetections
}

func (s *Session) Views(cameraID int) [][]Correspondence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Correspondence(nil), s.views[cameraID]...)
}

func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetVisualizationHook installs fn on every camera's detector.
func (s *Session) SetVisualizationHook(fn VisualizationHook) {
	for _, d := range s.detectors {
		d.SetVisualizationHook(fn)
	}
}
