package dvsdriver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, cameras int) (*Session, *fakeSolver, *fakePublisher) {
	t.Helper()
	params := twoDotParams()
	params.NumCameras = cameras
	solver := &fakeSolver{}
	publisher := &fakePublisher{}
	return NewSession(params, newManualClock(), solver, publisher), solver, publisher
}

func TestHandleEvents_UnknownCamera(t *testing.T) {
	s, _, _ := newTestSession(t, 2)
	for _, id := range []int{-1, 2, 17} {
		_, err := s.HandleEvents(id, twoDotEvents(10))
		assert.ErrorIs(t, err, ErrUnknownCamera)
	}
}

func TestHandleEvents_PatternIsRecordedAndPublished(t *testing.T) {
	s, _, pub := newTestSession(t, 2)

	out, err := s.HandleEvents(1, twoDotEvents(220))
	require.NoError(t, err)
	require.True(t, out.Found)

	assert.Equal(t, 1, s.NumDetections())
	require.Len(t, s.Views(1), 1)
	assert.Empty(t, s.Views(0))

	assert.Equal(t, []int{1}, pub.detections)
	require.Len(t, pub.patterns, 1)
	assert.Equal(t, 1, pub.patterns[0].CameraID)
	assert.Equal(t, 1, pub.patterns[0].Detections)
	if diff := cmp.Diff(out.Correspondences, pub.patterns[0].Correspondences); diff != "" {
		t.Errorf("published correspondences differ (-detected +published):\n%s", diff)
	}
}

func TestStartCalibration_NeedsAViewPerCamera(t *testing.T) {
	s, solver, _ := newTestSession(t, 2)
	_, err := s.HandleEvents(0, twoDotEvents(220))
	require.NoError(t, err)

	_, err = s.StartCalibration(context.Background())
	assert.ErrorIs(t, err, ErrNotEnoughViews)
	assert.False(t, s.Running())
	assert.Equal(t, 0, solver.calls)
}

func TestStartCalibration_GatesDetection(t *testing.T) {
	s, solver, pub := newTestSession(t, 1)
	_, err := s.HandleEvents(0, twoDotEvents(220))
	require.NoError(t, err)

	result, err := s.StartCalibration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, solver.calls)
	assert.Len(t, solver.views[0], 1)
	assert.Equal(t, s.ID(), result.SessionID)
	assert.True(t, s.Running())
	require.Len(t, pub.outputs, 1)
	assert.Contains(t, pub.outputs[0], result.SessionID.String())

	d, err := s.Detector(0)
	require.NoError(t, err)
	before := d.AccumulatorState()
	out, err := s.HandleEvents(0, twoDotEvents(220))
	require.NoError(t, err)
	assert.True(t, out.Gated)
	assert.Equal(t, 1, s.NumDetections())
	if diff := cmp.Diff(before, d.AccumulatorState()); diff != "" {
		t.Errorf("state changed while calibration running:\n%s", diff)
	}

	// a second start returns the same result without solving again
	again, err := s.StartCalibration(context.Background())
	require.NoError(t, err)
	assert.Same(t, result, again)
	assert.Equal(t, 1, solver.calls)
}

func TestStartCalibration_SolverFailureReopensDetection(t *testing.T) {
	s, solver, _ := newTestSession(t, 1)
	solver.err = errors.New("boom")
	_, err := s.HandleEvents(0, twoDotEvents(220))
	require.NoError(t, err)

	_, err = s.StartCalibration(context.Background())
	assert.ErrorContains(t, err, "boom")
	assert.False(t, s.Running())
}

func TestResetCalibration(t *testing.T) {
	s, _, pub := newTestSession(t, 1)
	firstID := s.ID()
	_, err := s.HandleEvents(0, twoDotEvents(220))
	require.NoError(t, err)
	_, err = s.StartCalibration(context.Background())
	require.NoError(t, err)
	_, err = s.HandleEvents(0, twoDotEvents(50))
	require.NoError(t, err)

	s.ResetCalibration()

	assert.False(t, s.Running())
	assert.Equal(t, 0, s.NumDetections())
	assert.Empty(t, s.Views(0))
	assert.NotEqual(t, firstID, s.ID())
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Equal(t, 0, pub.detections[len(pub.detections)-1])
	assert.ErrorIs(t, s.SaveCalibration(context.Background()), ErrNotCalibrated)

	// detection works again
	out, err := s.HandleEvents(0, twoDotEvents(220))
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Equal(t, 1, s.NumDetections())
}

func TestSaveCalibration(t *testing.T) {
	s, _, pub := newTestSession(t, 1)
	assert.ErrorIs(t, s.SaveCalibration(context.Background()), ErrNotCalibrated)

	_, err := s.HandleEvents(0, twoDotEvents(220))
	require.NoError(t, err)
	_, err = s.StartCalibration(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.SaveCalibration(context.Background()))
	require.Len(t, pub.outputs, 2)
	assert.True(t, strings.HasPrefix(pub.outputs[1], "saved "))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SaveCalibration(ctx), context.Canceled)
}

func TestSession_DefaultSolver(t *testing.T) {
	params := testParams()
	s := NewSession(params, nil, nil, nil)
	_, isHomography := s.solver.(HomographySolver)
	assert.True(t, isHomography)
	assert.Equal(t, params.NumCameras, s.NumCameras())
}
