package dvsdriver

import (
	"image"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_CountsInBandTransitions(t *testing.T) {
	acc := NewEventAccumulator(testParams(), time.Now())
	acc.Update(blinkingEvents([]image.Point{{X: 3, Y: 4}}, 12, 1000, 0))

	p := acc.Pixel(3, 4)
	assert.Equal(t, uint32(12), p.Qualifying)
	assert.Equal(t, uint32(12), p.BestRun)
	assert.Equal(t, 12, acc.Max())
	// the anchoring flip counts as a transition but not as qualifying
	assert.Equal(t, uint64(13), acc.TotalTransitions())
}

func TestUpdate_ToleranceBand(t *testing.T) {
	params := testParams() // 1000us +/- 500us
	tests := []struct {
		name     string
		interval int64
		want     uint32
	}{
		{"exact", 1000, 5},
		{"lower edge", 500, 5},
		{"upper edge", 1500, 5},
		{"too fast", 499, 0},
		{"too slow", 1501, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewEventAccumulator(params, time.Now())
			acc.Update(blinkingEvents([]image.Point{{X: 0, Y: 0}}, 5, tt.interval, 0))
			assert.Equal(t, tt.want, acc.Pixel(0, 0).Qualifying)
		})
	}
}

func TestUpdate_OutOfBandIntervalBreaksRun(t *testing.T) {
	acc := NewEventAccumulator(testParams(), time.Now())
	events := []Event{
		{X: 1, Y: 1, Polarity: true, Ts: 0},
		{X: 1, Y: 1, Polarity: false, Ts: 1000}, // anchor
		{X: 1, Y: 1, Polarity: true, Ts: 2000},  // in band
		{X: 1, Y: 1, Polarity: false, Ts: 3000}, // in band
		{X: 1, Y: 1, Polarity: true, Ts: 9000},  // gap
		{X: 1, Y: 1, Polarity: false, Ts: 10000},
	}
	acc.Update(events)

	p := acc.Pixel(1, 1)
	assert.Equal(t, uint32(3), p.Qualifying)
	assert.Equal(t, uint32(1), p.Run)
	assert.Equal(t, uint32(2), p.BestRun)
}

func TestUpdate_SamePolarityIsNotATransition(t *testing.T) {
	acc := NewEventAccumulator(testParams(), time.Now())
	acc.Update([]Event{
		{X: 2, Y: 2, Polarity: true, Ts: 0},
		{X: 2, Y: 2, Polarity: true, Ts: 1000},
		{X: 2, Y: 2, Polarity: true, Ts: 2000},
	})
	assert.Equal(t, uint64(0), acc.TotalTransitions())
	assert.Equal(t, 0, acc.Max())
}

func TestUpdate_DropsEventsOutsideSensor(t *testing.T) {
	acc := NewEventAccumulator(testParams(), time.Now())
	acc.Update([]Event{
		{X: 128, Y: 0, Polarity: true, Ts: 0},
		{X: 0, Y: 500, Polarity: true, Ts: 0},
	})
	state := acc.State()
	assert.Equal(t, uint64(2), state.Dropped)
	assert.Equal(t, uint64(0), state.TotalTransitions)
}

func TestMax_IsMaximumAcrossPixels(t *testing.T) {
	acc := NewEventAccumulator(testParams(), time.Now())
	acc.Update(mergeStreams(
		blinkingEvents([]image.Point{{X: 0, Y: 0}}, 7, 1000, 0),
		blinkingEvents([]image.Point{{X: 5, Y: 5}}, 31, 1000, 0),
		blinkingEvents([]image.Point{{X: 9, Y: 9}}, 15, 1000, 0),
	))
	assert.Equal(t, 31, acc.Max())
}

func TestResetMaps_Idempotent(t *testing.T) {
	resetAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	once := NewEventAccumulator(testParams(), time.Now())
	once.Update(blinkingEvents(block(10, 10, 4, 4), 30, 1000, 0))
	once.ResetMaps(resetAt)

	twice := NewEventAccumulator(testParams(), time.Now())
	twice.Update(blinkingEvents(block(10, 10, 4, 4), 30, 1000, 0))
	twice.ResetMaps(resetAt)
	twice.ResetMaps(resetAt)

	if diff := cmp.Diff(once.State(), twice.State()); diff != "" {
		t.Errorf("state after double reset differs (-once +twice):\n%s", diff)
	}

	fresh := NewEventAccumulator(testParams(), resetAt)
	if diff := cmp.Diff(fresh.State(), once.State()); diff != "" {
		t.Errorf("reset state is not empty (-fresh +reset):\n%s", diff)
	}
	require.Equal(t, resetAt, once.LastResetTime())
	assert.Equal(t, 0, once.Max())
}
