package dvsdriver

import (
	"context"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	SetLogger(zerolog.Nop())
}

func testParams() CalibrationParameters {
	p := DefaultParameters()
	p.SensorWidth = 128
	p.SensorHeight = 128
	return p
}

// block returns the pixels of a w x h rectangle at (x0, y0).
func block(x0, y0, w, h int) []image.Point {
	pts := make([]image.Point, 0, w*h)
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			pts = append(pts, image.Pt(x, y))
		}
	}
	return pts
}

// blinkingEvents makes every pixel flip polarity every periodUs so that each
// pixel ends with exactly `transitions` qualifying transitions. The stream is
// timestamp ordered.
func blinkingEvents(pixels []image.Point, transitions int, periodUs, startTs int64) []Event {
	events := make([]Event, 0, len(pixels)*(transitions+2))
	for k := 0; k < transitions+2; k++ {
		for _, p := range pixels {
			events = append(events, Event{
				X:        uint16(p.X),
				Y:        uint16(p.Y),
				Polarity: k%2 == 0,
				Ts:       startTs + int64(k)*periodUs,
			})
		}
	}
	return events
}

// mergeStreams interleaves several ordered streams by timestamp.
func mergeStreams(streams ...[]Event) []Event {
	var all []Event
	for _, s := range streams {
		all = append(all, s...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Ts < all[j].Ts })
	return all
}

// gridEvents builds a dotsH x dotsW grid of square LED blocks.
func gridEvents(dotsW, dotsH, side, spacing, x0, y0, transitions int) []Event {
	var pixels []image.Point
	for i := 0; i < dotsH; i++ {
		for j := 0; j < dotsW; j++ {
			pixels = append(pixels, block(x0+j*spacing, y0+i*spacing, side, side)...)
		}
	}
	return blinkingEvents(pixels, transitions, 1000, 0)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePublisher struct {
	mu         sync.Mutex
	detections []int
	patterns   []PatternMessage
	outputs    []string
	images     map[int]int
}

func (f *fakePublisher) PublishDetections(count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections = append(f.detections, count)
	return nil
}

func (f *fakePublisher) PublishPattern(msg PatternMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, msg)
	return nil
}

func (f *fakePublisher) PublishOutput(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, text)
	return nil
}

func (f *fakePublisher) PublishImage(cameraID int, jpeg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images == nil {
		f.images = make(map[int]int)
	}
	f.images[cameraID]++
	return nil
}

type fakeSolver struct {
	calls int
	views map[int][][]Correspondence
	err   error
}

func (f *fakeSolver) Solve(ctx context.Context, views map[int][][]Correspondence) (*CalibrationResult, error) {
	f.calls++
	f.views = views
	if f.err != nil {
		return nil, f.err
	}
	result := &CalibrationResult{}
	for cam, v := range views {
		result.Cameras = append(result.Cameras, CameraResult{CameraID: cam, Views: len(v), UsedViews: len(v)})
	}
	return result, nil
}
