package dvsdriver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"
)

const (
	EVENT_LOOP_STATS_INTERVAL = 5 * time.Second
)

// EventLoop feeds the frames read from out into the session for cameraID
// until the stream ends or ctx is cancelled. A clean end of stream returns nil.
func EventLoop(ctx context.Context, session *Session, cameraID int, out io.Reader) error {
	r := bufio.NewReader(out)
	t0 := time.Now()

	var buf []byte
	var frames, events, gated int
	previousStatsTs := time.Now()
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var arr EventArray
		var err error
		arr, buf, err = ReadEventArray(r, buf)
		if errors.Is(err, io.EOF) {
			Logger.Info().Int("camera", cameraID).Int("frames", frames).Msg("Event stream ended")
			return nil
		}
		if errors.Is(err, ErrMalformedEvents) {
			Logger.Warn().Int("camera", cameraID).Err(err).Msg("Dropping malformed frame")
			continue
		}
		if err != nil {
			return err
		}
		if i == 0 {
			Logger.Info().Int("camera", cameraID).Dur("elapsed", time.Since(t0)).Msg("Time until first frame arrived")
		}

		outcome, err := session.HandleEvents(cameraID, arr.Events)
		if err != nil {
			return err
		}
		frames++
		events += len(arr.Events)
		if outcome.Gated {
			gated++
		}

		if time.Since(previousStatsTs) < EVENT_LOOP_STATS_INTERVAL {
			continue
		}
		Logger.Debug().Int("camera", cameraID).Int("frames", frames).Int("events", events).Int("gated", gated).Msg("Event loop stats")
		previousStatsTs = time.Now()
		frames, events, gated = 0, 0, 0
	}
}
