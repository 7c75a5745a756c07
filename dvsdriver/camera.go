package dvsdriver

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

const (
	// Upper bound on one length-delimited EventArray frame.
	CAMERA_MAX_FRAME_SIZE = 16 << 20
)

var (
	CAMERA_DRIVER_CMD = ""
)

func init() {
	if cmd := os.Getenv("CAMERA_DRIVER_CMD"); cmd != "" {
		CAMERA_DRIVER_CMD = cmd
	}
}

// StartEventCamera spawns the event camera streamer for one camera. The
// process must write varint length-prefixed EventArray messages to stdout.
func StartEventCamera(ctx context.Context, command string, cameraID int) (*exec.Cmd, io.ReadCloser, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("empty camera driver command")
	}
	args := append(fields[1:], "--camera", fmt.Sprint(cameraID))
	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Stderr = os.Stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("camera %d stdout: %w", cameraID, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("camera %d start: %w", cameraID, err)
	}
	Logger.Info().Int("camera", cameraID).Str("cmd", cmd.String()).Msg("Started event camera")
	return cmd, out, nil
}

// ReadEventArray reads one length-delimited frame from r.
func ReadEventArray(r *bufio.Reader, buf []byte) (EventArray, []byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return EventArray{}, buf, err
	}
	if size > CAMERA_MAX_FRAME_SIZE {
		return EventArray{}, buf, fmt.Errorf("frame of %d bytes exceeds %d", size, CAMERA_MAX_FRAME_SIZE)
	}
	if uint64(cap(buf)) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return EventArray{}, buf, err
	}
	arr, err := DecodeEventArray(buf)
	return arr, buf, err
}

// WriteEventArray writes one length-delimited frame to w.
func WriteEventArray(w io.Writer, arr EventArray) error {
	payload := AppendEventArray(nil, arr)
	frame := binary.AppendUvarint(make([]byte, 0, len(payload)+binary.MaxVarintLen64), uint64(len(payload)))
	frame = append(frame, payload...)
	_, err := w.Write(frame)
	return err
}
