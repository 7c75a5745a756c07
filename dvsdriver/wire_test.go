package dvsdriver

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleArray() EventArray {
	return EventArray{
		Width:  346,
		Height: 260,
		Events: []Event{
			{X: 0, Y: 0, Polarity: true, Ts: 0},
			{X: 345, Y: 259, Polarity: false, Ts: 1_000_000},
			{X: 12, Y: 7, Polarity: true, Ts: 1 << 40},
		},
	}
}

func TestEventArray_RoundTrip(t *testing.T) {
	want := sampleArray()
	got, err := DecodeEventArray(AppendEventArray(nil, want))
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEventArray_SkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 15, protowire.BytesType)
	b = protowire.AppendString(b, "sensor serial")
	b = AppendEventArray(b, sampleArray())
	b = protowire.AppendTag(b, 16, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 42)

	got, err := DecodeEventArray(b)
	require.NoError(t, err)
	assert.Equal(t, 346, got.Width)
	assert.Len(t, got.Events, 3)
}

func TestDecodeEventArray_Malformed(t *testing.T) {
	full := AppendEventArray(nil, sampleArray())
	_, err := DecodeEventArray(full[:len(full)-3])
	assert.ErrorIs(t, err, ErrMalformedEvents)

	ev := protowire.AppendTag(nil, fieldEventX, protowire.VarintType)
	ev = protowire.AppendVarint(ev, 70000)
	b := protowire.AppendTag(nil, fieldArrayEvents, protowire.BytesType)
	b = protowire.AppendBytes(b, ev)
	_, err = DecodeEventArray(b)
	assert.ErrorIs(t, err, ErrMalformedEvents)
}

func TestEventArrayFraming(t *testing.T) {
	var stream bytes.Buffer
	first := sampleArray()
	second := EventArray{Width: 346, Height: 260}
	require.NoError(t, WriteEventArray(&stream, first))
	require.NoError(t, WriteEventArray(&stream, second))

	r := bufio.NewReader(&stream)
	var buf []byte
	got, buf, err := ReadEventArray(r, buf)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, _, err = ReadEventArray(r, buf)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, _, err = ReadEventArray(r, nil)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadEventArray_TruncatedFrame(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, WriteEventArray(&stream, sampleArray()))
	truncated := stream.Bytes()[:stream.Len()-2]

	_, _, err := ReadEventArray(bufio.NewReader(bytes.NewReader(truncated)), nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEventLoop_FeedsSession(t *testing.T) {
	session := NewSession(twoDotParams(), newManualClock(), &fakeSolver{}, &fakePublisher{})

	var stream bytes.Buffer
	events := twoDotEvents(220)
	// split the blink over several frames
	for len(events) > 0 {
		n := min(len(events), 5000)
		require.NoError(t, WriteEventArray(&stream, EventArray{Width: 128, Height: 128, Events: events[:n]}))
		events = events[n:]
	}

	require.NoError(t, EventLoop(context.Background(), session, 0, &stream))
	assert.Equal(t, 1, session.NumDetections())
}

func TestEventLoop_UnknownCamera(t *testing.T) {
	session := NewSession(twoDotParams(), newManualClock(), &fakeSolver{}, nil)
	var stream bytes.Buffer
	require.NoError(t, WriteEventArray(&stream, sampleArray()))

	err := EventLoop(context.Background(), session, 5, &stream)
	assert.ErrorIs(t, err, ErrUnknownCamera)
}

func TestEventLoop_Cancelled(t *testing.T) {
	session := NewSession(twoDotParams(), newManualClock(), &fakeSolver{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, EventLoop(ctx, session, 0, &bytes.Buffer{}), context.Canceled)
}
