package dvsdriver

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EventArray on the wire, protobuf encoding:
//
//	message EventArray { uint32 width = 1; uint32 height = 2; repeated Event events = 3; }
//	message Event { uint32 x = 1; uint32 y = 2; int64 ts_us = 3; bool polarity = 4; }
const (
	fieldArrayWidth  protowire.Number = 1
	fieldArrayHeight protowire.Number = 2
	fieldArrayEvents protowire.Number = 3

	fieldEventX        protowire.Number = 1
	fieldEventY        protowire.Number = 2
	fieldEventTs       protowire.Number = 3
	fieldEventPolarity protowire.Number = 4
)

var ErrMalformedEvents = errors.New("malformed event array")

func AppendEventArray(b []byte, arr EventArray) []byte {
	b = protowire.AppendTag(b, fieldArrayWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(arr.Width))
	b = protowire.AppendTag(b, fieldArrayHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(arr.Height))

	var ev []byte
	for _, e := range arr.Events {
		ev = ev[:0]
		ev = protowire.AppendTag(ev, fieldEventX, protowire.VarintType)
		ev = protowire.AppendVarint(ev, uint64(e.X))
		ev = protowire.AppendTag(ev, fieldEventY, protowire.VarintType)
		ev = protowire.AppendVarint(ev, uint64(e.Y))
		ev = protowire.AppendTag(ev, fieldEventTs, protowire.VarintType)
		ev = protowire.AppendVarint(ev, uint64(e.Ts))
		if e.Polarity {
			ev = protowire.AppendTag(ev, fieldEventPolarity, protowire.VarintType)
			ev = protowire.AppendVarint(ev, protowire.EncodeBool(true))
		}
		b = protowire.AppendTag(b, fieldArrayEvents, protowire.BytesType)
		b = protowire.AppendBytes(b, ev)
	}
	return b
}

func DecodeEventArray(b []byte) (EventArray, error) {
	var arr EventArray
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return arr, fmt.Errorf("%w: %v", ErrMalformedEvents, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldArrayWidth && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return arr, fmt.Errorf("%w: width: %v", ErrMalformedEvents, protowire.ParseError(n))
			}
			arr.Width = int(uint32(v))
			b = b[n:]
		case num == fieldArrayHeight && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return arr, fmt.Errorf("%w: height: %v", ErrMalformedEvents, protowire.ParseError(n))
			}
			arr.Height = int(uint32(v))
			b = b[n:]
		case num == fieldArrayEvents && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return arr, fmt.Errorf("%w: event: %v", ErrMalformedEvents, protowire.ParseError(n))
			}
			e, err := decodeEvent(v)
			if err != nil {
				return arr, err
			}
			arr.Events = append(arr.Events, e)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return arr, fmt.Errorf("%w: field %d: %v", ErrMalformedEvents, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return arr, nil
}

func decodeEvent(b []byte) (Event, error) {
	var e Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, fmt.Errorf("%w: %v", ErrMalformedEvents, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, fmt.Errorf("%w: event field %d: %v", ErrMalformedEvents, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return e, fmt.Errorf("%w: event field %d: %v", ErrMalformedEvents, num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldEventX:
			if v > 0xFFFF {
				return e, fmt.Errorf("%w: x=%d out of range", ErrMalformedEvents, v)
			}
			e.X = uint16(v)
		case fieldEventY:
			if v > 0xFFFF {
				return e, fmt.Errorf("%w: y=%d out of range", ErrMalformedEvents, v)
			}
			e.Y = uint16(v)
		case fieldEventTs:
			e.Ts = int64(v)
		case fieldEventPolarity:
			e.Polarity = protowire.DecodeBool(v)
		}
	}
	return e, nil
}
