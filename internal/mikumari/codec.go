package mikumari

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldRange reports a datum field wider than its bit field.
	ErrFieldRange = errors.New("mikumari: field out of range")
	// ErrTagCollision reports an Unrecognized word whose tag Decode would
	// interpret, so it cannot round-trip as Unrecognized.
	ErrTagCollision = errors.New("mikumari: unrecognized word carries a recognized tag")
)

// Decode interprets a raw word. It never fails; unknown tags yield
// Unrecognized holding the original word.
func Decode(word uint64) Datum {
	switch TagOf(word) {
	case TagLeadingEdge:
		return Edge{Direction: Leading, EdgeFields: decodeEdgeFields(word)}
	case TagTrailingEdge:
		return Edge{Direction: Trailing, EdgeFields: decodeEdgeFields(word)}
	case TagFrameStart:
		return FrameStart{
			FrameNumber: uint32(word & FrameNumberMask),
			TimeOffset:  uint16((word >> TimeOffsetShift) & TimeOffsetMask),
		}
	case TagFrameSize:
		return FrameSize{DataSize: uint32(word & DataSizeMask)}
	default:
		return Unrecognized(word)
	}
}

func decodeEdgeFields(word uint64) EdgeFields {
	return EdgeFields{
		Channel: uint8((word >> ChannelShift) & ChannelMask),
		TOT:     uint32((word >> TOTShift) & TOTMask),
		Time:    uint32(word & TimeMask),
	}
}

// Encode packs a datum into a raw word. Fields wider than their bit field
// are truncated to it; use Validate first when the inputs are untrusted.
// A nil datum encodes as zero.
func Encode(d Datum) uint64 {
	switch v := d.(type) {
	case FrameStart:
		word := uint64(TagFrameStart) << TagShift
		word |= (uint64(v.TimeOffset) & TimeOffsetMask) << TimeOffsetShift
		word |= uint64(v.FrameNumber) & FrameNumberMask
		return word
	case FrameSize:
		// The size is written twice, at [39:20] and [19:0]. Decode reads the
		// low copy. This mirrors the hardware documentation as received and
		// still needs confirming against the firmware.
		s := uint64(v.DataSize) & DataSizeMask
		return uint64(TagFrameSize)<<TagShift | s<<DataSizeShift | s
	case Edge:
		word := encodeEdgeFields(v.EdgeFields)
		if v.Direction == Trailing {
			return retag(word, TagTrailingEdge)
		}
		return word
	case Unrecognized:
		return uint64(v)
	default:
		return 0
	}
}

// encodeEdgeFields packs a leading edge. Trailing edges are derived by tag
// substitution only.
func encodeEdgeFields(f EdgeFields) uint64 {
	word := uint64(TagLeadingEdge) << TagShift
	word |= (uint64(f.Channel) & ChannelMask) << ChannelShift
	word |= (uint64(f.TOT) & TOTMask) << TOTShift
	word |= uint64(f.Time) & TimeMask
	return word
}

// Validate reports whether Encode would preserve every field of d.
func Validate(d Datum) error {
	switch v := d.(type) {
	case FrameStart:
		if v.FrameNumber > FrameNumberMask {
			return fmt.Errorf("%w: frame number %d exceeds 24 bits", ErrFieldRange, v.FrameNumber)
		}
	case FrameSize:
		if v.DataSize > DataSizeMask {
			return fmt.Errorf("%w: data size %d exceeds 20 bits", ErrFieldRange, v.DataSize)
		}
	case Edge:
		if v.Direction != Leading && v.Direction != Trailing {
			return fmt.Errorf("%w: %s", ErrFieldRange, v.Direction)
		}
		if v.Channel > ChannelMask {
			return fmt.Errorf("%w: channel %d exceeds 7 bits", ErrFieldRange, v.Channel)
		}
		if v.TOT > TOTMask {
			return fmt.Errorf("%w: time over threshold %d exceeds 22 bits", ErrFieldRange, v.TOT)
		}
		if v.Time > TimeMask {
			return fmt.Errorf("%w: time %d exceeds 29 bits", ErrFieldRange, v.Time)
		}
	case Unrecognized:
		if v.Tag().Recognized() {
			return fmt.Errorf("%w: %s", ErrTagCollision, v.Tag())
		}
	case nil:
		return fmt.Errorf("%w: nil datum", ErrFieldRange)
	}
	return nil
}

// NewEdge builds an edge datum, rejecting fields that do not fit the word.
func NewEdge(dir Direction, channel uint8, tot, time uint32) (Edge, error) {
	e := Edge{Direction: dir, EdgeFields: EdgeFields{Channel: channel, TOT: tot, Time: time}}
	if err := Validate(e); err != nil {
		return Edge{}, err
	}
	return e, nil
}
