package mikumari

import "fmt"

// Datum is one decoded word: FrameStart, FrameSize, Edge or Unrecognized.
type Datum interface {
	Tag() Tag
	datum()
}

// FrameStart is heartbeat delimiter 1, marking the start of a frame.
type FrameStart struct {
	FrameNumber uint32 // 24 bits
	TimeOffset  uint16
}

// FrameSize is heartbeat delimiter 2, carrying the frame's data size.
type FrameSize struct {
	DataSize uint32 // 20 bits
}

// Direction distinguishes leading from trailing edges.
type Direction uint8

const (
	Leading Direction = iota
	Trailing
)

func (d Direction) String() string {
	switch d {
	case Leading:
		return "leading"
	case Trailing:
		return "trailing"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Tag returns the data type tag used to encode an edge in this direction.
func (d Direction) Tag() Tag {
	if d == Trailing {
		return TagTrailingEdge
	}
	return TagLeadingEdge
}

// EdgeFields is the payload layout shared by leading and trailing edges.
type EdgeFields struct {
	Channel uint8  // 7 bits
	TOT     uint32 // 22 bits, time over threshold
	Time    uint32 // 29 bits, ticks relative to the frame
}

// Edge is a TDC hit. Leading and trailing edges differ only in the tag.
type Edge struct {
	Direction Direction
	EdgeFields
}

// Unrecognized is a word whose tag Decode does not interpret.
type Unrecognized uint64

func (FrameStart) Tag() Tag     { return TagFrameStart }
func (FrameSize) Tag() Tag      { return TagFrameSize }
func (e Edge) Tag() Tag         { return e.Direction.Tag() }
func (u Unrecognized) Tag() Tag { return TagOf(uint64(u)) }

func (FrameStart) datum()   {}
func (FrameSize) datum()    {}
func (Edge) datum()         {}
func (Unrecognized) datum() {}

func (f FrameStart) String() string {
	return fmt.Sprintf("frame-start{frame=%d offset=%d}", f.FrameNumber, f.TimeOffset)
}

func (f FrameSize) String() string {
	return fmt.Sprintf("frame-size{size=%d}", f.DataSize)
}

func (e Edge) String() string {
	return fmt.Sprintf("%s{ch=%d tot=%d t=%d}", e.Direction, e.Channel, e.TOT, e.Time)
}

func (u Unrecognized) String() string {
	return fmt.Sprintf("unrecognized{%s word=0x%016x}", u.Tag(), uint64(u))
}
