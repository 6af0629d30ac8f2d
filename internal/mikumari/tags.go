package mikumari

import "fmt"

// Tag is the 6-bit data type carried in the top bits of every word.
type Tag uint8

// Data type tags. Only the edge and heartbeat tags are decoded; the throttle
// tags are named so diagnostics can print them but they decode as
// Unrecognized.
const (
	TagLeadingEdge     Tag = 0x0B // 0b001011 high-resolution TDC leading edge
	TagTrailingEdge    Tag = 0x0D // 0b001101 high-resolution TDC trailing edge
	TagThrottleT1Start Tag = 0x19 // 0b011001 input throttling type 1 start
	TagThrottleT1End   Tag = 0x11 // 0b010001 input throttling type 1 end
	TagThrottleT2Start Tag = 0x12 // 0b010010 input throttling type 2 start
	TagFrameStart      Tag = 0x1C // 0b011100 heartbeat delimiter 1
	TagFrameSize       Tag = 0x1E // 0b011110 heartbeat delimiter 2
)

// Word layout. Shifts are bit positions of the field's least significant bit;
// masks are applied after shifting.
const (
	TagShift = 58
	TagMask  = 0x3F

	ChannelShift = 51
	ChannelMask  = 0x7F
	TOTShift     = 29
	TOTMask      = 0x3FFFFF
	TimeMask     = 0x1FFFFFFF

	TimeOffsetShift = 24
	TimeOffsetMask  = 0xFFFF
	FrameNumberMask = 0xFFFFFF

	DataSizeShift = 20
	DataSizeMask  = 0xFFFFF
)

// TagOf extracts the data type tag of a raw word.
func TagOf(word uint64) Tag {
	return Tag((word >> TagShift) & TagMask)
}

// retag replaces the tag of word, leaving the 58 payload bits untouched.
func retag(word uint64, tag Tag) uint64 {
	word &^= uint64(TagMask) << TagShift
	return word | uint64(tag&TagMask)<<TagShift
}

// Recognized reports whether Decode gives the tag a typed datum.
func (t Tag) Recognized() bool {
	switch t {
	case TagLeadingEdge, TagTrailingEdge, TagFrameStart, TagFrameSize:
		return true
	}
	return false
}

func (t Tag) String() string {
	switch t {
	case TagLeadingEdge:
		return "leading"
	case TagTrailingEdge:
		return "trailing"
	case TagThrottleT1Start:
		return "throttle-t1-start"
	case TagThrottleT1End:
		return "throttle-t1-end"
	case TagThrottleT2Start:
		return "throttle-t2-start"
	case TagFrameStart:
		return "heartbeat-1"
	case TagFrameSize:
		return "heartbeat-2"
	default:
		return fmt.Sprintf("tag(0x%02x)", uint8(t))
	}
}
