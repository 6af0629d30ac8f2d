// Package hits holds the globalized hit type shared by the orderer and the
// event builder, and the 16-bit channel/edge tag word stored in events.
package hits

import (
	"errors"
	"fmt"

	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
)

// Tag word layout: channel in the low 15 bits, top bit set for trailing edges.
const (
	TrailingBit uint16 = 0x8000
	MaxChannel  uint16 = 0x7FFF

	// MaxHardwareChannel is the largest channel the front end can report.
	MaxHardwareChannel uint16 = mikumari.ChannelMask

	// FrameBoundaryWord marks a frame boundary entry. It collides with
	// trailing channel 32767, which the hardware never produces.
	FrameBoundaryWord uint16 = 0xFFFF
	// FrameBoundaryTOT fills the time-over-threshold slot of a boundary.
	FrameBoundaryTOT uint32 = 0xFFFFFFFF
)

// ErrChannelRange reports a channel that does not fit the tag word.
var ErrChannelRange = errors.New("hits: channel does not fit the tag word")

// Hit is an edge whose time has been converted to absolute ticks.
type Hit struct {
	Direction mikumari.Direction
	Channel   uint16
	Time      uint64
	TOT       uint32
}

// FromEdge builds the hit for a decoded edge whose frame-local time has been
// globalized to time.
func FromEdge(e mikumari.Edge, time uint64) Hit {
	return Hit{
		Direction: e.Direction,
		Channel:   uint16(e.Channel),
		Time:      time,
		TOT:       e.TOT,
	}
}

// ChannelWord packs the hit's channel and direction into a tag word.
func (h Hit) ChannelWord() (uint16, error) {
	return ChannelWord(h.Direction, h.Channel)
}

func (h Hit) String() string {
	return fmt.Sprintf("%s ch=%d t=%d tot=%d", h.Direction, h.Channel, h.Time, h.TOT)
}

// ChannelWord packs a channel and direction into a tag word.
func ChannelWord(dir mikumari.Direction, channel uint16) (uint16, error) {
	if channel > MaxChannel {
		return 0, fmt.Errorf("%w: %d > %d", ErrChannelRange, channel, MaxChannel)
	}
	if dir == mikumari.Trailing {
		return channel | TrailingBit, nil
	}
	return channel, nil
}

// SplitChannelWord unpacks a tag word. The frame boundary sentinel unpacks
// as trailing channel 32767; check IsFrameBoundary first.
func SplitChannelWord(word uint16) (mikumari.Direction, uint16) {
	if word&TrailingBit != 0 {
		return mikumari.Trailing, word &^ TrailingBit
	}
	return mikumari.Leading, word
}

// IsFrameBoundary reports whether a tag word is the frame boundary sentinel.
func IsFrameBoundary(word uint16) bool {
	return word == FrameBoundaryWord
}
