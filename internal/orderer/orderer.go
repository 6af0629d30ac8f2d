// Package orderer merges one frame's worth of per-channel hit streams into a
// single time-ascending sequence.
//
// Two strategies are available behind Merger:
//
//   - KWay assumes every channel delivers its hits in non-decreasing time
//     order and performs a heap-based k-way merge. Equal times are emitted in
//     ascending channel order. A channel that goes backwards in time is
//     rejected with ErrNonMonotonic.
//   - Sort collects everything and stable-sorts by time. Equal times keep
//     their insertion order. Use it when per-channel ordering cannot be
//     guaranteed.
//
// For well-formed input both produce the same sequence up to the ordering of
// equal timestamps from different channels.
package orderer

import (
	"errors"
	"fmt"

	"github.com/rfoxkendo/mikumarimaker/internal/hits"
	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
)

var (
	// ErrChannelOutOfRange reports a hit on a channel beyond the configured
	// channel count. It indicates a caller bug.
	ErrChannelOutOfRange = errors.New("orderer: channel out of range")
	// ErrNonMonotonic reports a channel whose hits went backwards in time.
	ErrNonMonotonic = errors.New("orderer: channel time went backwards")
	// ErrUnknownStrategy reports an unsupported strategy name.
	ErrUnknownStrategy = errors.New("orderer: unknown strategy")
)

// Strategy names a merge algorithm.
type Strategy string

const (
	KWay Strategy = "kway"
	Sort Strategy = "sort"
)

// DefaultChannels matches the 7-bit hardware channel field.
const DefaultChannels = int(hits.MaxHardwareChannel) + 1

// Merger accumulates the hits of one frame and returns them time ordered.
// Merge empties the merger so it can be reused for the next frame.
type Merger interface {
	AddHit(dir mikumari.Direction, channel uint16, time uint64, tot uint32) error
	Merge() []hits.Hit
	Len() int
}

// New returns a merger for the given strategy and channel count.
func New(strategy Strategy, channels int) (Merger, error) {
	if channels <= 0 || channels > int(hits.MaxChannel)+1 {
		return nil, fmt.Errorf("orderer: channel count %d outside 1..%d", channels, int(hits.MaxChannel)+1)
	}
	switch strategy {
	case KWay, "":
		return NewKWayMerger(channels), nil
	case Sort:
		return NewSortMerger(channels), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

func checkChannel(channel uint16, channels int) error {
	if int(channel) >= channels {
		return fmt.Errorf("%w: channel %d, configured for %d", ErrChannelOutOfRange, channel, channels)
	}
	return nil
}
