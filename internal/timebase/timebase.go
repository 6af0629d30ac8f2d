// Package timebase converts frame-relative TDC times into absolute tick
// counts.
//
// The front end stamps every edge with a tick count relative to the start of
// its heartbeat frame. A frame lasts a fixed number of ticks, so the absolute
// time of an edge is frame*TicksPerFrame + local time.
package timebase

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
)

// Hardware defaults.
const (
	DefaultTickNs = 0.0009765625
	DefaultFrame  = 524288 * time.Nanosecond
)

// FrameNumberBits is the width of the frame number carried by a heartbeat.
const FrameNumberBits = 24

var (
	ErrInvalid    = errors.New("timebase: invalid tick or frame duration")
	ErrFrameRange = errors.New("timebase: frame number out of range")
)

// Timebase holds the tick and frame durations of a front end.
type Timebase struct {
	tickNs        float64
	frame         time.Duration
	ticksPerFrame uint64
}

// Default returns the timebase of the standard front end, 2^29 ticks per
// frame.
func Default() Timebase {
	tb, _ := New(DefaultTickNs, DefaultFrame)
	return tb
}

// New builds a timebase. The frame must be a whole number of ticks.
func New(tickNs float64, frame time.Duration) (Timebase, error) {
	if !(tickNs > 0) || math.IsInf(tickNs, 0) {
		return Timebase{}, fmt.Errorf("%w: tick %v ns", ErrInvalid, tickNs)
	}
	if frame <= 0 {
		return Timebase{}, fmt.Errorf("%w: frame %v", ErrInvalid, frame)
	}
	ticks := float64(frame.Nanoseconds()) / tickNs
	whole := math.Round(ticks)
	if whole < 1 || math.Abs(ticks-whole) > 1e-6*whole {
		return Timebase{}, fmt.Errorf("%w: frame %v is %.6f ticks of %v ns", ErrInvalid, frame, ticks, tickNs)
	}
	// Local edge times must fit in the frame.
	if whole > float64(uint64(mikumari.TimeMask)+1) {
		return Timebase{}, fmt.Errorf("%w: %.0f ticks per frame exceeds the 29-bit time field", ErrInvalid, whole)
	}
	return Timebase{tickNs: tickNs, frame: frame, ticksPerFrame: uint64(whole)}, nil
}

// TickNs returns the tick duration in nanoseconds.
func (tb Timebase) TickNs() float64 { return tb.tickNs }

// Frame returns the frame duration.
func (tb Timebase) Frame() time.Duration { return tb.frame }

// TicksPerFrame returns the number of ticks in one frame.
func (tb Timebase) TicksPerFrame() uint64 { return tb.ticksPerFrame }

// MaxFrame returns the largest frame number whose ticks all fit in 64 bits.
func (tb Timebase) MaxFrame() uint64 {
	if tb.ticksPerFrame == 0 {
		return math.MaxUint64
	}
	return math.MaxUint64/tb.ticksPerFrame - 1
}

// FrameBase returns the absolute tick count at the start of a frame. Frames
// beyond MaxFrame wrap.
func (tb Timebase) FrameBase(frame uint64) uint64 { return frame * tb.ticksPerFrame }

// Absolute returns the absolute tick count of a frame-local time.
func (tb Timebase) Absolute(frame uint64, local uint32) uint64 {
	return tb.FrameBase(frame) + uint64(local)
}

// Nanoseconds converts a tick count to nanoseconds.
func (tb Timebase) Nanoseconds(ticks uint64) float64 { return float64(ticks) * tb.tickNs }

// Ticks converts a duration to the nearest whole number of ticks.
func (tb Timebase) Ticks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(math.Round(float64(d.Nanoseconds()) / tb.tickNs))
}

func (tb Timebase) String() string {
	return fmt.Sprintf("tick=%vns frame=%v (%d ticks)", tb.tickNs, tb.frame, tb.ticksPerFrame)
}

// FrameCounter unwraps the 24-bit frame numbers of successive heartbeats into
// an absolute frame index. The first heartbeat seen defines the starting
// index; each later one advances by the modular distance from its
// predecessor.
type FrameCounter struct {
	started bool
	last    uint32
	abs     uint64
	wraps   uint64
}

const frameMask = 1<<FrameNumberBits - 1

// Next returns the absolute index of the frame numbered frame.
func (c *FrameCounter) Next(frame uint32) uint64 {
	frame &= frameMask
	if !c.started {
		c.started = true
		c.last = frame
		c.abs = uint64(frame)
		return c.abs
	}
	delta := (frame - c.last) & frameMask
	if frame < c.last {
		c.wraps++
	}
	c.last = frame
	c.abs += uint64(delta)
	return c.abs
}

// Wraps returns how many times the 24-bit counter has rolled over.
func (c *FrameCounter) Wraps() uint64 { return c.wraps }

// Current returns the last absolute index and whether any frame has been seen.
func (c *FrameCounter) Current() (uint64, bool) { return c.abs, c.started }
