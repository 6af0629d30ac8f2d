// Package pipeline converts TDC frame data into coincidence events.
//
// Each frame's edges are globalized against the frame's base tick count,
// time ordered across channels by an orderer.Merger and fed to a
// glom.Builder, which groups them into PHYSICS_EVENT items across frame
// boundaries. Heartbeats are passed to the builder as frame boundary markers
// without going through the merger.
//
// Input is either a stream of ring items, where every TDC_FRAME item holds a
// u64 absolute frame number followed by the frame's words, or a flat word
// stream that is split into frames at each FrameStart heartbeat.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rfoxkendo/mikumarimaker/internal/glom"
	"github.com/rfoxkendo/mikumarimaker/internal/hits"
	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
	"github.com/rfoxkendo/mikumarimaker/internal/orderer"
	"github.com/rfoxkendo/mikumarimaker/internal/ringitem"
	"github.com/rfoxkendo/mikumarimaker/internal/timebase"
)

var (
	// ErrBadFrame wraps errors confined to a single frame.
	ErrBadFrame = errors.New("pipeline: bad frame")
	ErrClosed   = errors.New("pipeline: converter is closed")
)

// Config controls a conversion.
type Config struct {
	// CoincidenceWindow is the event window in ticks, inclusive.
	CoincidenceWindow uint64
	// SourceID is stamped on emitted events.
	SourceID uint32
	// Channels is the number of TDC channels the merger accepts.
	Channels int
	// Strategy selects the merge algorithm.
	Strategy orderer.Strategy
	Timebase timebase.Timebase
	// PreserveSourceID stamps events with the source id of the most recent
	// TDC frame item instead of SourceID.
	PreserveSourceID bool
	// SkipBadFrames drops frames that fail to merge or glom instead of
	// aborting the conversion.
	SkipBadFrames bool
}

// DefaultConfig returns the settings of the standard front end.
func DefaultConfig() Config {
	return Config{
		CoincidenceWindow: 1000,
		Channels:          orderer.DefaultChannels,
		Strategy:          orderer.KWay,
		Timebase:          timebase.Default(),
	}
}

// Summary reports what a conversion did.
type Summary struct {
	Items        uint64
	FrameItems   uint64
	PassThrough  uint64
	Frames       uint64
	Words        uint64
	Edges        uint64
	FrameSizes   uint64
	Unrecognized uint64
	Orphans      uint64
	BadFrames    uint64
	FrameWraps   uint64
	Glom         glom.Stats
}

// Converter routes frames through the merger and the event builder.
type Converter struct {
	cfg     Config
	merger  orderer.Merger
	builder *glom.Builder
	counter timebase.FrameCounter
	summary Summary
	closed  bool

	// Raw mode frame in progress.
	inFrame  bool
	frameBad bool
}

// NewConverter creates a converter writing events to sink. The converter
// owns the sink and closes it in Close.
func NewConverter(cfg Config, sink ringitem.Sink) (*Converter, error) {
	if cfg.Timebase.TicksPerFrame() == 0 {
		cfg.Timebase = timebase.Default()
	}
	if cfg.Channels == 0 {
		cfg.Channels = orderer.DefaultChannels
	}
	m, err := orderer.New(cfg.Strategy, cfg.Channels)
	if err != nil {
		return nil, err
	}
	diagf("converter: dt=%d sid=%d channels=%d strategy=%s %s",
		cfg.CoincidenceWindow, cfg.SourceID, cfg.Channels, cfg.Strategy, cfg.Timebase)
	return &Converter{
		cfg:     cfg,
		merger:  m,
		builder: glom.New(sink, cfg.SourceID, cfg.CoincidenceWindow),
	}, nil
}

// ConvertItems processes every item of src until io.EOF or cancellation.
func (c *Converter) ConvertItems(ctx context.Context, src ringitem.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		it, err := src.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read item %d: %w", c.summary.Items+1, err)
		}
		if err := c.ProcessItem(it); err != nil {
			return err
		}
	}
}

// ProcessItem handles one ring item. TDC frames are converted; any other
// item flushes the open event and is forwarded unchanged, so run boundaries
// keep their place relative to the events.
func (c *Converter) ProcessItem(it *ringitem.Item) error {
	if c.closed {
		return ErrClosed
	}
	c.summary.Items++
	if it.Type != ringitem.TDCFrame {
		if err := c.builder.Flush(); err != nil {
			return err
		}
		if err := c.builder.WriteItem(it); err != nil {
			return err
		}
		c.summary.PassThrough++
		if ringitem.IsStateChange(it.Type) {
			if sc, err := ringitem.DecodeStateChange(it); err == nil {
				diagf("%s run=%d elapsed=%ds", ringitem.TypeName(it.Type), sc.RunNumber, sc.ElapsedSeconds)
			}
		}
		return nil
	}

	c.summary.FrameItems++
	if c.cfg.PreserveSourceID && it.BodyHeader != nil {
		c.builder.SetSourceID(it.BodyHeader.SourceID)
	}
	err := c.convertFrameItem(it)
	return c.frameResult(err)
}

func (c *Converter) convertFrameItem(it *ringitem.Item) error {
	r := it.Reader()
	frame, err := r.Uint64()
	if err != nil {
		return fmt.Errorf("%w: item %d has no frame number: %v", ErrBadFrame, c.summary.Items, err)
	}
	if r.Remaining()%mikumari.WordSize != 0 {
		opsf("frame %d: %d trailing payload bytes ignored", frame, r.Remaining()%mikumari.WordSize)
	}
	if limit := c.cfg.Timebase.MaxFrame(); frame > limit {
		return fmt.Errorf("%w: frame number %d exceeds %d: %w", ErrBadFrame, frame, limit, timebase.ErrFrameRange)
	}
	for r.Remaining() >= mikumari.WordSize {
		word, _ := r.Uint64()
		c.summary.Words++
		switch d := mikumari.Decode(word).(type) {
		case mikumari.FrameStart:
			c.summary.Frames++
			tracef("frame %d heartbeat %d offset %d", frame, d.FrameNumber, d.TimeOffset)
			if err := c.builder.AddFrameBoundary(frame); err != nil {
				return err
			}
		case mikumari.Edge:
			if err := c.addEdge(d, frame); err != nil {
				c.merger.Merge()
				return err
			}
		default:
			c.countOther(d)
		}
	}
	return c.drainFrame(frame)
}

// ConvertWords processes a flat word stream until io.EOF or cancellation.
// The last frame is completed at end of stream.
func (c *Converter) ConvertWords(ctx context.Context, src mikumari.WordSource) error {
	if c.closed {
		return ErrClosed
	}
	for {
		if c.summary.Words%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		word, err := src.Next()
		if err == io.EOF {
			return c.endRawFrame()
		}
		if err != nil {
			return fmt.Errorf("read word %d: %w", c.summary.Words+1, err)
		}
		if err := c.ProcessWord(word); err != nil {
			return err
		}
	}
}

// ProcessWord handles one word of a flat stream.
func (c *Converter) ProcessWord(word uint64) error {
	if c.closed {
		return ErrClosed
	}
	c.summary.Words++
	switch d := mikumari.Decode(word).(type) {
	case mikumari.FrameStart:
		if err := c.endRawFrame(); err != nil {
			return err
		}
		frame := c.counter.Next(d.FrameNumber)
		c.summary.FrameWraps = c.counter.Wraps()
		c.summary.Frames++
		c.inFrame = true
		c.frameBad = false
		tracef("frame %d (heartbeat %d)", frame, d.FrameNumber)
		return c.frameResult(c.builder.AddFrameBoundary(frame))
	case mikumari.Edge:
		if !c.inFrame {
			c.summary.Orphans++
			return nil
		}
		if c.frameBad {
			return nil
		}
		frame, _ := c.counter.Current()
		if err := c.addEdge(d, frame); err != nil {
			c.merger.Merge()
			c.frameBad = true
			return c.frameResult(err)
		}
	default:
		c.countOther(d)
	}
	return nil
}

func (c *Converter) endRawFrame() error {
	if !c.inFrame {
		return nil
	}
	c.inFrame = false
	if c.frameBad {
		return nil
	}
	frame, _ := c.counter.Current()
	return c.frameResult(c.drainFrame(frame))
}

func (c *Converter) addEdge(e mikumari.Edge, frame uint64) error {
	c.summary.Edges++
	h := hits.FromEdge(e, c.cfg.Timebase.Absolute(frame, e.Time))
	if err := c.merger.AddHit(h.Direction, h.Channel, h.Time, h.TOT); err != nil {
		return fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	return nil
}

// drainFrame feeds the merged hits of the current frame to the builder.
func (c *Converter) drainFrame(frame uint64) error {
	merged := c.merger.Merge()
	for _, h := range merged {
		if err := c.builder.AddHitRecord(h); err != nil {
			if errors.Is(err, glom.ErrTimeReversal) {
				return fmt.Errorf("%w: frame %d: %w", ErrBadFrame, frame, err)
			}
			return err
		}
	}
	if len(merged) > 0 {
		tracef("frame %d: %d hits", frame, len(merged))
	}
	return nil
}

func (c *Converter) countOther(d mikumari.Datum) {
	switch d.(type) {
	case mikumari.FrameSize:
		c.summary.FrameSizes++
	default:
		c.summary.Unrecognized++
		if c.summary.Unrecognized <= 10 {
			diagf("unrecognized word %s", d)
		}
	}
}

// frameResult applies the bad frame policy to err.
func (c *Converter) frameResult(err error) error {
	if err == nil || !errors.Is(err, ErrBadFrame) {
		return err
	}
	c.summary.BadFrames++
	if !c.cfg.SkipBadFrames {
		return err
	}
	opsf("skipping: %v", err)
	return nil
}

// Summary returns the counters so far.
func (c *Converter) Summary() Summary {
	s := c.summary
	s.Glom = c.builder.Stats()
	return s
}

// Close completes any raw frame in progress, flushes the last event and
// closes the sink.
func (c *Converter) Close() (Summary, error) {
	if c.closed {
		return c.Summary(), nil
	}
	err := c.endRawFrame()
	if ferr := c.builder.Flush(); err == nil {
		err = ferr
	}
	c.closed = true
	if cerr := c.builder.Close(); err == nil {
		err = cerr
	}
	s := c.Summary()
	diagf("converted %d items (%d frames, %d edges) into %d events; %d orphans, %d bad frames",
		s.Items, s.Frames, s.Edges, s.Glom.Events, s.Orphans, s.BadFrames)
	return s, err
}
