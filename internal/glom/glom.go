// Package glom groups a time-ordered hit stream into coincidence events.
//
// A Builder is either empty or holds one open event. The first hit opens an
// event and fixes its start time t0. Later hits join the event while
// time-t0 <= dt; the first hit beyond the window flushes the event and opens
// a new one. Frame boundary markers are appended to whatever is buffered but
// never open an event and never take part in the window test.
//
// Flushed events are written as PHYSICS_EVENT items timestamped with t0 and
// stamped with the builder's source id. Each entry is encoded as
//
//	u16 channel/edge tag word   (0xFFFF for a frame boundary)
//	u64 absolute time           (frame number for a frame boundary)
//	u32 time over threshold     (0xFFFFFFFF for a frame boundary)
//
// A Builder is not safe for concurrent use.
package glom

import (
	"errors"
	"fmt"

	"github.com/rfoxkendo/mikumarimaker/internal/hits"
	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
	"github.com/rfoxkendo/mikumarimaker/internal/ringitem"
)

var (
	// ErrTimeReversal reports a hit earlier than the open event's start.
	// The input stream was not time ordered.
	ErrTimeReversal = errors.New("glom: hit precedes the open event")
	// ErrClosed reports use of a builder after Close.
	ErrClosed = errors.New("glom: builder is closed")
)

// EntrySize is the encoded size of one event entry.
const EntrySize = 2 + 8 + 4

// Entry is one buffered hit or frame boundary.
type Entry struct {
	ChannelWord uint16
	Time        uint64
	TOT         uint32
}

// IsFrameBoundary reports whether the entry is a frame boundary marker.
func (e Entry) IsFrameBoundary() bool { return hits.IsFrameBoundary(e.ChannelWord) }

// Stats counts what a builder has done since it was created.
type Stats struct {
	Hits                uint64
	FrameBoundaries     uint64
	DiscardedBoundaries uint64
	Events              uint64
	ForwardedItems      uint64
	// EventSizes maps entries-per-event to the number of events of that size.
	EventSizes map[int]uint64
}

// Builder accumulates hits into coincidence events and writes them to a sink
// it owns.
type Builder struct {
	sink    ringitem.Sink
	sid     uint32
	dt      uint64
	open    bool
	t0      uint64
	entries []Entry
	stats   Stats
	closed  bool
}

// New creates a builder writing to sink, which the builder now owns. dt is
// the coincidence window in ticks, inclusive.
func New(sink ringitem.Sink, sid uint32, dt uint64) *Builder {
	return &Builder{
		sink:  sink,
		sid:   sid,
		dt:    dt,
		stats: Stats{EventSizes: make(map[int]uint64)},
	}
}

// SetSourceID changes the source id stamped on events flushed from now on,
// including the one currently open.
func (b *Builder) SetSourceID(sid uint32) { b.sid = sid }

// SourceID returns the source id that the next flush will use.
func (b *Builder) SourceID() uint32 { return b.sid }

// Open reports whether an event is being accumulated, and its start time.
func (b *Builder) Open() (uint64, bool) { return b.t0, b.open }

// Pending returns a copy of the buffered entries.
func (b *Builder) Pending() []Entry {
	return append([]Entry(nil), b.entries...)
}

// Stats returns a snapshot of the builder's counters.
func (b *Builder) Stats() Stats {
	s := b.stats
	s.EventSizes = make(map[int]uint64, len(b.stats.EventSizes))
	for k, v := range b.stats.EventSizes {
		s.EventSizes[k] = v
	}
	return s
}

// AddHit adds a hit. Hits must arrive in non-decreasing time order; a hit
// earlier than the open event's start returns ErrTimeReversal and leaves
// the builder unchanged.
func (b *Builder) AddHit(dir mikumari.Direction, channel uint16, time uint64, tot uint32) error {
	if b.closed {
		return ErrClosed
	}
	word, err := hits.ChannelWord(dir, channel)
	if err != nil {
		return err
	}
	if b.open {
		if time < b.t0 {
			opsf("hit ch=%d t=%d precedes event start %d", channel, time, b.t0)
			return fmt.Errorf("%w: t=%d, event start %d", ErrTimeReversal, time, b.t0)
		}
		if time-b.t0 > b.dt {
			if err := b.Flush(); err != nil {
				return err
			}
		}
	}
	if !b.open {
		b.open = true
		b.t0 = time
	}
	b.entries = append(b.entries, Entry{ChannelWord: word, Time: time, TOT: tot})
	b.stats.Hits++
	return nil
}

// AddHitRecord adds a merged hit.
func (b *Builder) AddHitRecord(h hits.Hit) error {
	return b.AddHit(h.Direction, h.Channel, h.Time, h.TOT)
}

// AddFrameBoundary appends a frame boundary marker for the absolute frame
// number. It does not open an event and is not checked against the window.
func (b *Builder) AddFrameBoundary(frame uint64) error {
	if b.closed {
		return ErrClosed
	}
	b.entries = append(b.entries, Entry{
		ChannelWord: hits.FrameBoundaryWord,
		Time:        frame,
		TOT:         hits.FrameBoundaryTOT,
	})
	b.stats.FrameBoundaries++
	return nil
}

// Flush writes the open event, if any, and empties the builder. With no
// open event nothing is written and any buffered frame boundaries are
// discarded. The sink itself is flushed only by WriteItem and Close.
//
// On a sink error the event is dropped and the builder is left empty.
func (b *Builder) Flush() error {
	if b.closed {
		return ErrClosed
	}
	if !b.open {
		if n := len(b.entries); n > 0 {
			b.stats.DiscardedBoundaries += uint64(n)
			tracef("discarding %d frame boundaries with no open event", n)
			b.entries = b.entries[:0]
		}
		return nil
	}

	item := EncodeEvent(b.t0, b.sid, b.entries)
	n := len(b.entries)
	t0 := b.t0
	b.open = false
	b.t0 = 0
	b.entries = b.entries[:0]

	if err := b.sink.Write(item); err != nil {
		opsf("event t0=%d with %d entries lost: %v", t0, n, err)
		return fmt.Errorf("glom: write event: %w", err)
	}
	b.stats.Events++
	b.stats.EventSizes[n]++
	tracef("event t0=%d sid=%d entries=%d", t0, b.sid, n)
	return nil
}

// WriteItem passes an item straight to the sink without touching the
// buffered event, then flushes the sink. Flush first when the item must
// follow buffered hits, as with an end of run.
func (b *Builder) WriteItem(item *ringitem.Item) error {
	if b.closed {
		return ErrClosed
	}
	if err := b.sink.Write(item); err != nil {
		opsf("pass-through %s lost: %v", ringitem.TypeName(item.Type), err)
		return fmt.Errorf("glom: forward %s: %w", ringitem.TypeName(item.Type), err)
	}
	if err := b.sink.Flush(); err != nil {
		return fmt.Errorf("glom: flush sink: %w", err)
	}
	b.stats.ForwardedItems++
	diagf("forwarded %s", ringitem.TypeName(item.Type))
	return nil
}

// Close releases the sink. Buffered entries are not flushed.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if len(b.entries) > 0 {
		opsf("closing with %d unflushed entries", len(b.entries))
	}
	return b.sink.Close()
}

// EncodeEvent builds the PHYSICS_EVENT item for a set of entries.
func EncodeEvent(t0 uint64, sid uint32, entries []Entry) *ringitem.Item {
	item := ringitem.NewWithBodyHeader(ringitem.PhysicsEvent, t0, sid, 0)
	for _, e := range entries {
		item.AddUint16(e.ChannelWord)
		item.AddUint64(e.Time)
		item.AddUint32(e.TOT)
	}
	return item
}

// DecodeEvent reads the entries of a PHYSICS_EVENT item.
func DecodeEvent(item *ringitem.Item) ([]Entry, error) {
	if item.Type != ringitem.PhysicsEvent {
		return nil, fmt.Errorf("glom: %s is not a physics event", ringitem.TypeName(item.Type))
	}
	r := item.Reader()
	if r.Remaining()%EntrySize != 0 {
		return nil, fmt.Errorf("glom: payload of %d bytes is not a whole number of entries", r.Remaining())
	}
	entries := make([]Entry, 0, r.Remaining()/EntrySize)
	for r.Remaining() > 0 {
		var e Entry
		var err error
		if e.ChannelWord, err = r.Uint16(); err != nil {
			return nil, err
		}
		if e.Time, err = r.Uint64(); err != nil {
			return nil, err
		}
		if e.TOT, err = r.Uint32(); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
