package orderer

import (
	"cmp"
	"slices"

	"github.com/rfoxkendo/mikumarimaker/internal/hits"
	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
)

// SortMerger collects hits unordered and stable-sorts them by time.
type SortMerger struct {
	channels int
	soup     []hits.Hit
}

// NewSortMerger creates a merger for channels 0..channels-1.
func NewSortMerger(channels int) *SortMerger {
	return &SortMerger{channels: channels}
}

// AddHit records a hit. Channels need not be time ordered.
func (m *SortMerger) AddHit(dir mikumari.Direction, channel uint16, time uint64, tot uint32) error {
	if err := checkChannel(channel, m.channels); err != nil {
		return err
	}
	m.soup = append(m.soup, hits.Hit{Direction: dir, Channel: channel, Time: time, TOT: tot})
	return nil
}

// Len returns the number of hits waiting to be merged.
func (m *SortMerger) Len() int { return len(m.soup) }

// Merge returns the hits in ascending time, ties in insertion order.
func (m *SortMerger) Merge() []hits.Hit {
	out := slices.Clone(m.soup)
	slices.SortStableFunc(out, func(a, b hits.Hit) int {
		return cmp.Compare(a.Time, b.Time)
	})
	m.soup = m.soup[:0]
	return out
}
