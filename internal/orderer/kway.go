package orderer

import (
	"container/heap"
	"fmt"

	"github.com/rfoxkendo/mikumarimaker/internal/hits"
	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
)

// KWayMerger keeps one bucket per channel and merges bucket heads through a
// min-heap keyed on (time, channel).
type KWayMerger struct {
	buckets [][]hits.Hit
	cursors []int
	pending int
}

// NewKWayMerger creates a merger for channels 0..channels-1.
func NewKWayMerger(channels int) *KWayMerger {
	return &KWayMerger{
		buckets: make([][]hits.Hit, channels),
		cursors: make([]int, channels),
	}
}

// AddHit appends a hit to its channel's bucket.
func (m *KWayMerger) AddHit(dir mikumari.Direction, channel uint16, time uint64, tot uint32) error {
	if err := checkChannel(channel, len(m.buckets)); err != nil {
		return err
	}
	b := m.buckets[channel]
	if n := len(b); n > 0 && time < b[n-1].Time {
		return fmt.Errorf("%w: channel %d at %d after %d", ErrNonMonotonic, channel, time, b[n-1].Time)
	}
	m.buckets[channel] = append(b, hits.Hit{Direction: dir, Channel: channel, Time: time, TOT: tot})
	m.pending++
	return nil
}

// Len returns the number of hits waiting to be merged.
func (m *KWayMerger) Len() int { return m.pending }

// Merge returns every pending hit in ascending time, ties broken by channel,
// then resets the buckets.
func (m *KWayMerger) Merge() []hits.Hit {
	out := make([]hits.Hit, 0, m.pending)

	h := make(headHeap, 0, len(m.buckets))
	for ch, b := range m.buckets {
		if len(b) > 0 {
			h = append(h, head{time: b[0].Time, channel: ch})
		}
	}
	heap.Init(&h)

	for h.Len() > 0 {
		ch := h[0].channel
		bucket := m.buckets[ch]
		out = append(out, bucket[m.cursors[ch]])
		m.cursors[ch]++
		if m.cursors[ch] < len(bucket) {
			h[0].time = bucket[m.cursors[ch]].Time
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}

	for ch := range m.buckets {
		m.buckets[ch] = m.buckets[ch][:0]
		m.cursors[ch] = 0
	}
	m.pending = 0
	return out
}

type head struct {
	time    uint64
	channel int
}

type headHeap []head

func (h headHeap) Len() int { return len(h) }

func (h headHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].channel < h[j].channel
}

func (h headHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *headHeap) Push(x any) { *h = append(*h, x.(head)) }

func (h *headHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
