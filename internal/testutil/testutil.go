// Package testutil provides shared test utilities and fixtures.
//
// The fixture builders produce TDC words and ring items in the layout the
// frame maker writes, so converter tests do not each re-implement it.
package testutil

import (
	"testing"

	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
	"github.com/rfoxkendo/mikumarimaker/internal/ringitem"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Leading encodes a leading edge word.
func Leading(channel uint8, tot, time uint32) uint64 {
	return mikumari.Encode(mikumari.Edge{
		Direction:  mikumari.Leading,
		EdgeFields: mikumari.EdgeFields{Channel: channel, TOT: tot, Time: time},
	})
}

// Trailing encodes a trailing edge word.
func Trailing(channel uint8, tot, time uint32) uint64 {
	return mikumari.Encode(mikumari.Edge{
		Direction:  mikumari.Trailing,
		EdgeFields: mikumari.EdgeFields{Channel: channel, TOT: tot, Time: time},
	})
}

// Heartbeat encodes a FrameStart word.
func Heartbeat(frame uint32) uint64 {
	return mikumari.Encode(mikumari.FrameStart{FrameNumber: frame})
}

// FrameWords returns the words of one frame: a heartbeat, the given edge
// words and a FrameSize word counting them.
func FrameWords(frame uint32, edges ...uint64) []uint64 {
	words := make([]uint64, 0, len(edges)+2)
	words = append(words, Heartbeat(frame))
	words = append(words, edges...)
	return append(words, mikumari.Encode(mikumari.FrameSize{DataSize: uint32(len(edges))}))
}

// FrameItem builds a TDC_FRAME item for an absolute frame number.
func FrameItem(frame uint64, sourceID uint32, edges ...uint64) *ringitem.Item {
	it := ringitem.NewWithBodyHeader(ringitem.TDCFrame, frame*1000, sourceID, 0)
	it.AddUint64(frame)
	for _, w := range FrameWords(uint32(frame), edges...) {
		it.AddUint64(w)
	}
	return it
}

// RunItem builds a BEGIN_RUN or END_RUN item.
func RunItem(t testing.TB, itemType, run uint32) *ringitem.Item {
	t.Helper()
	it, err := ringitem.NewStateChange(itemType, 0, 0, ringitem.StateChange{RunNumber: run})
	AssertNoError(t, err)
	return it
}
