package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/rfoxkendo/mikumarimaker/internal/glom"
	"github.com/rfoxkendo/mikumarimaker/internal/hits"
	"github.com/rfoxkendo/mikumarimaker/internal/orderer"
	"github.com/rfoxkendo/mikumarimaker/internal/ringitem"
	"github.com/rfoxkendo/mikumarimaker/internal/testutil"
	"github.com/rfoxkendo/mikumarimaker/internal/timebase"
)

type sliceWords struct {
	words []uint64
	next  int
}

func (s *sliceWords) Next() (uint64, error) {
	if s.next >= len(s.words) {
		return 0, io.EOF
	}
	w := s.words[s.next]
	s.next++
	return w, nil
}

// testConfig uses 1 ns ticks and 1000-tick frames so times are easy to read.
func testConfig(t *testing.T) Config {
	t.Helper()
	tb, err := timebase.New(1, time.Microsecond)
	testutil.AssertNoError(t, err)
	return Config{CoincidenceWindow: 100, Channels: 8, Strategy: orderer.KWay, Timebase: tb}
}

func boundary(frame uint64) glom.Entry {
	return glom.Entry{ChannelWord: hits.FrameBoundaryWord, Time: frame, TOT: hits.FrameBoundaryTOT}
}

func decodeAll(t *testing.T, items []*ringitem.Item) (types []uint32, events [][]glom.Entry, stamps []uint64) {
	t.Helper()
	for _, it := range items {
		types = append(types, it.Type)
		if it.Type != ringitem.PhysicsEvent {
			continue
		}
		entries, err := glom.DecodeEvent(it)
		testutil.AssertNoError(t, err)
		events = append(events, entries)
		ts, err := it.Timestamp()
		testutil.AssertNoError(t, err)
		stamps = append(stamps, ts)
	}
	return types, events, stamps
}

var (
	frame0 = []uint64{
		testutil.Leading(0, 5, 10),
		testutil.Trailing(0, 5, 30),
		testutil.Leading(1, 5, 20),
		testutil.Leading(0, 5, 500),
	}
	frame1 = []uint64{testutil.Leading(2, 5, 50)}

	wantEvents = [][]glom.Entry{
		{boundary(0), {ChannelWord: 0, Time: 10, TOT: 5}, {ChannelWord: 1, Time: 20, TOT: 5}, {ChannelWord: hits.TrailingBit, Time: 30, TOT: 5}},
		{{ChannelWord: 0, Time: 500, TOT: 5}, boundary(1)},
		{{ChannelWord: 2, Time: 1050, TOT: 5}},
	}
	wantStamps = []uint64{10, 500, 1050}
)

func TestConvertItems(t *testing.T) {
	sink := &ringitem.MemorySink{}
	c, err := NewConverter(testConfig(t), sink)
	testutil.AssertNoError(t, err)

	src := &ringitem.MemorySource{Items: []*ringitem.Item{
		testutil.RunItem(t, ringitem.BeginRun, 1),
		testutil.FrameItem(0, 0, frame0...),
		testutil.FrameItem(1, 0, frame1...),
		testutil.RunItem(t, ringitem.EndRun, 1),
	}}
	testutil.AssertNoError(t, c.ConvertItems(context.Background(), src))
	summary, err := c.Close()
	testutil.AssertNoError(t, err)

	types, events, stamps := decodeAll(t, sink.Items)
	wantTypes := []uint32{ringitem.BeginRun, ringitem.PhysicsEvent, ringitem.PhysicsEvent, ringitem.PhysicsEvent, ringitem.EndRun}
	if diff := cmp.Diff(wantTypes, types); diff != "" {
		t.Errorf("item types (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantEvents, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantStamps, stamps); diff != "" {
		t.Errorf("timestamps (-want +got):\n%s", diff)
	}
	if !sink.Closed {
		t.Error("sink not closed")
	}

	want := Summary{Items: 4, FrameItems: 2, PassThrough: 2, Frames: 2, Words: 9, Edges: 5, FrameSizes: 2}
	if diff := cmp.Diff(want, summary, cmpopts.IgnoreFields(Summary{}, "Glom")); diff != "" {
		t.Errorf("summary (-want +got):\n%s", diff)
	}
	if summary.Glom.Events != 3 || summary.Glom.Hits != 5 || summary.Glom.FrameBoundaries != 2 {
		t.Errorf("glom stats = %+v", summary.Glom)
	}
	if diff := cmp.Diff(map[int]uint64{4: 1, 2: 1, 1: 1}, summary.Glom.EventSizes); diff != "" {
		t.Errorf("event sizes (-want +got):\n%s", diff)
	}
}

func TestConvertWords(t *testing.T) {
	for _, strategy := range []orderer.Strategy{orderer.KWay, orderer.Sort} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Strategy = strategy
			sink := &ringitem.MemorySink{}
			c, err := NewConverter(cfg, sink)
			testutil.AssertNoError(t, err)

			words := append(testutil.FrameWords(0, frame0...), testutil.FrameWords(1, frame1...)...)
			testutil.AssertNoError(t, c.ConvertWords(context.Background(), &sliceWords{words: words}))
			summary, err := c.Close()
			testutil.AssertNoError(t, err)

			_, events, stamps := decodeAll(t, sink.Items)
			if diff := cmp.Diff(wantEvents, events); diff != "" {
				t.Errorf("events (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(wantStamps, stamps); diff != "" {
				t.Errorf("timestamps (-want +got):\n%s", diff)
			}
			if summary.Frames != 2 || summary.Words != 9 || summary.Orphans != 0 {
				t.Errorf("summary = %+v", summary)
			}
		})
	}
}

func TestConvertWordsOrphansAndWrap(t *testing.T) {
	sink := &ringitem.MemorySink{}
	c, err := NewConverter(testConfig(t), sink)
	testutil.AssertNoError(t, err)

	words := []uint64{testutil.Leading(0, 1, 1), testutil.Leading(1, 1, 2)}
	words = append(words, testutil.FrameWords(0xFFFFFF, testutil.Leading(0, 1, 990))...)
	words = append(words, testutil.FrameWords(0, testutil.Leading(0, 1, 5))...)
	words = append(words, 0) // unrecognized tag 0
	testutil.AssertNoError(t, c.ConvertWords(context.Background(), &sliceWords{words: words}))
	summary, err := c.Close()
	testutil.AssertNoError(t, err)

	if summary.Orphans != 2 || summary.FrameWraps != 1 || summary.Unrecognized != 1 {
		t.Errorf("summary = %+v", summary)
	}
	_, events, _ := decodeAll(t, sink.Items)
	base := uint64(0xFFFFFF) * 1000
	want := [][]glom.Entry{{
		boundary(0xFFFFFF),
		{ChannelWord: 0, Time: base + 990, TOT: 1},
		boundary(0x1000000),
		{ChannelWord: 0, Time: base + 1005, TOT: 1},
	}}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestBadFramePolicy(t *testing.T) {
	items := func(t *testing.T) *ringitem.MemorySource {
		return &ringitem.MemorySource{Items: []*ringitem.Item{
			testutil.FrameItem(0, 0, testutil.Leading(0, 1, 30), testutil.Leading(0, 1, 10)),
			testutil.FrameItem(1, 0, testutil.Leading(1, 1, 10)),
		}}
	}

	t.Run("abort", func(t *testing.T) {
		c, err := NewConverter(testConfig(t), &ringitem.MemorySink{})
		testutil.AssertNoError(t, err)
		err = c.ConvertItems(context.Background(), items(t))
		if !errors.Is(err, ErrBadFrame) || !errors.Is(err, orderer.ErrNonMonotonic) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("skip", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SkipBadFrames = true
		sink := &ringitem.MemorySink{}
		c, err := NewConverter(cfg, sink)
		testutil.AssertNoError(t, err)
		testutil.AssertNoError(t, c.ConvertItems(context.Background(), items(t)))
		summary, err := c.Close()
		testutil.AssertNoError(t, err)
		if summary.BadFrames != 1 {
			t.Errorf("BadFrames = %d", summary.BadFrames)
		}
		_, events, _ := decodeAll(t, sink.Items)
		want := [][]glom.Entry{{boundary(0), boundary(1), {ChannelWord: 1, Time: 1010, TOT: 1}}}
		if diff := cmp.Diff(want, events); diff != "" {
			t.Errorf("events (-want +got):\n%s", diff)
		}
	})

	t.Run("channel out of range", func(t *testing.T) {
		c, err := NewConverter(testConfig(t), &ringitem.MemorySink{})
		testutil.AssertNoError(t, err)
		err = c.ProcessItem(testutil.FrameItem(0, 0, testutil.Leading(100, 1, 1)))
		if !errors.Is(err, orderer.ErrChannelOutOfRange) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("time reversal across frames", func(t *testing.T) {
		c, err := NewConverter(testConfig(t), &ringitem.MemorySink{})
		testutil.AssertNoError(t, err)
		testutil.AssertNoError(t, c.ProcessItem(testutil.FrameItem(5, 0, testutil.Leading(0, 1, 1))))
		err = c.ProcessItem(testutil.FrameItem(4, 0, testutil.Leading(0, 1, 1)))
		if !errors.Is(err, glom.ErrTimeReversal) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("missing frame number", func(t *testing.T) {
		c, err := NewConverter(testConfig(t), &ringitem.MemorySink{})
		testutil.AssertNoError(t, err)
		err = c.ProcessItem(ringitem.New(ringitem.TDCFrame))
		if !errors.Is(err, ErrBadFrame) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("frame number beyond tick range", func(t *testing.T) {
		cfg := testConfig(t)
		c, err := NewConverter(cfg, &ringitem.MemorySink{})
		testutil.AssertNoError(t, err)
		frame := cfg.Timebase.MaxFrame() + 1
		err = c.ProcessItem(testutil.FrameItem(frame, 0, testutil.Leading(0, 1, 1)))
		if !errors.Is(err, ErrBadFrame) || !errors.Is(err, timebase.ErrFrameRange) {
			t.Errorf("err = %v", err)
		}

		cfg.SkipBadFrames = true
		c, err = NewConverter(cfg, &ringitem.MemorySink{})
		testutil.AssertNoError(t, err)
		testutil.AssertNoError(t, c.ProcessItem(testutil.FrameItem(math.MaxUint64, 0, testutil.Leading(0, 1, 1))))
		if s := c.Summary(); s.BadFrames != 1 || s.Glom.Hits != 0 {
			t.Errorf("summary = %+v", s)
		}
	})
}

func TestPreserveSourceID(t *testing.T) {
	cfg := testConfig(t)
	cfg.SourceID = 1
	cfg.PreserveSourceID = true
	sink := &ringitem.MemorySink{}
	c, err := NewConverter(cfg, sink)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, c.ProcessItem(testutil.FrameItem(0, 42, testutil.Leading(0, 1, 1))))
	_, err = c.Close()
	testutil.AssertNoError(t, err)
	if len(sink.Items) != 1 || sink.Items[0].BodyHeader.SourceID != 42 {
		t.Errorf("events = %+v", sink.Items)
	}
}

func TestCancellation(t *testing.T) {
	c, err := NewConverter(testConfig(t), &ringitem.MemorySink{})
	testutil.AssertNoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &ringitem.MemorySource{Items: []*ringitem.Item{testutil.FrameItem(0, 0)}}
	if err := c.ConvertItems(ctx, src); !errors.Is(err, context.Canceled) {
		t.Errorf("ConvertItems err = %v", err)
	}
	if err := c.ConvertWords(ctx, &sliceWords{words: []uint64{1}}); !errors.Is(err, context.Canceled) {
		t.Errorf("ConvertWords err = %v", err)
	}
}

func TestClosedConverter(t *testing.T) {
	c, err := NewConverter(DefaultConfig(), &ringitem.MemorySink{})
	testutil.AssertNoError(t, err)
	_, err = c.Close()
	testutil.AssertNoError(t, err)
	_, err = c.Close()
	testutil.AssertNoError(t, err)
	if err := c.ProcessItem(ringitem.New(ringitem.BeginRun)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v", err)
	}
}

func TestNewConverterRejectsUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "bogus"
	_, err := NewConverter(cfg, &ringitem.MemorySink{})
	if !errors.Is(err, orderer.ErrUnknownStrategy) {
		t.Errorf("err = %v", err)
	}
}
