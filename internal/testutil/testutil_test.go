package testutil

import (
	"errors"
	"testing"

	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
	"github.com/rfoxkendo/mikumarimaker/internal/ringitem"
)

func TestAssertHelpers(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
	AssertError(t, errors.New("test error"))
}

func TestEdgeWords(t *testing.T) {
	t.Parallel()

	l := mikumari.Decode(Leading(3, 4, 5))
	want := mikumari.Edge{Direction: mikumari.Leading, EdgeFields: mikumari.EdgeFields{Channel: 3, TOT: 4, Time: 5}}
	if l != want {
		t.Errorf("Leading decodes to %v", l)
	}
	tr, ok := mikumari.Decode(Trailing(3, 4, 5)).(mikumari.Edge)
	if !ok || tr.Direction != mikumari.Trailing {
		t.Errorf("Trailing decodes to %v", tr)
	}
}

func TestFrameItem(t *testing.T) {
	t.Parallel()

	it := FrameItem(9, 2, Leading(1, 1, 1))
	if it.Type != ringitem.TDCFrame || it.BodyHeader.SourceID != 2 || it.BodyHeader.Timestamp != 9000 {
		t.Fatalf("header = %d %+v", it.Type, it.BodyHeader)
	}
	r := it.Reader()
	frame, _ := r.Uint64()
	if frame != 9 {
		t.Errorf("frame = %d", frame)
	}
	var words []mikumari.Datum
	for r.Remaining() > 0 {
		w, _ := r.Uint64()
		words = append(words, mikumari.Decode(w))
	}
	if len(words) != 3 {
		t.Fatalf("got %d words", len(words))
	}
	if fs, ok := words[0].(mikumari.FrameStart); !ok || fs.FrameNumber != 9 {
		t.Errorf("first word = %v", words[0])
	}
	if sz, ok := words[2].(mikumari.FrameSize); !ok || sz.DataSize != 1 {
		t.Errorf("last word = %v", words[2])
	}
}

func TestRunItem(t *testing.T) {
	t.Parallel()

	it := RunItem(t, ringitem.BeginRun, 4)
	sc, err := ringitem.DecodeStateChange(it)
	AssertNoError(t, err)
	if sc.RunNumber != 4 {
		t.Errorf("run = %d", sc.RunNumber)
	}
}
