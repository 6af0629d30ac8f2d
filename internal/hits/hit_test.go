package hits

import (
	"errors"
	"testing"

	"github.com/rfoxkendo/mikumarimaker/internal/mikumari"
)

func TestChannelWord(t *testing.T) {
	tests := []struct {
		dir     mikumari.Direction
		channel uint16
		want    uint16
	}{
		{mikumari.Leading, 0, 0x0000},
		{mikumari.Leading, 127, 0x007F},
		{mikumari.Trailing, 0, 0x8000},
		{mikumari.Trailing, 5, 0x8005},
		{mikumari.Leading, MaxChannel, 0x7FFF},
	}
	for _, tt := range tests {
		got, err := ChannelWord(tt.dir, tt.channel)
		if err != nil {
			t.Fatalf("ChannelWord(%s, %d): %v", tt.dir, tt.channel, err)
		}
		if got != tt.want {
			t.Errorf("ChannelWord(%s, %d) = 0x%04x, want 0x%04x", tt.dir, tt.channel, got, tt.want)
		}
		dir, ch := SplitChannelWord(got)
		if dir != tt.dir || ch != tt.channel {
			t.Errorf("SplitChannelWord(0x%04x) = %s %d", got, dir, ch)
		}
	}
}

func TestChannelWordRange(t *testing.T) {
	if _, err := ChannelWord(mikumari.Leading, MaxChannel+1); !errors.Is(err, ErrChannelRange) {
		t.Errorf("err = %v, want ErrChannelRange", err)
	}
}

func TestFrameBoundaryCollision(t *testing.T) {
	// The sentinel is indistinguishable from trailing 32767, a channel the
	// hardware cannot emit.
	w, err := ChannelWord(mikumari.Trailing, MaxChannel)
	if err != nil {
		t.Fatal(err)
	}
	if !IsFrameBoundary(w) {
		t.Errorf("trailing 32767 = 0x%04x, expected the boundary sentinel", w)
	}
	for ch := uint16(0); ch <= MaxHardwareChannel; ch++ {
		for _, dir := range []mikumari.Direction{mikumari.Leading, mikumari.Trailing} {
			w, _ := ChannelWord(dir, ch)
			if IsFrameBoundary(w) {
				t.Fatalf("hardware channel %d %s collides with the boundary sentinel", ch, dir)
			}
		}
	}
}

func TestFromEdge(t *testing.T) {
	e := mikumari.Edge{Direction: mikumari.Trailing, EdgeFields: mikumari.EdgeFields{Channel: 3, TOT: 9, Time: 100}}
	h := FromEdge(e, 1<<29+100)
	want := Hit{Direction: mikumari.Trailing, Channel: 3, Time: 1<<29 + 100, TOT: 9}
	if h != want {
		t.Errorf("FromEdge = %v, want %v", h, want)
	}
	if w, _ := h.ChannelWord(); w != 0x8003 {
		t.Errorf("ChannelWord = 0x%04x, want 0x8003", w)
	}
}
