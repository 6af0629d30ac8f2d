package ringitem

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestItemRoundTrip(t *testing.T) {
	it := NewWithBodyHeader(PhysicsEvent, 50, 7, 0)
	it.AddUint16(0x8001)
	it.AddUint64(50)
	it.AddUint32(666)

	// 12 header bytes, 16 body header field bytes, 14 payload bytes.
	if it.Size() != 42 {
		t.Errorf("Size() = %d, want 42", it.Size())
	}

	var buf bytes.Buffer
	n, err := it.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if int(n) != it.Size() {
		t.Errorf("wrote %d bytes, want %d", n, it.Size())
	}

	got, err := ReadItem(&buf)
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if diff := cmp.Diff(it, got, cmp.AllowUnexported(Item{})); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}

	r := got.Reader()
	ch, _ := r.Uint16()
	tm, _ := r.Uint64()
	tot, _ := r.Uint32()
	if ch != 0x8001 || tm != 50 || tot != 666 {
		t.Errorf("payload = %x %d %d", ch, tm, tot)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining() = %d", r.Remaining())
	}
	if _, err := r.Uint16(); !errors.Is(err, ErrPayloadUnderrun) {
		t.Errorf("read past end err = %v", err)
	}
}

func TestSizeWordMatchesEncoding(t *testing.T) {
	tests := []struct {
		name string
		item *Item
	}{
		{"no body header", New(TDCFrame)},
		{"body header", NewWithBodyHeader(PhysicsEvent, 50, 7, 0)},
		{"state change", func() *Item {
			it, _ := NewStateChange(BeginRun, 0, 1, StateChange{RunNumber: 3})
			return it
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.item.AddUint32(666)
			buf, err := tt.item.MarshalBinary()
			if err != nil {
				t.Fatal(err)
			}
			if size := ne.Uint32(buf[0:4]); int(size) != len(buf) {
				t.Errorf("size word = %d, encoded %d bytes", size, len(buf))
			}
			if tt.item.BodyHeader != nil && ne.Uint32(buf[8:12]) != BodyHeaderSize {
				t.Errorf("body_header_size = %d", ne.Uint32(buf[8:12]))
			}
		})
	}
}

func TestBackToBackItems(t *testing.T) {
	var buf bytes.Buffer
	for ts := uint64(50); ts <= 51; ts++ {
		it := NewWithBodyHeader(PhysicsEvent, ts, 7, 0)
		it.AddUint32(uint32(ts))
		if _, err := it.WriteTo(&buf); err != nil {
			t.Fatal(err)
		}
	}

	for ts := uint64(50); ts <= 51; ts++ {
		it, err := ReadItem(&buf)
		if err != nil {
			t.Fatalf("item %d: %v", ts, err)
		}
		got, _ := it.Timestamp()
		v, err := it.Reader().Uint32()
		if got != ts || err != nil || uint64(v) != ts || len(it.Payload()) != 4 {
			t.Errorf("item %d: timestamp %d payload %v", ts, got, it.Payload())
		}
	}
	if _, err := ReadItem(&buf); err != io.EOF {
		t.Errorf("after last item err = %v", err)
	}
}

func TestItemWithoutBodyHeader(t *testing.T) {
	it := New(TDCFrame)
	it.AddUint64(3)
	buf, err := it.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != HeaderSize+8 {
		t.Fatalf("len = %d", len(buf))
	}
	var got Item
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if got.BodyHeader != nil {
		t.Errorf("unexpected body header %+v", got.BodyHeader)
	}
	if _, err := got.Timestamp(); !errors.Is(err, ErrNoBodyHeader) {
		t.Errorf("Timestamp() err = %v", err)
	}
}

func TestReadItemErrors(t *testing.T) {
	good, _ := NewWithBodyHeader(PhysicsEvent, 1, 2, 3).MarshalBinary()
	tiny := ne.AppendUint32(nil, 4)
	tiny = ne.AppendUint32(tiny, 0)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, io.EOF},
		{"partial size", good[:2], io.EOF},
		{"truncated body", good[:len(good)-1], io.EOF},
		{"size below header", tiny, ErrShortItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadItem(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	huge := make([]byte, 4)
	ne.PutUint32(huge, MaxItemSize+1)
	if _, err := ReadItem(bytes.NewReader(huge)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("huge item err = %v", err)
	}

	bad := append([]byte(nil), good...)
	ne.PutUint32(bad[8:12], 7)
	if _, err := ReadItem(bytes.NewReader(bad)); !errors.Is(err, ErrBadBodyHeader) {
		t.Errorf("bad body header err = %v", err)
	}
}

func TestStateChange(t *testing.T) {
	it, err := NewStateChange(EndRun, 99, 4, StateChange{RunNumber: 12, ElapsedSeconds: 30, UnixTime: 1700000000})
	if err != nil {
		t.Fatal(err)
	}
	if it.BodyHeader.BarrierType != EndRun {
		t.Errorf("barrier = %d", it.BodyHeader.BarrierType)
	}
	sc, err := DecodeStateChange(it)
	if err != nil {
		t.Fatal(err)
	}
	if sc != (StateChange{RunNumber: 12, ElapsedSeconds: 30, UnixTime: 1700000000}) {
		t.Errorf("state change = %+v", sc)
	}

	if _, err := NewStateChange(PhysicsEvent, 0, 0, StateChange{}); !errors.Is(err, ErrNotStateChange) {
		t.Errorf("err = %v", err)
	}
	if _, err := DecodeStateChange(New(TDCFrame)); !errors.Is(err, ErrNotStateChange) {
		t.Errorf("err = %v", err)
	}
	if _, err := DecodeStateChange(New(BeginRun)); !errors.Is(err, ErrPayloadUnderrun) {
		t.Errorf("empty payload err = %v", err)
	}
}

func TestTypeName(t *testing.T) {
	if TypeName(TDCFrame) != "TDC_FRAME" || TypeName(99) != "TYPE_99" {
		t.Errorf("TypeName = %q, %q", TypeName(TDCFrame), TypeName(99))
	}
}

func TestFileSinkAndSource(t *testing.T) {
	for _, name := range []string{"run.evt", "run.evt" + ZstdExtension} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			sink, err := OpenSink(path)
			if err != nil {
				t.Fatalf("OpenSink: %v", err)
			}
			for i := uint64(0); i < 100; i++ {
				it := NewWithBodyHeader(PhysicsEvent, i, 1, 0)
				it.AddUint64(i)
				if err := sink.Write(it); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if err := sink.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			if err := sink.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := sink.Write(New(PhysicsEvent)); !errors.Is(err, ErrClosed) {
				t.Errorf("write after close err = %v", err)
			}

			src, err := OpenSource("file://" + path)
			if err != nil {
				t.Fatalf("OpenSource: %v", err)
			}
			defer src.Close()
			var n uint64
			for {
				it, err := src.Read()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
				ts, _ := it.Timestamp()
				if ts != n {
					t.Errorf("item %d timestamp = %d", n, ts)
				}
				n++
			}
			if n != 100 || src.Items() != 100 {
				t.Errorf("read %d items", n)
			}
		})
	}
}

func TestOpenUnsupportedURI(t *testing.T) {
	if _, err := OpenSource("tcp://localhost/ring"); !errors.Is(err, ErrUnsupportedURI) {
		t.Errorf("err = %v", err)
	}
	if _, err := OpenSink("file://"); !errors.Is(err, ErrUnsupportedURI) {
		t.Errorf("err = %v", err)
	}
}

func TestMemorySinkCopiesItems(t *testing.T) {
	var m MemorySink
	it := NewWithBodyHeader(PhysicsEvent, 1, 1, 0)
	it.AddUint32(5)
	if err := m.Write(it); err != nil {
		t.Fatal(err)
	}
	it.AddUint32(6)
	it.BodyHeader.Timestamp = 2
	if len(m.Items[0].Payload()) != 4 || m.Items[0].BodyHeader.Timestamp != 1 {
		t.Error("MemorySink must keep an independent copy")
	}
}
