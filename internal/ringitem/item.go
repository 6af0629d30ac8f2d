// Package ringitem implements the framed event record container that carries
// TDC frames in and physics events out.
//
// Wire layout, all fields in native byte order:
//
//	u32 size               total item size including this word
//	u32 type
//	u32 body_header_size   0 when absent, 20 when present
//	u64 timestamp  \
//	u32 source_id   } body header fields, when present
//	u32 barrier    /
//	payload
//
// A present body header is 20 bytes: the body_header_size word itself plus
// 16 bytes of fields.
package ringitem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Item types.
const (
	BeginRun     uint32 = 1
	EndRun       uint32 = 2
	PauseRun     uint32 = 3
	ResumeRun    uint32 = 4
	PhysicsEvent uint32 = 30
	TDCFrame     uint32 = 51
)

const (
	// HeaderSize covers the size, type and body header size words.
	HeaderSize = 12
	// BodyHeaderSize is the body_header_size value of an item with a body
	// header. It counts the body_header_size word.
	BodyHeaderSize = 20
	// bodyHeaderFields is what follows the body_header_size word.
	bodyHeaderFields = BodyHeaderSize - 4
	// MaxItemSize bounds the size accepted by ReadItem.
	MaxItemSize = 16 << 20
)

var (
	ErrShortItem       = errors.New("ringitem: item shorter than its header")
	ErrItemTooLarge    = errors.New("ringitem: item too large")
	ErrBadBodyHeader   = errors.New("ringitem: invalid body header size")
	ErrPayloadUnderrun = errors.New("ringitem: payload underrun")
	ErrNoBodyHeader    = errors.New("ringitem: item has no body header")
)

var ne = binary.NativeEndian

// BodyHeader is the optional fixed header carried by timestamped items.
type BodyHeader struct {
	Timestamp   uint64
	SourceID    uint32
	BarrierType uint32
}

// Item is one record: a type, an optional body header and a payload of
// native-endian primitive fields.
type Item struct {
	Type       uint32
	BodyHeader *BodyHeader
	payload    []byte
}

// New creates an item without a body header.
func New(itemType uint32) *Item {
	return &Item{Type: itemType}
}

// NewWithBodyHeader creates an item carrying a body header.
func NewWithBodyHeader(itemType uint32, timestamp uint64, sourceID, barrierType uint32) *Item {
	return &Item{
		Type: itemType,
		BodyHeader: &BodyHeader{
			Timestamp:   timestamp,
			SourceID:    sourceID,
			BarrierType: barrierType,
		},
	}
}

// AddUint16 appends a 16-bit field to the payload.
func (it *Item) AddUint16(v uint16) { it.payload = ne.AppendUint16(it.payload, v) }

// AddUint32 appends a 32-bit field to the payload.
func (it *Item) AddUint32(v uint32) { it.payload = ne.AppendUint32(it.payload, v) }

// AddUint64 appends a 64-bit field to the payload.
func (it *Item) AddUint64(v uint64) { it.payload = ne.AppendUint64(it.payload, v) }

// Payload returns the payload bytes, excluding any body header.
func (it *Item) Payload() []byte { return it.payload }

// Size returns the encoded size of the item.
func (it *Item) Size() int {
	n := HeaderSize + len(it.payload)
	if it.BodyHeader != nil {
		n += bodyHeaderFields
	}
	return n
}

// Timestamp returns the body header timestamp.
func (it *Item) Timestamp() (uint64, error) {
	if it.BodyHeader == nil {
		return 0, ErrNoBodyHeader
	}
	return it.BodyHeader.Timestamp, nil
}

// MarshalBinary encodes the item in wire layout.
func (it *Item) MarshalBinary() ([]byte, error) {
	size := it.Size()
	if size > MaxItemSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrItemTooLarge, size)
	}
	buf := make([]byte, 0, size)
	buf = ne.AppendUint32(buf, uint32(size))
	buf = ne.AppendUint32(buf, it.Type)
	if bh := it.BodyHeader; bh != nil {
		buf = ne.AppendUint32(buf, BodyHeaderSize)
		buf = ne.AppendUint64(buf, bh.Timestamp)
		buf = ne.AppendUint32(buf, bh.SourceID)
		buf = ne.AppendUint32(buf, bh.BarrierType)
	} else {
		buf = ne.AppendUint32(buf, 0)
	}
	return append(buf, it.payload...), nil
}

// UnmarshalBinary decodes one complete item from b.
func (it *Item) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShortItem
	}
	size := ne.Uint32(b[0:4])
	if int(size) != len(b) {
		return fmt.Errorf("%w: size word %d, have %d bytes", ErrShortItem, size, len(b))
	}
	it.Type = ne.Uint32(b[4:8])
	it.BodyHeader = nil
	off := HeaderSize
	switch bhSize := ne.Uint32(b[8:12]); bhSize {
	case 0:
	case BodyHeaderSize:
		if len(b) < HeaderSize+bodyHeaderFields {
			return ErrShortItem
		}
		it.BodyHeader = &BodyHeader{
			Timestamp:   ne.Uint64(b[12:20]),
			SourceID:    ne.Uint32(b[20:24]),
			BarrierType: ne.Uint32(b[24:28]),
		}
		off += bodyHeaderFields
	default:
		return fmt.Errorf("%w: %d", ErrBadBodyHeader, bhSize)
	}
	it.payload = append([]byte(nil), b[off:]...)
	return nil
}

// WriteTo writes the encoded item to w.
func (it *Item) WriteTo(w io.Writer) (int64, error) {
	buf, err := it.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadItem reads the next item from r. A clean end of stream and a truncated
// trailing item both report io.EOF.
func ReadItem(r io.Reader) (*Item, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	size := ne.Uint32(sizeBuf[:])
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: size word %d", ErrShortItem, size)
	}
	if size > MaxItemSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrItemTooLarge, size)
	}
	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	it := &Item{}
	if err := it.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return it, nil
}

// TypeName returns a printable name for an item type.
func TypeName(t uint32) string {
	switch t {
	case BeginRun:
		return "BEGIN_RUN"
	case EndRun:
		return "END_RUN"
	case PauseRun:
		return "PAUSE_RUN"
	case ResumeRun:
		return "RESUME_RUN"
	case PhysicsEvent:
		return "PHYSICS_EVENT"
	case TDCFrame:
		return "TDC_FRAME"
	default:
		return fmt.Sprintf("TYPE_%d", t)
	}
}
