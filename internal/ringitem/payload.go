package ringitem

import "fmt"

// PayloadReader walks an item payload field by field.
type PayloadReader struct {
	b   []byte
	off int
}

// Reader returns a reader positioned at the start of the payload.
func (it *Item) Reader() *PayloadReader {
	return &PayloadReader{b: it.payload}
}

// Remaining returns the number of unread payload bytes.
func (p *PayloadReader) Remaining() int { return len(p.b) - p.off }

func (p *PayloadReader) take(n int) ([]byte, error) {
	if p.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrPayloadUnderrun, n, p.off, p.Remaining())
	}
	b := p.b[p.off : p.off+n]
	p.off += n
	return b, nil
}

// Uint16 reads a 16-bit field.
func (p *PayloadReader) Uint16() (uint16, error) {
	b, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return ne.Uint16(b), nil
}

// Uint32 reads a 32-bit field.
func (p *PayloadReader) Uint32() (uint32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return ne.Uint32(b), nil
}

// Uint64 reads a 64-bit field.
func (p *PayloadReader) Uint64() (uint64, error) {
	b, err := p.take(8)
	if err != nil {
		return 0, err
	}
	return ne.Uint64(b), nil
}
