package mikumari

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// WordSize is the size in bytes of one word on the wire.
const WordSize = 8

// WordSource yields raw words until io.EOF.
type WordSource interface {
	Next() (uint64, error)
}

// WordReader reads a headerless stream of native-endian words.
type WordReader struct {
	r       *bufio.Reader
	buf     [WordSize]byte
	words   uint64
	dropped int
}

// NewWordReader wraps r in a buffered word reader.
func NewWordReader(r io.Reader) *WordReader {
	return &WordReader{r: bufio.NewReader(r)}
}

// Next returns the next word. A partial word at the end of the stream is
// not an error: it is counted in Dropped and Next reports io.EOF.
func (wr *WordReader) Next() (uint64, error) {
	n, err := io.ReadFull(wr.r, wr.buf[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			wr.dropped += n
			return 0, io.EOF
		}
		return 0, err
	}
	wr.words++
	return binary.NativeEndian.Uint64(wr.buf[:]), nil
}

// ReadDatum reads and decodes the next word.
func (wr *WordReader) ReadDatum() (Datum, error) {
	word, err := wr.Next()
	if err != nil {
		return nil, err
	}
	return Decode(word), nil
}

// Words returns the number of complete words read so far.
func (wr *WordReader) Words() uint64 { return wr.words }

// Dropped returns the number of trailing bytes discarded as a partial word.
func (wr *WordReader) Dropped() int { return wr.dropped }

// WordWriter writes native-endian words. Call Flush when done.
type WordWriter struct {
	w   *bufio.Writer
	buf [WordSize]byte
}

// NewWordWriter wraps w in a buffered word writer.
func NewWordWriter(w io.Writer) *WordWriter {
	return &WordWriter{w: bufio.NewWriter(w)}
}

// Write writes a single raw word.
func (ww *WordWriter) Write(word uint64) error {
	binary.NativeEndian.PutUint64(ww.buf[:], word)
	_, err := ww.w.Write(ww.buf[:])
	return err
}

// WriteDatum encodes and writes d.
func (ww *WordWriter) WriteDatum(d Datum) error {
	return ww.Write(Encode(d))
}

// Flush writes any buffered words to the underlying writer.
func (ww *WordWriter) Flush() error {
	return ww.w.Flush()
}
