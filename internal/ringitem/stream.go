package ringitem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ZstdExtension marks item files compressed with zstd.
const ZstdExtension = ".zst"

var (
	ErrClosed         = errors.New("ringitem: stream is closed")
	ErrUnsupportedURI = errors.New("ringitem: unsupported data source URI")
)

// Source yields items until io.EOF.
type Source interface {
	Read() (*Item, error)
	Close() error
}

// Sink accepts items. Flush pushes buffered items to the underlying writer.
type Sink interface {
	Write(it *Item) error
	Flush() error
	Close() error
}

// StreamSource reads items from a byte stream.
type StreamSource struct {
	r       *bufio.Reader
	closers []func() error
	items   uint64
}

// NewStreamSource reads items from r. Closing the source does not close r.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: bufio.NewReader(r)}
}

// Read returns the next item, or io.EOF at the end of the stream.
func (s *StreamSource) Read() (*Item, error) {
	if s.r == nil {
		return nil, ErrClosed
	}
	it, err := ReadItem(s.r)
	if err != nil {
		return nil, err
	}
	s.items++
	return it, nil
}

// Items returns the number of items read.
func (s *StreamSource) Items() uint64 { return s.items }

// Close releases the underlying file, if the source owns one.
func (s *StreamSource) Close() error {
	s.r = nil
	return runClosers(s.closers)
}

// StreamSink writes items to a byte stream.
type StreamSink struct {
	w       *bufio.Writer
	flushes []func() error
	closers []func() error
	items   uint64
	closed  bool
}

// NewStreamSink writes items to w. Closing the sink flushes but does not
// close w.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: bufio.NewWriter(w)}
}

// Write buffers one item.
func (s *StreamSink) Write(it *Item) error {
	if s.closed {
		return ErrClosed
	}
	if _, err := it.WriteTo(s.w); err != nil {
		return fmt.Errorf("write %s item: %w", TypeName(it.Type), err)
	}
	s.items++
	return nil
}

// Flush pushes buffered items through any compressor to the writer.
func (s *StreamSink) Flush() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	for _, f := range s.flushes {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// Items returns the number of items written.
func (s *StreamSink) Items() uint64 { return s.items }

// Close flushes and releases the underlying file, if the sink owns one.
func (s *StreamSink) Close() error {
	if s.closed {
		return nil
	}
	err := s.w.Flush()
	s.closed = true
	if cerr := runClosers(s.closers); err == nil {
		err = cerr
	}
	return err
}

func runClosers(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenSource opens a data source. "-" is stdin; otherwise the URI is a
// plain path or a file:// URL. Paths ending in .zst are decompressed.
func OpenSource(uri string) (*StreamSource, error) {
	if uri == "-" {
		return NewStreamSource(os.Stdin), nil
	}
	path, err := filePath(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data source: %w", err)
	}
	if !strings.HasSuffix(path, ZstdExtension) {
		s := NewStreamSource(f)
		s.closers = []func() error{f.Close}
		return s, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open zstd data source: %w", err)
	}
	s := NewStreamSource(dec)
	s.closers = []func() error{
		func() error { dec.Close(); return nil },
		f.Close,
	}
	return s, nil
}

// OpenSink creates a data sink. "-" is stdout; otherwise the URI is a plain
// path or a file:// URL. Paths ending in .zst are compressed.
func OpenSink(uri string) (*StreamSink, error) {
	if uri == "-" {
		return NewStreamSink(os.Stdout), nil
	}
	path, err := filePath(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create data sink: %w", err)
	}
	if !strings.HasSuffix(path, ZstdExtension) {
		s := NewStreamSink(f)
		s.closers = []func() error{f.Close}
		return s, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create zstd data sink: %w", err)
	}
	s := NewStreamSink(enc)
	s.flushes = []func() error{enc.Flush}
	s.closers = []func() error{enc.Close, f.Close}
	return s, nil
}

func filePath(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedURI, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURI, u.Scheme)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: %q has no path", ErrUnsupportedURI, uri)
	}
	return u.Path, nil
}
