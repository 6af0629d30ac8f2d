package ringitem

import "io"

// MemorySink keeps every written item in memory. It is used by tests and by
// tools that post-process a conversion before writing it.
type MemorySink struct {
	Items   []*Item
	Flushes int
	Closed  bool

	// WriteErr, when set, is returned by Write instead of storing the item.
	WriteErr error
}

// Write stores a copy of the item.
func (m *MemorySink) Write(it *Item) error {
	if m.Closed {
		return ErrClosed
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	cp := *it
	if it.BodyHeader != nil {
		bh := *it.BodyHeader
		cp.BodyHeader = &bh
	}
	cp.payload = append([]byte(nil), it.payload...)
	m.Items = append(m.Items, &cp)
	return nil
}

// Flush counts flushes.
func (m *MemorySink) Flush() error {
	if m.Closed {
		return ErrClosed
	}
	m.Flushes++
	return nil
}

// Close marks the sink closed.
func (m *MemorySink) Close() error {
	m.Closed = true
	return nil
}

// MemorySource replays a fixed list of items.
type MemorySource struct {
	Items []*Item
	next  int
}

// Read returns the next item or io.EOF.
func (m *MemorySource) Read() (*Item, error) {
	if m.next >= len(m.Items) {
		return nil, io.EOF
	}
	it := m.Items[m.next]
	m.next++
	return it, nil
}

// Close is a no-op.
func (m *MemorySource) Close() error { return nil }
