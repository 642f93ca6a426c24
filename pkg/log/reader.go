package log

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Reader streams events from a capture.
type Reader struct {
	file    io.Closer
	decoder *cbor.Decoder
	match   []predicate
	started bool
}

// NewReader opens a capture file and returns all of its events.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and returns the events matching
// filter. The header is checked on open.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		file:    f,
		decoder: decMode.NewDecoder(f),
		match:   filter.compile(),
		started: true,
	}
	if err := readHeader(r.decoder); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// NewStreamReader reads a capture from r, e.g. stdin. The header is checked
// by the first call to Next.
func NewStreamReader(r io.Reader, filter Filter) *Reader {
	return &Reader{
		file:    io.NopCloser(r),
		decoder: decMode.NewDecoder(r),
		match:   filter.compile(),
	}
}

// Next returns the next matching event, or io.EOF at the end of the
// capture.
func (r *Reader) Next() (Event, error) {
	if !r.started {
		r.started = true
		if err := readHeader(r.decoder); err != nil {
			return Event{}, err
		}
	}
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("decode event: %w", err)
		}
		if matchAll(r.match, event) {
			return event, nil
		}
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
