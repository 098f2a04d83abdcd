// Package journal records poll cycle outcomes as a stream of CBOR records.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("journal: cbor decoder mode: %v", err))
	}
}

// Entry is one poll cycle.
type Entry struct {
	Time        time.Time `cbor:"1,keyasint"`
	Outcome     string    `cbor:"2,keyasint"`
	UpdateIndex int       `cbor:"3,keyasint"`
	PowerW      int       `cbor:"4,keyasint,omitempty"`
	Status      int       `cbor:"5,keyasint,omitempty"`
	Error       string    `cbor:"6,keyasint,omitempty"`
	DurationUS  int64     `cbor:"7,keyasint"`
}

// Recorder accepts cycle entries.
type Recorder interface {
	Record(Entry)
}

// Writer appends entries to a file. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	closed bool
}

var _ Recorder = (*Writer)(nil)

// Open opens path for appending, creating it if needed.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Writer{file: f, enc: encMode.NewEncoder(f)}, nil
}

// Record appends e. Encoding errors are dropped; the journal must not
// disturb the poll loop.
func (w *Writer) Record(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	_ = w.enc.Encode(e)
}

// Close closes the file. Later Record calls are ignored.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Reader decodes entries in file order.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next entry, or io.EOF at the end of the stream.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	if err := r.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("decode journal entry: %w", err)
	}
	return e, nil
}

// ReadAll decodes every entry from r.
func ReadAll(r io.Reader) ([]Entry, error) {
	reader := NewReader(r)
	var out []Entry
	for {
		e, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}
