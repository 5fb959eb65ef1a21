package outcome

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/valyala/gozstd"
)

// CompressionLevel is the zstd level used for compressed journals.
const CompressionLevel = 3

// JournalWriter appends events as JSON lines, optionally zstd-compressed.
type JournalWriter struct {
	mu     sync.Mutex
	closer io.Closer
	zw     *gozstd.Writer
	bw     *bufio.Writer
	enc    *json.Encoder
	closed bool
	n      int
}

// NewJournalWriter writes plain JSON lines to w. If compress is set the stream
// is wrapped in a zstd frame. Close flushes but does not close w.
func NewJournalWriter(w io.Writer, compress bool) *JournalWriter {
	j := &JournalWriter{}
	var sink io.Writer = w
	if compress {
		j.zw = gozstd.NewWriterLevel(w, CompressionLevel)
		sink = j.zw
	}
	j.bw = bufio.NewWriter(sink)
	j.enc = json.NewEncoder(j.bw)
	return j
}

// CreateJournal opens path for writing. Paths ending in ".zst" are compressed.
// Close also closes the file.
func CreateJournal(path string) (*JournalWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}
	j := NewJournalWriter(f, strings.HasSuffix(path, ".zst"))
	j.closer = f
	return j, nil
}

func (j *JournalWriter) Record(_ context.Context, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("journal closed")
	}
	if err := j.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	j.n++
	return nil
}

// Len returns the number of events written.
func (j *JournalWriter) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.n
}

// Close flushes buffered events and releases the compressor.
func (j *JournalWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	var errs []error
	if err := j.bw.Flush(); err != nil {
		errs = append(errs, err)
	}
	if j.zw != nil {
		if err := j.zw.Close(); err != nil {
			errs = append(errs, err)
		}
		j.zw.Release()
	}
	if j.closer != nil {
		if err := j.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadJournal decodes every event from r. If compressed is set r is read
// through a zstd decoder.
func ReadJournal(r io.Reader, compressed bool) ([]Event, error) {
	if compressed {
		zr := gozstd.NewReader(r)
		defer zr.Release()
		r = zr
	}
	dec := json.NewDecoder(r)
	var events []Event
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
}

// OpenJournal reads a journal file written by CreateJournal.
func OpenJournal(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	return ReadJournal(f, strings.HasSuffix(path, ".zst"))
}
