// Package progress carries batch progress events and writes them as NDJSON.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Kind is the event name on the wire.
type Kind string

const (
	Started        Kind = "started"
	QueryStarted   Kind = "query_started"
	QueryCompleted Kind = "query_completed"
	Merging        Kind = "merging"
	Completed      Kind = "completed"
	Error          Kind = "error"
)

// Event is one progress record. Item is nil for batch-level events.
type Event struct {
	Event   Kind   `json:"event"`
	Item    *int   `json:"item,omitempty"`
	Query   string `json:"query,omitempty"`
	TimeMS  *int64 `json:"time_ms,omitempty"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether e closes the stream.
func (e Event) Terminal() bool {
	return e.Item == nil && (e.Event == Completed || e.Event == Error)
}

// Elapsed returns a pointer to d in milliseconds for Event.TimeMS.
func Elapsed(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

type itemSink struct {
	inner Sink
	item  int
}

// ForItem stamps every event with the item index.
func ForItem(s Sink, item int) Sink {
	return itemSink{inner: OrDiscard(s), item: item}
}

func (s itemSink) Emit(e Event) {
	idx := s.item
	e.Item = &idx
	s.inner.Emit(e)
}

// Writer encodes events as newline-delimited JSON. Events after the terminal
// event are dropped.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
	err    error
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Emit(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.err != nil {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		w.err = fmt.Errorf("encode %s event: %w", e.Event, err)
		return
	}
	data = append(data, '\n')
	if _, err := w.w.Write(data); err != nil {
		w.err = fmt.Errorf("write %s event: %w", e.Event, err)
		return
	}
	if e.Terminal() {
		w.closed = true
	}
}

// Closed reports whether a terminal event was written.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Err returns the first encoding or write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Event == kind {
			n++
		}
	}
	return n
}
