package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriterNDJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	item := ForItem(w, 2)

	item.Emit(Event{Event: Started})
	item.Emit(Event{Event: QueryStarted, Query: "beton"})
	item.Emit(Event{Event: QueryCompleted, Query: "beton", TimeMS: Elapsed(1500 * time.Microsecond)})
	item.Emit(Event{Event: Completed})
	if w.Closed() {
		t.Fatalf("item-level completed must not close the stream")
	}
	w.Emit(Event{Event: Completed, Result: map[string]int{"total": 1}})
	w.Emit(Event{Event: Started})

	if !w.Closed() || w.Err() != nil {
		t.Fatalf("expected closed stream without error, err=%v", w.Err())
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), buf.String())
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first["event"] != "started" || first["item"] != 2.0 {
		t.Fatalf("unexpected first event: %v", first)
	}
	if _, ok := first["query"]; ok {
		t.Fatalf("empty fields must be omitted: %v", first)
	}

	if lines[2] != `{"event":"query_completed","item":2,"query":"beton","time_ms":1}` {
		t.Fatalf("unexpected query_completed line: %s", lines[2])
	}
	if lines[4] != `{"event":"completed","result":{"total":1}}` {
		t.Fatalf("unexpected terminal line: %s", lines[4])
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriterKeepsFirstError(t *testing.T) {
	t.Parallel()

	w := NewWriter(failingWriter{})
	w.Emit(Event{Event: Started})
	w.Emit(Event{Event: Error, Message: "x"})

	if err := w.Err(); err == nil || !strings.Contains(err.Error(), "started") {
		t.Fatalf("expected first write error, got %v", err)
	}
}

func TestRecorderAndDiscard(t *testing.T) {
	t.Parallel()

	OrDiscard(nil).Emit(Event{Event: Started})

	var r Recorder
	ForItem(&r, 0).Emit(Event{Event: Merging})
	r.Emit(Event{Event: Error, Message: "deadline"})

	if r.Count(Merging) != 1 || r.Count(Error) != 1 {
		t.Fatalf("unexpected counts: %+v", r.Events())
	}
	events := r.Events()
	if events[0].Item == nil || *events[0].Item != 0 || !events[1].Terminal() {
		t.Fatalf("unexpected events: %+v", events)
	}
}
