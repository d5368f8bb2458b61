package queue

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempQueue(t *testing.T) *Queue {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "upload.q"))
}

func drainAll(t *testing.T, q *Queue) []string {
	t.Helper()
	d, err := q.OpenDrain(0)
	if err != nil {
		t.Fatalf("open drain: %v", err)
	}
	defer d.Close()
	var lines []string
	for {
		line, ok, err := d.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestAppendAndDrainPreservesOrder(t *testing.T) {
	q := tempQueue(t)
	records := []string{"first~-71", "second~-88", "third~-90"}
	for _, r := range records {
		if err := q.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := drainAll(t, q)
	if len(got) != len(records) {
		t.Fatalf("drained %d records, want %d", len(got), len(records))
	}
	for i, r := range records {
		if got[i] != r {
			t.Errorf("record %d = %q, want %q", i, got[i], r)
		}
	}
}

func TestDrainSkipsBlankAndControlLines(t *testing.T) {
	q := tempQueue(t)
	q.Append("real record")
	q.Append("")
	q.Append("\x07\x07")
	q.Append("another")

	got := drainAll(t, q)
	want := []string{"real record", "another"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("drained %q, want %q", got, want)
	}
}

func TestDrainFiltersNonPrintableBytes(t *testing.T) {
	q := tempQueue(t)
	q.Append("da\x01ta~\x1b-42")

	got := drainAll(t, q)
	if len(got) != 1 || got[0] != "data~-42" {
		t.Errorf("drained %q, want [\"data~-42\"]", got)
	}
}

func TestDrainStopsAtNulRecord(t *testing.T) {
	q := tempQueue(t)
	q.Append("before")
	q.Append("\x00stale tail")
	q.Append("after")

	got := drainAll(t, q)
	if len(got) != 1 || got[0] != "before" {
		t.Errorf("drained %q, want only the record before the NUL marker", got)
	}
}

func TestDrainFromOffsetResumes(t *testing.T) {
	q := tempQueue(t)
	q.Append("one")
	q.Append("two")

	d, err := q.OpenDrain(0)
	if err != nil {
		t.Fatalf("open drain: %v", err)
	}
	if _, _, err := d.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	offset := d.Offset()
	d.Close()

	d2, err := q.OpenDrain(offset)
	if err != nil {
		t.Fatalf("reopen drain: %v", err)
	}
	defer d2.Close()
	line, ok, err := d2.Next()
	if err != nil || !ok || line != "two" {
		t.Errorf("resumed record = %q ok=%v err=%v, want \"two\"", line, ok, err)
	}
}

func TestOpenDrainMissingFileIsUnavailable(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "missing.q"))
	_, err := q.OpenDrain(0)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestClearEmptiesFile(t *testing.T) {
	q := tempQueue(t)
	q.Append("record")
	if err := q.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("size after clear = %d, want 0", q.Size())
	}
	if n, _ := q.Depth(); n != 0 {
		t.Errorf("depth after clear = %d, want 0", n)
	}
	// Clearing an already-cleared queue is a no-op.
	if err := q.Clear(); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestDepthAndPeek(t *testing.T) {
	q := tempQueue(t)
	if n, err := q.Depth(); err != nil || n != 0 {
		t.Fatalf("empty depth = %d err=%v, want 0", n, err)
	}
	q.Append("a")
	q.Append("b")
	q.Append("c")

	if n, _ := q.Depth(); n != 3 {
		t.Errorf("depth = %d, want 3", n)
	}
	lines, err := q.Peek(2)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Errorf("peek = %q, want [a b]", lines)
	}
	// Peek must not consume.
	if n, _ := q.Depth(); n != 3 {
		t.Errorf("depth after peek = %d, want 3", n)
	}
}

func TestAppendUnavailableStorage(t *testing.T) {
	dir := t.TempDir()
	// A directory at the queue path makes every open fail.
	path := filepath.Join(dir, "queue-as-dir")
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatal(err)
	}
	q := New(path)
	if err := q.Append("x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
