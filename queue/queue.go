// Package queue implements the durable upload queue: an append-only,
// newline-delimited record file on removable storage that acts as a
// write-ahead log for undelivered records. Appending and draining never
// overlap; the delivery pipeline owns both ends.
package queue

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUnavailable reports that the queue file could not be opened, which
// usually means the removable storage is absent or faulted.
var ErrUnavailable = errors.New("queue storage unavailable")

// Queue is an append-only record log at a fixed path.
type Queue struct {
	path string
}

// New returns a Queue backed by the file at path. The file is created
// lazily on first append.
func New(path string) *Queue {
	return &Queue{path: path}
}

// Path returns the backing file path.
func (q *Queue) Path() string { return q.path }

// Append durably adds one record line. The write is synced before the
// file is closed so a crash after Append returns cannot lose the record.
func (q *Queue) Append(line string) error {
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append queue record: %w", err)
	}
	return f.Sync()
}

// Size returns the queue file size in bytes, 0 if the file is absent.
func (q *Queue) Size() int64 {
	info, err := os.Stat(q.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Depth counts the deliverable records currently in the queue.
func (q *Queue) Depth() (int, error) {
	d, err := q.OpenDrain(0)
	if err != nil {
		if errors.Is(err, ErrUnavailable) && !q.exists() {
			return 0, nil
		}
		return 0, err
	}
	defer d.Close()
	n := 0
	for {
		_, ok, err := d.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Peek returns up to max deliverable records without consuming anything.
func (q *Queue) Peek(max int) ([]string, error) {
	if !q.exists() {
		return nil, nil
	}
	d, err := q.OpenDrain(0)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	var lines []string
	for len(lines) < max {
		line, ok, err := d.Next()
		if err != nil || !ok {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Clear truncates the queue file. Callers invoke it only after a drain
// pass delivered every line and reached end-of-file.
func (q *Queue) Clear() error {
	err := os.Truncate(q.path, 0)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (q *Queue) exists() bool {
	_, err := os.Stat(q.path)
	return err == nil
}

// Drain is one sequential read pass over the queue file, starting at a
// byte offset. It sanitizes records and stops at physical EOF or at a
// record whose first byte is NUL (logical end-of-file).
type Drain struct {
	f      *os.File
	r      *bufio.Reader
	offset int64
	done   bool
}

// OpenDrain opens the queue file for reading from the given offset.
func (q *Queue) OpenDrain(offset int64) (*Drain, error) {
	f, err := os.Open(q.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek queue to %d: %w", offset, err)
		}
	}
	return &Drain{f: f, r: bufio.NewReader(f), offset: offset}, nil
}

// Next returns the next deliverable record. Blank and control-only lines
// are skipped; non-printable bytes are filtered out of the returned
// record. ok is false once the drain reached logical or physical EOF.
func (d *Drain) Next() (line string, ok bool, err error) {
	if d.done {
		return "", false, nil
	}
	for {
		raw, err := d.r.ReadString('\n')
		d.offset += int64(len(raw))
		if len(raw) > 0 && raw[0] == 0 {
			// NUL marks logical end-of-file for drain purposes.
			d.done = true
			return "", false, nil
		}
		clean := sanitize(raw)
		if clean != "" {
			if err == io.EOF {
				d.done = true
			}
			return clean, true, nil
		}
		if err != nil {
			d.done = true
			if err == io.EOF {
				return "", false, nil
			}
			return "", false, err
		}
	}
}

// Offset reports the byte offset just past the last record returned.
func (d *Drain) Offset() int64 { return d.offset }

// Close releases the underlying file.
func (d *Drain) Close() error { return d.f.Close() }

// sanitize strips everything outside printable ASCII. CR/LF are accepted
// on the wire but act as record delimiters, so they are dropped here too.
func sanitize(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= 32 && raw[i] <= 126 {
			out = append(out, raw[i])
		}
	}
	return string(out)
}
