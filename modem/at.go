package modem

import (
	"bytes"
	"fmt"
	"time"
)

// AT protocol fragments shared by the session layer.
const (
	CRLF  = "\r\n"
	CtrlZ = "\x1A" // payload terminator for socket sends

	RespOK      = "OK"
	RespError   = "ERROR"
	RespConnect = "CONNECT OK"
	RespSendOK  = "SEND OK"
	RespClose   = "CLOSE OK"
	RespPrompt  = "> "
)

// ResponseWindow bounds the rolling response buffer. Once full, the
// oldest bytes are evicted; pattern matching only ever sees this much
// trailing traffic.
const ResponseWindow = 100

// readChunk is the poll granularity while waiting for a pattern.
const readChunk = 50 * time.Millisecond

// MatchMode selects how the expected pattern is matched against the
// response window.
type MatchMode int

const (
	// MatchExact requires the full pattern as a substring.
	MatchExact MatchMode = iota
	// MatchPrefix additionally accepts a trailing prefix of the pattern
	// covering at least half of it. Some modem responses stream in with
	// the terminator boundary ambiguous; this mode trades strictness for
	// early detection on those transactions.
	MatchPrefix
)

// Result is the outcome of one AT transaction.
type Result struct {
	Matched  bool
	Response []byte // up to ResponseWindow trailing bytes seen
}

// Engine issues synchronous AT transactions over a Channel. It never
// retries; retry policy belongs to the caller.
type Engine struct {
	ch     Channel
	debugf func(format string, args ...interface{})
	now    func() time.Time
}

// NewEngine returns an Engine over ch.
func NewEngine(ch Channel) *Engine {
	return &Engine{
		ch:     ch,
		debugf: func(string, ...interface{}) {},
		now:    time.Now,
	}
}

// SetDebugFunc routes per-transaction traces to logf.
func (e *Engine) SetDebugFunc(logf func(string, ...interface{})) { e.debugf = logf }

// Send writes a newline-terminated command and waits for want with
// exact substring matching.
func (e *Engine) Send(cmd, want string, timeout time.Duration) (Result, error) {
	return e.transact([]byte(cmd+CRLF), want, timeout, MatchExact)
}

// SendMode is Send with an explicit match mode.
func (e *Engine) SendMode(cmd, want string, timeout time.Duration, mode MatchMode) (Result, error) {
	return e.transact([]byte(cmd+CRLF), want, timeout, mode)
}

// SendRaw writes data verbatim (no terminator appended) and waits for
// want. Used for socket payload sends, where the payload already ends
// with the 0x1A terminator.
func (e *Engine) SendRaw(data []byte, want string, timeout time.Duration) (Result, error) {
	return e.transact(data, want, timeout, MatchExact)
}

// Expect waits for want without issuing a command, for responses the
// far end pushes on its own (time server replies).
func (e *Engine) Expect(want string, timeout time.Duration) (Result, error) {
	return e.transact(nil, want, timeout, MatchExact)
}

// transact performs one command/expected-response exchange. Incoming
// bytes accumulate in a sliding window capped at ResponseWindow; the
// transaction succeeds as soon as the window matches, and times out
// with Matched=false otherwise. A timeout is not an I/O error; the
// caller decides whether it is fatal to the current pass.
func (e *Engine) transact(out []byte, want string, timeout time.Duration, mode MatchMode) (Result, error) {
	if len(out) > 0 {
		e.debugf("modem >> %q (want %q)", out, want)
		if _, err := e.ch.Write(out); err != nil {
			return Result{}, fmt.Errorf("modem write: %w", err)
		}
	}

	window := make([]byte, 0, ResponseWindow)
	buf := make([]byte, 64)
	deadline := e.now().Add(timeout)

	for {
		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			e.debugf("modem timeout, window %q", window)
			return Result{Matched: false, Response: window}, nil
		}
		wait := readChunk
		if remaining < wait {
			wait = remaining
		}
		e.ch.SetReadTimeout(wait)
		n, err := e.ch.Read(buf)
		if err != nil {
			return Result{Matched: false, Response: window}, fmt.Errorf("modem read: %w", err)
		}
		if n == 0 {
			continue
		}
		window = slide(window, buf[:n])
		if matches(window, want, mode) {
			e.debugf("modem << %q", window)
			return Result{Matched: true, Response: window}, nil
		}
	}
}

// slide appends chunk to window, evicting the oldest bytes beyond
// ResponseWindow.
func slide(window, chunk []byte) []byte {
	window = append(window, chunk...)
	if over := len(window) - ResponseWindow; over > 0 {
		copy(window, window[over:])
		window = window[:ResponseWindow]
	}
	return window
}

func matches(window []byte, want string, mode MatchMode) bool {
	if want == "" {
		return true
	}
	if bytes.Contains(window, []byte(want)) {
		return true
	}
	if mode == MatchPrefix {
		// Accept a trailing, half-or-longer prefix of the pattern: the
		// rest of it may still be in flight.
		min := (len(want) + 1) / 2
		for n := len(want) - 1; n >= min; n-- {
			if bytes.HasSuffix(window, []byte(want[:n])) {
				return true
			}
		}
	}
	return false
}
