package radio

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"fieldgate/config"
)

// Link is the half-duplex packet radio the node protocol runs on. The
// physical driver supplies addressed send-with-ack and receive-with-
// timeout; every retry and budget decision lives above this interface.
type Link interface {
	// SendWithAck transmits payload to dst and waits up to timeout for
	// the link-layer ack. Returns ErrTimeout when no ack arrives.
	SendWithAck(dst byte, payload []byte, timeout time.Duration) error
	// Receive waits up to timeout for one frame addressed to us.
	Receive(timeout time.Duration) (*Frame, error)
	Close() error
}

// SerialLink drives a LoRa radio module over a UART.
type SerialLink struct {
	port serial.Port
	addr byte
}

// OpenSerial opens the radio UART and returns a Link bound to ownAddr.
func OpenSerial(cfg config.RadioConfig, ownAddr byte) (*SerialLink, error) {
	mode := &serial.Mode{BaudRate: cfg.Baud}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open radio port %s: %w", cfg.Port, err)
	}
	return &SerialLink{port: port, addr: ownAddr}, nil
}

// SendWithAck writes one frame and blocks until the ack from dst or the
// timeout. Frames for other addresses seen while waiting are discarded;
// the channel is half-duplex and only one exchange is in flight.
func (l *SerialLink) SendWithAck(dst byte, payload []byte, timeout time.Duration) error {
	f := &Frame{Dst: dst, Src: l.addr, Type: FrameDataEnd, Payload: payload}
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := l.port.Write(data); err != nil {
		return fmt.Errorf("radio write: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, err := l.readFrame(time.Until(deadline))
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}
		if frame.Type == FrameAck && frame.Src == dst {
			return nil
		}
	}
	return ErrTimeout
}

// Receive waits for one frame addressed to this gateway.
func (l *SerialLink) Receive(timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame, err := l.readFrame(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if frame == nil || frame.Dst != l.addr {
			continue
		}
		return frame, nil
	}
	return nil, ErrTimeout
}

// Close releases the UART.
func (l *SerialLink) Close() error { return l.port.Close() }

// readFrame reads one length-prefixed frame off the wire. It returns
// (nil, nil) on a corrupt frame so callers keep listening until their
// own deadline.
func (l *SerialLink) readFrame(timeout time.Duration) (*Frame, error) {
	if timeout <= 0 {
		return nil, ErrTimeout
	}
	l.port.SetReadTimeout(timeout)

	var lenBuf [1]byte
	n, err := l.port.Read(lenBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("radio port closed: %w", err)
		}
		return nil, fmt.Errorf("radio read: %w", err)
	}
	if n == 0 {
		return nil, ErrTimeout
	}
	length := int(lenBuf[0])
	if length < frameOverhead || length > maxFrameLength {
		return nil, nil // noise byte, resynchronize on the next length
	}

	body := make([]byte, length)
	read := 0
	for read < length {
		n, err := l.port.Read(body[read:])
		if err != nil {
			return nil, fmt.Errorf("radio read: %w", err)
		}
		if n == 0 {
			return nil, ErrTimeout
		}
		read += n
	}

	frame, err := Decode(append(lenBuf[:], body...))
	if err != nil {
		return nil, nil
	}
	return frame, nil
}
