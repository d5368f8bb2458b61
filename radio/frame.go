// Package radio implements the half-duplex LoRa link layer and the
// node-query protocol the gateway runs over it.
package radio

import "errors"

// Frame types on the radio link.
const (
	FrameAck     byte = 0x01
	FrameData    byte = 0x02 // intermediate fragment, more follow
	FrameDataEnd byte = 0x03 // final (or only) fragment of a packet
)

// Frame sizing. A frame is length-prefixed:
//
//	+--------+-----+-----+------+----------+------+
//	| Length | Dst | Src | Type | Payload  | RSSI |
//	+--------+-----+-----+------+----------+------+
//	| 1 byte |  1  |  1  |  1   | 0-56     |  1   |
//	+--------+-----+-----+------+----------+------+
//
// Length counts every byte after itself. RSSI is written as 0 on
// transmit; the radio module overwrites it with the received signal
// strength (dBm, two's complement) on the receive side.
const (
	frameOverhead  = 4 // dst + src + type + rssi
	MaxFragment    = 56
	maxFrameLength = frameOverhead + MaxFragment
)

var (
	ErrTimeout      = errors.New("radio timeout")
	ErrBadFrame     = errors.New("malformed radio frame")
	ErrFragmentSize = errors.New("fragment exceeds maximum size")
)

// Frame is one link-layer unit on the radio.
type Frame struct {
	Dst     byte
	Src     byte
	Type    byte
	Payload []byte
	RSSI    int8
}

// Encode serializes the frame for transmission.
func Encode(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxFragment {
		return nil, ErrFragmentSize
	}
	out := make([]byte, 0, 1+frameOverhead+len(f.Payload))
	out = append(out, byte(frameOverhead+len(f.Payload)))
	out = append(out, f.Dst, f.Src, f.Type)
	out = append(out, f.Payload...)
	out = append(out, byte(f.RSSI))
	return out, nil
}

// Decode parses a frame from data. data must hold exactly the bytes the
// length prefix announces.
func Decode(data []byte) (*Frame, error) {
	if len(data) < 1+frameOverhead {
		return nil, ErrBadFrame
	}
	length := int(data[0])
	if length < frameOverhead || length > maxFrameLength || len(data) != 1+length {
		return nil, ErrBadFrame
	}
	f := &Frame{
		Dst:  data[1],
		Src:  data[2],
		Type: data[3],
		RSSI: int8(data[length]),
	}
	if n := length - frameOverhead; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, data[4:4+n])
	}
	return f, nil
}
