// Package modem implements the AT-command transaction protocol the
// gateway speaks to its cellular modem, and the session helpers
// (attach, registration, socket) built on top of it.
package modem

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"fieldgate/config"
)

// Channel is the byte-stream transport to the modem. The physical UART
// driver is external; the transaction protocol above owns all timing.
// serial.Port satisfies it directly.
type Channel interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
}

// OpenSerial opens the modem UART.
func OpenSerial(cfg config.ModemConfig) (serial.Port, error) {
	mode := &serial.Mode{BaudRate: cfg.Baud}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open modem port %s: %w", cfg.Port, err)
	}
	return port, nil
}
