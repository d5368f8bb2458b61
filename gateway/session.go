package gateway

import (
	"sync"
	"time"
)

// TimeLayout is the timestamp format used on the radio link and inside
// queued records: "YYYY/MM/DD|HH:MM:SS".
const TimeLayout = "2006/01/02|15:04:05"

// Identity names a gateway on the radio network and to the cloud endpoint.
// Loaded once at boot; mutated only through the configuration front end.
type Identity struct {
	SerialNumber uint32
	RadioAddress byte
	ProjectTag   string
	Lat          string
	Lng          string
}

// Clock is the gateway's real-time clock. Set is only ever called after
// a validated time sync; everything else reads through Now.
type Clock interface {
	Now() time.Time
	Set(t time.Time)
}

// RTC is an offset-based Clock over the host clock. Setting it records
// the delta instead of touching the host time, which keeps the adjusted
// time consistent across the run without privileges.
type RTC struct {
	mu     sync.Mutex
	offset time.Duration
}

// NewRTC returns an RTC with no correction applied.
func NewRTC() *RTC { return &RTC{} }

// Now returns the corrected time.
func (c *RTC) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

// Set adjusts the clock so Now tracks t from this moment on.
func (c *RTC) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = time.Until(t)
}

// PowerMonitor reports the analog health readings the status record
// carries. The measurement routines themselves are an external
// collaborator; the core only consumes the values.
type PowerMonitor interface {
	BatteryVolts() float64
	SolarVolts() float64
	SolarMilliamps() float64
	TemperatureC() float64
}

// FixedPower is a PowerMonitor returning constant readings, used on the
// bench and in tests.
type FixedPower struct {
	Battery float64
	Solar   float64
	SolarMA float64
	TempC   float64
}

func (f FixedPower) BatteryVolts() float64   { return f.Battery }
func (f FixedPower) SolarVolts() float64     { return f.Solar }
func (f FixedPower) SolarMilliamps() float64 { return f.SolarMA }
func (f FixedPower) TemperatureC() float64   { return f.TempC }

// Session carries the run-wide state every component receives explicitly:
// identity, operating flags, the clock, and the power monitor.
type Session struct {
	Identity     Identity
	ReceiverOnly bool
	Debug        bool
	Clock        Clock
	Power        PowerMonitor
}

// Timestamp formats the current corrected time in the radio wire layout.
func (s *Session) Timestamp() string {
	return s.Clock.Now().Format(TimeLayout)
}
