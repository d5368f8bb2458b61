package engine

import "time"

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Scheduler events
	EventWake EventType = iota + 1
	EventLowBattery

	// Acquisition events
	EventNodeResult
	EventRecordQueued
	EventCycleCompleted

	// Delivery events
	EventDrainFinished
	EventTimeSynced
	EventTimeSyncFailed
)

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// WakeEvent is emitted when an alarm fires, before its handler runs.
type WakeEvent struct {
	Alarm     string    `json:"alarm"` // "measure" or "upload"
	Scheduled time.Time `json:"scheduled"`
}

// LowBatteryEvent is emitted when a wake is skipped on battery cutoff.
type LowBatteryEvent struct {
	BatteryVolts float64 `json:"battery_volts"`
	CutoffVolts  float64 `json:"cutoff_volts"`
}

// NodeResultEvent is emitted once per roster entry per acquisition cycle.
type NodeResultEvent struct {
	Addr      int    `json:"addr"`
	Payload   string `json:"payload,omitempty"`
	SignalDBm int    `json:"signal_dbm"`
	Missing   bool   `json:"missing"`
}

// RecordQueuedEvent is emitted when a line lands in the delivery queue.
type RecordQueuedEvent struct {
	Line string `json:"line"`
}

// CycleCompletedEvent is emitted after an acquisition cycle finishes.
type CycleCompletedEvent struct {
	Kind     string `json:"kind"`
	Synced   string `json:"synced"`
	Unsynced string `json:"unsynced"`
}

// DrainFinishedEvent is emitted after every drain pass, successful or not.
type DrainFinishedEvent struct {
	Delivered int    `json:"delivered"`
	Cleared   bool   `json:"cleared"`
	Failure   string `json:"failure,omitempty"`
}

// TimeSyncedEvent is emitted when a validated server time is committed.
type TimeSyncedEvent struct {
	SetTo time.Time `json:"set_to"`
}

// TimeSyncFailedEvent is emitted when a sync attempt leaves the clock alone.
type TimeSyncFailedEvent struct {
	Error string `json:"error"`
}
