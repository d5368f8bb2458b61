package engine

import (
	"time"

	"fieldgate/radio"
)

// pipelineEmitter adapts the engine's EventBus to the pipeline.Emitter
// interface.
type pipelineEmitter struct {
	bus *EventBus
}

func (e *pipelineEmitter) NodeResult(rec radio.NodeRecord) {
	e.bus.Emit(Event{Type: EventNodeResult, Payload: NodeResultEvent{
		Addr: int(rec.Addr), Payload: rec.Payload, SignalDBm: int(rec.SignalDBm), Missing: rec.Missing,
	}})
}

func (e *pipelineEmitter) RecordQueued(line string) {
	e.bus.Emit(Event{Type: EventRecordQueued, Payload: RecordQueuedEvent{Line: line}})
}

func (e *pipelineEmitter) CycleCompleted(kind, synced, unsynced string) {
	e.bus.Emit(Event{Type: EventCycleCompleted, Payload: CycleCompletedEvent{
		Kind: kind, Synced: synced, Unsynced: unsynced,
	}})
}

func (e *pipelineEmitter) DrainFinished(delivered int, cleared bool, failure string) {
	e.bus.Emit(Event{Type: EventDrainFinished, Payload: DrainFinishedEvent{
		Delivered: delivered, Cleared: cleared, Failure: failure,
	}})
}

func (e *pipelineEmitter) TimeSynced(t time.Time) {
	e.bus.Emit(Event{Type: EventTimeSynced, Payload: TimeSyncedEvent{SetTo: t}})
}

func (e *pipelineEmitter) TimeSyncFailed(err error) {
	e.bus.Emit(Event{Type: EventTimeSyncFailed, Payload: TimeSyncFailedEvent{Error: err.Error()}})
}
