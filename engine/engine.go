package engine

import (
	"sync"
	"time"

	"fieldgate/config"
	"fieldgate/gateway"
	"fieldgate/pipeline"
	"fieldgate/queue"
	"fieldgate/store"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Scheduler states reported in status snapshots.
const (
	StateSleeping  = "sleeping"
	StateMeasuring = "measuring"
	StateUploading = "uploading"
)

// Runner is the delivery pipeline as the scheduler drives it.
// pipeline.Pipeline satisfies it.
type Runner interface {
	RunAcquisition(kind string) error
	RunDrain() error
	RunTimeSync() error
}

// Engine owns the wake scheduler: a single goroutine that sleeps until
// the next alarm and runs the measurement or upload duty cycle. The
// radio, modem and queue are touched only from that goroutine, so none
// of them need locking.
type Engine struct {
	cfg        *config.Config
	configPath string
	sess       *gateway.Session
	q          *queue.Queue
	db         *store.DB
	pipe       Runner
	logFn      LogFunc
	debugFn    LogFunc

	acquirer pipeline.Acquirer
	uplink   pipeline.Uplink

	Events   *EventBus
	triggers chan string
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	state        string
	nextMeasure  time.Time
	nextUpload   time.Time
	lastCycle    time.Time
	lastUnsynced string
	lastDrain    time.Time
	lastCleared  bool
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	Session    *gateway.Session
	Queue      *queue.Queue
	DB         *store.DB // nil tolerated, history archiving is skipped
	Acquirer   pipeline.Acquirer
	Uplink     pipeline.Uplink
	LogFunc    LogFunc
	Debug      bool
}

// New creates a new Engine. Call Start() to wire the pipeline and run
// the scheduler.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		sess:       c.Session,
		q:          c.Queue,
		db:         c.DB,
		acquirer:   c.Acquirer,
		uplink:     c.Uplink,
		logFn:      logFn,
		debugFn:    debugFn,
		Events:     NewEventBus(),
		triggers:   make(chan string, 1),
		stopChan:   make(chan struct{}),
		state:      StateSleeping,
	}
}

// Start wires the pipeline onto the event bus and runs the scheduler.
func (e *Engine) Start() {
	p := pipeline.New(e.sess, e.cfg, e.q, e.db, e.acquirer, e.uplink, &pipelineEmitter{bus: e.Events})
	p.SetLogFunc(e.logFn)
	e.pipe = p

	e.wireEventHandlers()

	e.wg.Add(1)
	go e.loop()

	e.cfg.Lock()
	roster, measure, upload := len(e.cfg.Nodes), e.cfg.MeasureIntervalMin, e.cfg.UploadIntervalHours
	e.cfg.Unlock()
	e.logFn("engine started: serial=%d roster=%d measure=%dm upload=%dh",
		e.sess.Identity.SerialNumber, roster, measure, upload)
}

// Stop shuts the scheduler down and waits for an in-flight cycle to end.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
	e.logFn("engine stopped")
}

// TriggerAcquisition requests a manual measurement cycle. It reports
// false when a previous request is still pending.
func (e *Engine) TriggerAcquisition() bool {
	select {
	case e.triggers <- AlarmMeasure:
		return true
	default:
		return false
	}
}

// TriggerDrain requests a manual drain pass (no time sync, whatever the
// hour). It reports false when a previous request is still pending.
func (e *Engine) TriggerDrain() bool {
	select {
	case e.triggers <- AlarmUpload:
		return true
	default:
		return false
	}
}

// Status is the snapshot served to the maintenance front end.
type Status struct {
	State        string    `json:"state"`
	NextMeasure  time.Time `json:"next_measure"`
	NextUpload   time.Time `json:"next_upload"`
	LastCycle    time.Time `json:"last_cycle"`
	LastUnsynced string    `json:"last_unsynced,omitempty"`
	LastDrain    time.Time `json:"last_drain"`
	LastCleared  bool      `json:"last_cleared"`
	BatteryVolts float64   `json:"battery_volts"`
	QueueDepth   int       `json:"queue_depth"`
	QueueBytes   int64     `json:"queue_bytes"`
	ReceiverOnly bool      `json:"receiver_only"`
}

// Status returns a point-in-time snapshot of the scheduler.
func (e *Engine) Status() Status {
	depth, _ := e.q.Depth()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:        e.state,
		NextMeasure:  e.nextMeasure,
		NextUpload:   e.nextUpload,
		LastCycle:    e.lastCycle,
		LastUnsynced: e.lastUnsynced,
		LastDrain:    e.lastDrain,
		LastCleared:  e.lastCleared,
		BatteryVolts: e.sess.Power.BatteryVolts(),
		QueueDepth:   depth,
		QueueBytes:   e.q.Size(),
		ReceiverOnly: e.sess.ReceiverOnly,
	}
}

// DB returns the history store handle (may be nil).
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// Queue returns the delivery queue handle.
func (e *Engine) Queue() *queue.Queue { return e.q }

// loop is the scheduler. All radio, modem and queue work happens here.
func (e *Engine) loop() {
	defer e.wg.Done()

	if e.cfg.FirstSync {
		e.runFirstSync()
	}

	for {
		next, alarm := e.rearm()
		timer := time.NewTimer(next.Sub(e.sess.Clock.Now()))
		select {
		case <-e.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			e.handleAlarm(alarm, next, true)
		case cmd := <-e.triggers:
			timer.Stop()
			e.handleAlarm(cmd, e.sess.Clock.Now(), false)
		}
	}
}

// rearm computes both alarms from the current clock and returns the
// earlier one. An alarm whose trigger passed while a handler ran is
// thereby re-armed for its next occurrence, not run late.
func (e *Engine) rearm() (time.Time, string) {
	now := e.sess.Clock.Now()
	e.cfg.Lock()
	measureMin := e.cfg.MeasureIntervalMin
	uploadHours := e.cfg.UploadIntervalHours
	offset := e.cfg.UploadMinuteOffset
	e.cfg.Unlock()

	nm := NextMeasure(now, measureMin)
	nu := NextUpload(now, uploadHours, offset)

	e.mu.Lock()
	e.nextMeasure = nm
	e.nextUpload = nu
	e.mu.Unlock()

	if nu.Before(nm) {
		return nu, AlarmUpload
	}
	return nm, AlarmMeasure
}

func (e *Engine) handleAlarm(alarm string, scheduled time.Time, timeSyncAllowed bool) {
	// Config fields the www handlers can rewrite are read once here,
	// under the config lock, never directly during the cycle.
	e.cfg.Lock()
	cutoff := e.cfg.BatteryCutoffVolts
	syncHour := e.cfg.TimeSyncHour
	e.cfg.Unlock()

	if v := e.sess.Power.BatteryVolts(); v < cutoff {
		e.logFn("battery %.2fV below %.2fV cutoff, skipping %s wake", v, cutoff, alarm)
		e.Events.Emit(Event{Type: EventLowBattery, Payload: LowBatteryEvent{
			BatteryVolts: v, CutoffVolts: cutoff,
		}})
		return
	}
	e.Events.Emit(Event{Type: EventWake, Payload: WakeEvent{Alarm: alarm, Scheduled: scheduled}})

	switch alarm {
	case AlarmMeasure:
		e.setState(StateMeasuring)
		if err := e.pipe.RunAcquisition(pipeline.KindMeasure); err != nil {
			e.logFn("measurement cycle: %v", err)
		}
	case AlarmUpload:
		e.setState(StateUploading)
		// The daily sync slot replaces that slot's drain pass; queued
		// records ride along on the next upload alarm.
		if timeSyncAllowed && IsTimeSyncSlot(scheduled, syncHour) {
			if err := e.pipe.RunTimeSync(); err != nil {
				e.logFn("time sync: %v", err)
			} else if err := e.pipe.RunAcquisition(pipeline.KindResync); err != nil {
				e.logFn("post-sync resync cycle: %v", err)
			}
		} else if err := e.pipe.RunDrain(); err != nil {
			e.logFn("drain pass: %v", err)
		}
	}
	e.setState(StateSleeping)
}

// runFirstSync performs the commissioning cycle once, then persists the
// cleared flag so a reboot does not repeat it.
func (e *Engine) runFirstSync() {
	e.setState(StateMeasuring)
	if err := e.pipe.RunAcquisition(pipeline.KindFirstSync); err != nil {
		e.logFn("first sync: %v", err)
	}
	e.setState(StateSleeping)

	e.cfg.Lock()
	e.cfg.FirstSync = false
	e.cfg.Unlock()
	if e.configPath != "" {
		if err := e.cfg.Save(e.configPath); err != nil {
			e.logFn("persist first-sync flag: %v", err)
		}
	}
}

func (e *Engine) setState(s string) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// wireEventHandlers keeps the status snapshot current and gives debug
// builds a per-node trace.
func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		c := evt.Payload.(CycleCompletedEvent)
		e.mu.Lock()
		e.lastCycle = evt.Timestamp
		e.lastUnsynced = c.Unsynced
		e.mu.Unlock()
	}, EventCycleCompleted)

	e.Events.SubscribeTypes(func(evt Event) {
		d := evt.Payload.(DrainFinishedEvent)
		e.mu.Lock()
		e.lastDrain = evt.Timestamp
		e.lastCleared = d.Cleared
		e.mu.Unlock()
	}, EventDrainFinished)

	e.Events.SubscribeTypes(func(evt Event) {
		r := evt.Payload.(NodeResultEvent)
		if r.Missing {
			e.debugFn("node %d: no response this cycle", r.Addr)
		} else {
			e.debugFn("node %d: %q at %d dBm", r.Addr, r.Payload, r.SignalDBm)
		}
	}, EventNodeResult)
}
