package pipeline

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"fieldgate/config"
	"fieldgate/gateway"
	"fieldgate/queue"
	"fieldgate/radio"
	"fieldgate/store"
)

// Acquisition kinds recorded in the sync log.
const (
	KindMeasure   = "measure"
	KindResync    = "resync"
	KindFirstSync = "first-sync"
)

// regCheckEvery is how many delivered lines pass between registration
// re-checks during a drain. Draining continues only while the modem
// reports home or roaming registration.
const regCheckEvery = 5

// Uplink is the cellular conversation the pipeline drives.
// modem.Session satisfies it.
type Uplink interface {
	Open() error
	Registered() bool
	SignalDBm() int
	SendPayload(body string) error
	FetchTime(server string) (string, error)
	Detach()
}

// Acquirer queries the node roster. radio.Protocol satisfies it.
type Acquirer interface {
	Acquire(roster []byte, timestamp string, firstSync bool) radio.SyncResult
}

// Emitter receives pipeline progress events. The engine adapts it onto
// its event bus; a nil Emitter is replaced with a no-op.
type Emitter interface {
	NodeResult(rec radio.NodeRecord)
	RecordQueued(line string)
	CycleCompleted(kind, synced, unsynced string)
	DrainFinished(delivered int, cleared bool, failure string)
	TimeSynced(t time.Time)
	TimeSyncFailed(err error)
}

type nopEmitter struct{}

func (nopEmitter) NodeResult(radio.NodeRecord)           {}
func (nopEmitter) RecordQueued(string)                   {}
func (nopEmitter) CycleCompleted(string, string, string) {}
func (nopEmitter) DrainFinished(int, bool, string)       {}
func (nopEmitter) TimeSynced(time.Time)                  {}
func (nopEmitter) TimeSyncFailed(error)                  {}

// Pipeline owns the store-and-forward delivery path. It is driven only
// by the scheduler goroutine; nothing here is safe for concurrent use.
type Pipeline struct {
	sess   *gateway.Session
	cfg    *config.Config
	q      *queue.Queue
	db     *store.DB // nil when the history store failed to open
	radio  Acquirer
	uplink Uplink
	emit   Emitter
	logf   func(format string, args ...interface{})
	pick   func(n int) int
}

// New wires a Pipeline. db may be nil; history archiving is then skipped.
func New(sess *gateway.Session, cfg *config.Config, q *queue.Queue, db *store.DB, acq Acquirer, uplink Uplink, emit Emitter) *Pipeline {
	if emit == nil {
		emit = nopEmitter{}
	}
	return &Pipeline{
		sess:   sess,
		cfg:    cfg,
		q:      q,
		db:     db,
		radio:  acq,
		uplink: uplink,
		emit:   emit,
		logf:   log.Printf,
		pick:   rand.Intn,
	}
}

// SetLogFunc overrides the log destination.
func (p *Pipeline) SetLogFunc(logf func(string, ...interface{})) { p.logf = logf }

// RunAcquisition polls the roster and queues the results. When the
// queue storage cannot be opened, nothing is queued; the in-memory
// record set is pushed over cellular immediately instead (at-most-once
// for this cycle, since no durable copy exists to retry from).
func (p *Pipeline) RunAcquisition(kind string) error {
	ts := p.sess.Timestamp()
	firstSync := kind == KindFirstSync

	// The maintenance surface may replace the roster mid-flight; poll a
	// stable copy taken under the config lock.
	p.cfg.Lock()
	roster := append([]byte(nil), p.cfg.Nodes...)
	p.cfg.Unlock()

	res := p.radio.Acquire(roster, ts, firstSync)
	cycleID := uuid.NewString()

	lines := make([]string, 0, len(res.Records)+1)
	for _, rec := range res.Records {
		p.emit.NodeResult(rec)
		lines = append(lines, SerializeNode(rec))
		if p.db != nil {
			if err := p.db.InsertNodeRecord(cycleID, int(rec.Addr), rec.Payload, int(rec.SignalDBm), rec.Missing); err != nil {
				p.logf("archive node %d: %v", rec.Addr, err)
			}
		}
	}

	unsynced := res.UnsyncedList()
	if p.db != nil {
		if err := p.db.InsertSyncLog(cycleID, kind, res.SyncedList(), unsynced, ""); err != nil {
			p.logf("archive sync log: %v", err)
		}
	}
	p.emit.CycleCompleted(kind, res.SyncedList(), unsynced)
	if unsynced != "none" {
		if firstSync {
			// Commissioning failures ride along as a status message.
			lines = append(lines, TagGatewayData+"|"+ts+"~first sync incomplete, unsynced "+unsynced)
		} else {
			p.logf("nodes unsynced this cycle: %s (roster retains them)", unsynced)
		}
	}

	for i, line := range lines {
		if err := p.q.Append(line); err != nil {
			if errors.Is(err, queue.ErrUnavailable) && i == 0 {
				p.logf("queue storage unavailable, attempting direct send of %d records", len(lines))
				return p.fallbackSend(lines)
			}
			return fmt.Errorf("queue record %d of %d: %w", i+1, len(lines), err)
		}
		p.emit.RecordQueued(line)
	}
	return nil
}

// RunDrain performs one drain pass: open the cellular session, queue
// this pass's status record, then deliver every queue line in append
// order. The file is cleared only when every line was delivered and
// end-of-file was reached; any failure preserves the whole file for the
// next pass.
func (p *Pipeline) RunDrain() error {
	if p.sess.ReceiverOnly {
		return nil
	}
	if err := p.uplink.Open(); err != nil {
		p.emit.DrainFinished(0, false, "network unavailable")
		p.recordDrain(0, false, "network unavailable")
		return fmt.Errorf("drain pass: %w", err)
	}
	defer p.uplink.Detach()

	status := p.statusLine(p.uplink.SignalDBm())
	p.archiveStatus()
	if err := p.q.Append(status); err != nil {
		if errors.Is(err, queue.ErrUnavailable) {
			// No durable queue this pass: push the status record now so
			// the health trail survives the storage fault.
			p.logf("queue storage unavailable, sending status record directly")
			return p.sendLine(status)
		}
		return err
	}
	p.emit.RecordQueued(status)

	drain, err := p.q.OpenDrain(0)
	if err != nil {
		return fmt.Errorf("drain pass: %w", err)
	}

	delivered := 0
	failure := ""
	for {
		if delivered > 0 && delivered%regCheckEvery == 0 && !p.uplink.Registered() {
			failure = "registration lost mid-pass"
			break
		}
		line, ok, nextErr := drain.Next()
		if nextErr != nil {
			failure = nextErr.Error()
			break
		}
		if !ok {
			break // end of file, everything delivered
		}
		if err := p.sendLine(line); err != nil {
			failure = err.Error()
			break
		}
		delivered++
	}
	drain.Close()

	cleared := false
	if failure == "" {
		if err := p.q.Clear(); err != nil {
			failure = fmt.Sprintf("clear queue: %v", err)
		} else {
			cleared = true
		}
	}

	p.emit.DrainFinished(delivered, cleared, failure)
	p.recordDrain(delivered, cleared, failure)
	if failure != "" {
		p.logf("drain pass preserved queue after %d deliveries: %s", delivered, failure)
		return fmt.Errorf("drain pass: %s", failure)
	}
	p.logf("drain pass delivered %d records, queue cleared", delivered)
	return nil
}

// RunTimeSync fetches the time from one randomly chosen server, commits
// it to the clock only when it validates, and queues a confirmation
// record. The caller follows up with a short node resync pass.
func (p *Pipeline) RunTimeSync() error {
	if err := p.uplink.Open(); err != nil {
		p.emit.TimeSyncFailed(err)
		return fmt.Errorf("time sync: %w", err)
	}
	defer p.uplink.Detach()

	servers := p.cfg.Modem.TimeServers
	if len(servers) == 0 {
		return errors.New("time sync: no time servers configured")
	}
	server := servers[p.pick(len(servers))]

	raw, err := p.uplink.FetchTime(server)
	if err != nil {
		p.emit.TimeSyncFailed(err)
		return fmt.Errorf("time sync via %s: %w", server, err)
	}
	t, err := ParseServerTime(raw)
	if err != nil {
		p.emit.TimeSyncFailed(err)
		return fmt.Errorf("time sync via %s: %w", server, err)
	}

	p.sess.Clock.Set(t)
	p.emit.TimeSynced(t)
	p.logf("clock set from %s: %s", server, t.Format(gateway.TimeLayout))

	conf := TagInit + "|clock set " + t.Format(gateway.TimeLayout)
	if err := p.q.Append(conf); err != nil {
		p.logf("queue time-sync confirmation: %v", err)
	} else {
		p.emit.RecordQueued(conf)
	}
	return nil
}

// fallbackSend pushes records straight over cellular when the durable
// queue is unavailable. At-most-once: a record that fails here is lost,
// accepted only for this cycle.
func (p *Pipeline) fallbackSend(lines []string) error {
	if err := p.uplink.Open(); err != nil {
		p.logf("fallback send lost %d records: %v", len(lines), err)
		return fmt.Errorf("fallback send: %w", err)
	}
	defer p.uplink.Detach()

	lines = append(lines, p.statusLine(p.uplink.SignalDBm()))
	sent := 0
	for _, line := range lines {
		if err := p.sendLine(line); err != nil {
			p.logf("fallback send: %v", err)
			continue
		}
		sent++
	}
	if sent < len(lines) {
		return fmt.Errorf("fallback send delivered %d of %d records", sent, len(lines))
	}
	return nil
}

// sendLine wraps one queue line in the transport envelope and sends it.
func (p *Pipeline) sendLine(line string) error {
	tag, d := ParseLine(line)
	env, err := BuildEnvelope(p.cfg.DeviceKey, p.sess.Identity.SerialNumber, tag, d)
	if err != nil {
		return err
	}
	return p.uplink.SendPayload(env)
}

// statusLine composes the once-per-pass device-health record. The exact
// layout is opaque to the rest of the core.
func (p *Pipeline) statusLine(signalDBm int) string {
	pw := p.sess.Power
	return fmt.Sprintf("%s|%s~%.2f~%.2f~%.1f~%.1f~%d",
		TagGatewayData, p.sess.Timestamp(),
		pw.BatteryVolts(), pw.SolarVolts(), pw.SolarMilliamps(), pw.TemperatureC(), signalDBm)
}

func (p *Pipeline) archiveStatus() {
	if p.db == nil {
		return
	}
	pw := p.sess.Power
	if err := p.db.InsertStatus(uuid.NewString(), pw.BatteryVolts(), pw.SolarVolts(), pw.SolarMilliamps(), pw.TemperatureC(), p.uplink.SignalDBm()); err != nil {
		p.logf("archive status: %v", err)
	}
}

func (p *Pipeline) recordDrain(delivered int, cleared bool, failure string) {
	if p.db == nil {
		return
	}
	if err := p.db.InsertDrainLog(delivered, cleared, failure); err != nil {
		p.logf("archive drain log: %v", err)
	}
}
