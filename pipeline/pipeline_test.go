package pipeline

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldgate/config"
	"fieldgate/gateway"
	"fieldgate/queue"
	"fieldgate/radio"
)

type fakeAcquirer struct {
	result radio.SyncResult

	gotRoster []byte
	gotStamp  string
	gotFirst  bool
}

func (f *fakeAcquirer) Acquire(roster []byte, timestamp string, firstSync bool) radio.SyncResult {
	f.gotRoster = roster
	f.gotStamp = timestamp
	f.gotFirst = firstSync
	return f.result
}

type fakeUplink struct {
	openErr    error
	registered bool
	signal     int
	failAt     int // 1-based SendPayload call that fails, 0 never
	timeResp   string
	timeErr    error

	opens   int
	detachs int
	sent    []string
}

func (f *fakeUplink) Open() error      { f.opens++; return f.openErr }
func (f *fakeUplink) Registered() bool { return f.registered }
func (f *fakeUplink) SignalDBm() int   { return f.signal }

func (f *fakeUplink) SendPayload(body string) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("send rejected")
	}
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeUplink) FetchTime(server string) (string, error) { return f.timeResp, f.timeErr }
func (f *fakeUplink) Detach()                                 { f.detachs++ }

func testSession() *gateway.Session {
	return &gateway.Session{
		Identity: gateway.Identity{SerialNumber: 73011, RadioAddress: 1},
		Clock:    gateway.NewRTC(),
		Power:    gateway.FixedPower{Battery: 4.02, Solar: 19.5, SolarMA: 120, TempC: 23.5},
	}
}

func newTestPipeline(t *testing.T, qpath string, acq Acquirer, up Uplink) (*Pipeline, *queue.Queue) {
	t.Helper()
	cfg := config.Defaults()
	cfg.DeviceKey = "test-key"
	cfg.Nodes = []byte{21, 22}
	q := queue.New(qpath)
	p := New(testSession(), cfg, q, nil, acq, up, nil)
	p.SetLogFunc(t.Logf)
	return p, q
}

func twoNodeResult() radio.SyncResult {
	return radio.SyncResult{Records: []radio.NodeRecord{
		{Addr: 21, Payload: "21~3.98~18.2", SignalDBm: -71},
		{Addr: 22, Payload: "22~3.91~17.0", SignalDBm: -84},
	}}
}

func envelopeTag(t *testing.T, body string) string {
	t.Helper()
	var env struct {
		T [][2]string `json:"t"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("unmarshal sent envelope %q: %v", body, err)
	}
	if len(env.T) != 1 {
		t.Fatalf("envelope t = %v, want one pair", env.T)
	}
	return env.T[0][1]
}

func TestRunAcquisitionQueuesRecords(t *testing.T) {
	acq := &fakeAcquirer{result: twoNodeResult()}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), acq, &fakeUplink{})

	if err := p.RunAcquisition(KindMeasure); err != nil {
		t.Fatalf("RunAcquisition: %v", err)
	}
	if acq.gotFirst {
		t.Error("measure cycle ran with the first-sync budget")
	}
	if _, err := time.Parse(gateway.TimeLayout, acq.gotStamp); err != nil {
		t.Errorf("outbound timestamp %q not in wire layout: %v", acq.gotStamp, err)
	}
	lines, err := q.Peek(10)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	want := []string{"NODE_DATA|21~3.98~18.2~-71", "NODE_DATA|22~3.91~17.0~-84"}
	if len(lines) != len(want) {
		t.Fatalf("queued %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRunAcquisitionSnapshotsRosterUnderUpdates(t *testing.T) {
	acq := &fakeAcquirer{result: twoNodeResult()}
	p, _ := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), acq, &fakeUplink{})

	// Swap the roster from another goroutine the way the maintenance
	// surface does, under the config lock, while cycles run.
	done := make(chan struct{})
	go func() {
		defer close(done)
		rosters := [][]byte{{31, 32, 33}, {21, 22}}
		for i := 0; i < 50; i++ {
			p.cfg.Lock()
			if err := p.cfg.SetNodes(rosters[i%2]); err != nil {
				t.Errorf("SetNodes: %v", err)
			}
			p.cfg.Unlock()
		}
	}()
	for i := 0; i < 50; i++ {
		if err := p.RunAcquisition(KindMeasure); err != nil {
			t.Fatalf("RunAcquisition: %v", err)
		}
	}
	<-done

	// The acquirer must be handed a private copy, never the live slice.
	p.cfg.Lock()
	aliased := len(acq.gotRoster) > 0 && len(p.cfg.Nodes) > 0 && &acq.gotRoster[0] == &p.cfg.Nodes[0]
	p.cfg.Unlock()
	if aliased {
		t.Error("acquirer received the live config roster, want a copy")
	}
}

func TestRunAcquisitionFirstSyncQueuesFailureSummary(t *testing.T) {
	res := twoNodeResult()
	res.Records[1] = radio.NodeRecord{Addr: 22, Missing: true}
	acq := &fakeAcquirer{result: res}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), acq, &fakeUplink{})

	if err := p.RunAcquisition(KindFirstSync); err != nil {
		t.Fatalf("RunAcquisition: %v", err)
	}
	if !acq.gotFirst {
		t.Error("first-sync cycle ran with the per-node attempt budget")
	}
	lines, err := q.Peek(10)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("queued %d lines, want 3: %v", len(lines), lines)
	}
	last := lines[2]
	if !strings.HasPrefix(last, TagGatewayData+"|") || !strings.Contains(last, "unsynced 22") {
		t.Errorf("summary line = %q, want gateway-data record naming node 22", last)
	}
}

func TestRunAcquisitionStorageFaultSendsDirect(t *testing.T) {
	acq := &fakeAcquirer{result: twoNodeResult()}
	up := &fakeUplink{registered: true, signal: -67}
	// The queue path is a directory, so every append fails.
	p, q := newTestPipeline(t, t.TempDir(), acq, up)

	if err := p.RunAcquisition(KindMeasure); err != nil {
		t.Fatalf("RunAcquisition: %v", err)
	}
	if up.opens != 1 || up.detachs != 1 {
		t.Errorf("opens=%d detachs=%d, want one session", up.opens, up.detachs)
	}
	// Two node records plus the status record, straight over cellular.
	if len(up.sent) != 3 {
		t.Fatalf("sent %d payloads, want 3: %v", len(up.sent), up.sent)
	}
	if tag := envelopeTag(t, up.sent[0]); tag != TagNodeData {
		t.Errorf("first payload tag = %q, want %q", tag, TagNodeData)
	}
	if tag := envelopeTag(t, up.sent[2]); tag != TagGatewayData {
		t.Errorf("status payload tag = %q, want %q", tag, TagGatewayData)
	}
	if n, err := q.Depth(); err == nil && n != 0 {
		t.Errorf("queue depth = %d after storage fault, want 0", n)
	}
}

func TestRunDrainDeliversAndClears(t *testing.T) {
	up := &fakeUplink{registered: true, signal: -67}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), &fakeAcquirer{}, up)
	for _, line := range []string{"NODE_DATA|21~3.98~18.2~-71", "NODE_DATA|22~3.91~17.0~-84"} {
		if err := q.Append(line); err != nil {
			t.Fatalf("seed queue: %v", err)
		}
	}

	if err := p.RunDrain(); err != nil {
		t.Fatalf("RunDrain: %v", err)
	}
	if len(up.sent) != 3 {
		t.Fatalf("sent %d payloads, want 3 (two data, one status): %v", len(up.sent), up.sent)
	}
	if tag := envelopeTag(t, up.sent[0]); tag != TagNodeData {
		t.Errorf("payload 0 tag = %q", tag)
	}
	if tag := envelopeTag(t, up.sent[2]); tag != TagGatewayData {
		t.Errorf("payload 2 tag = %q, want status record last", tag)
	}
	if q.Size() != 0 {
		t.Errorf("queue size = %d after full drain, want 0", q.Size())
	}
	if up.detachs != 1 {
		t.Errorf("detachs = %d, want 1", up.detachs)
	}
}

func TestRunDrainNoNetworkLeavesQueue(t *testing.T) {
	up := &fakeUplink{openErr: errors.New("no registration")}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), &fakeAcquirer{}, up)
	if err := q.Append("NODE_DATA|21~3.98~18.2~-71"); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	if err := p.RunDrain(); err == nil {
		t.Fatal("RunDrain succeeded with no network")
	}
	if len(up.sent) != 0 {
		t.Errorf("sent %d payloads, want 0", len(up.sent))
	}
	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1 (untouched)", depth)
	}
}

func TestRunDrainSendFailurePreservesQueue(t *testing.T) {
	up := &fakeUplink{registered: true, failAt: 2}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), &fakeAcquirer{}, up)
	for _, line := range []string{"NODE_DATA|21~3.98~18.2~-71", "NODE_DATA|22~3.91~17.0~-84"} {
		if err := q.Append(line); err != nil {
			t.Fatalf("seed queue: %v", err)
		}
	}

	if err := p.RunDrain(); err == nil {
		t.Fatal("RunDrain succeeded despite a rejected send")
	}
	if len(up.sent) != 1 {
		t.Errorf("sent %d payloads before the failure, want 1", len(up.sent))
	}
	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	// Both data lines plus this pass's status line stay for the retry.
	if depth != 3 {
		t.Errorf("queue depth = %d, want 3 preserved lines", depth)
	}
}

func TestRunDrainStopsWhenRegistrationLost(t *testing.T) {
	up := &fakeUplink{registered: false}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), &fakeAcquirer{}, up)
	for i := 0; i < 7; i++ {
		if err := q.Append("NODE_DATA|21~3.98~18.2~-71"); err != nil {
			t.Fatalf("seed queue: %v", err)
		}
	}

	if err := p.RunDrain(); err == nil {
		t.Fatal("RunDrain succeeded after registration loss")
	}
	if len(up.sent) != 5 {
		t.Errorf("sent %d payloads, want 5 before the registration re-check", len(up.sent))
	}
	if q.Size() == 0 {
		t.Error("queue cleared despite an aborted pass")
	}
}

func TestRunDrainReceiverOnlySkips(t *testing.T) {
	up := &fakeUplink{registered: true}
	p, _ := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), &fakeAcquirer{}, up)
	p.sess.ReceiverOnly = true

	if err := p.RunDrain(); err != nil {
		t.Fatalf("RunDrain: %v", err)
	}
	if up.opens != 0 {
		t.Errorf("opens = %d, want 0 in receiver-only mode", up.opens)
	}
}

func TestRunTimeSyncSetsClock(t *testing.T) {
	up := &fakeUplink{registered: true, timeResp: "\r\nCONNECT OK\r\n26/08/26,14:03:55*"}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), &fakeAcquirer{}, up)

	if err := p.RunTimeSync(); err != nil {
		t.Fatalf("RunTimeSync: %v", err)
	}
	want := time.Date(2026, 8, 26, 14, 3, 55, 0, time.UTC)
	got := p.sess.Clock.Now()
	if d := got.Sub(want); d < -2*time.Second || d > 2*time.Second {
		t.Errorf("clock now %v, want within 2s of %v", got, want)
	}
	lines, err := q.Peek(10)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(lines) != 1 || !strings.HasPrefix(lines[0], TagInit+"|clock set 2026/08/26|14:03:55") {
		t.Errorf("confirmation lines = %v", lines)
	}
}

func TestRunTimeSyncRejectsGarbage(t *testing.T) {
	up := &fakeUplink{registered: true, timeResp: "ERROR\r\n"}
	p, q := newTestPipeline(t, filepath.Join(t.TempDir(), "queue.dat"), &fakeAcquirer{}, up)

	err := p.RunTimeSync()
	if !errors.Is(err, ErrClockRejected) {
		t.Fatalf("err = %v, want ErrClockRejected", err)
	}
	// Clock untouched: still tracking the host clock.
	if d := time.Since(p.sess.Clock.Now()); d < -time.Second || d > time.Second {
		t.Errorf("clock drifted by %v after a rejected sync", d)
	}
	if depth, err := q.Depth(); err == nil && depth != 0 {
		t.Errorf("queued %d lines after a rejected sync, want 0", depth)
	}
}
