package radio

import (
	"testing"
	"time"

	"fieldgate/config"
)

// fakeLink scripts node behavior for protocol tests. Each queried node
// either answers with its configured payload (optionally fragmented) or
// stays silent.
type fakeLink struct {
	data     map[byte]string
	rssi     map[byte]int8
	deaf     map[byte]bool
	failAcks map[byte]int // acks to drop before answering
	fragSize int          // 0 = whole payload in one frame

	sent    []string // payloads sent to nodes, in order
	pending []*Frame
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		data:     make(map[byte]string),
		rssi:     make(map[byte]int8),
		deaf:     make(map[byte]bool),
		failAcks: make(map[byte]int),
	}
}

func (l *fakeLink) SendWithAck(dst byte, payload []byte, _ time.Duration) error {
	l.sent = append(l.sent, string(payload))
	if l.deaf[dst] {
		return ErrTimeout
	}
	if l.failAcks[dst] > 0 {
		l.failAcks[dst]--
		return ErrTimeout
	}
	data := []byte(l.data[dst])
	frag := l.fragSize
	if frag <= 0 {
		frag = len(data)
	}
	l.pending = l.pending[:0]
	for len(data) > frag {
		l.pending = append(l.pending, &Frame{Dst: 1, Src: dst, Type: FrameData, Payload: data[:frag], RSSI: l.rssi[dst]})
		data = data[frag:]
	}
	l.pending = append(l.pending, &Frame{Dst: 1, Src: dst, Type: FrameDataEnd, Payload: data, RSSI: l.rssi[dst]})
	return nil
}

func (l *fakeLink) Receive(_ time.Duration) (*Frame, error) {
	if len(l.pending) == 0 {
		return nil, ErrTimeout
	}
	f := l.pending[0]
	l.pending = l.pending[1:]
	return f, nil
}

func (l *fakeLink) Close() error { return nil }

func testRadioConfig() config.RadioConfig {
	return config.RadioConfig{
		AckTimeout:      time.Millisecond,
		PacketTimeout:   10 * time.Millisecond,
		FragmentTimeout: time.Millisecond,
		AttemptsPerNode: 3,
	}
}

func quietProtocol(link Link) *Protocol {
	p := NewProtocol(link, testRadioConfig())
	p.SetLogFunc(func(string, ...interface{}) {})
	return p
}

func TestAcquireAllRespond(t *testing.T) {
	link := newFakeLink()
	link.data[21] = "4.02|19.5|88"
	link.data[22] = "3.97|18.1|90"
	link.rssi[21] = -71
	link.rssi[22] = -88

	res := quietProtocol(link).Acquire([]byte{21, 22}, "2026/08/26|10:15:00", false)

	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(res.Records))
	}
	if res.Records[0].Payload != "4.02|19.5|88" || res.Records[0].SignalDBm != -71 {
		t.Errorf("node 21 record = %+v", res.Records[0])
	}
	if res.Records[1].Missing {
		t.Errorf("node 22 marked missing")
	}
	if got := res.SyncedList(); got != "21 22" {
		t.Errorf("synced list = %q, want %q", got, "21 22")
	}
	if got := res.UnsyncedList(); got != "none" {
		t.Errorf("unsynced list = %q, want %q", got, "none")
	}
	if link.sent[0] != "2026/08/26|10:15:00" {
		t.Errorf("outbound payload = %q, want the cycle timestamp", link.sent[0])
	}
}

func TestAcquireNeverOmitsRosterEntries(t *testing.T) {
	for size := 1; size <= 8; size++ {
		link := newFakeLink()
		var roster []byte
		for i := 0; i < size; i++ {
			addr := byte(20 + i)
			roster = append(roster, addr)
			if i%2 == 0 {
				link.data[addr] = "x"
			} else {
				link.deaf[addr] = true
			}
		}

		res := quietProtocol(link).Acquire(roster, "ts", false)
		if len(res.Records) != size {
			t.Fatalf("size %d: records = %d, want %d", size, len(res.Records), size)
		}
		for i, rec := range res.Records {
			if rec.Addr != roster[i] {
				t.Errorf("size %d: record %d addr = %d, want %d", size, i, rec.Addr, roster[i])
			}
			wantMissing := i%2 == 1
			if rec.Missing != wantMissing {
				t.Errorf("size %d: node %d missing = %v, want %v", size, rec.Addr, rec.Missing, wantMissing)
			}
		}
	}
}

func TestAcquireRetriesFailedNodeOnNextPass(t *testing.T) {
	link := newFakeLink()
	link.data[21] = "late"
	// Drop the whole first handshake budget so pass one fails, pass two succeeds.
	link.failAcks[21] = testRadioConfig().AttemptsPerNode

	res := quietProtocol(link).Acquire([]byte{21}, "ts", false)
	if res.Records[0].Missing {
		t.Fatalf("node 21 should have synced on the second pass")
	}
}

func TestAcquireStopsWithinAttemptBudget(t *testing.T) {
	link := newFakeLink()
	link.deaf[21] = true
	link.deaf[22] = true

	res := quietProtocol(link).Acquire([]byte{21, 22}, "ts", false)
	if got := res.UnsyncedList(); got != "21 22" {
		t.Errorf("unsynced list = %q, want %q", got, "21 22")
	}
	// numNodes * 3 queries, each with AttemptsPerNode handshake tries.
	maxSends := 2 * 3 * testRadioConfig().AttemptsPerNode
	if len(link.sent) > maxSends {
		t.Errorf("sends = %d, exceeds budget %d", len(link.sent), maxSends)
	}
}

func TestAcquireFirstSyncHonorsDeadline(t *testing.T) {
	link := newFakeLink()
	link.deaf[21] = true

	p := quietProtocol(link)
	base := time.Now()
	calls := 0
	p.SetNowFunc(func() time.Time {
		calls++
		// Jump past the commissioning deadline after a few passes.
		if calls > 10 {
			return base.Add(FirstSyncDeadline + time.Minute)
		}
		return base
	})

	res := p.Acquire([]byte{21}, "ts", true)
	if !res.Records[0].Missing {
		t.Fatalf("deaf node reported synced")
	}
}

func TestAcquireReassemblesFragmentedPacket(t *testing.T) {
	link := newFakeLink()
	link.data[30] = "a long node payload split across several radio fragments"
	link.fragSize = 8

	res := quietProtocol(link).Acquire([]byte{30}, "ts", false)
	if res.Records[0].Payload != link.data[30] {
		t.Errorf("payload = %q, want %q", res.Records[0].Payload, link.data[30])
	}
}
