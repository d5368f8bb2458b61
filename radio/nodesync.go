package radio

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"

	"fieldgate/config"
)

// FirstSyncDeadline bounds the initial field-commissioning sync, where
// the gateway keeps polling until every node answers or two hours pass.
const FirstSyncDeadline = 2 * time.Hour

// attemptFactor caps a routine acquisition at numNodes*attemptFactor
// node queries across all passes.
const attemptFactor = 3

// NodeRecord is one roster slot's result for an acquisition cycle.
type NodeRecord struct {
	Addr      byte
	Payload   string
	SignalDBm int8
	Missing   bool
}

// SyncResult holds one record per roster entry, in roster order. Every
// / entry is present: a node that never answered is marked Missing.
type SyncResult struct {
	Records []NodeRecord
}

// Synced returns the addresses that produced data this cycle.
func (r SyncResult) Synced() []byte {
	var out []byte
	for _, rec := range r.Records {
		if !rec.Missing {
			out = append(out, rec.Addr)
		}
	}
	return out
}

// Unsynced returns the addresses that stayed missing this cycle.
func (r SyncResult) Unsynced() []byte {
	var out []byte
	for _, rec := range r.Records {
		if rec.Missing {
			out = append(out, rec.Addr)
		}
	}
	return out
}

// SyncedList renders the synced partition for the status record, or
// "none" when empty.
func (r SyncResult) SyncedList() string { return addrList(r.Synced()) }

// UnsyncedList renders the missing partition, or "none" when empty.
func (r SyncResult) UnsyncedList() string { return addrList(r.Unsynced()) }

func addrList(addrs []byte) string {
	if len(addrs) == 0 {
		return "none"
	}
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = fmt.Sprintf("%d", a)
	}
	return strings.Join(parts, " ")
}

// Protocol queries the node roster with retries over a Link.
type Protocol struct {
	link Link
	cfg  config.RadioConfig
	logf func(format string, args ...interface{})
	now  func() time.Time
}

// NewProtocol returns a Protocol with the given link and timing policy.
func NewProtocol(link Link, cfg config.RadioConfig) *Protocol {
	return &Protocol{
		link: link,
		cfg:  cfg,
		logf: log.Printf,
		now:  time.Now,
	}
}

// SetLogFunc overrides the warning log destination.
func (p *Protocol) SetLogFunc(logf func(string, ...interface{})) { p.logf = logf }

// SetNowFunc overrides the clock, for tests.
func (p *Protocol) SetNowFunc(now func() time.Time) { p.now = now }

// Acquire polls every roster entry with the cycle timestamp as the
// outbound payload. Nodes that fail a pass are retried on the next pass
// so the shared channel rotates fairly; passes repeat until every node
// answered or the budget runs out: numNodes*3 attempts normally, or the
// two-hour commissioning deadline in first-sync mode.
func (p *Protocol) Acquire(roster []byte, timestamp string, firstSync bool) SyncResult {
	records := make([]NodeRecord, len(roster))
	slots := make([]byte, len(roster))
	for i, addr := range roster {
		records[i] = NodeRecord{Addr: addr, Missing: true}
		slots[i] = addr
	}

	remaining := len(roster)
	attempts := 0
	attemptBudget := len(roster) * attemptFactor
	deadline := p.now().Add(FirstSyncDeadline)

	for remaining > 0 {
		progress := false
		for i, addr := range slots {
			if addr == 0 {
				continue
			}
			if firstSync {
				if !p.now().Before(deadline) {
					return SyncResult{Records: records}
				}
			} else if attempts >= attemptBudget {
				return SyncResult{Records: records}
			}
			attempts++

			rec, err := p.queryNode(addr, timestamp)
			if err != nil {
				p.logf("node %d: %v (will retry next pass)", addr, err)
				continue
			}
			records[i] = rec
			slots[i] = 0 // slot satisfied
			remaining--
			progress = true
		}
		if !progress && !firstSync && attempts >= attemptBudget {
			break
		}
	}
	return SyncResult{Records: records}
}

// queryNode performs one full query: the send-with-ack handshake (up to
// AttemptsPerNode tries) followed by one packet wait. The data packet may
// arrive as several fragments, each bounded by FragmentTimeout, with the
// whole packet bounded by PacketTimeout.
func (p *Protocol) queryNode(addr byte, timestamp string) (NodeRecord, error) {
	acked := false
	for a := 0; a < p.cfg.AttemptsPerNode; a++ {
		if err := p.link.SendWithAck(addr, []byte(timestamp), p.cfg.AckTimeout); err == nil {
			acked = true
			break
		}
	}
	if !acked {
		return NodeRecord{}, fmt.Errorf("no ack after %d attempts: %w", p.cfg.AttemptsPerNode, ErrTimeout)
	}

	var buf bytes.Buffer
	packetDeadline := p.now().Add(p.cfg.PacketTimeout)
	for {
		wait := p.cfg.FragmentTimeout
		if until := packetDeadline.Sub(p.now()); until < wait {
			wait = until
		}
		if wait <= 0 {
			return NodeRecord{}, fmt.Errorf("packet incomplete after %v: %w", p.cfg.PacketTimeout, ErrTimeout)
		}
		frame, err := p.link.Receive(wait)
		if err != nil {
			return NodeRecord{}, fmt.Errorf("awaiting data packet: %w", err)
		}
		if frame.Src != addr {
			continue // another node's traffic, not ours to consume
		}
		switch frame.Type {
		case FrameData:
			buf.Write(frame.Payload)
		case FrameDataEnd:
			buf.Write(frame.Payload)
			return NodeRecord{Addr: addr, Payload: buf.String(), SignalDBm: frame.RSSI}, nil
		}
	}
}
