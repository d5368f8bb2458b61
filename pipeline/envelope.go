// Package pipeline orchestrates the gateway's delivery path: node data
// acquisition into the durable queue, cellular drain passes, time sync,
// and the storage-fault fallback send.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"fieldgate/radio"
)

// Record tags understood by the cloud endpoint.
const (
	TagInit        = "init"
	TagGatewayData = "GATEWAY_DATA"
	TagNodeData    = "NODE_DATA"
)

// envelope is the cellular transport wrapper. d carries tilde-delimited
// fields; t pairs the gateway serial with the record tag.
type envelope struct {
	K string      `json:"k"`
	D string      `json:"d"`
	T [][2]string `json:"t"`
}

// BuildEnvelope wraps one record payload for transmission.
func BuildEnvelope(deviceKey string, serial uint32, tag, d string) (string, error) {
	env := envelope{
		K: deviceKey,
		D: d,
		T: [][2]string{{strconv.FormatUint(uint64(serial), 10), tag}},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// SerializeNode renders one node record as a queue line. The node's
// free-form payload gets the received signal strength appended, per the
// radio contract; missing nodes fold in as empty slots.
func SerializeNode(rec radio.NodeRecord) string {
	return TagNodeData + "|" + rec.Payload + "~" + strconv.Itoa(int(rec.SignalDBm))
}

// ParseLine splits a queue line into its record tag and payload.
func ParseLine(line string) (tag, d string) {
	if i := strings.IndexByte(line, '|'); i >= 0 {
		return line[:i], line[i+1:]
	}
	// Untagged lines predate the tag prefix; treat them as node data.
	return TagNodeData, line
}

// ParseNodePayload recovers the payload and signal strength from a
// serialized node record.
func ParseNodePayload(d string) (payload string, signalDBm int) {
	i := strings.LastIndexByte(d, '~')
	if i < 0 {
		return d, 0
	}
	dbm, err := strconv.Atoi(d[i+1:])
	if err != nil {
		return d, 0
	}
	return d[:i], dbm
}
