// Package messaging mirrors gateway events onto a local MQTT broker.
// The mirror exists for bench work and site commissioning: a laptop on
// the same network can watch node data and drain results live without
// touching the cellular path. It is disabled in field deployments.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fieldgate/config"
	"fieldgate/engine"
)

// Mirror publishes engine events to an MQTT broker.
type Mirror struct {
	mu    sync.RWMutex
	cfg   *config.MirrorConfig
	conn  mqtt.Client
	subID engine.SubscriberID
	logf  func(format string, args ...interface{})
}

// NewMirror creates a Mirror; call Connect before Attach.
func NewMirror(cfg *config.MirrorConfig, logf func(string, ...interface{})) *Mirror {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Mirror{cfg: cfg, logf: logf}
}

// Connect establishes the broker connection with automatic retry, so a
// bench broker that comes up after the gateway still attaches.
func (m *Mirror) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	broker := fmt.Sprintf("tcp://%s:%d", m.cfg.Broker, m.cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.conn = client
	return nil
}

// Attach subscribes the mirror to the engine's event bus. Events are
// published as JSON under <topic>/<event-name>.
func (m *Mirror) Attach(bus *engine.EventBus) {
	m.subID = bus.Subscribe(func(evt engine.Event) {
		name := eventName(evt.Type)
		if name == "" {
			return
		}
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			m.logf("mirror marshal %s: %v", name, err)
			return
		}
		if err := m.Publish(m.cfg.Topic+"/"+name, data); err != nil {
			m.logf("mirror publish %s: %v", name, err)
		}
	})
}

// Publish sends one message at QoS 1.
func (m *Mirror) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil || !m.conn.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := m.conn.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

// IsConnected reports whether the broker connection is up.
func (m *Mirror) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil && m.conn.IsConnected()
}

// Close detaches from the bus and drops the broker connection.
func (m *Mirror) Close(bus *engine.EventBus) {
	if bus != nil && m.subID != 0 {
		bus.Unsubscribe(m.subID)
		m.subID = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Disconnect(1000)
		m.conn = nil
	}
}

func eventName(t engine.EventType) string {
	switch t {
	case engine.EventWake:
		return "wake"
	case engine.EventLowBattery:
		return "low_battery"
	case engine.EventNodeResult:
		return "node_result"
	case engine.EventRecordQueued:
		return "record_queued"
	case engine.EventCycleCompleted:
		return "cycle_completed"
	case engine.EventDrainFinished:
		return "drain_finished"
	case engine.EventTimeSynced:
		return "time_synced"
	case engine.EventTimeSyncFailed:
		return "time_sync_failed"
	default:
		return ""
	}
}
