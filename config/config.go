package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxNodes is the largest roster a single gateway will poll.
const MaxNodes = 8

// Config is the top-level gateway configuration. It is the typed record
// the external configuration front end reads and writes; the core loads
// it once at boot and persists operator updates through Save.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	SerialNumber uint32 `yaml:"serial_number"`
	RadioAddress byte   `yaml:"radio_address"`
	ProjectTag   string `yaml:"project_tag"`
	Lat          string `yaml:"lat"`
	Lng          string `yaml:"lng"`
	DeviceKey    string `yaml:"device_key"`

	// Nodes is the polling roster, in polling order.
	Nodes []byte `yaml:"nodes"`

	MeasureIntervalMin  int `yaml:"measure_interval_min"`  // 10, 15, 20, 30 or 60
	UploadIntervalHours int `yaml:"upload_interval_hours"` // 1 or 4
	UploadMinuteOffset  int `yaml:"upload_minute_offset"`
	TimeSyncHour        int `yaml:"time_sync_hour"` // daily time-sync slot (hour of day)

	ReceiverOnly bool `yaml:"receiver_only"`
	Debug        bool `yaml:"debug"`
	FirstSync    bool `yaml:"first_sync"` // cleared after the first successful field sync

	BatteryCutoffVolts float64 `yaml:"battery_cutoff_volts"`

	Storage StorageConfig `yaml:"storage"`
	Radio   RadioConfig   `yaml:"radio"`
	Modem   ModemConfig   `yaml:"modem"`
	Web     WebConfig     `yaml:"web"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

// StorageConfig locates the removable-storage artifacts.
type StorageConfig struct {
	HistoryPath string `yaml:"history_path"` // SQLite measurement history
	QueuePath   string `yaml:"queue_path"`   // append-only upload queue
}

// RadioConfig defines the LoRa link serial port and protocol timeouts.
type RadioConfig struct {
	Port            string        `yaml:"port"`
	Baud            int           `yaml:"baud"`
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	PacketTimeout   time.Duration `yaml:"packet_timeout"`
	FragmentTimeout time.Duration `yaml:"fragment_timeout"`
	AttemptsPerNode int           `yaml:"attempts_per_node"`
}

// ModemConfig defines the cellular modem port and cloud endpoint.
type ModemConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	APN         string        `yaml:"apn"`
	Host        string        `yaml:"host"`
	HostPort    int           `yaml:"host_port"`
	Path        string        `yaml:"path"`
	TimeServers []string      `yaml:"time_servers"`
	CmdTimeout  time.Duration `yaml:"cmd_timeout"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// WebConfig defines the maintenance web surface.
type WebConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// MirrorConfig defines the optional bench MQTT mirror. When enabled,
// queued records and engine events are also published to a local broker
// for bench verification; the cellular path never depends on it.
type MirrorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		RadioAddress:        1,
		ProjectTag:          "field",
		MeasureIntervalMin:  15,
		UploadIntervalHours: 1,
		UploadMinuteOffset:  5,
		TimeSyncHour:        10,
		FirstSync:           true,
		BatteryCutoffVolts:  3.4,
		Storage: StorageConfig{
			HistoryPath: "fieldgate.db",
			QueuePath:   "upload.q",
		},
		Radio: RadioConfig{
			Port:            "/dev/ttyS0",
			Baud:            57600,
			AckTimeout:      2 * time.Second,
			PacketTimeout:   12 * time.Second,
			FragmentTimeout: 3 * time.Second,
			AttemptsPerNode: 3,
		},
		Modem: ModemConfig{
			Port:     "/dev/ttyS1",
			Baud:     9600,
			Host:     "data.example.net",
			HostPort: 80,
			Path:     "/gw",
			TimeServers: []string{
				"time-a.example.net",
				"time-b.example.net",
				"time-c.example.net",
			},
			CmdTimeout:  5 * time.Second,
			SendTimeout: 30 * time.Second,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8081,
		},
		Mirror: MirrorConfig{
			Broker:   "localhost",
			Port:     1883,
			ClientID: "fieldgate",
			Topic:    "fieldgate/records",
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the roster and interval constraints.
func (c *Config) Validate() error {
	if len(c.Nodes) > MaxNodes {
		return fmt.Errorf("roster has %d nodes, max is %d", len(c.Nodes), MaxNodes)
	}
	seen := make(map[byte]bool, len(c.Nodes))
	for _, addr := range c.Nodes {
		if addr == 0 {
			return fmt.Errorf("node address 0 is reserved")
		}
		if seen[addr] {
			return fmt.Errorf("duplicate node address %d", addr)
		}
		seen[addr] = true
	}
	switch c.MeasureIntervalMin {
	case 10, 15, 20, 30, 60:
	default:
		return fmt.Errorf("measure_interval_min %d not in {10,15,20,30,60}", c.MeasureIntervalMin)
	}
	switch c.UploadIntervalHours {
	case 1, 4:
	default:
		return fmt.Errorf("upload_interval_hours %d not in {1,4}", c.UploadIntervalHours)
	}
	if c.UploadMinuteOffset < 0 || c.UploadMinuteOffset > 59 {
		return fmt.Errorf("upload_minute_offset %d out of range", c.UploadMinuteOffset)
	}
	if c.TimeSyncHour < 0 || c.TimeSyncHour > 23 {
		return fmt.Errorf("time_sync_hour %d out of range", c.TimeSyncHour)
	}
	// Upload alarms land only on hours aligned to the interval; a sync
	// hour off that grid would never run.
	if c.TimeSyncHour%c.UploadIntervalHours != 0 {
		return fmt.Errorf("time_sync_hour %d is never hit by the %dh upload cadence, must be a multiple of %d",
			c.TimeSyncHour, c.UploadIntervalHours, c.UploadIntervalHours)
	}
	return nil
}

// SetNodes replaces the roster after validating it.
func (c *Config) SetNodes(nodes []byte) error {
	old := c.Nodes
	c.Nodes = nodes
	if err := c.Validate(); err != nil {
		c.Nodes = old
		return err
	}
	return nil
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
