package config

import (
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"full roster", func(c *Config) { c.Nodes = []byte{1, 2, 3, 4, 5, 6, 7, 8} }, true},
		{"roster too large", func(c *Config) { c.Nodes = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9} }, false},
		{"zero address", func(c *Config) { c.Nodes = []byte{21, 0} }, false},
		{"duplicate address", func(c *Config) { c.Nodes = []byte{21, 21} }, false},
		{"valid interval", func(c *Config) { c.MeasureIntervalMin = 20 }, true},
		{"invalid interval", func(c *Config) { c.MeasureIntervalMin = 25 }, false},
		{"four hour upload", func(c *Config) { c.UploadIntervalHours = 4; c.TimeSyncHour = 8 }, true},
		{"two hour upload rejected", func(c *Config) { c.UploadIntervalHours = 2 }, false},
		{"offset too large", func(c *Config) { c.UploadMinuteOffset = 60 }, false},
		{"sync hour too large", func(c *Config) { c.TimeSyncHour = 24 }, false},
		// Upload alarms with a 4h interval land only on hours 0, 4, 8,
		// 12, 16 and 20; a sync hour off that grid would never run.
		{"sync hour off the upload grid", func(c *Config) { c.UploadIntervalHours = 4; c.TimeSyncHour = 10 }, false},
		{"midnight sync on the grid", func(c *Config) { c.UploadIntervalHours = 4; c.TimeSyncHour = 0 }, true},
	}
	for _, tc := range cases {
		cfg := Defaults()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: validation passed, want error", tc.name)
		}
	}
}

func TestSetNodesRollsBackOnError(t *testing.T) {
	cfg := Defaults()
	if err := cfg.SetNodes([]byte{21, 22}); err != nil {
		t.Fatalf("SetNodes: %v", err)
	}
	if err := cfg.SetNodes([]byte{21, 21}); err == nil {
		t.Fatal("duplicate roster accepted")
	}
	if len(cfg.Nodes) != 2 || cfg.Nodes[0] != 21 || cfg.Nodes[1] != 22 {
		t.Errorf("roster = %v after rejected update, want [21 22]", cfg.Nodes)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Defaults()
	if cfg.MeasureIntervalMin != def.MeasureIntervalMin {
		t.Errorf("MeasureIntervalMin = %d, want default %d", cfg.MeasureIntervalMin, def.MeasureIntervalMin)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldgate.yaml")
	cfg := Defaults()
	cfg.SerialNumber = 73011
	cfg.Nodes = []byte{21, 22, 23}
	cfg.UploadIntervalHours = 4
	cfg.TimeSyncHour = 8
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SerialNumber != 73011 {
		t.Errorf("SerialNumber = %d, want 73011", got.SerialNumber)
	}
	if len(got.Nodes) != 3 || got.Nodes[2] != 23 {
		t.Errorf("Nodes = %v, want [21 22 23]", got.Nodes)
	}
	if got.UploadIntervalHours != 4 {
		t.Errorf("UploadIntervalHours = %d, want 4", got.UploadIntervalHours)
	}
}
