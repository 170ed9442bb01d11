package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Engine controls the trigger scheduler core.
	Engine EngineConfig `json:"engine"`

	Display DisplayConfig `json:"display"`

	// Storage enables the settings store. Nil means no persistence: the
	// module starts in its first mode and forgets everything on exit.
	Storage *StorageConfig `json:"storage,omitempty"`

	Housekeeping HousekeepingConfig `json:"housekeeping"`

	// MIDI enables the hardware front end. Nil means the simulator driver.
	MIDI *MIDIConfig `json:"midi,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// TraceRatePerSec throttles trace/debug output; 0 keeps everything.
	TraceRatePerSec int `json:"trace_rate_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the scheduler core.
//
// All durations are Go duration strings (e.g. "20ms", "50ms").
//
// Defaults (when fields are omitted/zero):
//   - outputs: 6
//   - divisions: 1,2,3,4,5,6,7,8,16,32
//   - trigger_width: "20ms"
//   - poll_interval: "50ms"
//   - task_capacity: 6
type EngineConfig struct {
	Outputs   int   `json:"outputs,omitempty"`
	Divisions []int `json:"divisions,omitempty"`

	// TriggerWidth is how long each output stays high per trigger.
	TriggerWidth string `json:"trigger_width,omitempty"`

	// PollInterval is how often the division control is re-read.
	PollInterval string `json:"poll_interval,omitempty"`

	TaskCapacity int `json:"task_capacity,omitempty"`
	QueueSize    int `json:"queue_size,omitempty"`
}

// DisplayConfig controls the read-only status line.
type DisplayConfig struct {
	Enabled bool `json:"enabled"`
	// Multiplier scales the displayed BPM. The meter reads the raw pulse
	// stream; a clock sending sixteenths wants 4 here.
	Multiplier float64 `json:"multiplier,omitempty"`
}

// StorageConfig controls the settings store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bigben.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HousekeepingConfig controls the background autosave and status jobs.
// Specs are cron expressions; empty keeps the defaults.
type HousekeepingConfig struct {
	Enabled      bool   `json:"enabled"`
	AutosaveSpec string `json:"autosave_spec,omitempty"`
	StatusSpec   string `json:"status_spec,omitempty"`
}

// MIDIConfig controls the MIDI front end. TimingClock messages feed the
// tempo tracker; a NoteOn on ModeNote advances the mode.
type MIDIConfig struct {
	Enabled bool   `json:"enabled"`
	Port    string `json:"port,omitempty"`
	// ModeNote is the note number bound to the mode button, default 60.
	ModeNote int `json:"mode_note,omitempty"`

	// OutPort mirrors output triggers as notes on a second port; empty
	// disables mirroring.
	OutPort string `json:"out_port,omitempty"`
	// BaseNote is the note sent for output line 0 (line i sends BaseNote+i),
	// default 36.
	BaseNote int `json:"base_note,omitempty"`
	// Channel is the MIDI channel for mirrored notes, 0..15.
	Channel int `json:"channel,omitempty"`
}

const (
	DefaultTriggerWidth = 20 * time.Millisecond
	DefaultPollInterval = 50 * time.Millisecond
	DefaultOutputs      = 6
)

// TriggerWidthDuration resolves engine.trigger_width with its default.
func (e EngineConfig) TriggerWidthDuration() (time.Duration, error) {
	return ParseDurationOrDefault("engine.trigger_width", e.TriggerWidth, DefaultTriggerWidth)
}

// PollIntervalDuration resolves engine.poll_interval with its default.
func (e EngineConfig) PollIntervalDuration() (time.Duration, error) {
	return ParseDurationOrDefault("engine.poll_interval", e.PollInterval, DefaultPollInterval)
}

// OutputCount resolves engine.outputs with its default.
func (e EngineConfig) OutputCount() int {
	if e.Outputs <= 0 {
		return DefaultOutputs
	}
	return e.Outputs
}

// Validate rejects configs that cannot produce a working scheduler. It is
// also the hot-reload gate: a config failing here is never published.
func (c *Config) Validate() error {
	if _, err := c.Engine.TriggerWidthDuration(); err != nil {
		return err
	}
	if _, err := c.Engine.PollIntervalDuration(); err != nil {
		return err
	}
	for i, d := range c.Engine.Divisions {
		if d <= 0 {
			return fmt.Errorf("engine.divisions[%d]: must be positive, got %d", i, d)
		}
	}
	if c.Engine.Outputs < 0 {
		return fmt.Errorf("engine.outputs: must be >= 0, got %d", c.Engine.Outputs)
	}
	if c.Display.Multiplier < 0 {
		return fmt.Errorf("display.multiplier: must be >= 0")
	}
	if s := c.Storage; s != nil {
		driver := strings.TrimSpace(s.Driver)
		switch driver {
		case "", "sqlite", "memory":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", driver)
		}
		if driver == "sqlite" && strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path: required for the sqlite driver")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if m := c.MIDI; m != nil && m.Enabled {
		if m.ModeNote < 0 || m.ModeNote > 127 {
			return fmt.Errorf("midi.mode_note: must be 0..127, got %d", m.ModeNote)
		}
		if m.BaseNote < 0 || m.BaseNote > 127 {
			return fmt.Errorf("midi.base_note: must be 0..127, got %d", m.BaseNote)
		}
		if m.Channel < 0 || m.Channel > 15 {
			return fmt.Errorf("midi.channel: must be 0..15, got %d", m.Channel)
		}
	}
	return nil
}
