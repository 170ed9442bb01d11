package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bigben/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bigben.yaml", `
logging:
  level: debug
  console: true
engine:
  outputs: 6
  divisions: [1, 2, 4, 8]
  trigger_width: 20ms
display:
  enabled: true
  multiplier: 4
storage:
  driver: sqlite
  path: ./bigben.db
  busy_timeout: 2s
`)

	m := NewManager(path, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if len(cfg.Engine.Divisions) != 4 || cfg.Engine.Divisions[3] != 8 {
		t.Fatalf("divisions = %v", cfg.Engine.Divisions)
	}
	if w, err := cfg.Engine.TriggerWidthDuration(); err != nil || w != 20*time.Millisecond {
		t.Fatalf("trigger width = %v, %v", w, err)
	}
	if cfg.Display.Multiplier != 4 {
		t.Fatalf("multiplier = %v", cfg.Display.Multiplier)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Load did not commit the parsed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bigben.yaml", `
engine:
  outputs: 6
  widht: 20ms
`)
	if _, err := NewManager(path, logx.Nop()).Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadJSONPassthrough(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bigben.json", `{"engine":{"outputs":4},"display":{"enabled":true}}`)
	cfg, err := NewManager(path, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.OutputCount() != 4 {
		t.Fatalf("outputs = %d, want 4", cfg.Engine.OutputCount())
	}
}

func TestLoadMIDIMirroring(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bigben.yaml", `
midi:
  enabled: true
  port: "Launchkey"
  mode_note: 62
  out_port: "IAC Bus 1"
  base_note: 40
  channel: 9
`)
	cfg, err := NewManager(path, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := cfg.MIDI
	if m == nil || !m.Enabled {
		t.Fatalf("midi = %+v", m)
	}
	if m.OutPort != "IAC Bus 1" || m.BaseNote != 40 || m.Channel != 9 {
		t.Fatalf("mirroring fields = %q/%d/%d", m.OutPort, m.BaseNote, m.Channel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative division", Config{Engine: EngineConfig{Divisions: []int{1, -2}}}, "divisions"},
		{"bad width", Config{Engine: EngineConfig{TriggerWidth: "soon"}}, "trigger_width"},
		{"unknown storage driver", Config{Storage: &StorageConfig{Driver: "etcd"}}, "storage.driver"},
		{"sqlite without path", Config{Storage: &StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"midi note range", Config{MIDI: &MIDIConfig{Enabled: true, ModeNote: 200}}, "mode_note"},
		{"midi base note range", Config{MIDI: &MIDIConfig{Enabled: true, BaseNote: 130}}, "base_note"},
		{"midi channel range", Config{MIDI: &MIDIConfig{Enabled: true, Channel: 16}}, "channel"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatal("validated")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDefaultsResolve(t *testing.T) {
	t.Parallel()
	var e EngineConfig
	if w, _ := e.TriggerWidthDuration(); w != DefaultTriggerWidth {
		t.Fatalf("default width = %v", w)
	}
	if p, _ := e.PollIntervalDuration(); p != DefaultPollInterval {
		t.Fatalf("default poll = %v", p)
	}
	if e.OutputCount() != DefaultOutputs {
		t.Fatalf("default outputs = %d", e.OutputCount())
	}
}

func TestSubscribePublishAndHashSuppression(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bigben.yaml", "engine:\n  outputs: 6\n")
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Same content reloaded: the hash gate must suppress the publish.
	m.reload()
	select {
	case <-ch:
		t.Fatal("unchanged config was published")
	default:
	}

	if err := os.WriteFile(path, []byte("engine:\n  outputs: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()
	select {
	case cfg := <-ch:
		if cfg.Engine.Outputs != 4 {
			t.Fatalf("published outputs = %d, want 4", cfg.Engine.Outputs)
		}
	case <-time.After(time.Second):
		t.Fatal("changed config was not published")
	}
}

func TestReloadKeepsLastGoodConfigOnError(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "bigben.yaml", "engine:\n  outputs: 6\n")
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("engine:\n  divisions: [0]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if got := m.Get().Engine.Outputs; got != 6 {
		t.Fatalf("invalid reload clobbered committed config: outputs = %d", got)
	}
}
