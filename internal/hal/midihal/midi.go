// Package midihal is the hardware front end: an incoming MIDI clock drives
// the tempo input, a configurable note acts as the mode button, and output
// triggers are mirrored as notes on an optional out port.
package midihal

import (
	"fmt"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register the MIDI backend

	"bigben/internal/hal"
	"bigben/pkg/logx"
)

// clocksPerQuarter is the MIDI beat clock rate (24 ppq).
const clocksPerQuarter = 24

type Config struct {
	// Port selects the input by substring match; empty takes the first port.
	Port string
	// ModeNote is the note number bound to the mode button.
	ModeNote uint8
	// OutPort optionally mirrors triggers as notes; empty disables it.
	OutPort string
	// BaseNote is the note for output line 0; line i sends BaseNote+i.
	BaseNote uint8
	Channel  uint8
}

// Driver overlays MIDI input on the simulator driver: timers, outputs, and
// controls keep their in-process implementations, only the edges come from
// the wire.
type Driver struct {
	*hal.Sim
	log logx.Logger

	in   drivers.In
	stop func()

	outs *mirrorOutputs

	mu     sync.Mutex
	clocks int
}

func Open(cfg Config, sim *hal.Sim, log logx.Logger) (*Driver, error) {
	if cfg.ModeNote == 0 {
		cfg.ModeNote = 60
	}
	if cfg.BaseNote == 0 {
		cfg.BaseNote = 36
	}

	in, err := findIn(cfg.Port)
	if err != nil {
		return nil, err
	}
	if err := in.Open(); err != nil {
		return nil, fmt.Errorf("open midi in %q: %w", in.String(), err)
	}

	d := &Driver{Sim: sim, log: log, in: in}
	d.outs = &mirrorOutputs{inner: sim.Outputs(), base: cfg.BaseNote, ch: cfg.Channel, log: log}
	if strings.TrimSpace(cfg.OutPort) != "" {
		out, err := midi.FindOutPort(cfg.OutPort)
		if err != nil {
			log.Warn("midi out port not found, triggers stay virtual",
				logx.String("port", cfg.OutPort), logx.Err(err))
		} else {
			d.outs.send, _ = midi.SendTo(out)
		}
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		d.handle(cfg.ModeNote, msg)
	}, midi.HandleError(func(err error) {
		log.Warn("midi listen error", logx.Err(err))
	}))
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", in.String(), err)
	}
	d.stop = stop

	log.Info("midi front end up",
		logx.String("in", in.String()),
		logx.Int("mode_note", int(cfg.ModeNote)),
		logx.Bool("out_mirroring", d.outs.send != nil))
	return d, nil
}

func findIn(port string) (drivers.In, error) {
	if strings.TrimSpace(port) != "" {
		return midi.FindInPort(port)
	}
	ins := midi.GetInPorts()
	if len(ins) == 0 {
		return nil, fmt.Errorf("no midi input ports available")
	}
	return ins[0], nil
}

func (d *Driver) handle(modeNote uint8, msg midi.Message) {
	switch {
	case msg.Is(midi.TimingClockMsg):
		d.mu.Lock()
		d.clocks++
		fire := d.clocks%clocksPerQuarter == 0
		d.mu.Unlock()
		if fire {
			d.PulseClock()
		}
	case msg.Is(midi.StartMsg), msg.Is(midi.ContinueMsg):
		// Realign the quarter boundary with the transport.
		d.mu.Lock()
		d.clocks = 0
		d.mu.Unlock()
	default:
		var ch, note, vel uint8
		if msg.GetNoteOn(&ch, &note, &vel) && vel > 0 && note == modeNote {
			d.PressMode()
		}
	}
}

// Outputs mirrors the simulator lines to MIDI notes when an out port is up.
func (d *Driver) Outputs() hal.OutputBank { return d.outs }

func (d *Driver) Close() error {
	if d.stop != nil {
		d.stop()
	}
	if d.in != nil {
		_ = d.in.Close()
	}
	midi.CloseDriver()
	return d.Sim.Close()
}

type mirrorOutputs struct {
	inner hal.OutputBank
	send  func(midi.Message) error
	base  uint8
	ch    uint8
	log   logx.Logger
}

func (m *mirrorOutputs) Lines() int { return m.inner.Lines() }

func (m *mirrorOutputs) Set(idx int, high bool) {
	m.inner.Set(idx, high)
	if m.send == nil || idx < 0 || idx > int(127-m.base) {
		return
	}
	note := m.base + uint8(idx)
	var msg midi.Message
	if high {
		msg = midi.NoteOn(m.ch, note, 127)
	} else {
		msg = midi.NoteOff(m.ch, note)
	}
	if err := m.send(msg); err != nil {
		m.log.Debug("midi mirror send failed", logx.Int("line", idx), logx.Err(err))
	}
}

func (m *mirrorOutputs) AllOff() {
	for i := 0; i < m.inner.Lines(); i++ {
		m.Set(i, false)
	}
}
