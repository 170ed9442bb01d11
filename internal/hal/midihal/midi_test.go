package midihal

import (
	"testing"

	"gitlab.com/gomidi/midi/v2"

	"bigben/internal/hal"
	"bigben/pkg/logx"
)

func testDriver(t *testing.T) (*Driver, *hal.Sim) {
	t.Helper()
	sim := hal.NewSim(6)
	t.Cleanup(func() { sim.Close() })
	d := &Driver{Sim: sim, log: logx.Nop()}
	d.outs = &mirrorOutputs{inner: sim.Outputs(), base: 36, log: logx.Nop()}
	return d, sim
}

func TestTimingClockDividesToQuarterPulses(t *testing.T) {
	t.Parallel()
	d, sim := testDriver(t)

	pulses := 0
	sim.Inputs().OnClockRise(func() { pulses++ })

	for i := 0; i < 3*clocksPerQuarter; i++ {
		d.handle(60, midi.TimingClock())
	}
	if pulses != 3 {
		t.Fatalf("saw %d pulses from %d clocks, want 3", pulses, 3*clocksPerQuarter)
	}
}

func TestTransportStartRealignsQuarterBoundary(t *testing.T) {
	t.Parallel()
	d, sim := testDriver(t)

	pulses := 0
	sim.Inputs().OnClockRise(func() { pulses++ })

	// Half a quarter in, the transport restarts; the stale clocks must not
	// count toward the next pulse.
	for i := 0; i < clocksPerQuarter/2; i++ {
		d.handle(60, midi.TimingClock())
	}
	d.handle(60, midi.Start())
	for i := 0; i < clocksPerQuarter-1; i++ {
		d.handle(60, midi.TimingClock())
	}
	if pulses != 0 {
		t.Fatalf("pulse fired %d times before a full quarter after restart", pulses)
	}
	d.handle(60, midi.TimingClock())
	if pulses != 1 {
		t.Fatalf("pulses = %d after a full quarter, want 1", pulses)
	}
}

func TestModeNotePressesModeButton(t *testing.T) {
	t.Parallel()
	d, sim := testDriver(t)

	presses := 0
	sim.Inputs().OnModeRise(func() { presses++ })

	d.handle(60, midi.NoteOn(0, 60, 100))
	d.handle(60, midi.NoteOn(0, 61, 100)) // other notes are ignored
	d.handle(60, midi.NoteOn(0, 60, 0))   // velocity 0 is a note-off
	if presses != 1 {
		t.Fatalf("mode pressed %d times, want 1", presses)
	}
}

func TestMirrorOutputsSendNotes(t *testing.T) {
	t.Parallel()
	sim := hal.NewSim(6)
	defer sim.Close()

	var sent []midi.Message
	m := &mirrorOutputs{
		inner: sim.Outputs(),
		base:  36,
		log:   logx.Nop(),
		send:  func(msg midi.Message) error { sent = append(sent, msg); return nil },
	}

	m.Set(2, true)
	if !sim.Level(2) {
		t.Fatal("inner output not driven high")
	}
	m.Set(2, false)
	if sim.Level(2) {
		t.Fatal("inner output left high")
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	var ch, note, vel uint8
	if !sent[0].GetNoteOn(&ch, &note, &vel) || note != 38 {
		t.Fatalf("first message = %v, want note-on 38", sent[0])
	}
	if !sent[1].GetNoteOff(&ch, &note, &vel) || note != 38 {
		t.Fatalf("second message = %v, want note-off 38", sent[1])
	}
}
