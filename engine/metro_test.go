package engine

import (
	"testing"

	"go-miditrack/seq"
	"go-miditrack/timescale"
)

// metroTestEngine wires a dedicated metronome bus and a dedicated
// control bus, both open, with the tempo cursor in place.
func metroTestEngine(t *testing.T) (*Engine, *fakeClient) {
	t.Helper()
	e, client, _ := newTestEngine(t)
	e.metroCursor = timescale.NewCursor(e.Session().TimeScale())
	e.metroTempo = 120.0

	e.SetControlBus(true)
	if err := e.oControlBus.Open(); err != nil {
		t.Fatalf("control bus open: %v", err)
	}
	e.SetMetroBus(true)
	if err := e.metroBus.Open(); err != nil {
		t.Fatalf("metro bus open: %v", err)
	}
	return e, client
}

func countEvents(evs []seq.Event, typ seq.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestMetronomeBarAndBeatNotes(t *testing.T) {
	e, client := metroTestEngine(t)
	e.SetMetronome(true)

	// Two full bars at 120 bpm, 4/4: 4 s = 192000 frames, 8 beats.
	e.processMetro(0, 192000)

	notes := client.scheduled()
	if got := countEvents(notes, seq.Note); got != 8 {
		t.Fatalf("expected 8 metronome notes, got %d", got)
	}
	bars, beats := 0, 0
	for _, ev := range notes {
		if ev.Type != seq.Note {
			continue
		}
		switch uint8(ev.Param) {
		case e.MetroBarNote():
			bars++
			if ev.Value != int(e.MetroBarVelocity()) {
				t.Errorf("bar velocity = %d, want %d", ev.Value, e.MetroBarVelocity())
			}
		case e.MetroBeatNote():
			beats++
			if ev.Value != int(e.MetroBeatVelocity()) {
				t.Errorf("beat velocity = %d, want %d", ev.Value, e.MetroBeatVelocity())
			}
		default:
			t.Errorf("unexpected metronome note %d", ev.Param)
		}
	}
	if bars != 2 || beats != 6 {
		t.Errorf("bars/beats = %d/%d, want 2/6", bars, beats)
	}
}

func TestClockPulsesPerBeat(t *testing.T) {
	e, client := metroTestEngine(t)
	e.SetClockMode(Output)

	// Exactly one beat: 0.5 s = 24000 frames at 120 bpm.
	e.processMetro(0, 24000)

	clocks := client.scheduled()
	if got := countEvents(clocks, seq.Clock); got != 24 {
		t.Fatalf("expected 24 clock pulses, got %d", got)
	}
	// Pulses must be monotonically non-decreasing in scheduled tick,
	// spaced ticksPerBeat/24 apart.
	var last uint64
	for _, ev := range clocks {
		if ev.Type != seq.Clock {
			continue
		}
		if ev.Tick < last {
			t.Fatalf("clock tick %d after %d", ev.Tick, last)
		}
		last = ev.Tick
	}
	if last != 23*(960/24) {
		t.Errorf("last pulse at %d, want %d", last, 23*(960/24))
	}
}

func TestTempoChangeEmitsQueueTempoFirst(t *testing.T) {
	e, client := metroTestEngine(t)
	e.SetMetronome(true)

	// Tempo doubles at 1 s.
	e.Session().TimeScale().AddNode(48000, 240.0, 4)

	e.processMetro(0, 96000)

	evs := client.scheduled()
	if len(evs) == 0 {
		t.Fatal("no events scheduled")
	}
	if evs[0].Type != seq.Tempo {
		t.Fatalf("first event is %v, want the tempo change", evs[0].Type)
	}
	if evs[0].Value != 60000000/240 {
		t.Errorf("tempo value = %d, want %d", evs[0].Value, 60000000/240)
	}
	// The backend sorts by tick with stable order, so an equal-tick
	// note can never run at the old tempo.
	for _, ev := range evs[1:] {
		if ev.Type == seq.Tempo {
			t.Errorf("more than one tempo event in the window")
		}
	}
	if e.metroTempo != 240.0 {
		t.Errorf("tracked tempo = %v, want 240", e.metroTempo)
	}
}

func TestMetroMuteStripsQueue(t *testing.T) {
	e, client := metroTestEngine(t)
	e.metronome = true

	e.processMetro(0, 96000)
	if len(client.scheduled()) == 0 {
		t.Fatal("no metronome events scheduled")
	}

	e.Session().SetPlayHead(0)
	e.MetroMute(true)

	for _, ev := range client.scheduled() {
		if ev.Type == seq.Note && ev.Tag == 0xff {
			t.Errorf("metronome note left in queue after mute")
		}
	}
}
