package session

import (
	"testing"

	"go-miditrack/event"
	"go-miditrack/timescale"
)

type captureRenderer struct {
	ticks []uint64
	gains []float32
}

func (r *captureRenderer) EnqueueEvent(t *Track, e *event.Event, tick uint64, gain float32) {
	r.ticks = append(r.ticks, tick)
	r.gains = append(r.gains, gain)
}

func newTestSession() *Session {
	ts := timescale.New(48000, 960, 120.0, 4)
	return New("test", ts)
}

func TestProcessRendersWindow(t *testing.T) {
	s := newTestSession()
	r := &captureRenderer{}
	s.SetRenderer(r)

	track := NewTrack("one", 0)
	clip := NewClip("c", 48000, 96000) // starts at 1 s = tick 1920
	clip.AddEvent(&event.Event{Type: event.NoteOn, Tick: 0, Param: 60, Value: 100})
	clip.AddEvent(&event.Event{Type: event.NoteOn, Tick: 960, Param: 62, Value: 100})
	clip.AddEvent(&event.Event{Type: event.NoteOn, Tick: 3000, Param: 64, Value: 100})
	track.AddClip(clip)
	s.AddTrack(track)

	// Window [48000, 96000) covers clip ticks 0 and 960 only.
	s.Process(nil, 48000, 96000)

	if len(r.ticks) != 2 {
		t.Fatalf("rendered %d events, want 2", len(r.ticks))
	}
	if r.ticks[0] != 1920 || r.ticks[1] != 2880 {
		t.Errorf("ticks = %v, want [1920 2880]", r.ticks)
	}
}

func TestProcessHonorsMuteAndSolo(t *testing.T) {
	s := newTestSession()
	r := &captureRenderer{}
	s.SetRenderer(r)

	mk := func(name string) *Track {
		tr := NewTrack(name, 0)
		c := NewClip("c", 0, 48000)
		c.AddEvent(&event.Event{Type: event.NoteOn, Param: 60, Value: 100})
		tr.AddClip(c)
		s.AddTrack(tr)
		return tr
	}
	a := mk("a")
	b := mk("b")

	a.Mute = true
	s.Process(nil, 0, 48000)
	if len(r.ticks) != 1 {
		t.Fatalf("mute: rendered %d, want 1", len(r.ticks))
	}

	a.Mute = false
	b.Solo = true
	r.ticks = nil
	s.Process(nil, 0, 48000)
	if len(r.ticks) != 1 {
		t.Fatalf("solo: rendered %d, want 1", len(r.ticks))
	}
}

func TestClipGainEnvelope(t *testing.T) {
	s := newTestSession()
	r := &captureRenderer{}
	s.SetRenderer(r)

	track := NewTrack("one", 0)
	track.Gain = 0.5
	clip := NewClip("c", 0, 96000)
	clip.GainEnvelope = func(frameOffset uint64) float32 {
		if frameOffset >= 48000 {
			return 0.2
		}
		return 1.0
	}
	clip.AddEvent(&event.Event{Type: event.NoteOn, Tick: 0, Param: 60, Value: 100})
	clip.AddEvent(&event.Event{Type: event.NoteOn, Tick: 1920, Param: 62, Value: 100})
	track.AddClip(clip)
	s.AddTrack(track)

	s.Process(nil, 0, 96000)

	if len(r.gains) != 2 {
		t.Fatalf("rendered %d events", len(r.gains))
	}
	if r.gains[0] != 0.5 || r.gains[1] != 0.1 {
		t.Errorf("gains = %v, want [0.5 0.1]", r.gains)
	}
}

func TestRecordBufferSnapshot(t *testing.T) {
	tr := NewTrack("rec", 0)
	if got := tr.RecordEvents(); got != nil {
		t.Fatalf("events before arming: %v", got)
	}
	tr.RecordEvent(&event.Event{Type: event.NoteOn}) // not armed, dropped

	tr.StartRecording(960)
	tr.RecordEvent(&event.Event{Type: event.NoteOn, Tick: 10})
	tr.RecordEvent(&event.Event{Type: event.NoteOff, Tick: 20})

	snap := tr.RecordEvents()
	if len(snap) != 2 {
		t.Fatalf("snapshot = %d events, want 2", len(snap))
	}

	take := tr.StopRecording()
	if take.Len() != 2 {
		t.Errorf("take = %d events, want 2", take.Len())
	}
	if tr.RecordEvents() != nil {
		t.Errorf("buffer survives StopRecording")
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Master Chain/Insert": "Master_Chain_Insert",
		"plain":               "plain",
		"a.b(c)":              "a_b_c_",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCursorFrameTimeMonotonic(t *testing.T) {
	c := NewCursor()
	c.Seek(1000)
	c.Process(500)
	c.Seek(0) // loop wrap rewinds the frame only
	c.Process(500)

	if c.Frame() != 0 {
		t.Errorf("frame = %d", c.Frame())
	}
	if c.FrameTime() != 1000 {
		t.Errorf("frameTime = %d, want 1000", c.FrameTime())
	}
}
