package export

import (
	"path/filepath"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"

	"go-miditrack/engine"
	"go-miditrack/event"
	"go-miditrack/seq"
	"go-miditrack/session"
	"go-miditrack/timescale"
)

// newExportRig builds the S5 project: 48 kHz, 480 tpb, 120 bpm, one
// MIDI track with four beat notes.
func newExportRig(t *testing.T) (*engine.Engine, *session.Track) {
	t.Helper()
	ts := timescale.New(48000, 480, 120.0, 4)
	sess := session.New("export-test", ts)
	client := seq.NewSoftClient(sess.ClientName())
	t.Cleanup(func() { client.Close() })

	e := engine.New(sess, client)
	bus := engine.NewMidiBus(e, "Master", engine.Duplex, false)
	e.AddBus(bus)

	track := session.NewTrack("Lead", 0)
	track.OutputBusName = "Master"
	sess.AddTrack(track)

	clip := session.NewClip("bars", 0, 4*48000)
	for _, tick := range []uint64{0, 480, 960, 1440} {
		clip.AddEvent(&event.Event{
			Type: event.NoteOn, Tick: tick, Param: 60, Value: 100, Duration: 240,
		})
	}
	track.AddClip(clip)

	return e, track
}

func TestExportFormat1(t *testing.T) {
	e, _ := newExportRig(t)
	sess := e.Session()

	path := filepath.Join(t.TempDir(), "take.mid")
	end := sess.FrameFromTick(3840)
	if err := File(e, path, 0, end, "", Format1); err != nil {
		t.Fatalf("export: %v", err)
	}

	s, err := smf.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	// S5: meta track + one track, 480 tpb.
	if n := len(s.Tracks); n != 2 {
		t.Fatalf("tracks = %d, want 2", n)
	}
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || uint16(ticks) != 480 {
		t.Fatalf("time format = %v, want 480 metric ticks", s.TimeFormat)
	}

	var noteOnTicks []uint64
	var abs uint64
	for _, ev := range s.Tracks[1] {
		abs += uint64(ev.Delta)
		var ch, key, vel uint8
		if ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0 {
			noteOnTicks = append(noteOnTicks, abs)
		}
	}
	want := []uint64{0, 480, 960, 1440}
	if len(noteOnTicks) != len(want) {
		t.Fatalf("note-ons = %v, want %v", noteOnTicks, want)
	}
	for i := range want {
		if noteOnTicks[i] != want[i] {
			t.Fatalf("note-ons = %v, want %v", noteOnTicks, want)
		}
	}
}

func TestExportFormat0MergesChannels(t *testing.T) {
	e, _ := newExportRig(t)
	sess := e.Session()

	// Second track on another channel, same bus.
	track2 := session.NewTrack("Pad", 5)
	track2.OutputBusName = "Master"
	clip := session.NewClip("pad", 0, 4*48000)
	clip.AddEvent(&event.Event{Type: event.NoteOn, Tick: 0, Param: 48, Value: 80, Duration: 480})
	track2.AddClip(clip)
	sess.AddTrack(track2)

	path := filepath.Join(t.TempDir(), "take0.mid")
	if err := File(e, path, 0, sess.FrameFromTick(3840), "", Format0); err != nil {
		t.Fatalf("export: %v", err)
	}

	s, err := smf.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if n := len(s.Tracks); n != 1 {
		t.Fatalf("tracks = %d, want 1 (format 0)", n)
	}

	channels := map[uint8]int{}
	for _, ev := range s.Tracks[0] {
		var ch, key, vel uint8
		if ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0 {
			channels[ch]++
		}
	}
	if channels[0] != 4 || channels[5] != 1 {
		t.Errorf("channel note counts = %v", channels)
	}
}

func TestExportFiltersAndFailures(t *testing.T) {
	e, track := newExportRig(t)
	sess := e.Session()

	// Empty range surfaces as failure.
	if err := File(e, filepath.Join(t.TempDir(), "x.mid"), 100, 100, "", Format1); err == nil {
		t.Errorf("empty range accepted")
	}

	// Muted track leaves nothing eligible.
	track.Mute = true
	if err := File(e, filepath.Join(t.TempDir(), "y.mid"), 0, sess.FrameFromTick(3840), "", Format1); err == nil {
		t.Errorf("export with no eligible tracks accepted")
	}
	track.Mute = false

	// Playing session refuses to export.
	sess.SetPlaying(true)
	if err := File(e, filepath.Join(t.TempDir(), "z.mid"), 0, sess.FrameFromTick(3840), "", Format1); err == nil {
		t.Errorf("export while playing accepted")
	}
}

func TestExportGainAndDurationClamp(t *testing.T) {
	e, track := newExportRig(t)
	sess := e.Session()

	// Half-gain clip whose last note would overrun the range end.
	track.Clips()[0].Gain = 0.5
	clip := track.Clips()[0]
	clip.AddEvent(&event.Event{
		Type: event.NoteOn, Tick: 3600, Param: 72, Value: 100, Duration: 4800,
	})

	path := filepath.Join(t.TempDir(), "clamp.mid")
	if err := File(e, path, 0, sess.FrameFromTick(3840), "", Format1); err != nil {
		t.Fatalf("export: %v", err)
	}

	s, err := smf.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	var abs, lastOff uint64
	sawHalfGain := false
	for _, ev := range s.Tracks[1] {
		abs += uint64(ev.Delta)
		var ch, key, vel uint8
		if ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0 {
			if vel != 50 {
				t.Errorf("velocity = %d, want 50 at half gain", vel)
			}
			if key == 72 {
				sawHalfGain = true
			}
		}
		if ev.Message.GetNoteOff(&ch, &key, &vel) && key == 72 {
			lastOff = abs
		}
	}
	if !sawHalfGain {
		t.Fatal("overrunning note missing")
	}
	if lastOff != 3840 {
		t.Errorf("clamped note-off at %d, want 3840", lastOff)
	}
}

func TestExportSysexOnMetaTrack(t *testing.T) {
	e, _ := newExportRig(t)
	sess := e.Session()

	bus := e.FindBus("Master")
	bus.SysexList().Append(engine.NewSysex("gm-on",
		[]byte{0xf0, 0x7e, 0x7f, 0x09, 0x01, 0xf7}))

	path := filepath.Join(t.TempDir(), "sysex.mid")
	if err := File(e, path, 0, sess.FrameFromTick(3840), "", Format1); err != nil {
		t.Fatalf("export: %v", err)
	}

	s, err := smf.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	found := false
	for _, ev := range s.Tracks[0] {
		var bt []byte
		if ev.Message.GetSysEx(&bt) {
			found = true
		}
	}
	if !found {
		t.Errorf("sysex setup not on the meta track")
	}
}
