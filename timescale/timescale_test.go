package timescale

import "testing"

func TestTickFrameConversion(t *testing.T) {
	// 48 kHz, 960 tpb, 120 bpm: 1920 ticks per second.
	ts := New(48000, 960, 120.0, 4)

	cases := []struct {
		frame uint64
		tick  uint64
	}{
		{0, 0},
		{24000, 960},
		{48000, 1920},
		{192000, 7680},
	}
	for _, c := range cases {
		if got := ts.TickFromFrame(c.frame); got != c.tick {
			t.Errorf("TickFromFrame(%d) = %d, want %d", c.frame, got, c.tick)
		}
		if got := ts.FrameFromTick(c.tick); got != c.frame {
			t.Errorf("FrameFromTick(%d) = %d, want %d", c.tick, got, c.frame)
		}
	}
}

func TestTempoChangeAnchors(t *testing.T) {
	ts := New(48000, 960, 120.0, 4)
	node := ts.AddNode(48000, 240.0, 3)

	if node.Tick != 1920 {
		t.Errorf("node tick = %d, want 1920", node.Tick)
	}
	if node.Beat != 2 {
		t.Errorf("node beat = %d, want 2", node.Beat)
	}

	// After the change ticks accrue at 3840/s.
	if got := ts.TickFromFrame(96000); got != 1920+3840 {
		t.Errorf("TickFromFrame(96000) = %d, want %d", got, 1920+3840)
	}
	if got := ts.FrameFromTick(1920 + 3840); got != 96000 {
		t.Errorf("FrameFromTick = %d, want 96000", got)
	}
}

func TestCursorSeek(t *testing.T) {
	ts := New(48000, 960, 120.0, 4)
	ts.AddNode(48000, 240.0, 4)
	ts.AddNode(96000, 60.0, 4)

	c := NewCursor(ts)
	if n := c.SeekFrame(0); n.Tempo != 120.0 {
		t.Errorf("frame 0 tempo = %v", n.Tempo)
	}
	if n := c.SeekFrame(50000); n.Tempo != 240.0 {
		t.Errorf("frame 50000 tempo = %v", n.Tempo)
	}
	if n := c.SeekFrame(100000); n.Tempo != 60.0 {
		t.Errorf("frame 100000 tempo = %v", n.Tempo)
	}
	// Rewind walks backward from the cached position.
	if n := c.SeekFrame(10); n.Tempo != 120.0 {
		t.Errorf("rewind tempo = %v", n.Tempo)
	}
	c.Reset()
	if n := c.SeekFrame(100000); n.Tempo != 60.0 {
		t.Errorf("post-reset tempo = %v", n.Tempo)
	}
}

func TestBeatHelpers(t *testing.T) {
	ts := New(48000, 960, 120.0, 4)
	node := ts.Nodes()[0]

	if b := node.BeatFromTick(960 * 5); b != 5 {
		t.Errorf("BeatFromTick = %d, want 5", b)
	}
	if tick := node.TickFromBeat(5); tick != 4800 {
		t.Errorf("TickFromBeat = %d, want 4800", tick)
	}
	for beat := uint32(0); beat < 12; beat++ {
		want := beat%4 == 0
		if got := node.BeatIsBar(beat); got != want {
			t.Errorf("BeatIsBar(%d) = %v, want %v", beat, got, want)
		}
	}
}

func TestSeekFrameBinarySearch(t *testing.T) {
	ts := New(48000, 960, 120.0, 4)
	for i := 1; i <= 32; i++ {
		ts.AddNode(uint64(i)*48000, 120.0+float32(i), 4)
	}
	for i := 0; i <= 32; i++ {
		frame := uint64(i)*48000 + 10
		node := ts.seekFrame(frame)
		if node.Frame != uint64(i)*48000 {
			t.Errorf("seekFrame(%d) anchored at %d", frame, node.Frame)
		}
	}
}
