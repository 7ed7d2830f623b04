package session

import (
	"sync"

	"go-miditrack/chain"
	"go-miditrack/event"
	"go-miditrack/monitor"
)

// TrackType tells what a track carries.
type TrackType int

const (
	TrackMidi TrackType = iota
	TrackAudio
)

// Track is one arrangement lane. Bus references are by name; the
// engine resolves them against its own bus list, so tracks never own
// engine resources (handles, not owners).
type Track struct {
	Name    string
	Type    TrackType
	Channel uint8
	Bank    int // <0 when unset; overrides bank-select events
	Program int // <0 when unset; overrides program-change events
	Tag     uint16

	InputBusName  string
	OutputBusName string

	Record  bool
	Mute    bool
	Solo    bool
	Monitor bool // input mirrored to output (MIDI-thru)

	Gain float32

	clips []*Clip

	mon *monitor.MidiMonitor
	ch  *chain.Chain

	recMu     sync.Mutex
	recordBuf *event.Sequence
}

// NewTrack creates a MIDI track at unity gain with patch unset.
func NewTrack(name string, channel uint8) *Track {
	return &Track{
		Name:    name,
		Channel: channel,
		Bank:    -1,
		Program: -1,
		Gain:    1.0,
		mon:     monitor.New(),
		ch:      chain.New(name),
	}
}

// MidiMonitor returns the track activity meter.
func (t *Track) MidiMonitor() *monitor.MidiMonitor { return t.mon }

// Chain returns the track MIDI plugin chain.
func (t *Track) Chain() *chain.Chain { return t.ch }

// Clips returns the clip list, ordered by start frame.
func (t *Track) Clips() []*Clip { return t.clips }

// AddClip inserts keeping start-frame order.
func (t *Track) AddClip(c *Clip) {
	i := len(t.clips)
	for i > 0 && t.clips[i-1].Start > c.Start {
		i--
	}
	t.clips = append(t.clips, nil)
	copy(t.clips[i+1:], t.clips[i:])
	t.clips[i] = c
}

// Record buffer: appended by the input worker only; everyone else
// reads snapshots.

// StartRecording arms a fresh record take.
func (t *Track) StartRecording(ticksPerBeat uint16) {
	t.recMu.Lock()
	t.recordBuf = event.NewSequence(t.Name, t.Channel, ticksPerBeat)
	t.recMu.Unlock()
}

// StopRecording detaches and returns the finished take.
func (t *Track) StopRecording() *event.Sequence {
	t.recMu.Lock()
	take := t.recordBuf
	t.recordBuf = nil
	t.recMu.Unlock()
	return take
}

// RecordEvent appends to the live take; no-op when not recording.
func (t *Track) RecordEvent(e *event.Event) {
	t.recMu.Lock()
	if t.recordBuf != nil {
		t.recordBuf.AddEvent(e)
	}
	t.recMu.Unlock()
}

// RecordEvents returns a snapshot of the live take.
func (t *Track) RecordEvents() []*event.Event {
	t.recMu.Lock()
	defer t.recMu.Unlock()
	if t.recordBuf == nil {
		return nil
	}
	return append([]*event.Event(nil), t.recordBuf.Events()...)
}

// IsRecordArmed tells whether the track captures when the session
// records.
func (t *Track) IsRecordArmed() bool {
	t.recMu.Lock()
	defer t.recMu.Unlock()
	return t.Record && t.recordBuf != nil
}

// process renders this track's clip events in [fStart, fEnd).
func (t *Track) process(s *Session, r Renderer, fStart, fEnd uint64) {
	for _, c := range t.clips {
		if c.Start >= fEnd {
			break
		}
		if c.End() <= fStart {
			continue
		}
		c.process(s, r, t, fStart, fEnd)
	}
}

// Clip is a placed block of MIDI events. Event ticks are relative to
// the clip's own tick origin (the tick at Start).
type Clip struct {
	Name   string
	Start  uint64 // frame
	Length uint64 // frames
	Gain   float32

	// Optional gain envelope over the clip, by frame offset; when set
	// it overrides the flat Gain.
	GainEnvelope func(frameOffset uint64) float32

	Events []*event.Event
}

// NewClip creates a clip at unity gain.
func NewClip(name string, start, length uint64) *Clip {
	return &Clip{Name: name, Start: start, Length: length, Gain: 1.0}
}

// End returns the first frame past the clip.
func (c *Clip) End() uint64 { return c.Start + c.Length }

// GainAt evaluates the gain envelope at a frame offset into the clip.
func (c *Clip) GainAt(frameOffset uint64) float32 {
	if c.GainEnvelope != nil {
		return c.GainEnvelope(frameOffset)
	}
	return c.Gain
}

// AddEvent inserts keeping tick order.
func (c *Clip) AddEvent(e *event.Event) {
	i := len(c.Events)
	for i > 0 && c.Events[i-1].Tick > e.Tick {
		i--
	}
	c.Events = append(c.Events, nil)
	copy(c.Events[i+1:], c.Events[i:])
	c.Events[i] = e
}

func (c *Clip) process(s *Session, r Renderer, t *Track, fStart, fEnd uint64) {
	clipTick := s.TickFromFrame(c.Start)
	for _, e := range c.Events {
		absTick := clipTick + e.Tick
		frame := s.FrameFromTick(absTick)
		if frame < fStart {
			continue
		}
		if frame >= fEnd {
			break
		}
		gain := t.Gain * c.GainAt(frame-c.Start)
		r.EnqueueEvent(t, e, absTick, gain)
	}
}
