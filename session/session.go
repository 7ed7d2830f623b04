// Package session models the arrangement the engines play: transport
// state, loop and punch windows, the tempo map and the track list.
package session

import (
	"runtime"
	"strings"
	"sync"

	"go-miditrack/event"
	"go-miditrack/timescale"
)

// Renderer consumes the events Process yields for a frame range. The
// MIDI engine installs itself here; tick is absolute, gain pre-mixed
// from track and clip levels.
type Renderer interface {
	EnqueueEvent(t *Track, e *event.Event, tick uint64, gain float32)
}

// Session is the shared playback context threaded through the workers.
type Session struct {
	mu sync.RWMutex

	clientName string
	timeScale  *timescale.TimeScale

	playHead  uint64
	playing   bool
	recording bool

	loopStart uint64
	loopEnd   uint64

	punching      bool
	punchInFrame  uint64
	punchOutFrame uint64

	tracks   []*Track
	renderer Renderer
}

// New creates a session over the given tempo map.
func New(clientName string, ts *timescale.TimeScale) *Session {
	return &Session{clientName: clientName, timeScale: ts}
}

func (s *Session) ClientName() string              { return s.clientName }
func (s *Session) TimeScale() *timescale.TimeScale { return s.timeScale }
func (s *Session) SampleRate() uint32              { return s.timeScale.SampleRate() }
func (s *Session) TicksPerBeat() uint16            { return s.timeScale.TicksPerBeat() }

func (s *Session) TickFromFrame(frame uint64) uint64 { return s.timeScale.TickFromFrame(frame) }
func (s *Session) FrameFromTick(tick uint64) uint64  { return s.timeScale.FrameFromTick(tick) }

// SetRenderer installs the event consumer for Process.
func (s *Session) SetRenderer(r Renderer) {
	s.mu.Lock()
	s.renderer = r
	s.mu.Unlock()
}

// Transport state.

func (s *Session) PlayHead() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playHead
}

func (s *Session) SetPlayHead(frame uint64) {
	s.mu.Lock()
	s.playHead = frame
	s.mu.Unlock()
}

func (s *Session) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

func (s *Session) SetPlaying(playing bool) {
	s.mu.Lock()
	s.playing = playing
	s.mu.Unlock()
}

func (s *Session) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}

func (s *Session) SetRecording(recording bool) {
	s.mu.Lock()
	s.recording = recording
	s.mu.Unlock()
}

// Loop window. Looping is on whenever the window is non-empty.

func (s *Session) SetLoop(start, end uint64) {
	s.mu.Lock()
	s.loopStart, s.loopEnd = start, end
	s.mu.Unlock()
}

func (s *Session) IsLooping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loopStart < s.loopEnd
}

func (s *Session) LoopStart() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loopStart
}

func (s *Session) LoopEnd() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loopEnd
}

// Punch window.

func (s *Session) SetPunch(in, out uint64) {
	s.mu.Lock()
	s.punching = in < out
	s.punchInFrame, s.punchOutFrame = in, out
	s.mu.Unlock()
}

func (s *Session) IsPunching() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.punching
}

func (s *Session) PunchInTime() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeScale.TickFromFrame(s.punchInFrame)
}

func (s *Session) PunchOutTime() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeScale.TickFromFrame(s.punchOutFrame)
}

// Track list.

func (s *Session) AddTrack(t *Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *Session) RemoveTrack(t *Track) {
	s.mu.Lock()
	for i, have := range s.tracks {
		if have == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// Tracks returns a snapshot of the track list.
func (s *Session) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Track(nil), s.tracks...)
}

// SoloTracks tells whether any track is soloed.
func (s *Session) SoloTracks() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Solo {
			return true
		}
	}
	return false
}

// IsTrackMonitor tells whether a track mirrors its input to output.
func (s *Session) IsTrackMonitor(t *Track) bool {
	return t.Monitor
}

// IsTrackMidiChannel matches an arriving event channel against a track.
func (s *Session) IsTrackMidiChannel(t *Track, channel uint8) bool {
	return t.Channel == channel
}

// Process renders every audible track's clip events in [fStart, fEnd)
// through the installed renderer.
func (s *Session) Process(cursor *Cursor, fStart, fEnd uint64) {
	s.mu.RLock()
	renderer := s.renderer
	tracks := append([]*Track(nil), s.tracks...)
	s.mu.RUnlock()
	if renderer == nil {
		return
	}

	solo := s.SoloTracks()
	for _, t := range tracks {
		if t.Type != TrackMidi {
			continue
		}
		if t.Mute || (solo && !t.Solo) {
			continue
		}
		t.process(s, renderer, fStart, fEnd)
	}
}

// Stabilize yields between heavy passes (export track loop).
func Stabilize() {
	runtime.Gosched()
}

// Sanitize makes a name safe for port and file naming.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
