package engine

import (
	"go-miditrack/debug"
	"go-miditrack/seq"
	"go-miditrack/session"
)

// SetTrackMute mutes or unmutes a track in-flight. Muting strips the
// queue of the track's already-scheduled events past the playhead and
// chokes its channel; unmuting re-renders through the output worker.
func (e *Engine) SetTrackMute(t *session.Track, mute bool) {
	debug.Log("engine", "trackMute(%s, %v)", t.Name, mute)

	frame := e.sess.PlayHead()

	if mute {
		// Remove all already enqueued events for the given track and
		// channel...
		tick := e.queueTick(e.sess.TickFromFrame(frame))
		tag := byte(t.Tag & 0xff)
		channel := t.Channel
		e.client.RemoveOutput(func(ev *seq.Event) bool {
			return ev.Tag == tag && ev.Channel == channel && ev.Tick >= tick &&
				ev.Type != seq.NoteOff
		})
		// Immediate all current notes off.
		if bus := e.FindBus(t.OutputBusName); bus != nil {
			bus.SetController(t, AllNotesOff, 0)
		}
		// Clear/reset track monitor...
		t.MidiMonitor().Clear()
		// Reset track plugin buffers...
		t.Chain().Reset()
		// Done track mute.
	} else if e.output != nil {
		// Must redirect to MIDI output thread: the immediate
		// re-enqueueing of MIDI events.
		e.output.TrackSync(t, frame)
		// Done track unmute.
	}
}

// MetroMute mutes or unmutes the metronome in-flight, the same way.
func (e *Engine) MetroMute(mute bool) {
	debug.Log("engine", "metroMute(%v)", mute)

	frame := e.sess.PlayHead()

	if mute {
		tick := e.queueTick(e.sess.TickFromFrame(frame))
		channel := e.metroChannel
		e.client.RemoveOutput(func(ev *seq.Event) bool {
			return ev.Tag == 0xff && ev.Channel == channel && ev.Tick >= tick &&
				ev.Type != seq.NoteOff
		})
		// Done metronome mute.
	} else if e.output != nil {
		// Must redirect to MIDI output thread: the immediate
		// re-enqueueing of MIDI events.
		e.output.MetroSync(frame)
		// Done metronome unmute.
	}
}
