package engine

import (
	"go-miditrack/event"
	"go-miditrack/seq"
	"go-miditrack/session"
)

// EnqueueEvent schedules one clip event on the track's output bus.
// It implements session.Renderer: the session's clip walk hands every
// in-window event here with its absolute tick and pre-mixed gain.
func (e *Engine) EnqueueEvent(t *session.Track, ev *event.Event, absTick uint64, gain float32) {
	// Target MIDI bus...
	bus := e.FindBus(t.OutputBusName)
	if bus == nil || bus.port < 0 {
		return
	}

	// Scheduled delivery: take into account the time playback/queue
	// started...
	tick := e.queueTick(absTick)

	out := seq.Event{
		Tick:    tick,
		Tag:     byte(t.Tag & 0xff),
		Source:  seq.Addr{Client: e.client.ClientID(), Port: bus.port},
		Channel: t.Channel,
	}

	switch ev.Type {
	case event.NoteOn:
		out.Type = seq.Note
		out.Param = int(ev.Param)
		out.Value = int(gain*float32(ev.Value)) & 0x7f
		out.Duration = ev.Duration
	case event.KeyPress:
		out.Type = seq.KeyPress
		out.Param = int(ev.Param)
		out.Value = int(ev.Value)
	case event.Controller:
		out.Type = seq.Controller
		out.Param = int(ev.Param)
		out.Value = int(ev.Value)
		// Track properties override...
		if t.Bank >= 0 {
			switch ev.Param {
			case BankSelectMSB:
				out.Value = (t.Bank & 0x3f80) >> 7
			case BankSelectLSB:
				out.Value = t.Bank & 0x007f
			}
		}
	case event.PgmChange:
		out.Type = seq.PgmChange
		out.Value = int(ev.Value)
		// Track properties override...
		if t.Program >= 0 {
			out.Value = t.Program
		}
	case event.ChanPress:
		out.Type = seq.ChanPress
		out.Value = int(ev.Value)
	case event.PitchBend:
		out.Type = seq.PitchBend
		out.Value = int(ev.Bend)
	case event.SysEx:
		out.Type = seq.SysEx
		out.Data = ev.Sysex
	default:
		return
	}

	// Pump it into the queue.
	e.client.EventOutput(out)

	// MIDI track monitoring...
	t.MidiMonitor().Enqueue(ev.Type, ev.Value, tick)

	// MIDI bus monitoring...
	if bus.oMonitor != nil {
		bus.oMonitor.Enqueue(ev.Type, ev.Value, tick)
	}

	// Do it for the MIDI track plugins too...
	t.Chain().Queued(&out)

	// And for the MIDI output plugins as well...
	if bus.oChain != nil {
		bus.oChain.Queued(&out)
	}
}

// renderClip schedules one clip's events within [fStart, fEnd), as
// used by the track resync path.
func (e *Engine) renderClip(t *session.Track, c *session.Clip, fStart, fEnd uint64) {
	clipTick := e.sess.TickFromFrame(c.Start)
	for _, ev := range c.Events {
		absTick := clipTick + ev.Tick
		frame := e.sess.FrameFromTick(absTick)
		if frame < fStart {
			continue
		}
		if frame >= fEnd {
			break
		}
		e.EnqueueEvent(t, ev, absTick, t.Gain*c.GainAt(frame-c.Start))
	}
}
