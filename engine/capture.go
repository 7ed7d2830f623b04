package engine

import (
	"go-miditrack/debug"
	"go-miditrack/event"
	"go-miditrack/seq"
	"go-miditrack/session"
)

// capture runs every event the input worker drains through the whole
// input pipeline: quantize, transport sniffing, record buffers, track
// and bus monitoring, MIDI-thru.
func (e *Engine) capture(ev *seq.Event) {
	// - capture quantization...
	if e.captureQuantize > 0 {
		q := uint64(e.sess.TicksPerBeat() / e.captureQuantize)
		if q > 0 {
			ev.Tick = q * ((ev.Tick + q>>1) / q)
		}
	}

	port := ev.Dest.Port

	var (
		typ      event.Type
		channel  uint8
		data1    uint8
		data2    uint8
		duration uint64
		bend     int16
		sysex    []byte
	)

	switch ev.Type {
	case seq.Note, seq.NoteOn:
		typ = event.NoteOn
		channel = ev.Channel
		data1 = uint8(ev.Param)
		data2 = uint8(ev.Value)
		duration = ev.Duration
		if data2 == 0 {
			ev.Type = seq.NoteOff
			typ = event.NoteOff
		}
	case seq.NoteOff:
		typ = event.NoteOff
		channel = ev.Channel
		data1 = uint8(ev.Param)
		data2 = uint8(ev.Value)
		duration = ev.Duration
	case seq.KeyPress:
		typ = event.KeyPress
		channel = ev.Channel
		data1 = uint8(ev.Param)
		data2 = uint8(ev.Value)
	case seq.Controller:
		typ = event.Controller
		channel = ev.Channel
		data1 = uint8(ev.Param & 0xff)
		data2 = uint8(ev.Value & 0xff)
		// Trap controller commands...
		if e.isControlInputPort(port) {
			// Avoid some extraneous events...
			if ev.Param > 0x7f || ev.Value > 0x7f {
				return
			}
			e.notify.post(notification{kind: notifyCtl, ctl: CtlEvent{
				Channel: channel, Param: data1, Value: data2,
			}})
		}
	case seq.PgmChange:
		typ = event.PgmChange
		channel = ev.Channel
		data2 = uint8(ev.Value)
	case seq.ChanPress:
		typ = event.ChanPress
		channel = ev.Channel
		data2 = uint8(ev.Value)
	case seq.PitchBend:
		typ = event.PitchBend
		channel = ev.Channel
		bend = int16(ev.Value)
		aux := uint16(0x2000 + ev.Value)
		data1 = uint8(aux & 0x007f)
		data2 = uint8((aux & 0x3f80) >> 7)
	case seq.Start, seq.Stop, seq.Continue, seq.SongPos:
		// Trap SPP commands...
		if e.sppMode&Input != 0 && e.isControlInputPort(port) {
			e.notify.post(notification{kind: notifySpp, spp: SppEvent{
				Cmd: ev.Type, SongPos: uint16(ev.Value),
			}})
		}
		// Not handled any longer.
		return
	case seq.Clock:
		// Trap MIDI Clocks...
		if e.clockMode&Input != 0 && e.isControlInputPort(port) {
			if tempo, changed := e.clock.pulse(); changed {
				e.notify.post(notification{kind: notifyClock, tempo: tempo})
			}
		}
		// Not handled any longer.
		return
	case seq.SysEx:
		typ = event.SysEx
		sysex = ev.Data
		// Trap MMC commands...
		if e.mmcMode&Input != 0 && e.isControlInputPort(port) {
			if mmc, ok := DecodeMmc(sysex); ok {
				e.notify.post(notification{kind: notifyMmc, mmc: mmc})
				// Bail out, right now!
				return
			}
		}
	default:
		// Not handled here...
		return
	}

	debug.LogEvery(64, "capture", "in %06d %s ch=%d %d %d",
		ev.Tick, ev.Type, channel, data1, data2)

	// Now check which bus and track we're into...
	recording := e.sess.IsRecording() && e.sess.IsPlaying()
	for _, t := range e.sess.Tracks() {
		// Must be a MIDI track in capture/passthru mode and for the
		// intended channel...
		if t.Type != session.TrackMidi {
			continue
		}
		if !t.Record && !e.sess.IsTrackMonitor(t) {
			continue
		}
		if !e.sess.IsTrackMidiChannel(t, channel) {
			continue
		}
		inBus := e.FindBus(t.InputBusName)
		if inBus == nil || inBus.port != port {
			continue
		}
		// Is it actually recording?...
		if t.Record && recording {
			absTick := ev.Tick + uint64(maxInt64(e.TimeStart(), 0))
			if !e.sess.IsPunching() ||
				(absTick >= e.sess.PunchInTime() && absTick < e.sess.PunchOutTime()) {
				// Yep, we got a new MIDI event...
				rec := &event.Event{
					Tick:     ev.Tick,
					Type:     typ,
					Channel:  channel,
					Param:    data1,
					Value:    data2,
					Duration: duration,
					Bend:     bend,
				}
				if sysex != nil {
					rec.Sysex = append([]byte(nil), sysex...)
				}
				t.RecordEvent(rec)
			}
		}
		// Track input monitoring...
		t.MidiMonitor().EnqueueDirect(typ, data2)
		// Output monitoring on record...
		if e.sess.IsTrackMonitor(t) {
			outBus := e.FindBus(t.OutputBusName)
			if outBus != nil && outBus.MidiMonitorOut() != nil && outBus.port >= 0 {
				// MIDI-thru: same event redirected, channel rewritten
				// to the track's.
				thru := *ev
				thru.Channel = t.Channel
				thru.Direct = true
				thru.Source = seq.Addr{Client: e.client.ClientID(), Port: outBus.port}
				thru.Dest = seq.Addr{}
				e.client.EventOutputDirect(thru)
				// Done with MIDI-thru.
				outBus.MidiMonitorOut().EnqueueDirect(typ, data2)
				// Do it for the MIDI plugins too...
				t.Chain().Direct(&thru)
			}
		}
	}

	// Bus monitoring...
	for _, bus := range e.Buses() {
		if bus.port != port {
			continue
		}
		// Input monitoring...
		if bus.iMonitor != nil {
			bus.iMonitor.EnqueueDirect(typ, data2)
		}
		// Do it for the MIDI input plugins too...
		if bus.iChain != nil {
			bus.iChain.Direct(ev)
		}
		// Output monitoring on passthru...
		if bus.passthru {
			if bus.oChain != nil {
				bus.oChain.Direct(ev)
			}
			if bus.oMonitor != nil {
				// MIDI-thru: same event redirected...
				thru := *ev
				thru.Direct = true
				thru.Source = seq.Addr{Client: e.client.ClientID(), Port: bus.port}
				thru.Dest = seq.Addr{}
				e.client.EventOutputDirect(thru)
				// Done with MIDI-thru.
				bus.oMonitor.EnqueueDirect(typ, data2)
			}
		}
	}
}

func (e *Engine) isControlInputPort(port int) bool {
	return e.iControlBus != nil && e.iControlBus.port >= 0 && e.iControlBus.port == port
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
