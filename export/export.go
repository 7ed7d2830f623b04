// Package export writes a frame range of the live session out as a
// standard multi-track MIDI file. Single-shot and non-playing: the
// writer walks clips directly, never the scheduling queue.
package export

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-miditrack/debug"
	"go-miditrack/engine"
	"go-miditrack/event"
	"go-miditrack/session"
)

// Format selects the file layout.
const (
	Format0 = 0 // all tracks collapsed into 16 channel sequences
	Format1 = 1 // meta track plus one sequence per track
)

// File exports [fStart, fEnd) of the session to path. Tracks routed
// to a different output bus than busName are skipped; an empty
// busName picks the engine's first bus.
func File(e *engine.Engine, path string, fStart, fEnd uint64, busName string, format int) error {
	sess := e.Session()

	// No simultaneous or foul exports...
	if sess.IsPlaying() {
		return fmt.Errorf("export: session is playing")
	}

	// Cannot have empty ranges.
	if fStart >= fEnd {
		return fmt.Errorf("export: empty frame range")
	}

	// We'll grab the first bus around, if none is given...
	var exportBus *engine.MidiBus
	if busName == "" {
		buses := e.Buses()
		if len(buses) == 0 {
			return fmt.Errorf("export: no buses")
		}
		exportBus = buses[0]
	} else if exportBus = e.FindBus(busName); exportBus == nil {
		return fmt.Errorf("export: no bus %q", busName)
	}

	ticksPerBeat := sess.TicksPerBeat()
	timeStart := sess.TickFromFrame(fStart)
	timeEnd := sess.TickFromFrame(fEnd)

	var seqs []*event.Sequence
	byChannel := make([]*event.Sequence, 0, 16)
	if format == Format0 {
		for ch := 0; ch < 16; ch++ {
			byChannel = append(byChannel,
				event.NewSequence("", uint8(ch), ticksPerBeat))
		}
	}

	// Do the real grunt work: get each eligible track and copy the
	// events in range to be written out...
	tracks := 0
	solo := sess.SoloTracks()
	for _, t := range sess.Tracks() {
		if t.Type != session.TrackMidi {
			continue
		}
		if t.Mute || (solo && !t.Solo) {
			continue
		}
		if t.OutputBusName != exportBus.BusName() {
			continue
		}
		// We have a target sequence, maybe reused...
		var seq *event.Sequence
		if format == Format0 {
			seq = byChannel[t.Channel&0x0f]
			name := seq.Name
			if name != "" {
				name += "; "
			}
			seq.Name = name + t.Name
		} else {
			tracks++
			seq = event.NewSequence(t.Name, t.Channel, ticksPerBeat)
			seqs = append(seqs, seq)
		}
		// Make this track setup...
		if seq.Bank < 0 {
			seq.Bank = t.Bank
		}
		if seq.Program < 0 {
			seq.Program = t.Program
		}
		// Now, for every clip...
		copyTrackEvents(sess, t, seq, fStart, timeStart, timeEnd)
		// Have a break...
		session.Stabilize()
	}

	// Account for the only or META info track...
	tracks++

	if format == Format0 {
		// Merge the 16 channel sequences into the single chunk, patch
		// prologs included.
		merged := event.NewSequence(baseName(path), 0, ticksPerBeat)
		for _, seq := range byChannel {
			if seq.Program >= 0 {
				if seq.Bank >= 0 {
					merged.InsertEvent(&event.Event{Type: event.Controller,
						Channel: seq.Channel, Param: 0, Value: uint8((seq.Bank & 0x3f80) >> 7)})
					merged.InsertEvent(&event.Event{Type: event.Controller,
						Channel: seq.Channel, Param: 32, Value: uint8(seq.Bank & 0x007f)})
				}
				merged.InsertEvent(&event.Event{Type: event.PgmChange,
					Channel: seq.Channel, Value: uint8(seq.Program)})
			}
			for _, ev := range seq.Events() {
				copied := ev.Clone()
				copied.Channel = seq.Channel
				merged.InsertEvent(copied)
			}
		}
		seqs = []*event.Sequence{merged}
	} else {
		// Sanity check...
		if tracks < 2 {
			return fmt.Errorf("export: no eligible tracks")
		}
		// META info track first...
		meta := event.NewSequence(baseName(path), 0, ticksPerBeat)
		seqs = append([]*event.Sequence{meta}, seqs...)
	}

	// Export SysEx setup...
	if sl := exportBus.SysexList(); sl != nil && sl.Len() > 0 {
		sl.ExportSequence(seqs[0])
	}

	debug.Log("export", "%s: %d sequences, ticks [%d, %d)",
		path, len(seqs), timeStart, timeEnd)

	return writeFile(e, path, seqs, format, timeStart)
}

// copyTrackEvents shifts every clip event in range onto the export
// tick origin, with the clip gain folded into note velocities and
// durations clamped at the range end.
func copyTrackEvents(sess *session.Session, t *session.Track,
	seq *event.Sequence, fStart, timeStart, timeEnd uint64) {

	for _, c := range t.Clips() {
		if c.End() <= fStart {
			continue
		}
		if sess.TickFromFrame(c.Start) >= timeEnd {
			break
		}
		timeClip := sess.TickFromFrame(c.Start)
		timeOffset := timeClip - timeStart
		// For each event...
		for _, ev := range c.Events {
			timeEvent := timeClip + ev.Tick
			if timeEvent < timeStart {
				continue
			}
			if timeEvent >= timeEnd {
				break
			}
			copied := ev.Clone()
			copied.Tick = timeOffset + ev.Tick
			copied.Channel = t.Channel
			if copied.Type == event.NoteOn {
				gain := c.GainAt(sess.FrameFromTick(timeEvent) - c.Start)
				copied.Value = uint8(gain*float32(ev.Value)) & 0x7f
				if timeEvent+ev.Duration > timeEnd {
					copied.Duration = timeEnd - timeEvent
				}
			}
			seq.InsertEvent(copied)
		}
	}
}

// timedMessage pairs an absolute tick with its wire message for the
// delta encoding pass.
type timedMessage struct {
	tick uint64
	msg  gomidi.Message
	meta smf.Message
}

// writeFile folds the tempo map and renders every sequence as one
// track chunk at the session resolution.
func writeFile(e *engine.Engine, path string, seqs []*event.Sequence,
	format int, timeStart uint64) error {

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(e.Session().TicksPerBeat())

	for i, seq := range seqs {
		var msgs []timedMessage

		if i == 0 {
			msgs = append(msgs, timedMessage{
				meta: smf.MetaTrackSequenceName(seq.Name),
			})
			// Export tempo map as well, relative to the range start...
			msgs = append(msgs, tempoMapMessages(e, timeStart)...)
		} else if seq.Name != "" {
			msgs = append(msgs, timedMessage{
				meta: smf.MetaTrackSequenceName(seq.Name),
			})
		}

		// Bank select and program change prolog...
		if seq.Program >= 0 {
			if seq.Bank >= 0 {
				msgs = append(msgs,
					timedMessage{msg: gomidi.ControlChange(seq.Channel,
						0, uint8((seq.Bank&0x3f80)>>7))},
					timedMessage{msg: gomidi.ControlChange(seq.Channel,
						32, uint8(seq.Bank&0x007f))})
			}
			msgs = append(msgs, timedMessage{
				msg: gomidi.ProgramChange(seq.Channel, uint8(seq.Program)),
			})
		}

		for _, ev := range seq.Events() {
			msgs = append(msgs, eventMessages(ev)...)
		}

		sort.SliceStable(msgs, func(a, b int) bool {
			return msgs[a].tick < msgs[b].tick
		})

		var tr smf.Track
		var last uint64
		for _, m := range msgs {
			delta := uint32(m.tick - last)
			last = m.tick
			if m.meta != nil {
				tr.Add(delta, m.meta)
			} else {
				tr.Add(delta, smf.Message(m.msg))
			}
		}
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			return fmt.Errorf("export %s: %w", path, err)
		}
	}

	return s.WriteFile(path)
}

// tempoMapMessages folds the session tempo map relative to the export
// origin tick.
func tempoMapMessages(e *engine.Engine, timeStart uint64) []timedMessage {
	var msgs []timedMessage
	seenOrigin := false
	for _, node := range e.Session().TimeScale().Nodes() {
		tick := uint64(0)
		if node.Tick > timeStart {
			tick = node.Tick - timeStart
		} else {
			seenOrigin = true
		}
		msgs = append(msgs,
			timedMessage{tick: tick, meta: smf.MetaTempo(float64(node.Tempo))},
			timedMessage{tick: tick, meta: smf.MetaMeter(uint8(node.BeatsPerBar), 4)})
	}
	if !seenOrigin && len(msgs) == 0 {
		msgs = append(msgs, timedMessage{meta: smf.MetaTempo(120)})
	}
	return msgs
}

// eventMessages expands one core event into its wire messages; notes
// yield the off message at tick+duration.
func eventMessages(ev *event.Event) []timedMessage {
	ch := ev.Channel
	switch ev.Type {
	case event.NoteOn:
		return []timedMessage{
			{tick: ev.Tick, msg: gomidi.NoteOn(ch, ev.Param, ev.Value)},
			{tick: ev.Tick + ev.Duration, msg: gomidi.NoteOff(ch, ev.Param)},
		}
	case event.NoteOff:
		return []timedMessage{{tick: ev.Tick, msg: gomidi.NoteOff(ch, ev.Param)}}
	case event.KeyPress:
		return []timedMessage{{tick: ev.Tick, msg: gomidi.PolyAfterTouch(ch, ev.Param, ev.Value)}}
	case event.Controller:
		return []timedMessage{{tick: ev.Tick, msg: gomidi.ControlChange(ch, ev.Param, ev.Value)}}
	case event.PgmChange:
		return []timedMessage{{tick: ev.Tick, msg: gomidi.ProgramChange(ch, ev.Value)}}
	case event.ChanPress:
		return []timedMessage{{tick: ev.Tick, msg: gomidi.AfterTouch(ch, ev.Value)}}
	case event.PitchBend:
		return []timedMessage{{tick: ev.Tick, msg: gomidi.Pitchbend(ch, ev.Bend)}}
	case event.SysEx:
		data := ev.Sysex
		if len(data) >= 2 && data[0] == 0xf0 && data[len(data)-1] == 0xf7 {
			data = data[1 : len(data)-1]
		}
		return []timedMessage{{tick: ev.Tick, msg: gomidi.SysEx(data)}}
	}
	return nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
