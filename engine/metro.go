package engine

import (
	"go-miditrack/event"
	"go-miditrack/seq"
)

// processMetro renders the metronome and MIDI-clock events of one
// output window [fStart, fEnd), tracking tempo-map changes: a tempo
// change always enqueues its queue TEMPO event before any note in the
// same window.
func (e *Engine) processMetro(fStart, fEnd uint64) {
	if e.metroCursor == nil {
		return
	}

	node := e.metroCursor.SeekFrame(fEnd)

	// Take this moment to check for tempo changes...
	if node.Tempo != e.metroTempo {
		// New tempo node...
		var iTime uint64
		if node.Frame < fStart {
			iTime = node.TickFromFrame(fStart)
		} else {
			iTime = node.Tick
		}
		tick := e.queueTick(iTime)
		e.client.EventOutput(seq.Event{
			Type:  seq.Tempo,
			Tick:  tick,
			Value: int(60000000.0 / node.Tempo),
		})
		// Save for next change.
		e.metroTempo = node.Tempo
		// Update MIDI monitor slot stuff...
		e.splitMonitorTime(node.Frame, tick)
	}

	// Get on with the actual metronome/clock stuff...
	clockOut := e.clockMode&Output != 0
	if !e.metronome && !clockOut {
		return
	}

	// Register the next metronome/clock beat slot.
	timeEnd := node.TickFromFrame(fEnd)

	node = e.metroCursor.SeekFrame(fStart)
	timeStart := node.TickFromFrame(fStart)
	beat := node.BeatFromTick(timeStart)
	iTime := node.TickFromBeat(beat)

	var metroSource, clockSource seq.Addr
	haveMetroBus := e.metroBus != nil && e.metroBus.port >= 0
	if haveMetroBus {
		metroSource = seq.Addr{Client: e.client.ClientID(), Port: e.metroBus.port}
	}
	haveClockBus := e.oControlBus != nil && e.oControlBus.port >= 0
	if haveClockBus {
		clockSource = seq.Addr{Client: e.client.ClientID(), Port: e.oControlBus.port}
	}

	for iTime < timeEnd {
		// Scheduled delivery: take into account the time
		// playback/queue started...
		if clockOut && haveClockBus {
			timeClock := iTime
			ticksPerClock := uint64(node.TicksPerBeat / 24)
			for clock := 0; clock < 24; clock++ {
				if timeClock >= timeEnd {
					break
				}
				if timeClock >= timeStart {
					e.client.EventOutput(seq.Event{
						Type:   seq.Clock,
						Tick:   e.queueTick(timeClock),
						Tag:    0xff,
						Source: clockSource,
					})
				}
				timeClock += ticksPerClock
			}
		}
		if e.metronome && iTime >= timeStart {
			tick := e.queueTick(iTime)
			note, velocity, duration := e.metroBeatNote, e.metroBeatVelocity, e.metroBeatDuration
			if node.BeatIsBar(beat) {
				note, velocity, duration = e.metroBarNote, e.metroBarVelocity, e.metroBarDuration
			}
			// Pump it into the queue.
			e.client.EventOutput(seq.Event{
				Type:     seq.Note,
				Tick:     tick,
				Tag:      0xff,
				Source:   metroSource,
				Channel:  e.metroChannel,
				Param:    int(note),
				Value:    int(velocity),
				Duration: duration,
			})
			// Metronome bus monitoring...
			if haveMetroBus && e.metroBus.oMonitor != nil {
				e.metroBus.oMonitor.Enqueue(event.NoteOn, velocity, tick)
			}
		}
		// Go for next beat...
		iTime += uint64(node.TicksPerBeat)
		beat++
		node = e.metroCursor.SeekBeat(beat)
	}
}

// splitMonitorTime re-anchors every meter's time axis at a tempo
// change.
func (e *Engine) splitMonitorTime(frame, tick uint64) {
	for _, bus := range e.Buses() {
		if bus.iMonitor != nil {
			bus.iMonitor.SplitTime(frame, tick)
		}
		if bus.oMonitor != nil {
			bus.oMonitor.SplitTime(frame, tick)
		}
	}
	for _, t := range e.sess.Tracks() {
		t.MidiMonitor().SplitTime(frame, tick)
	}
}
