// Package engine is the real-time MIDI core: it drives capture and
// playback against the sequencer backend and keeps the MIDI queue
// phase-locked to the master audio clock.
package engine

import (
	"fmt"
	"sync"

	"go-miditrack/debug"
	"go-miditrack/seq"
	"go-miditrack/session"
	"go-miditrack/timescale"
)

// Specific controller numbers.
const (
	BankSelectMSB = 0x00
	BankSelectLSB = 0x20

	AllSoundOff       = 0x78
	AllControllersOff = 0x79
	AllNotesOff       = 0x7b

	ChannelVolume  = 0x07
	ChannelPanning = 0x0a
)

// BusMode tells which directions a bus serves; it doubles as the
// direction mask of the MMC/SPP/clock transport modes.
type BusMode int

const (
	None   BusMode = 0
	Input  BusMode = 1
	Output BusMode = 2
	Duplex BusMode = Input | Output
)

// AudioClock is the read-only view of the master audio cursor.
type AudioClock interface {
	Frame() uint64
	FrameTime() uint64
}

// Engine is the MIDI half of the session: one sequencer client, one
// queue, the bus list and the two worker goroutines.
type Engine struct {
	sess   *session.Session
	client seq.Client
	audio  AudioClock

	midiCursor *session.Cursor

	busMu sync.Mutex
	buses []*MidiBus

	input  *inputWorker
	output *outputWorker

	// Queue-relative scheduling origin and accumulated drift, in
	// ticks. Written by the output worker and start/stop; read by the
	// capture path for punch checks.
	timeMu    sync.Mutex
	timeStart int64
	timeDrift int64

	// Tempo/time-signature cursor; owned by the output worker while
	// playing.
	metroCursor *timescale.Cursor
	metroTempo  float32

	metronome         bool
	metroBusOwned     bool
	metroBus          *MidiBus
	metroChannel      uint8
	metroBarNote      uint8
	metroBarVelocity  uint8
	metroBarDuration  uint64
	metroBeatNote     uint8
	metroBeatVelocity uint8
	metroBeatDuration uint64

	controlBusOwned bool
	iControlBus     *MidiBus
	oControlBus     *MidiBus

	captureQuantize uint16

	resetMu              sync.Mutex
	resetAllCtlsDeferred int

	mmcDevice byte
	mmcMode   BusMode
	sppMode   BusMode
	clockMode BusMode

	clock clockEstimator

	notify *notifyDispatcher

	activated bool
}

// New creates an engine over the session and sequencer client. The
// audio clock may be attached later, before Start.
func New(sess *session.Session, client seq.Client) *Engine {
	e := &Engine{
		sess:       sess,
		client:     client,
		midiCursor: session.NewCursor(),

		// GM drums channel (10), high/low wood sticks.
		metroChannel:      9,
		metroBarNote:      76,
		metroBarVelocity:  96,
		metroBarDuration:  48,
		metroBeatNote:     77,
		metroBeatVelocity: 64,
		metroBeatDuration: 24,

		mmcDevice: 0x7f, // all-caller id
		mmcMode:   Duplex,
		sppMode:   Duplex,
		clockMode: None,
	}
	e.clock.tempo = 120.0
	e.sess.SetRenderer(e)
	return e
}

// Client exposes the backend handle to buses and the export path.
func (e *Engine) Client() seq.Client { return e.client }

// Session returns the session the engine plays.
func (e *Engine) Session() *session.Session { return e.sess }

// SetAudioClock attaches the master audio cursor.
func (e *Engine) SetAudioClock(clock AudioClock) { e.audio = clock }

// SessionCursor returns the engine's own cursor.
func (e *Engine) SessionCursor() *session.Cursor { return e.midiCursor }

// Init prepares the engine: tempo cursor and the control/metronome
// buses. The engine is not yet pumping events.
func (e *Engine) Init() error {
	if e.client == nil {
		return fmt.Errorf("midi engine: no sequencer client")
	}
	e.metroCursor = timescale.NewCursor(e.sess.TimeScale())

	e.notify = newNotifyDispatcher()
	e.notify.start()

	// Open control/metronome buses, at least try...
	e.openControlBus()
	e.openMetroBus()
	return nil
}

// Activate spawns both workers and resets the tickers.
func (e *Engine) Activate() error {
	if e.input != nil || e.output != nil {
		return fmt.Errorf("midi engine: already activated")
	}

	// Open every session bus...
	e.busMu.Lock()
	buses := append([]*MidiBus(nil), e.buses...)
	e.busMu.Unlock()
	for _, bus := range buses {
		if err := bus.Open(); err != nil {
			debug.Log("engine", "bus %q open failed: %v", bus.BusName(), err)
		}
	}

	e.input = newInputWorker(e)
	e.input.start()

	e.output = newOutputWorker(e, 0)
	e.output.start()

	e.setTimeStart(0)
	e.setTimeDrift(0)

	e.resetAllMonitors()

	e.activated = true
	return nil
}

// IsActivated tells whether the workers are running.
func (e *Engine) IsActivated() bool { return e.activated }

// Start arms the queue at the current audio frame and kicks the first
// output window.
func (e *Engine) Start() error {
	if !e.activated {
		return fmt.Errorf("midi engine: not activated")
	}
	if e.output == nil {
		return fmt.Errorf("midi engine: no output worker")
	}

	// Initial output thread bumping...
	cursor := e.output.midiCursorSync(true)
	if cursor == nil {
		return fmt.Errorf("midi engine: no audio clock to sync against")
	}

	// Reset all dependables...
	e.ResetTempo()
	e.resetAllMonitors()

	// Start queue timer...
	e.setTimeStart(int64(e.sess.TickFromFrame(cursor.Frame())))
	e.setTimeDrift(0)

	e.client.StartQueue()

	// Carry on...
	e.output.ProcessSync()

	return nil
}

// Stop drops both queues and shuts every bus off.
func (e *Engine) Stop() {
	if !e.activated {
		return
	}

	e.client.DropInput()
	e.client.DropOutput()
	e.client.StopQueue()

	e.busMu.Lock()
	buses := append([]*MidiBus(nil), e.buses...)
	e.busMu.Unlock()
	for _, bus := range buses {
		bus.ShutOff(false)
	}
}

// Deactivate winds the workers down cooperatively.
func (e *Engine) Deactivate() {
	e.sess.SetPlaying(false)

	if e.input != nil {
		e.input.stop()
	}
	if e.output != nil {
		e.output.stop()
	}
	e.activated = false
}

// Clean releases every resource: buses, ports, workers, notifier.
func (e *Engine) Clean() {
	e.deleteControlBus()
	e.deleteMetroBus()

	e.busMu.Lock()
	buses := e.buses
	e.buses = nil
	e.busMu.Unlock()
	for _, bus := range buses {
		bus.Close()
	}

	if e.output != nil {
		e.output.stop()
		e.output = nil
		e.setTimeStart(0)
		e.setTimeDrift(0)
	}
	if e.input != nil {
		e.input.stop()
		e.input = nil
	}

	e.metroCursor = nil

	if e.notify != nil {
		e.notify.stopDispatch()
		e.notify = nil
	}
}

// Sync wakes the output worker if MIDI is not already read-ahead.
func (e *Engine) Sync() {
	if e.output != nil && e.output.midiCursorSync(false) != nil {
		e.output.Sync()
	}
}

// SetReadAhead adjusts the scheduling window, in frames.
func (e *Engine) SetReadAhead(frames uint32) {
	if e.output != nil {
		e.output.SetReadAhead(frames)
	}
}

func (e *Engine) ReadAhead() uint32 {
	if e.output == nil {
		return 0
	}
	return e.output.ReadAhead()
}

// TrackSync re-renders a track's clips from the given frame up to the
// already-scheduled horizon.
func (e *Engine) TrackSync(t *session.Track, fromFrame uint64) {
	if e.output != nil {
		e.output.TrackSync(t, fromFrame)
	}
}

// MetroSync re-renders metronome and clock events likewise.
func (e *Engine) MetroSync(fromFrame uint64) {
	if e.output != nil {
		e.output.MetroSync(fromFrame)
	}
}

// The delta-time accessors.

func (e *Engine) setTimeStart(t int64) {
	e.timeMu.Lock()
	e.timeStart = t
	e.timeMu.Unlock()
}

func (e *Engine) TimeStart() int64 {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	return e.timeStart
}

func (e *Engine) setTimeDrift(t int64) {
	e.timeMu.Lock()
	e.timeDrift = t
	e.timeMu.Unlock()
}

func (e *Engine) timeDriftValue() int64 {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	return e.timeDrift
}

// queueTick converts an absolute tick into the queue-relative schedule
// tick: the playback origin is subtracted, clamping at zero.
func (e *Engine) queueTick(absTick uint64) uint64 {
	start := e.TimeStart()
	if int64(absTick) > start {
		return absTick - uint64(start)
	}
	return 0
}

// RestartLoop rewinds the scheduling origin by one loop length and
// forgets accumulated drift. Must run before the first post-wrap event
// is scheduled.
func (e *Engine) RestartLoop() {
	if !e.sess.IsLooping() {
		return
	}
	span := int64(e.sess.TickFromFrame(e.sess.LoopEnd())) -
		int64(e.sess.TickFromFrame(e.sess.LoopStart()))
	e.timeMu.Lock()
	e.timeStart -= span
	e.timeDrift = 0
	e.timeMu.Unlock()
}

// ResetTempo reseeds the queue tempo from the tempo node under the
// playhead.
func (e *Engine) ResetTempo() {
	if !e.activated || e.metroCursor == nil {
		return
	}

	e.metroCursor.Reset()
	node := e.metroCursor.SeekFrame(e.sess.PlayHead())

	e.client.SetQueueTempo(e.sess.TicksPerBeat(), uint32(60000000.0/node.Tempo))

	e.metroTempo = node.Tempo

	// MIDI Clock tempo tracking.
	e.clock.reset(node.Tempo)
}

// resetAllMonitors clears every bus and track meter.
func (e *Engine) resetAllMonitors() {
	e.busMu.Lock()
	buses := append([]*MidiBus(nil), e.buses...)
	e.busMu.Unlock()
	for _, bus := range buses {
		if m := bus.MidiMonitorIn(); m != nil {
			m.Reset()
		}
		if m := bus.MidiMonitorOut(); m != nil {
			m.Reset()
		}
	}
	for _, t := range e.sess.Tracks() {
		t.MidiMonitor().Reset()
	}
}

// ResetAllControllers re-sends patch, volume and panning state on
// every bus and track. When not forced the reset is deferred and
// counted, flushed by the next UpdateConnects.
func (e *Engine) ResetAllControllers(force bool) {
	if !force {
		e.resetMu.Lock()
		e.resetAllCtlsDeferred++
		e.resetMu.Unlock()
		return
	}

	e.busMu.Lock()
	buses := append([]*MidiBus(nil), e.buses...)
	e.busMu.Unlock()
	for _, bus := range buses {
		if out := bus.MidiMonitorOut(); out != nil {
			bus.SendSysexList() // SysEx setup!
			bus.SetMasterVolume(out.Gain())
			bus.SetMasterPanning(out.Panning())
		} else if in := bus.MidiMonitorIn(); in != nil {
			bus.SetMasterVolume(in.Gain())
			bus.SetMasterPanning(in.Panning())
		}
	}

	// Track channel bank/program and controllers...
	for _, t := range e.sess.Tracks() {
		if t.Type != session.TrackMidi {
			continue
		}
		bus := e.FindBus(t.OutputBusName)
		if bus == nil {
			continue
		}
		if t.Program >= 0 {
			bus.SetPatch(t.Channel, "", BankSelMSBLSB, t.Bank, t.Program, t)
		}
		bus.SetVolume(t, t.MidiMonitor().Gain())
		bus.SetPanning(t, t.MidiMonitor().Panning())
	}

	e.resetMu.Lock()
	e.resetAllCtlsDeferred = 0
	e.resetMu.Unlock()
}

// IsResetAllControllers tells whether a deferred reset is pending.
func (e *Engine) IsResetAllControllers() bool {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return e.resetAllCtlsDeferred > 0
}

// Flush realizes the buffered output into the scheduled queue.
func (e *Engine) Flush() {
	e.client.DrainOutput()
}

// drift measures the phase offset between the audio clock and the MIDI
// queue clock and corrects it by skewing only the future queue rate.
func (e *Engine) drift() {
	if e.metroCursor == nil || e.audio == nil {
		return
	}

	audioFrame := e.sess.PlayHead()
	node := e.metroCursor.SeekFrame(audioFrame)
	audioTime := int64(node.TickFromFrame(audioFrame))
	midiTime := e.TimeStart() + int64(e.client.QueueTickTime())
	audioFrame += uint64(e.ReadAhead())
	deltaMax := int64(node.TickFromFrame(audioFrame)) - audioTime
	deltaTime := audioTime - midiTime
	drift := e.timeDriftValue()
	if audioTime > deltaMax && midiTime > drift &&
		deltaTime != 0 && deltaTime > -deltaMax && deltaTime < +deltaMax {
		skewBase, skewPrev := e.client.QueueSkew()
		skewNext := uint32(float64(skewBase) *
			float64(audioTime) / float64(midiTime-drift))
		if skewNext != skewPrev {
			e.client.SetQueueSkew(skewBase, skewNext)
		}
		e.setTimeDrift(drift + deltaTime)
		debug.LogEvery(8, "drift",
			"audioTime=%d midiTime=%d (%d) timeDrift=%d (%.2g%%)",
			audioTime, midiTime, deltaTime, drift+deltaTime,
			(100.0*float64(skewNext))/float64(skewBase)-100.0)
	}
}

// Capture/input (record) quantization accessors, in snap-per-beat
// units.

func (e *Engine) SetCaptureQuantize(q uint16) { e.captureQuantize = q }
func (e *Engine) CaptureQuantize() uint16     { return e.captureQuantize }

// MMC device-id accessors.

func (e *Engine) SetMmcDevice(device byte) { e.mmcDevice = device & 0x7f }
func (e *Engine) MmcDevice() byte          { return e.mmcDevice }

// Transport mode accessors.

func (e *Engine) SetMmcMode(m BusMode)   { e.mmcMode = m }
func (e *Engine) MmcMode() BusMode       { return e.mmcMode }
func (e *Engine) SetSppMode(m BusMode)   { e.sppMode = m }
func (e *Engine) SppMode() BusMode       { return e.sppMode }
func (e *Engine) SetClockMode(m BusMode) { e.clockMode = m }
func (e *Engine) ClockMode() BusMode     { return e.clockMode }

// MetroCursor exposes the tempo cursor (output-worker owned while
// playing; export and UI readers build their own).
func (e *Engine) MetroCursor() *timescale.Cursor { return e.metroCursor }
