package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"go-miditrack/debug"
	"go-miditrack/session"
)

// Input poll timeout: the worker re-checks its run state this often
// even when no events arrive.
const inputPollTimeout = 200 * time.Millisecond

// inputWorker drains the backend input into the capture pipeline on a
// dedicated goroutine.
type inputWorker struct {
	e        *Engine
	runState atomic.Bool
	done     chan struct{}
}

func newInputWorker(e *Engine) *inputWorker {
	return &inputWorker{e: e, done: make(chan struct{})}
}

func (w *inputWorker) start() {
	w.runState.Store(true)
	go w.run()
}

func (w *inputWorker) run() {
	defer close(w.done)

	debug.Log("input", "worker started")

	client := w.e.client
	for w.runState.Load() {
		// Wait for events...
		if client.Poll(inputPollTimeout) < 1 {
			continue
		}
		for {
			ev, ok := client.EventInput()
			if !ok {
				break
			}
			// Process input event - enqueue to input track mapping.
			w.e.capture(&ev)
		}
	}

	debug.Log("input", "worker stopped")
}

// stop flips the run state and joins with bounded retries.
func (w *inputWorker) stop() {
	for {
		w.runState.Store(false)
		select {
		case <-w.done:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// outputWorker runs one output process cycle per wake while the
// session plays. External sync requests serialize on its mutex;
// Sync() is a non-blocking try-lock wake so realtime callers never
// stall on a busy worker.
type outputWorker struct {
	e *Engine

	mu   sync.Mutex
	wake chan struct{}
	done chan struct{}

	// readAhead is read on the realtime Sync path without the mutex.
	readAhead atomic.Uint32

	runState   bool
	driftCheck uint
}

func newOutputWorker(e *Engine, readAhead uint32) *outputWorker {
	if readAhead < 1 {
		readAhead = e.sess.SampleRate() >> 1
	}
	w := &outputWorker{
		e:    e,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	w.readAhead.Store(readAhead)
	return w
}

func (w *outputWorker) start() {
	w.mu.Lock()
	w.runState = true
	w.mu.Unlock()
	go w.run()
}

func (w *outputWorker) run() {
	defer close(w.done)

	debug.Log("output", "worker started")

	for {
		// Wait for sync...
		<-w.wake

		w.mu.Lock()
		if !w.runState {
			w.mu.Unlock()
			break
		}
		// Only if playing, the output process cycle.
		if w.e.sess.IsPlaying() {
			w.process()
		}
		w.mu.Unlock()
	}

	debug.Log("output", "worker stopped")
}

// stop flips the run state, wakes the worker and joins with bounded
// retries.
func (w *outputWorker) stop() {
	for {
		w.mu.Lock()
		w.runState = false
		w.mu.Unlock()
		w.Sync()
		select {
		case <-w.done:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Read ahead frames configuration.

func (w *outputWorker) SetReadAhead(frames uint32) {
	w.mu.Lock()
	w.readAhead.Store(frames)
	w.mu.Unlock()
}

func (w *outputWorker) ReadAhead() uint32 {
	return w.readAhead.Load()
}

// midiCursorSync is the audio/MIDI sync-check predicate: nil when the
// MIDI cursor ran ahead of audio by more than the read-ahead window.
func (w *outputWorker) midiCursorSync(start bool) *session.Cursor {
	// We'll need access to master audio engine...
	audio := w.e.audio
	if audio == nil {
		return nil
	}
	cursor := w.e.midiCursor
	if cursor == nil {
		return nil
	}

	if start {
		cursor.Seek(audio.Frame())
		w.driftCheck = 0
		return cursor
	}
	// No, it cannot be ahead more than the read-ahead period...
	if cursor.FrameTime() > audio.FrameTime()+uint64(w.ReadAhead()) {
		return nil
	}
	return cursor
}

// Sync wakes the executive without blocking: a busy worker just means
// the next window catches up.
func (w *outputWorker) Sync() {
	if w.mu.TryLock() {
		select {
		case w.wake <- struct{}{}:
		default:
		}
		w.mu.Unlock()
	} else {
		debug.LogEvery(16, "output", "sync(): tryLock() failed")
	}
}

// ProcessSync runs one output cycle with the caller blocked.
func (w *outputWorker) ProcessSync() {
	w.mu.Lock()
	w.process()
	w.mu.Unlock()
}

// process renders one read-ahead window of events into the queue.
func (w *outputWorker) process() {
	e := w.e

	// Isn't MIDI slightly ahead of audio?
	cursor := w.midiCursorSync(false)
	if cursor == nil {
		return
	}

	// Now for the next readahead bunch...
	readAhead := uint64(w.ReadAhead())
	fStart := cursor.Frame()
	fEnd := fStart + readAhead

	debug.LogEvery(16, "output", "process(%d, %d)", fStart, fEnd)

	sess := e.sess
	// Split processing, in case we're looping...
	if sess.IsLooping() && fStart < sess.LoopEnd() {
		// Loop-length might be shorter than the read-ahead...
		for fEnd >= sess.LoopEnd() {
			// Process metronome clicks...
			e.processMetro(fStart, sess.LoopEnd())
			// Process the remaining until end-of-loop...
			sess.Process(cursor, fStart, sess.LoopEnd())
			// Reset to start-of-loop...
			fStart = sess.LoopStart()
			fEnd = fStart + (fEnd - sess.LoopEnd())
			cursor.Seek(fStart)
			// This is really a must...
			e.RestartLoop()
		}
	}

	// Process metronome clicks...
	e.processMetro(fStart, fEnd)
	// Regular range...
	sess.Process(cursor, fStart, fEnd)

	// Sync with loop boundaries (unlikely?)...
	if sess.IsLooping() && fStart < sess.LoopEnd() && fEnd >= sess.LoopEnd() {
		fEnd = sess.LoopStart() + (fEnd - sess.LoopEnd())
	}

	// Sync to the next bunch, also critical for Audio-MIDI sync...
	cursor.Seek(fEnd)
	cursor.Process(readAhead)

	// Flush the MIDI engine output queue...
	e.Flush()

	// Always do the queue drift stats at the bottom of the pack...
	w.driftCheck++
	if w.driftCheck > 8 {
		e.drift()
		w.driftCheck = 0
	}
}

// TrackSync re-renders one track's clips from fromFrame up to the
// frame already scheduled, splitting across a loop wrap when the
// worker got caught mid-loop.
func (w *outputWorker) TrackSync(t *session.Track, fromFrame uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.e
	cursor := e.midiCursor
	if cursor == nil {
		return
	}

	// This is the last framestamp to be thrown out...
	frameEnd := cursor.Frame()

	debug.Log("output", "trackSync(%s, %d, %d)", t.Name, fromFrame, frameEnd)

	sess := e.sess
	// Split processing, in case we've been caught looping...
	if sess.IsLooping() && frameEnd < fromFrame {
		ls, le := sess.LoopStart(), sess.LoopEnd()
		if fromFrame < le {
			timeStart := e.TimeStart()
			e.setTimeStart(timeStart +
				int64(sess.TickFromFrame(le)) - int64(sess.TickFromFrame(ls)))
			w.trackClipSync(t, fromFrame, le)
			e.setTimeStart(timeStart)
			fromFrame = ls
		}
	}

	// Do normal sequence...
	w.trackClipSync(t, fromFrame, frameEnd)

	// Surely must realize the output queue...
	e.Flush()
}

func (w *outputWorker) trackClipSync(t *session.Track, fStart, fEnd uint64) {
	// Locate the immediate nearest clip in track and render them all
	// thereafter, immediately...
	for _, c := range t.Clips() {
		if c.Start >= fEnd {
			break
		}
		if fStart < c.End() {
			w.e.renderClip(t, c, fStart, fEnd)
		}
	}
}

// MetroSync re-renders the metronome events from fromFrame up to the
// frame already scheduled.
func (w *outputWorker) MetroSync(fromFrame uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.e
	cursor := e.midiCursor
	if cursor == nil {
		return
	}

	// This is the last framestamp to be thrown out...
	frameEnd := cursor.Frame()

	debug.Log("output", "metroSync(%d, %d)", fromFrame, frameEnd)

	// (Re)process the metronome stuff...
	e.processMetro(fromFrame, frameEnd)

	// Surely must realize the output queue...
	e.Flush()
}
