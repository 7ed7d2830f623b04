package engine

import (
	"sync"
	"time"

	"go-miditrack/seq"
)

// CtlEvent is a controller sniffed on the control input bus.
type CtlEvent struct {
	Channel uint8
	Param   uint8
	Value   uint8
}

// SppEvent is a song-position transport message.
type SppEvent struct {
	Cmd     seq.EventType // Start, Stop, Continue or SongPos
	SongPos uint16
}

// TransportListener receives the engine's transport notifications.
// Calls arrive on a dedicated dispatcher goroutine, never from the
// capture path itself, so implementations may block briefly.
type TransportListener interface {
	OnMmc(ev MmcEvent)
	OnCtl(ev CtlEvent)
	OnSpp(ev SppEvent)
	OnClock(tempo float32)
}

// SetTransportListener installs the notification sink.
func (e *Engine) SetTransportListener(l TransportListener) {
	if e.notify != nil {
		e.notify.setListener(l)
	}
}

type notifyKind int

const (
	notifyMmc notifyKind = iota
	notifyCtl
	notifySpp
	notifyClock
)

type notification struct {
	kind  notifyKind
	mmc   MmcEvent
	ctl   CtlEvent
	spp   SppEvent
	tempo float32
}

// notifyDispatcher decouples the capture path from the host: posts are
// non-blocking sends; a single goroutine drains to the listener.
type notifyDispatcher struct {
	ch   chan notification
	done chan struct{}

	mu       sync.Mutex
	listener TransportListener
}

func newNotifyDispatcher() *notifyDispatcher {
	return &notifyDispatcher{
		ch:   make(chan notification, 64),
		done: make(chan struct{}),
	}
}

func (d *notifyDispatcher) start() {
	go func() {
		for {
			select {
			case <-d.done:
				return
			case n := <-d.ch:
				d.mu.Lock()
				l := d.listener
				d.mu.Unlock()
				if l == nil {
					continue
				}
				switch n.kind {
				case notifyMmc:
					l.OnMmc(n.mmc)
				case notifyCtl:
					l.OnCtl(n.ctl)
				case notifySpp:
					l.OnSpp(n.spp)
				case notifyClock:
					l.OnClock(n.tempo)
				}
			}
		}
	}()
}

func (d *notifyDispatcher) setListener(l TransportListener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

func (d *notifyDispatcher) stopDispatch() {
	close(d.done)
}

// post never blocks; a full queue drops the notification.
func (d *notifyDispatcher) post(n notification) {
	select {
	case d.ch <- n:
	default:
	}
}

// clockEstimator tracks incoming 24-ppq clock pulses and averages the
// tempo over three beats (72 pulses).
type clockEstimator struct {
	count int
	tempo float32
	start time.Time
}

func (c *clockEstimator) reset(tempo float32) {
	c.count = 0
	c.tempo = tempo
}

// pulse counts one clock tick; returns a tempo estimate and true when
// a 3-beat window closed with a change beyond the 1% deadband.
func (c *clockEstimator) pulse() (float32, bool) {
	c.count++
	if c.count == 1 {
		c.start = time.Now()
		return 0, false
	}
	if c.count <= 72 { // 3 beat averaging...
		return 0, false
	}
	c.count = 0
	elapsed := time.Since(c.start).Milliseconds()
	if elapsed <= 0 {
		return 0, false
	}
	tempo := float32(int(180000.0 / float32(elapsed)))
	diff := tempo - c.tempo
	if diff < 0 {
		diff = -diff
	}
	if diff/c.tempo > 0.01 {
		c.tempo = tempo
		return tempo, true
	}
	return 0, false
}
