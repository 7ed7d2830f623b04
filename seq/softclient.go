package seq

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"go-miditrack/debug"
)

// Client ids mimic system sequencer numbering: application clients
// start at 128, the pseudo system client is 0.
const (
	systemClient  = 0
	softClientID  = 128
	skewBaseValue = 0x10000
)

// SoftClient is the in-process sequencer: one duplex client with one
// scheduled output queue. Remote endpoints are either bridged MIDI
// hardware ports or virtual channel-backed endpoints.
type SoftClient struct {
	name string

	mu       sync.Mutex
	ports    map[int]*softPort
	nextPort int

	remotes map[Addr]*remoteEndpoint
	subs    []subscription

	queue *softQueue

	// Input queue; pending holds the event peeked off by Poll.
	in         chan Event
	pending    []Event
	inMu       sync.Mutex
	announceCh chan PortChange

	closed bool
}

type softPort struct {
	id           int
	name         string
	caps         PortCap
	timestamping bool
}

type subscription struct {
	sender Addr
	dest   Addr
}

// NewSoftClient creates a sequencer client with an allocated, stopped
// queue at 120 bpm, 960 ppq.
func NewSoftClient(name string) *SoftClient {
	c := &SoftClient{
		name:       name,
		ports:      make(map[int]*softPort),
		remotes:    make(map[Addr]*remoteEndpoint),
		in:         make(chan Event, 1024),
		announceCh: make(chan PortChange, 64),
	}
	c.queue = newSoftQueue(c)
	return c
}

func (c *SoftClient) ClientID() int      { return softClientID }
func (c *SoftClient) ClientName() string { return c.name }

// CreatePort registers a named port. Names are unique per client.
func (c *SoftClient) CreatePort(name string, caps PortCap) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, fmt.Errorf("create port %q: client closed", name)
	}
	for _, p := range c.ports {
		if p.name == name {
			return -1, fmt.Errorf("create port: name %q already in use", name)
		}
	}
	id := c.nextPort
	c.nextPort++
	c.ports[id] = &softPort{id: id, name: name, caps: caps}
	c.post(PortChange{Kind: PortCreated, Addr: Addr{softClientID, id}, Name: name})
	return id, nil
}

// DeletePort drops the port and every subscription it takes part in.
func (c *SoftClient) DeletePort(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return fmt.Errorf("delete port: no port %d", port)
	}
	delete(c.ports, port)
	addr := Addr{softClientID, port}
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.sender == addr || s.dest == addr {
			c.dropBridgeLocked(s)
			continue
		}
		kept = append(kept, s)
	}
	c.subs = kept
	c.post(PortChange{Kind: PortDeleted, Addr: addr, Name: p.name})
	return nil
}

func (c *SoftClient) SetPortTimestamping(port int, enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return fmt.Errorf("timestamping: no port %d", port)
	}
	p.timestamping = enable
	return nil
}

// Endpoints lists the remote endpoints carrying all requested caps,
// excluding no-export ones.
func (c *SoftClient) Endpoints(caps PortCap) []Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Endpoint
	for _, r := range c.remotes {
		if r.info.Caps&CapNoExport != 0 {
			continue
		}
		if r.info.Caps&caps == caps {
			out = append(out, r.info)
		}
	}
	return out
}

// Subscribe wires our port to a remote endpoint. For Input the remote
// is the sender; for Output the remote is the destination.
func (c *SoftClient) Subscribe(port int, remote Addr, dir Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ports[port]; !ok {
		return fmt.Errorf("subscribe: no port %d", port)
	}
	r, ok := c.remotes[remote]
	if !ok {
		return fmt.Errorf("subscribe: no endpoint %d:%d", remote.Client, remote.Port)
	}
	own := Addr{softClientID, port}
	s := subscription{sender: remote, dest: own}
	if dir == Output {
		s = subscription{sender: own, dest: remote}
	}
	for _, have := range c.subs {
		if have == s {
			return nil // already connected
		}
	}
	if err := c.raiseBridgeLocked(s, r); err != nil {
		return err
	}
	c.subs = append(c.subs, s)
	c.post(PortChange{Kind: PortSubscribed, Addr: remote, Name: r.info.PortName})
	return nil
}

func (c *SoftClient) Unsubscribe(port int, remote Addr, dir Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	own := Addr{softClientID, port}
	want := subscription{sender: remote, dest: own}
	if dir == Output {
		want = subscription{sender: own, dest: remote}
	}
	for i, s := range c.subs {
		if s == want {
			c.dropBridgeLocked(s)
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			c.post(PortChange{Kind: PortUnsubscribed, Addr: remote})
			return nil
		}
	}
	return fmt.Errorf("unsubscribe: %d:%d not connected", remote.Client, remote.Port)
}

// Subscriptions resolves the remote side of every subscription of the
// given port and direction.
func (c *SoftClient) Subscriptions(port int, dir Direction) []Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	own := Addr{softClientID, port}
	var out []Endpoint
	for _, s := range c.subs {
		var remote Addr
		switch {
		case dir == Input && s.dest == own:
			remote = s.sender
		case dir == Output && s.sender == own:
			remote = s.dest
		default:
			continue
		}
		if r, ok := c.remotes[remote]; ok {
			out = append(out, r.info)
		}
	}
	return out
}

// post emits a port-graph change; dropped when nobody drains.
func (c *SoftClient) post(pc PortChange) {
	select {
	case c.announceCh <- pc:
	default:
	}
}

func (c *SoftClient) Announce() <-chan PortChange { return c.announceCh }

// deliverInput pushes an arriving event into the input queue,
// tick-stamping it when the destination port asks for that.
func (c *SoftClient) deliverInput(ev Event) {
	c.mu.Lock()
	p, ok := c.ports[ev.Dest.Port]
	stamp := ok && p.timestamping
	c.mu.Unlock()
	if !ok {
		return
	}
	if stamp {
		ev.Tick = c.queue.tickTime()
	}
	select {
	case c.in <- ev:
	default:
		debug.LogEvery(64, "seq", "input overrun, event dropped")
	}
}

// Poll waits until input is pending, up to the timeout. Returns the
// number of readable events (0 on timeout).
func (c *SoftClient) Poll(timeout time.Duration) int {
	c.inMu.Lock()
	if n := len(c.pending) + len(c.in); n > 0 {
		c.inMu.Unlock()
		return n
	}
	c.inMu.Unlock()

	select {
	case ev, ok := <-c.in:
		if !ok {
			return 0
		}
		c.inMu.Lock()
		c.pending = append(c.pending, ev)
		n := len(c.pending) + len(c.in)
		c.inMu.Unlock()
		return n
	case <-time.After(timeout):
		return 0
	}
}

// EventInput pops one pending input event without blocking.
func (c *SoftClient) EventInput() (Event, bool) {
	c.inMu.Lock()
	if len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		c.inMu.Unlock()
		return ev, true
	}
	c.inMu.Unlock()
	select {
	case ev := <-c.in:
		return ev, true
	default:
		return Event{}, false
	}
}

func (c *SoftClient) EventInputPending() int {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	return len(c.pending) + len(c.in)
}

func (c *SoftClient) DropInput() {
	c.inMu.Lock()
	c.pending = nil
	c.inMu.Unlock()
	for {
		select {
		case <-c.in:
		default:
			return
		}
	}
}

// Output side: scheduled events buffer until DrainOutput realizes them
// into the queue; direct events dispatch at once.

func (c *SoftClient) EventOutput(ev Event)             { c.queue.output(ev) }
func (c *SoftClient) EventOutputDirect(ev Event)       { c.dispatch(ev) }
func (c *SoftClient) DrainOutput()                     { c.queue.drain() }
func (c *SoftClient) DropOutput()                      { c.queue.drop() }
func (c *SoftClient) RemoveOutput(m func(*Event) bool) { c.queue.remove(m) }

func (c *SoftClient) StartQueue() { c.queue.start() }
func (c *SoftClient) StopQueue()  { c.queue.stop() }

func (c *SoftClient) SetQueueTempo(ppq uint16, microsPerBeat uint32) {
	c.queue.setTempo(ppq, microsPerBeat)
}

func (c *SoftClient) QueueTempo() (uint16, uint32) { return c.queue.tempo() }

func (c *SoftClient) SetQueueSkew(base, value uint32) { c.queue.setSkew(base, value) }
func (c *SoftClient) QueueSkew() (uint32, uint32)     { return c.queue.skew() }
func (c *SoftClient) QueueTickTime() uint64           { return c.queue.tickTime() }

// dispatch fans a due or direct event out to its destinations.
func (c *SoftClient) dispatch(ev Event) {
	// Queue tempo events are consumed by the queue itself.
	if ev.Type == Tempo {
		ppq, _ := c.queue.tempo()
		c.queue.setTempo(ppq, uint32(ev.Value))
		return
	}

	c.mu.Lock()
	var targets []*remoteEndpoint
	if ev.Dest != (Addr{}) && ev.Dest.Client != softClientID {
		if r, ok := c.remotes[ev.Dest]; ok {
			targets = append(targets, r)
		}
	} else {
		for _, s := range c.subs {
			if s.sender != ev.Source {
				continue
			}
			if s.dest.Client == softClientID {
				// Loopback to one of our own ports.
				lev := ev
				lev.Dest = s.dest
				c.mu.Unlock()
				c.deliverInput(lev)
				c.mu.Lock()
				continue
			}
			if r, ok := c.remotes[s.dest]; ok {
				targets = append(targets, r)
			}
		}
	}
	c.mu.Unlock()

	for _, r := range targets {
		r.deliver(ev)
	}
}

// Close tears the scheduler down and closes every bridged endpoint.
func (c *SoftClient) Close() error {
	c.queue.shutdown()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, s := range c.subs {
		c.dropBridgeLocked(s)
	}
	c.subs = nil
	for _, r := range c.remotes {
		r.close()
	}
	c.remotes = make(map[Addr]*remoteEndpoint)
	return nil
}

// heap of scheduled events, ordered by tick then insertion sequence so
// equal-tick events keep enqueue order.
type schedEvent struct {
	ev  Event
	seq uint64
}

type eventHeap []schedEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].ev.Tick != h[j].ev.Tick {
		return h[i].ev.Tick < h[j].ev.Tick
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(schedEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var _ heap.Interface = (*eventHeap)(nil)
