// Package chain manages per-bus and per-track MIDI plugin chains: the
// ordered processors that shadow every direct or queued backend event.
package chain

import (
	"sync"

	"go-miditrack/seq"
)

// Processor shadows backend events flowing through a bus or track.
// Direct sees unscheduled deliveries, Queued sees scheduled ones.
type Processor interface {
	Direct(ev *seq.Event)
	Queued(ev *seq.Event)
}

// Resetter is implemented by processors holding playback state.
type Resetter interface {
	Reset()
}

// Chain is an ordered processor list. All methods are safe from the
// capture and output workers.
type Chain struct {
	mu    sync.RWMutex
	name  string
	procs []Processor
}

// New creates a named empty chain.
func New(name string) *Chain {
	return &Chain{name: name}
}

func (c *Chain) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *Chain) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Append adds a processor at the end of the chain.
func (c *Chain) Append(p Processor) {
	c.mu.Lock()
	c.procs = append(c.procs, p)
	c.mu.Unlock()
}

// Remove drops a processor from the chain.
func (c *Chain) Remove(p Processor) {
	c.mu.Lock()
	for i, have := range c.procs {
		if have == p {
			c.procs = append(c.procs[:i], c.procs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// Direct feeds an unscheduled event to every processor.
func (c *Chain) Direct(ev *seq.Event) {
	c.mu.RLock()
	procs := c.procs
	c.mu.RUnlock()
	for _, p := range procs {
		p.Direct(ev)
	}
}

// Queued feeds a scheduled event to every processor.
func (c *Chain) Queued(ev *seq.Event) {
	c.mu.RLock()
	procs := c.procs
	c.mu.RUnlock()
	for _, p := range procs {
		p.Queued(ev)
	}
}

// Reset clears playback state on every processor that keeps any.
func (c *Chain) Reset() {
	c.mu.RLock()
	procs := c.procs
	c.mu.RUnlock()
	for _, p := range procs {
		if r, ok := p.(Resetter); ok {
			r.Reset()
		}
	}
}
