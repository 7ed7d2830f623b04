package audio

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"

	"go-miditrack/debug"
)

// Engine owns the master sample clock and the audio bus registries.
// The session cursor can be driven two ways: by the real audio device
// through Start, or manually through Advance when the process slaves
// to an external clock (tests do the latter).
type Engine struct {
	sampleRate uint32
	bufferSize uint32

	frame     atomic.Uint64
	frameTime atomic.Uint64

	mu      sync.Mutex
	buses   []*Bus
	exBuses []*Bus // auxiliary buses (insert sends), persisted apart

	otoCtx    *oto.Context
	otoPlayer *oto.Player
}

// NewEngine creates an engine with a stopped clock.
func NewEngine(sampleRate, bufferSize uint32) *Engine {
	return &Engine{sampleRate: sampleRate, bufferSize: bufferSize}
}

func (e *Engine) SampleRate() uint32 { return e.sampleRate }
func (e *Engine) BufferSize() uint32 { return e.bufferSize }

// Frame returns the master cursor position.
func (e *Engine) Frame() uint64 { return e.frame.Load() }

// FrameTime returns the monotonic processed-frame count.
func (e *Engine) FrameTime() uint64 { return e.frameTime.Load() }

// Seek repositions the cursor frame without touching frame time.
func (e *Engine) Seek(frame uint64) { e.frame.Store(frame) }

// Advance moves the clock by one processed window (slave mode).
func (e *Engine) Advance(frames uint64) {
	e.frame.Add(frames)
	e.frameTime.Add(frames)
}

// Session bus registry.

func (e *Engine) AddBus(b *Bus) {
	e.mu.Lock()
	e.buses = append(e.buses, b)
	e.mu.Unlock()
}

func (e *Engine) RemoveBus(b *Bus) {
	e.mu.Lock()
	for i, have := range e.buses {
		if have == b {
			e.buses = append(e.buses[:i], e.buses[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

func (e *Engine) FindBus(name string) *Bus {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.buses {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Auxiliary bus registry: private buses owned by plugins, kept apart
// for connection persistence.

func (e *Engine) AddBusEx(b *Bus) {
	e.mu.Lock()
	e.exBuses = append(e.exBuses, b)
	e.mu.Unlock()
}

func (e *Engine) RemoveBusEx(b *Bus) {
	e.mu.Lock()
	for i, have := range e.exBuses {
		if have == b {
			e.exBuses = append(e.exBuses[:i], e.exBuses[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

func (e *Engine) FindBusEx(name string) *Bus {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.exBuses {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Start opens the audio device and lets it drive the master clock.
func (e *Engine) Start() error {
	if e.otoCtx != nil {
		return nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(e.sampleRate),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	<-ready
	e.otoCtx = ctx
	e.otoPlayer = ctx.NewPlayer(&clockStream{engine: e})
	e.otoPlayer.Play()
	debug.Log("audio", "clock started at %d Hz", e.sampleRate)
	return nil
}

// Stop halts the device clock; Advance keeps working.
func (e *Engine) Stop() {
	if e.otoPlayer != nil {
		e.otoPlayer.Close()
		e.otoPlayer = nil
	}
	e.otoCtx = nil
}

// clockStream feeds the device silence and advances the master cursor
// by however many frames the device consumed.
type clockStream struct {
	engine *Engine
}

const clockFrameBytes = 2 * 4 // stereo float32

func (s *clockStream) Read(p []byte) (int, error) {
	n := len(p) - len(p)%clockFrameBytes
	if n == 0 {
		return 0, io.ErrShortBuffer
	}
	for i := 0; i < n; i++ {
		p[i] = 0
	}
	s.engine.Advance(uint64(n / clockFrameBytes))
	return n, nil
}
