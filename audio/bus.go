// Package audio is the master-clock side the MIDI engine syncs
// against: a sample cursor, the audio bus registries and an optional
// device-driven clock.
package audio

import "fmt"

// BusMode tells which directions an audio bus serves.
type BusMode int

const (
	None   BusMode = 0
	Input  BusMode = 1
	Output BusMode = 2
	Duplex BusMode = Input | Output
)

// ConnectItem names one remote endpoint of an audio bus connection.
type ConnectItem struct {
	Index      int
	Client     int
	Port       int
	ClientName string
	PortName   string
}

// ConnectList is an ordered connection list.
type ConnectList []*ConnectItem

// Bus is a named group of audio channels with per-direction external
// buffers: Out is what we send to the graph, In is what comes back.
type Bus struct {
	engine   *Engine
	name     string
	mode     BusMode
	channels int

	in  [][]float32
	out [][]float32

	inputs  ConnectList
	outputs ConnectList

	open bool
}

// NewBus creates a closed bus; buffers are allocated on Open.
func NewBus(e *Engine, name string, mode BusMode, channels int) *Bus {
	return &Bus{engine: e, name: name, mode: mode, channels: channels}
}

func (b *Bus) BusName() string  { return b.name }
func (b *Bus) BusMode() BusMode { return b.mode }
func (b *Bus) Channels() int    { return b.channels }

// Open allocates one engine buffer per channel and direction.
func (b *Bus) Open() error {
	if b.engine == nil {
		return fmt.Errorf("audio bus %q: no engine", b.name)
	}
	if b.channels < 1 {
		return fmt.Errorf("audio bus %q: no channels", b.name)
	}
	if b.open {
		return nil
	}
	n := int(b.engine.BufferSize())
	if b.mode&Input != 0 {
		b.in = allocFrames(b.channels, n)
	}
	if b.mode&Output != 0 {
		b.out = allocFrames(b.channels, n)
	}
	b.open = true
	return nil
}

// Close releases the buffers.
func (b *Bus) Close() {
	b.in = nil
	b.out = nil
	b.open = false
}

// IsOpen tells whether buffers are allocated.
func (b *Bus) IsOpen() bool { return b.open }

// In returns the external input buffers (the returns).
func (b *Bus) In() [][]float32 { return b.in }

// Out returns the external output buffers (the sends).
func (b *Bus) Out() [][]float32 { return b.out }

// Inputs and Outputs expose the persisted connection lists.
func (b *Bus) Inputs() *ConnectList  { return &b.inputs }
func (b *Bus) Outputs() *ConnectList { return &b.outputs }

// UpdateConnects populates the list with the current connections of
// one direction (query mode only on audio buses).
func (b *Bus) UpdateConnects(mode BusMode, connects *ConnectList) {
	if mode&Input != 0 {
		*connects = append(*connects, b.inputs...)
	}
	if mode&Output != 0 {
		*connects = append(*connects, b.outputs...)
	}
}

func allocFrames(channels, nframes int) [][]float32 {
	frames := make([][]float32, channels)
	for i := range frames {
		frames[i] = make([]float32, nframes)
	}
	return frames
}
