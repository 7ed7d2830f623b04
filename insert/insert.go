// Package insert implements the insert pseudo-plugin: a send/return
// splice that patches an external processing chain into an audio
// signal path through a private duplex bus.
package insert

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"go-miditrack/audio"
	"go-miditrack/debug"
	"go-miditrack/session"
)

// Pseudo-plugin type name.
const TypeName = "Insert"

// Parameter ranges.
const (
	SendGainMin = 0.0
	SendGainMax = 2.0
	DryWetMin   = 0.0
	DryWetMax   = 1.0
)

// dryWetEpsilon is the audible threshold below which the dry path is
// skipped entirely.
const dryWetEpsilon = 1e-3

// Plugin is one insert instance. Process runs on the audio callback
// and is wait-free: parameters are atomic float snapshots and the
// block kernels are bound once at construction.
type Plugin struct {
	engine    *audio.Engine
	chainName string

	channels int
	bus      *audio.Bus

	sendGain atomic.Uint32 // float32 bits
	dryWet   atomic.Uint32

	processSendGain func(frames [][]float32, nframes int, gain float32)
	processDryWet   func(in, out [][]float32, nframes int, gain float32)

	// Saved connect snapshot, keyed "in_N"/"out_N".
	configs map[string]string
}

// New creates an insert for the given chain with default parameters
// (unity send, fully wet return only) and no bus yet; SetChannels
// completes the instance.
func New(engine *audio.Engine, chainName string) *Plugin {
	p := &Plugin{
		engine:    engine,
		chainName: chainName,
		configs:   make(map[string]string),
	}

	// Custom optimized processors.
	if blockKernels {
		p.processSendGain = blockProcessSendGain
		p.processDryWet = blockProcessDryWet
	} else {
		p.processSendGain = stdProcessSendGain
		p.processDryWet = stdProcessDryWet
	}

	p.SetSendGain(1.0)
	p.SetDryWet(0.0)
	return p
}

// Parameter accessors: non-blocking snapshots of floats.

func (p *Plugin) SetSendGain(gain float32) {
	p.sendGain.Store(math.Float32bits(clamp(gain, SendGainMin, SendGainMax)))
}

func (p *Plugin) SendGain() float32 {
	return math.Float32frombits(p.sendGain.Load())
}

func (p *Plugin) SetDryWet(wet float32) {
	p.dryWet.Store(math.Float32bits(clamp(wet, DryWetMin, DryWetMax)))
}

func (p *Plugin) DryWet() float32 {
	return math.Float32frombits(p.dryWet.Load())
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AudioBus exposes the private bus, nil until channels are set.
func (p *Plugin) AudioBus() *audio.Bus { return p.bus }

// Channels returns the configured channel count.
func (p *Plugin) Channels() int { return p.channels }

// SetChannels lazily (re)constructs the private duplex bus. Unchanged
// counts are a no-op; zero tears the instance down.
func (p *Plugin) SetChannels(channels int) error {
	if channels == p.channels && (channels < 1 || p.bus != nil) {
		return nil
	}
	if p.engine == nil {
		return fmt.Errorf("insert: no audio engine")
	}

	// Cleanup bus...
	if p.bus != nil {
		p.engine.RemoveBusEx(p.bus)
		p.bus.Close()
		p.bus = nil
	}

	p.channels = channels
	if channels < 1 {
		return nil
	}

	debug.Log("insert", "%s: setChannels(%d)", p.chainName, channels)

	// Audio bus name -- it must be unique...
	prefix := session.Sanitize(p.chainName + "/" + TypeName)
	busName := prefix
	for i := 1; p.engine.FindBus(busName) != nil || p.engine.FindBusEx(busName) != nil; {
		i++
		busName = prefix + "_" + strconv.Itoa(i)
	}

	// Create the private audio bus...
	p.bus = audio.NewBus(p.engine, busName, audio.Duplex, channels)

	// Add this one to the engine's exo-bus list, for connection
	// persistence purposes...
	p.engine.AddBusEx(p.bus)

	// Open-up private bus...
	return p.bus.Open()
}

// Process splices one buffer through the send/return loop: in goes
// out to the bus sends (send-gain applied in place), the bus returns
// come back as out, and the dry signal is mixed on top when audible.
func (p *Plugin) Process(in, out [][]float32, nframes int) {
	if p.bus == nil {
		return
	}

	sends := p.bus.Out()  // Sends.
	returns := p.bus.In() // Returns.

	for i := 0; i < p.channels; i++ {
		copy(sends[i][:nframes], in[i][:nframes])
		copy(out[i][:nframes], returns[i][:nframes])
	}

	p.processSendGain(sends, nframes, p.SendGain())

	if wet := p.DryWet(); wet > dryWetEpsilon {
		p.processDryWet(in, out, nframes, wet)
	}
}

// Configure restores one connect snapshot entry: value is
// "index|client|port" with optional "id:" prefixes on the names.
func (p *Plugin) Configure(key, value string) {
	if p.bus == nil {
		return
	}

	parts := strings.SplitN(value, "|", 3)
	if len(parts) < 3 {
		return
	}

	item := &audio.ConnectItem{Client: -1, Port: -1}
	item.Index, _ = strconv.Atoi(parts[0])

	client := parts[1]
	if id, name, ok := strings.Cut(client, ":"); ok {
		item.Client, _ = strconv.Atoi(id)
		item.ClientName = name
	} else {
		item.ClientName = client
	}

	port := parts[2]
	if id, name, ok := strings.Cut(port, ":"); ok {
		item.Port, _ = strconv.Atoi(id)
		item.PortName = name
	} else {
		item.PortName = port
	}

	switch {
	case strings.HasPrefix(key, "in_"):
		*p.bus.Inputs() = append(*p.bus.Inputs(), item)
	case strings.HasPrefix(key, "out_"):
		*p.bus.Outputs() = append(*p.bus.Outputs(), item)
	}
}

// FreezeConfigs snapshots the bus connections into the config map.
func (p *Plugin) FreezeConfigs() {
	p.configs = make(map[string]string)
	p.freezeConfigs(audio.Input)
	p.freezeConfigs(audio.Output)
}

// ReleaseConfigs drops the snapshot once realized.
func (p *Plugin) ReleaseConfigs() {
	p.configs = make(map[string]string)
}

// Configs returns the current snapshot.
func (p *Plugin) Configs() map[string]string { return p.configs }

func (p *Plugin) freezeConfigs(mode audio.BusMode) {
	if p.bus == nil {
		return
	}

	prefix := "out"
	if mode&audio.Input != 0 {
		prefix = "in"
	}

	var connects audio.ConnectList
	p.bus.UpdateConnects(mode, &connects)
	for i, item := range connects {
		var client strings.Builder
		if item.Client >= 0 {
			client.WriteString(strconv.Itoa(item.Client))
			client.WriteByte(':')
		}
		client.WriteString(item.ClientName)
		var port strings.Builder
		if item.Port >= 0 {
			port.WriteString(strconv.Itoa(item.Port))
			port.WriteByte(':')
		}
		port.WriteString(item.PortName)
		key := prefix + "_" + strconv.Itoa(i)
		p.configs[key] = strconv.Itoa(item.Index) + "|" + client.String() + "|" + port.String()
	}
}
