package engine

import (
	"fmt"
	"sync"

	"go-miditrack/chain"
	"go-miditrack/debug"
	"go-miditrack/event"
	"go-miditrack/monitor"
	"go-miditrack/seq"
	"go-miditrack/session"
)

// Bank select methods.
const (
	BankSelMSBLSB = 0 // CC#0 then CC#32
	BankSelMSB    = 1 // CC#0 only
	BankSelLSB    = 2 // CC#32 only
)

// Patch selects an instrument sound on one channel.
type Patch struct {
	InstrumentName string
	BankSelMethod  int
	Bank           int
	Program        int
}

// ConnectItem names one remote endpoint of a bus connection.
type ConnectItem struct {
	Client     int
	Port       int
	ClientName string
	PortName   string
}

// ConnectList is an ordered connection list.
type ConnectList []*ConnectItem

// FindItem matches by display names; ids are resolved later.
func (l ConnectList) FindItem(item ConnectItem) *ConnectItem {
	for _, have := range l {
		if have.ClientName == item.ClientName && have.PortName == item.PortName {
			return have
		}
	}
	return nil
}

// MidiBus is a named set of sequencer ports: one duplex port shared by
// both directions, with per-direction monitors and plugin chains and
// an output SysEx setup list.
type MidiBus struct {
	engine *Engine

	name     string
	mode     BusMode
	passthru bool

	port int // backend port id; -1 while closed

	iMonitor *monitor.MidiMonitor
	oMonitor *monitor.MidiMonitor
	iChain   *chain.Chain
	oChain   *chain.Chain

	sysexList *SysexList

	instrumentName string

	// Connections loaded from the document, pending until the
	// endpoints resolve.
	pendingInputs  ConnectList
	pendingOutputs ConnectList

	// Plugin chain contents as persisted; instantiation is host-side.
	docInputPlugins  []string
	docOutputPlugins []string

	patchMu sync.Mutex
	patches map[uint8]Patch
}

// NewMidiBus creates a bus; resources for each direction are allocated
// by mode.
func NewMidiBus(e *Engine, name string, mode BusMode, passthru bool) *MidiBus {
	b := &MidiBus{
		engine:   e,
		name:     name,
		mode:     mode,
		passthru: passthru,
		port:     -1,
		patches:  make(map[uint8]Patch),
	}
	if mode&Input != 0 {
		b.iMonitor = monitor.New()
		b.iChain = chain.New(name + " In")
	}
	if mode&Output != 0 {
		b.oMonitor = monitor.New()
		b.oChain = chain.New(name + " Out")
		b.sysexList = NewSysexList()
	}
	return b
}

func (b *MidiBus) BusName() string  { return b.name }
func (b *MidiBus) BusMode() BusMode { return b.mode }

func (b *MidiBus) IsPassthru() bool      { return b.passthru }
func (b *MidiBus) SetPassthru(thru bool) { b.passthru = thru }

// Port returns the backend port id, -1 while closed.
func (b *MidiBus) Port() int { return b.port }

// Open registers the bus port. The very same port serves input and
// output on a duplex bus.
func (b *MidiBus) Open() error {
	e := b.engine
	if e == nil || e.client == nil {
		return fmt.Errorf("bus %q: no sequencer client", b.name)
	}
	if b.port >= 0 {
		return nil
	}

	var caps seq.PortCap
	if b.mode&Input != 0 {
		caps |= seq.CapWrite | seq.CapSubsWrite
	}
	if b.mode&Output != 0 {
		caps |= seq.CapRead | seq.CapSubsRead
	}

	port, err := e.client.CreatePort(b.name, caps)
	if err != nil {
		return fmt.Errorf("bus %q: %w", b.name, err)
	}
	b.port = port

	// We want arriving events stamped with queue ticks...
	if b.mode&Input != 0 {
		if err := e.client.SetPortTimestamping(port, true); err != nil {
			return fmt.Errorf("bus %q: %w", b.name, err)
		}
	}

	return nil
}

// Close shuts the channels off and destroys the port.
func (b *MidiBus) Close() {
	e := b.engine
	if e == nil || e.client == nil || b.port < 0 {
		return
	}

	b.ShutOff(true)

	e.client.DeletePort(b.port)
	b.port = -1
}

// UpdateBusMode reallocates the per-direction resources after a mode
// change, preserving whatever the retained side already had.
func (b *MidiBus) UpdateBusMode(mode BusMode) {
	b.mode = mode

	// Have a new/old input side?
	if mode&Input != 0 {
		if b.iMonitor == nil {
			b.iMonitor = monitor.New()
		}
		if b.iChain == nil {
			b.iChain = chain.New(b.name + " In")
		}
	} else {
		b.iMonitor = nil
		b.iChain = nil
	}

	// Have a new/old output side?
	if mode&Output != 0 {
		if b.oMonitor == nil {
			b.oMonitor = monitor.New()
		}
		if b.oChain == nil {
			b.oChain = chain.New(b.name + " Out")
		}
		if b.sysexList == nil {
			b.sysexList = NewSysexList()
		}
	} else {
		b.oMonitor = nil
		b.oChain = nil
		b.sysexList = nil
	}
}

// ShutOff sweeps every channel present in the patch map: all sound
// off, all notes off, and on close all controllers off. Safe to call
// repeatedly.
func (b *MidiBus) ShutOff(closing bool) {
	if b.engine == nil || b.engine.client == nil || b.port < 0 {
		return
	}

	b.patchMu.Lock()
	channels := make([]uint8, 0, len(b.patches))
	for ch := range b.patches {
		channels = append(channels, ch)
	}
	b.patchMu.Unlock()

	for _, ch := range channels {
		b.setControllerEx(ch, AllSoundOff, 0, nil)
		b.setControllerEx(ch, AllNotesOff, 0, nil)
		if closing {
			b.setControllerEx(ch, AllControllersOff, 0, nil)
		}
	}
}

// Monitor and chain accessors.

func (b *MidiBus) MidiMonitorIn() *monitor.MidiMonitor  { return b.iMonitor }
func (b *MidiBus) MidiMonitorOut() *monitor.MidiMonitor { return b.oMonitor }
func (b *MidiBus) ChainIn() *chain.Chain                { return b.iChain }
func (b *MidiBus) ChainOut() *chain.Chain               { return b.oChain }

// Default instrument name accessors.

func (b *MidiBus) SetInstrumentName(name string) { b.instrumentName = name }
func (b *MidiBus) InstrumentName() string        { return b.instrumentName }

// SysexList returns the output setup list, nil on input-only buses.
func (b *MidiBus) SysexList() *SysexList { return b.sysexList }

// Patches returns a snapshot of the channel patch map.
func (b *MidiBus) Patches() map[uint8]Patch {
	b.patchMu.Lock()
	defer b.patchMu.Unlock()
	out := make(map[uint8]Patch, len(b.patches))
	for ch, p := range b.patches {
		out[ch] = p
	}
	return out
}

// Patch returns the entry for a channel.
func (b *MidiBus) Patch(channel uint8) (Patch, bool) {
	b.patchMu.Lock()
	defer b.patchMu.Unlock()
	p, ok := b.patches[channel&0x0f]
	return p, ok
}

// SetPatch records a channel patch and immediately emits the bank
// select and program change sequence for it. The optional track's
// plugin chain shadows the events too.
func (b *MidiBus) SetPatch(channel uint8, instrumentName string,
	bankSelMethod, bank, prog int, t *session.Track) {

	// Sanity check.
	if prog < 0 {
		return
	}

	e := b.engine
	if e == nil {
		return
	}

	debug.Log("bus", "%s: setPatch(%d, %q, %d, %d, %d)",
		b.name, channel, instrumentName, bankSelMethod, bank, prog)

	// Update patch mapping...
	if instrumentName != "" {
		b.patchMu.Lock()
		b.patches[channel&0x0f] = Patch{
			InstrumentName: instrumentName,
			BankSelMethod:  bankSelMethod,
			Bank:           bank,
			Program:        prog,
		}
		b.patchMu.Unlock()
	}

	// Don't do anything else if engine has no open port yet...
	if e.client == nil || b.port < 0 {
		return
	}

	var trackChain *chain.Chain
	if t != nil {
		trackChain = t.Chain()
	}

	direct := func(ev seq.Event) {
		e.client.EventOutputDirect(ev)
		if trackChain != nil {
			trackChain.Direct(&ev)
		}
		if b.oChain != nil {
			b.oChain.Direct(&ev)
		}
	}

	source := seq.Addr{Client: e.client.ClientID(), Port: b.port}

	// Select Bank MSB.
	if bank >= 0 && (bankSelMethod == BankSelMSBLSB || bankSelMethod == BankSelMSB) {
		value := bank & 0x007f
		if bankSelMethod == BankSelMSBLSB {
			value = (bank & 0x3f80) >> 7
		}
		direct(seq.Event{
			Type: seq.Controller, Direct: true, Source: source,
			Channel: channel, Param: BankSelectMSB, Value: value,
		})
	}

	// Select Bank LSB.
	if bank >= 0 && (bankSelMethod == BankSelMSBLSB || bankSelMethod == BankSelLSB) {
		direct(seq.Event{
			Type: seq.Controller, Direct: true, Source: source,
			Channel: channel, Param: BankSelectLSB, Value: bank & 0x007f,
		})
	}

	// Program change...
	direct(seq.Event{
		Type: seq.PgmChange, Direct: true, Source: source,
		Channel: channel, Value: prog,
	})
}

// SetController sends a direct controller on a track's channel.
func (b *MidiBus) SetController(t *session.Track, controller, value int) {
	b.setControllerEx(t.Channel, controller, value, t)
}

// SetControllerChannel sends a direct controller on a raw channel.
func (b *MidiBus) SetControllerChannel(channel uint8, controller, value int) {
	b.setControllerEx(channel, controller, value, nil)
}

func (b *MidiBus) setControllerEx(channel uint8, controller, value int, t *session.Track) {
	e := b.engine
	if e == nil || e.client == nil || b.port < 0 {
		return
	}

	ev := seq.Event{
		Type:    seq.Controller,
		Direct:  true,
		Source:  seq.Addr{Client: e.client.ClientID(), Port: b.port},
		Channel: channel,
		Param:   controller,
		Value:   value,
	}
	e.client.EventOutputDirect(ev)

	// Do it for the MIDI plugins too...
	if t != nil {
		t.Chain().Direct(&ev)
	}
	if b.oChain != nil {
		b.oChain.Direct(&ev)
	}
}

// SendNote sends a direct note on/off on the track's channel and feeds
// the output meters on note-on.
func (b *MidiBus) SendNote(t *session.Track, note, velocity int) {
	e := b.engine
	if e == nil || e.client == nil || b.port < 0 {
		return
	}

	typ := seq.NoteOn
	if velocity <= 0 {
		typ = seq.NoteOff
	}
	ev := seq.Event{
		Type:    typ,
		Direct:  true,
		Source:  seq.Addr{Client: e.client.ClientID(), Port: b.port},
		Channel: t.Channel,
		Param:   note,
		Value:   velocity,
	}
	e.client.EventOutputDirect(ev)

	t.Chain().Direct(&ev)
	if b.oChain != nil {
		b.oChain.Direct(&ev)
	}

	if velocity > 0 {
		if b.oMonitor != nil {
			b.oMonitor.EnqueueDirect(event.NoteOn, uint8(velocity))
		}
		t.MidiMonitor().EnqueueDirect(event.NoteOn, uint8(velocity))
	}
}

// SendSysex sends a direct system-exclusive message, framing included.
func (b *MidiBus) SendSysex(data []byte) {
	e := b.engine
	if e == nil || e.client == nil || b.port < 0 {
		return
	}
	e.client.EventOutputDirect(seq.Event{
		Type:   seq.SysEx,
		Direct: true,
		Source: seq.Addr{Client: e.client.ClientID(), Port: b.port},
		Data:   data,
	})
}

// SendSysexList pumps the whole setup list out through the scheduled
// path and flushes.
func (b *MidiBus) SendSysexList() {
	if b.sysexList == nil || b.sysexList.Len() < 1 {
		return
	}
	e := b.engine
	if e == nil || e.client == nil || b.port < 0 {
		return
	}

	source := seq.Addr{Client: e.client.ClientID(), Port: b.port}
	for _, sx := range b.sysexList.Items() {
		e.client.EventOutput(seq.Event{
			Type:   seq.SysEx,
			Source: source,
			Data:   sx.Data(),
		})
	}
	e.Flush()
}

// MIDI master volume: universal SysEx, coarse value in byte 6.
func (b *MidiBus) SetMasterVolume(volume float32) {
	vol := byte(int(127.0*volume) & 0x7f)
	sysex := []byte{0xf0, 0x7f, 0x7f, 0x04, 0x01, 0x00, 0x00, 0xf7}
	if volume >= 1.0 {
		sysex[5] = 0x7f
	}
	sysex[6] = vol
	b.SendSysex(sysex)
}

// MIDI master panning: universal SysEx, centered at 0x40.
func (b *MidiBus) SetMasterPanning(panning float32) {
	pan := byte((0x40 + int(63.0*panning)) & 0x7f)
	sysex := []byte{0xf0, 0x7f, 0x7f, 0x04, 0x02, 0x00, 0x00, 0xf7}
	if panning >= 1.0 {
		sysex[5] = 0x7f
	}
	if panning > -1.0 {
		sysex[6] = pan
	}
	b.SendSysex(sysex)
}

// MIDI channel volume (CC#7).
func (b *MidiBus) SetVolume(t *session.Track, volume float32) {
	b.SetController(t, ChannelVolume, int(127.0*volume)&0x7f)
}

// MIDI channel stereo panning (CC#10).
func (b *MidiBus) SetPanning(t *session.Track, panning float32) {
	b.SetController(t, ChannelPanning, (0x40+int(63.0*panning))&0x7f)
}

// UpdateConnects queries or restores the bus connections for one
// direction. With connect=false the list is populated with the
// currently subscribed endpoints. With connect=true every resolvable
// entry is subscribed and removed from the list; any success defers a
// ResetAllControllers. Returns the number of successful subscriptions
// made; failed attempts are not counted.
func (b *MidiBus) UpdateConnects(mode BusMode, connects *ConnectList, connect bool) int {
	e := b.engine
	if e == nil || e.client == nil || b.port < 0 {
		return 0
	}

	// Modes must match, at least...
	if mode&b.mode == 0 {
		return 0
	}
	if connect && len(*connects) == 0 {
		return 0
	}

	dir := seq.Output
	caps := seq.CapWrite | seq.CapSubsWrite
	if mode == Input {
		dir = seq.Input
		caps = seq.CapRead | seq.CapSubsRead
	}

	// Resolve current client/port ids by display names.
	for _, ep := range e.client.Endpoints(caps) {
		if item := connects.FindItem(ConnectItem{
			ClientName: ep.ClientName, PortName: ep.PortName,
		}); item != nil {
			item.Client = ep.Client
			item.Port = ep.Port
		}
	}

	// Walk current subscriptions...
	for _, ep := range e.client.Subscriptions(b.port, dir) {
		item := ConnectItem{
			Client:     ep.Client,
			Port:       ep.Port,
			ClientName: ep.ClientName,
			PortName:   ep.PortName,
		}
		if have := connects.FindItem(item); have != nil && connect {
			// Already connected; nothing left to do for it.
			removeItem(connects, have)
		} else if !connect {
			copyItem := item
			*connects = append(*connects, &copyItem)
		}
	}

	// Shall we proceed for actual connections?
	if !connect {
		return 0
	}

	updated := 0
	for _, item := range append(ConnectList(nil), *connects...) {
		// Don't care of non-valid client/ports...
		if item.Client < 0 || item.Port < 0 {
			continue
		}
		addr := seq.Addr{Client: item.Client, Port: item.Port}
		debug.Log("bus", "%s: subscribe %v [%s:%s]",
			b.name, addr, item.ClientName, item.PortName)
		if err := e.client.Subscribe(b.port, addr, dir); err != nil {
			debug.Log("bus", "%s: subscribe failed: %v", b.name, err)
			continue
		}
		removeItem(connects, item)
		updated++
	}

	// Remember to resend all session/tracks control stuff, iif we've
	// changed any of the intended MIDI connections...
	if updated > 0 {
		e.ResetAllControllers(false) // Deferred++
	}

	return updated
}

func removeItem(l *ConnectList, item *ConnectItem) {
	for i, have := range *l {
		if have == item {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return
		}
	}
}

// Engine bus list management.

// AddBus appends a bus to the engine's session bus list; the bus is not
// opened here.
func (e *Engine) AddBus(b *MidiBus) {
	e.busMu.Lock()
	e.buses = append(e.buses, b)
	e.busMu.Unlock()
}

// RemoveBus detaches a bus without closing it.
func (e *Engine) RemoveBus(b *MidiBus) {
	e.busMu.Lock()
	for i, have := range e.buses {
		if have == b {
			e.buses = append(e.buses[:i], e.buses[i+1:]...)
			break
		}
	}
	e.busMu.Unlock()
}

// Buses returns a snapshot of the bus list.
func (e *Engine) Buses() []*MidiBus {
	e.busMu.Lock()
	defer e.busMu.Unlock()
	return append([]*MidiBus(nil), e.buses...)
}

// FindBus looks a bus up by name.
func (e *Engine) FindBus(name string) *MidiBus {
	e.busMu.Lock()
	defer e.busMu.Unlock()
	for _, b := range e.buses {
		if b.name == name {
			return b
		}
	}
	return nil
}

func (e *Engine) findBusByPort(port int) *MidiBus {
	e.busMu.Lock()
	defer e.busMu.Unlock()
	for _, b := range e.buses {
		if b.port == port {
			return b
		}
	}
	return nil
}

// UpdateConnects retries pending connections on every bus and flushes
// any deferred controller reset.
func (e *Engine) UpdateConnects() int {
	updated := 0
	for _, b := range e.Buses() {
		if b.mode&Input != 0 {
			updated += b.UpdateConnects(Input, &b.pendingInputs, true)
		}
		if b.mode&Output != 0 {
			updated += b.UpdateConnects(Output, &b.pendingOutputs, true)
		}
	}

	if e.IsResetAllControllers() {
		e.ResetAllControllers(true) // Force immediate!
	}

	return updated
}
