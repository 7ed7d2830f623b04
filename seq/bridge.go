package seq

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// remoteEndpoint is the far side of a subscription: a bridged hardware
// port or a virtual channel-backed endpoint.
type remoteEndpoint struct {
	info Endpoint

	// Hardware side (nil for virtual endpoints).
	hwIn  drivers.In
	hwOut drivers.Out

	send       func(gomidi.Message) error // lazily opened
	stopListen func()

	// Virtual side.
	sink chan Event
}

// deliver pushes an outbound event to this endpoint.
func (r *remoteEndpoint) deliver(ev Event) {
	if r.sink != nil {
		select {
		case r.sink <- ev:
		default:
		}
		return
	}
	if r.send == nil {
		return
	}
	if msg, ok := eventMessage(ev); ok {
		r.send(msg)
	}
}

func (r *remoteEndpoint) close() {
	if r.stopListen != nil {
		r.stopListen()
		r.stopListen = nil
	}
	if r.sink != nil {
		close(r.sink)
		r.sink = nil
	}
}

// Pseudo client id allocation for remote endpoints.
const (
	hardwareClientBase = 16
	virtualClientBase  = 64
)

// ScanHardware (re)enumerates the driver's in/out ports and registers
// each as a remote endpoint. Endpoints keep their ids across rescans;
// vanished ports are dropped with an announce event.
func (c *SoftClient) ScanHardware() {
	inPorts := gomidi.GetInPorts()
	outPorts := gomidi.GetOutPorts()

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[Addr]bool)

	register := func(name string, caps PortCap, in drivers.In, out drivers.Out) {
		for addr, r := range c.remotes {
			if r.info.ClientName == name && r.info.Caps == caps {
				seen[addr] = true
				return
			}
		}
		addr := Addr{Client: hardwareClientBase + len(c.remotes), Port: 0}
		for c.remotes[addr] != nil {
			addr.Client++
		}
		c.remotes[addr] = &remoteEndpoint{
			info: Endpoint{
				Client:     addr.Client,
				Port:       addr.Port,
				ClientName: name,
				PortName:   name,
				Caps:       caps,
			},
			hwIn:  in,
			hwOut: out,
		}
		seen[addr] = true
		c.post(PortChange{Kind: PortCreated, Addr: addr, Name: name})
	}

	// Hardware inputs can feed us: they read+subscribe-read.
	for _, p := range inPorts {
		register(p.String(), CapRead|CapSubsRead, p, nil)
	}
	// Hardware outputs accept our events: write+subscribe-write.
	for _, p := range outPorts {
		register(p.String(), CapWrite|CapSubsWrite, nil, p)
	}

	// Drop vanished hardware endpoints.
	for addr, r := range c.remotes {
		if r.sink != nil || seen[addr] {
			continue
		}
		name := r.info.ClientName
		c.dropRemoteLocked(addr, r)
		c.post(PortChange{Kind: PortDeleted, Addr: addr, Name: name})
	}
}

func (c *SoftClient) dropRemoteLocked(addr Addr, r *remoteEndpoint) {
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.sender == addr || s.dest == addr {
			continue
		}
		kept = append(kept, s)
	}
	c.subs = kept
	r.close()
	delete(c.remotes, addr)
}

// CreateVirtualSink registers an endpoint that collects every event
// delivered to it on a channel. Used by loopback setups and tests.
func (c *SoftClient) CreateVirtualSink(clientName, portName string, buffer int) (Addr, <-chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := Addr{Client: virtualClientBase + len(c.remotes), Port: 0}
	for c.remotes[addr] != nil {
		addr.Client++
	}
	sink := make(chan Event, buffer)
	c.remotes[addr] = &remoteEndpoint{
		info: Endpoint{
			Client:     addr.Client,
			Port:       addr.Port,
			ClientName: clientName,
			PortName:   portName,
			Caps:       CapWrite | CapSubsWrite,
		},
		sink: sink,
	}
	c.post(PortChange{Kind: PortCreated, Addr: addr, Name: portName})
	return addr, sink
}

// CreateVirtualSource registers an endpoint whose feed function injects
// events as if they arrived from a remote sender.
func (c *SoftClient) CreateVirtualSource(clientName, portName string) (Addr, func(Event)) {
	c.mu.Lock()
	addr := Addr{Client: virtualClientBase + len(c.remotes), Port: 0}
	for c.remotes[addr] != nil {
		addr.Client++
	}
	c.remotes[addr] = &remoteEndpoint{
		info: Endpoint{
			Client:     addr.Client,
			Port:       addr.Port,
			ClientName: clientName,
			PortName:   portName,
			Caps:       CapRead | CapSubsRead,
		},
	}
	c.mu.Unlock()
	c.post(PortChange{Kind: PortCreated, Addr: addr, Name: portName})

	feed := func(ev Event) {
		ev.Source = addr
		c.routeFromRemote(addr, ev)
	}
	return addr, feed
}

// routeFromRemote fans an event from a remote sender into every one of
// our subscribed ports.
func (c *SoftClient) routeFromRemote(sender Addr, ev Event) {
	c.mu.Lock()
	var dests []Addr
	for _, s := range c.subs {
		if s.sender == sender && s.dest.Client == softClientID {
			dests = append(dests, s.dest)
		}
	}
	c.mu.Unlock()
	for _, d := range dests {
		lev := ev
		lev.Dest = d
		c.deliverInput(lev)
	}
}

// raiseBridgeLocked opens the hardware side of a new subscription.
func (c *SoftClient) raiseBridgeLocked(s subscription, r *remoteEndpoint) error {
	// Input: remote sender feeds our port.
	if s.dest.Client == softClientID && r.hwIn != nil && r.stopListen == nil {
		sender := s.sender
		stop, err := gomidi.ListenTo(r.hwIn, func(msg gomidi.Message, timestampms int32) {
			if ev, ok := messageEvent(msg); ok {
				ev.Source = sender
				c.routeFromRemote(sender, ev)
			}
		}, gomidi.UseSysEx())
		if err != nil {
			return fmt.Errorf("listen %q: %w", r.info.PortName, err)
		}
		r.stopListen = stop
	}
	// Output: our port feeds the remote destination.
	if s.sender.Client == softClientID && r.hwOut != nil && r.send == nil {
		send, err := gomidi.SendTo(r.hwOut)
		if err != nil {
			return fmt.Errorf("open output %q: %w", r.info.PortName, err)
		}
		r.send = send
	}
	return nil
}

// dropBridgeLocked stops hardware bridging when the last subscription
// to an endpoint goes away.
func (c *SoftClient) dropBridgeLocked(gone subscription) {
	var remote Addr
	if gone.sender.Client != softClientID {
		remote = gone.sender
	} else {
		remote = gone.dest
	}
	r, ok := c.remotes[remote]
	if !ok {
		return
	}
	for _, s := range c.subs {
		if s == gone {
			continue
		}
		if s.sender == remote || s.dest == remote {
			return // still in use
		}
	}
	if r.stopListen != nil {
		r.stopListen()
		r.stopListen = nil
	}
	r.send = nil
}

// eventMessage converts an outbound event into a wire message.
func eventMessage(ev Event) (gomidi.Message, bool) {
	switch ev.Type {
	case NoteOn:
		return gomidi.NoteOn(ev.Channel, uint8(ev.Param), uint8(ev.Value)), true
	case NoteOff:
		return gomidi.NoteOff(ev.Channel, uint8(ev.Param)), true
	case KeyPress:
		return gomidi.PolyAfterTouch(ev.Channel, uint8(ev.Param), uint8(ev.Value)), true
	case Controller:
		return gomidi.ControlChange(ev.Channel, uint8(ev.Param), uint8(ev.Value)), true
	case PgmChange:
		return gomidi.ProgramChange(ev.Channel, uint8(ev.Value)), true
	case ChanPress:
		return gomidi.AfterTouch(ev.Channel, uint8(ev.Value)), true
	case PitchBend:
		return gomidi.Pitchbend(ev.Channel, int16(ev.Value)), true
	case SysEx:
		return gomidi.SysEx(stripSysExFrame(ev.Data)), true
	case Clock:
		return gomidi.TimingClock(), true
	case Start:
		return gomidi.Start(), true
	case Stop:
		return gomidi.Stop(), true
	case Continue:
		return gomidi.Continue(), true
	case SongPos:
		return gomidi.SPP(uint16(ev.Value)), true
	}
	return nil, false
}

// messageEvent converts an arriving wire message into an event.
func messageEvent(msg gomidi.Message) (Event, bool) {
	var (
		ch, key, vel uint8
		cc, val      uint8
		prog         uint8
		press        uint8
		rel          int16
		abs          uint16
		bt           []byte
	)
	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		return Event{Type: NoteOn, Channel: ch, Param: int(key), Value: int(vel)}, true
	case msg.GetNoteOff(&ch, &key, &vel):
		return Event{Type: NoteOff, Channel: ch, Param: int(key), Value: int(vel)}, true
	case msg.GetPolyAfterTouch(&ch, &key, &press):
		return Event{Type: KeyPress, Channel: ch, Param: int(key), Value: int(press)}, true
	case msg.GetControlChange(&ch, &cc, &val):
		return Event{Type: Controller, Channel: ch, Param: int(cc), Value: int(val)}, true
	case msg.GetProgramChange(&ch, &prog):
		return Event{Type: PgmChange, Channel: ch, Value: int(prog)}, true
	case msg.GetAfterTouch(&ch, &press):
		return Event{Type: ChanPress, Channel: ch, Value: int(press)}, true
	case msg.GetPitchBend(&ch, &rel, &abs):
		return Event{Type: PitchBend, Channel: ch, Value: int(rel)}, true
	case msg.GetSysEx(&bt):
		framed := make([]byte, 0, len(bt)+2)
		framed = append(framed, 0xf0)
		framed = append(framed, bt...)
		framed = append(framed, 0xf7)
		return Event{Type: SysEx, Data: framed}, true
	case msg.Is(gomidi.TimingClockMsg):
		return Event{Type: Clock}, true
	case msg.Is(gomidi.StartMsg):
		return Event{Type: Start}, true
	case msg.Is(gomidi.StopMsg):
		return Event{Type: Stop}, true
	case msg.Is(gomidi.ContinueMsg):
		return Event{Type: Continue}, true
	case msg.Is(gomidi.SPPMsg):
		var pos uint16
		msg.GetSPP(&pos)
		return Event{Type: SongPos, Value: int(pos)}, true
	}
	return Event{}, false
}

// stripSysExFrame removes the F0/F7 framing bytes the driver adds back.
func stripSysExFrame(data []byte) []byte {
	if len(data) >= 2 && data[0] == 0xf0 && data[len(data)-1] == 0xf7 {
		return data[1 : len(data)-1]
	}
	return data
}
