package engine

// Control bus: either a dedicated duplex "Control" bus owned by the
// engine, or the first suitable session buses standing in.

// SetControlBus switches between a dedicated and a shared control bus.
func (e *Engine) SetControlBus(owned bool) {
	e.deleteControlBus()

	e.controlBusOwned = owned

	e.createControlBus()

	if e.activated {
		e.openControlBus()
	}
}

func (e *Engine) IsControlBus() bool { return e.controlBusOwned }

// ControlBusIn and ControlBusOut expose the effective control buses.
func (e *Engine) ControlBusIn() *MidiBus  { return e.iControlBus }
func (e *Engine) ControlBusOut() *MidiBus { return e.oControlBus }

// ResetControlBus re-picks shared buses after the bus list changed.
func (e *Engine) ResetControlBus() {
	if e.controlBusOwned && e.oControlBus != nil {
		return
	}
	e.createControlBus()
}

func (e *Engine) createControlBus() {
	e.deleteControlBus()

	// Whether control bus is here owned, or...
	if e.controlBusOwned {
		e.oControlBus = NewMidiBus(e, "Control", Duplex, false)
		e.iControlBus = e.oControlBus
		return
	}
	// Find available control buses...
	for _, bus := range e.Buses() {
		if e.iControlBus == nil && bus.mode&Input != 0 {
			e.iControlBus = bus
		}
		if e.oControlBus == nil && bus.mode&Output != 0 {
			e.oControlBus = bus
		}
	}
}

func (e *Engine) openControlBus() bool {
	e.closeControlBus()

	// Is there any?
	if e.oControlBus == nil {
		e.createControlBus()
	}
	if e.oControlBus == nil {
		return false
	}

	// This is it, when dedicated...
	if e.controlBusOwned {
		if err := e.oControlBus.Open(); err != nil {
			return false
		}
	}
	return true
}

func (e *Engine) closeControlBus() {
	if e.oControlBus != nil && e.controlBusOwned {
		e.oControlBus.Close()
	}
}

func (e *Engine) deleteControlBus() {
	e.closeControlBus()

	// When owned, both input and output bus are the one and the
	// same...
	e.iControlBus = nil
	e.oControlBus = nil
}

// Metronome bus: dedicated output bus, or the first session output
// bus standing in.

// SetMetronome switches the click on or off, muting live playback
// accordingly.
func (e *Engine) SetMetronome(on bool) {
	e.metronome = on

	if e.sess.IsPlaying() {
		e.MetroMute(!on)
	}
}

func (e *Engine) IsMetronome() bool { return e.metronome }

// SetMetroBus switches between a dedicated and a shared metronome bus.
func (e *Engine) SetMetroBus(owned bool) {
	e.deleteMetroBus()

	e.metroBusOwned = owned

	e.createMetroBus()

	if e.activated {
		e.openMetroBus()
	}
}

func (e *Engine) IsMetroBus() bool   { return e.metroBusOwned }
func (e *Engine) MetroBus() *MidiBus { return e.metroBus }

// ResetMetroBus re-picks a shared bus after the bus list changed.
func (e *Engine) ResetMetroBus() {
	if e.metroBusOwned && e.metroBus != nil {
		return
	}
	e.createMetroBus()
}

func (e *Engine) createMetroBus() {
	e.deleteMetroBus()

	// Whether metronome bus is here owned, or...
	if e.metroBusOwned {
		e.metroBus = NewMidiBus(e, "Metronome", Output, false)
		return
	}
	// Find first available output buses...
	for _, bus := range e.Buses() {
		if bus.mode&Output != 0 {
			e.metroBus = bus
			break
		}
	}
}

func (e *Engine) openMetroBus() bool {
	e.closeMetroBus()

	// Is there any?
	if e.metroBus == nil {
		e.createMetroBus()
	}
	if e.metroBus == nil {
		return false
	}

	// This is it, when dedicated...
	if e.metroBusOwned {
		if err := e.metroBus.Open(); err != nil {
			return false
		}
	}
	return true
}

func (e *Engine) closeMetroBus() {
	if e.metroBus != nil && e.metroBusOwned {
		e.metroBus.Close()
	}
}

func (e *Engine) deleteMetroBus() {
	e.closeMetroBus()

	e.metroBus = nil
}

// Metronome channel and note parameter accessors.

func (e *Engine) SetMetroChannel(channel uint8) { e.metroChannel = channel }
func (e *Engine) MetroChannel() uint8           { return e.metroChannel }

func (e *Engine) SetMetroBar(note, velocity uint8, duration uint64) {
	e.metroBarNote = note
	e.metroBarVelocity = velocity
	e.metroBarDuration = duration
}

func (e *Engine) MetroBarNote() uint8      { return e.metroBarNote }
func (e *Engine) MetroBarVelocity() uint8  { return e.metroBarVelocity }
func (e *Engine) MetroBarDuration() uint64 { return e.metroBarDuration }

func (e *Engine) SetMetroBeat(note, velocity uint8, duration uint64) {
	e.metroBeatNote = note
	e.metroBeatVelocity = velocity
	e.metroBeatDuration = duration
}

func (e *Engine) MetroBeatNote() uint8      { return e.metroBeatNote }
func (e *Engine) MetroBeatVelocity() uint8  { return e.metroBeatVelocity }
func (e *Engine) MetroBeatDuration() uint64 { return e.metroBeatDuration }
