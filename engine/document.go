package engine

import (
	"encoding/json"
	"os"
)

// Document is the engine-owned slice of the session file: transport
// control modes, the MIDI bus list and the engine bus connections.
type Document struct {
	MidiControl      MidiControlDoc `json:"midiControl"`
	Buses            []BusDoc       `json:"midiBuses,omitempty"`
	ControlInputs    []ConnectDoc   `json:"controlInputs,omitempty"`
	ControlOutputs   []ConnectDoc   `json:"controlOutputs,omitempty"`
	MetronomeOutputs []ConnectDoc   `json:"metronomeOutputs,omitempty"`
}

// MidiControlDoc carries the transport protocol modes.
type MidiControlDoc struct {
	MmcMode   string `json:"mmcMode"`
	MmcDevice int    `json:"mmcDevice"`
	SppMode   string `json:"sppMode"`
	ClockMode string `json:"clockMode"`
}

// ConnectDoc is one persisted bus connection endpoint.
type ConnectDoc struct {
	Client     int    `json:"client,omitempty"`
	Port       int    `json:"port,omitempty"`
	ClientName string `json:"clientName"`
	PortName   string `json:"portName"`
}

// PatchDoc is one channel patch entry.
type PatchDoc struct {
	Channel       int    `json:"channel"`
	Instrument    string `json:"instrument"`
	BankSelMethod int    `json:"bankSelMethod"`
	Bank          int    `json:"bank"`
	Program       int    `json:"program"`
}

// SysexDoc is one SysEx setup entry, data in hex text.
type SysexDoc struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// BusDoc is one persisted MIDI bus.
type BusDoc struct {
	Name           string       `json:"name"`
	Mode           string       `json:"mode"`
	Passthrough    bool         `json:"passThrough,omitempty"`
	InstrumentName string       `json:"midiInstrumentName,omitempty"`
	InputGain      float32      `json:"inputGain,omitempty"`
	InputPanning   float32      `json:"inputPanning,omitempty"`
	InputPlugins   []string     `json:"inputPlugins,omitempty"`
	InputConnects  []ConnectDoc `json:"inputConnects,omitempty"`
	OutputGain     float32      `json:"outputGain,omitempty"`
	OutputPanning  float32      `json:"outputPanning,omitempty"`
	OutputPlugins  []string     `json:"outputPlugins,omitempty"`
	OutputConnects []ConnectDoc `json:"outputConnects,omitempty"`
	Patches        []PatchDoc   `json:"midiPatch,omitempty"`
	SysexList      []SysexDoc   `json:"midiSysexList,omitempty"`
}

func saveBusMode(m BusMode) string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case Duplex:
		return "duplex"
	}
	return "none"
}

func loadBusMode(s string) BusMode {
	switch s {
	case "input":
		return Input
	case "output":
		return Output
	case "duplex":
		return Duplex
	}
	return None
}

func connectsToDoc(l ConnectList) []ConnectDoc {
	var out []ConnectDoc
	for _, item := range l {
		out = append(out, ConnectDoc{
			Client:     item.Client,
			Port:       item.Port,
			ClientName: item.ClientName,
			PortName:   item.PortName,
		})
	}
	return out
}

func connectsFromDoc(docs []ConnectDoc) ConnectList {
	var out ConnectList
	for _, d := range docs {
		out = append(out, &ConnectItem{
			Client:     d.Client,
			Port:       d.Port,
			ClientName: d.ClientName,
			PortName:   d.PortName,
		})
	}
	return out
}

// LoadDocument rebuilds the engine bus list and control modes from a
// document. Connections stay pending until UpdateConnects resolves
// them against live endpoints.
func (e *Engine) LoadDocument(doc *Document) error {
	// Session children replace whatever was there...
	e.busMu.Lock()
	e.buses = nil
	e.busMu.Unlock()

	e.SetMmcMode(loadBusMode(doc.MidiControl.MmcMode))
	e.SetMmcDevice(byte(doc.MidiControl.MmcDevice & 0x7f))
	e.SetSppMode(loadBusMode(doc.MidiControl.SppMode))
	e.SetClockMode(loadBusMode(doc.MidiControl.ClockMode))

	for _, bd := range doc.Buses {
		bus := NewMidiBus(e, bd.Name, loadBusMode(bd.Mode), bd.Passthrough)
		bus.SetInstrumentName(bd.InstrumentName)
		if m := bus.MidiMonitorIn(); m != nil {
			if bd.InputGain > 0 {
				m.SetGain(bd.InputGain)
			}
			m.SetPanning(bd.InputPanning)
		}
		if m := bus.MidiMonitorOut(); m != nil {
			if bd.OutputGain > 0 {
				m.SetGain(bd.OutputGain)
			}
			m.SetPanning(bd.OutputPanning)
		}
		bus.docInputPlugins = append([]string(nil), bd.InputPlugins...)
		bus.docOutputPlugins = append([]string(nil), bd.OutputPlugins...)
		bus.pendingInputs = connectsFromDoc(bd.InputConnects)
		bus.pendingOutputs = connectsFromDoc(bd.OutputConnects)
		for _, pd := range bd.Patches {
			// Rollback if instrument-patch is invalid...
			if pd.Instrument == "" {
				continue
			}
			bus.patchMu.Lock()
			bus.patches[uint8(pd.Channel)&0x0f] = Patch{
				InstrumentName: pd.Instrument,
				BankSelMethod:  pd.BankSelMethod,
				Bank:           pd.Bank,
				Program:        pd.Program,
			}
			bus.patchMu.Unlock()
		}
		if sl := bus.SysexList(); sl != nil {
			for _, sd := range bd.SysexList {
				sx := NewSysexFromText(sd.Name, sd.Data)
				if sx.Size() > 0 {
					sl.Append(sx)
				}
			}
		}
		e.AddBus(bus)
	}

	e.createControlBus()
	e.createMetroBus()

	if e.controlBusOwned && e.iControlBus != nil {
		e.iControlBus.pendingInputs = connectsFromDoc(doc.ControlInputs)
	}
	if e.controlBusOwned && e.oControlBus != nil {
		e.oControlBus.pendingOutputs = connectsFromDoc(doc.ControlOutputs)
	}
	if e.metroBusOwned && e.metroBus != nil {
		e.metroBus.pendingOutputs = connectsFromDoc(doc.MetronomeOutputs)
	}

	return nil
}

// SaveDocument captures the engine state, with live connections
// queried from the backend.
func (e *Engine) SaveDocument() *Document {
	doc := &Document{
		MidiControl: MidiControlDoc{
			MmcMode:   saveBusMode(e.MmcMode()),
			MmcDevice: int(e.MmcDevice()),
			SppMode:   saveBusMode(e.SppMode()),
			ClockMode: saveBusMode(e.ClockMode()),
		},
	}

	for _, bus := range e.Buses() {
		bd := BusDoc{
			Name:           bus.BusName(),
			Mode:           saveBusMode(bus.BusMode()),
			Passthrough:    bus.IsPassthru(),
			InstrumentName: bus.InstrumentName(),
			InputPlugins:   append([]string(nil), bus.docInputPlugins...),
			OutputPlugins:  append([]string(nil), bus.docOutputPlugins...),
		}
		if m := bus.MidiMonitorIn(); m != nil {
			bd.InputGain = m.Gain()
			bd.InputPanning = m.Panning()
			var connects ConnectList
			bus.UpdateConnects(Input, &connects, false)
			bd.InputConnects = connectsToDoc(connects)
		}
		if m := bus.MidiMonitorOut(); m != nil {
			bd.OutputGain = m.Gain()
			bd.OutputPanning = m.Panning()
			var connects ConnectList
			bus.UpdateConnects(Output, &connects, false)
			bd.OutputConnects = connectsToDoc(connects)
		}
		for ch, p := range bus.Patches() {
			bd.Patches = append(bd.Patches, PatchDoc{
				Channel:       int(ch),
				Instrument:    p.InstrumentName,
				BankSelMethod: p.BankSelMethod,
				Bank:          p.Bank,
				Program:       p.Program,
			})
		}
		if sl := bus.SysexList(); sl != nil {
			for _, sx := range sl.Items() {
				bd.SysexList = append(bd.SysexList, SysexDoc{
					Name: sx.Name(),
					Data: sx.Text(),
				})
			}
		}
		doc.Buses = append(doc.Buses, bd)
	}

	// Control bus (input/output) connects...
	if e.controlBusOwned && e.iControlBus != nil {
		var connects ConnectList
		e.iControlBus.UpdateConnects(Input, &connects, false)
		doc.ControlInputs = connectsToDoc(connects)
	}
	if e.controlBusOwned && e.oControlBus != nil {
		var connects ConnectList
		e.oControlBus.UpdateConnects(Output, &connects, false)
		doc.ControlOutputs = connectsToDoc(connects)
	}

	// Metronome bus connects...
	if e.metroBusOwned && e.metroBus != nil {
		var connects ConnectList
		e.metroBus.UpdateConnects(Output, &connects, false)
		doc.MetronomeOutputs = connectsToDoc(connects)
	}

	return doc
}

// SaveFile writes the document as indented JSON.
func (e *Engine) SaveFile(path string) error {
	data, err := json.MarshalIndent(e.SaveDocument(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFile reads a document written by SaveFile.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return e.LoadDocument(&doc)
}
