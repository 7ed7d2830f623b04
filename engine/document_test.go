package engine

import (
	"path/filepath"
	"testing"
)

func TestDocumentRoundTrip(t *testing.T) {
	e, _, bus := newTestEngine(t)
	e.SetMmcMode(Input)
	e.SetMmcDevice(0x10)
	e.SetSppMode(Output)
	e.SetClockMode(Duplex)

	bus.SetPassthru(true)
	bus.SetInstrumentName("General MIDI")
	bus.MidiMonitorIn().SetGain(0.8)
	bus.MidiMonitorOut().SetPanning(-0.25)
	bus.SetPatch(3, "piano", BankSelMSBLSB, 0x0180, 5, nil)
	bus.SysexList().Append(NewSysex("reset", []byte{0xf0, 0x7e, 0x7f, 0x09, 0x01, 0xf7}))

	path := filepath.Join(t.TempDir(), "engine.json")
	if err := e.SaveFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Load into a fresh engine.
	e2, _, _ := newTestEngine(t)
	if err := e2.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if e2.MmcMode() != Input || e2.MmcDevice() != 0x10 ||
		e2.SppMode() != Output || e2.ClockMode() != Duplex {
		t.Errorf("control modes lost: mmc=%v dev=%#x spp=%v clock=%v",
			e2.MmcMode(), e2.MmcDevice(), e2.SppMode(), e2.ClockMode())
	}

	// The loaded bus list replaces the fresh engine's.
	loaded := e2.FindBus("Master")
	if loaded == nil {
		t.Fatal("bus not restored")
	}
	if !loaded.IsPassthru() {
		t.Errorf("passthrough lost")
	}
	if loaded.InstrumentName() != "General MIDI" {
		t.Errorf("instrument name = %q", loaded.InstrumentName())
	}
	if g := loaded.MidiMonitorIn().Gain(); g != 0.8 {
		t.Errorf("input gain = %v", g)
	}
	if p := loaded.MidiMonitorOut().Panning(); p != -0.25 {
		t.Errorf("output panning = %v", p)
	}
	patch, ok := loaded.Patch(3)
	if !ok {
		t.Fatal("patch entry lost")
	}
	if patch.InstrumentName != "piano" || patch.Bank != 0x0180 || patch.Program != 5 {
		t.Errorf("patch = %+v", patch)
	}
	if loaded.SysexList().Len() != 1 {
		t.Fatalf("sysex list lost")
	}
	sx := loaded.SysexList().Items()[0]
	if sx.Name() != "reset" || sx.Size() != 6 || sx.Data()[0] != 0xf0 {
		t.Errorf("sysex = %q % x", sx.Name(), sx.Data())
	}
}

func TestSysexTextRoundTrip(t *testing.T) {
	sx := NewSysex("gm-on", []byte{0xf0, 0x7e, 0x7f, 0x09, 0x01, 0xf7})
	parsed := NewSysexFromText("gm-on", sx.Text())
	if parsed.Size() != sx.Size() {
		t.Fatalf("size %d != %d", parsed.Size(), sx.Size())
	}
	for i := range sx.Data() {
		if parsed.Data()[i] != sx.Data()[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}
