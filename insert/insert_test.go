package insert

import (
	"testing"

	"go-miditrack/audio"
)

func newTestRig(t *testing.T, channels int) (*audio.Engine, *Plugin) {
	t.Helper()
	e := audio.NewEngine(48000, 64)
	p := New(e, "Master Chain")
	if err := p.SetChannels(channels); err != nil {
		t.Fatalf("setChannels: %v", err)
	}
	return e, p
}

func fillRamp(frames [][]float32, scale float32) {
	for ch := range frames {
		for n := range frames[ch] {
			frames[ch][n] = scale * float32(ch*1000+n)
		}
	}
}

func TestProcessUnitySendDryOff(t *testing.T) {
	_, p := newTestRig(t, 2)
	const nframes = 64

	in := [][]float32{make([]float32, nframes), make([]float32, nframes)}
	out := [][]float32{make([]float32, nframes), make([]float32, nframes)}
	fillRamp(in, 0.001)
	fillRamp(p.AudioBus().In(), 0.002) // the external returns

	p.Process(in, out, nframes)

	// SendGain=1, DryWet=0: out == return byte for byte, send == in.
	returns := p.AudioBus().In()
	sends := p.AudioBus().Out()
	for ch := 0; ch < 2; ch++ {
		for n := 0; n < nframes; n++ {
			if out[ch][n] != returns[ch][n] {
				t.Fatalf("out[%d][%d] = %v, want return %v", ch, n, out[ch][n], returns[ch][n])
			}
			if sends[ch][n] != in[ch][n] {
				t.Fatalf("send[%d][%d] = %v, want input %v", ch, n, sends[ch][n], in[ch][n])
			}
		}
	}
}

func TestProcessDryWetMix(t *testing.T) {
	_, p := newTestRig(t, 2)
	const nframes = 64

	p.SetSendGain(0)
	p.SetDryWet(1)

	in := [][]float32{make([]float32, nframes), make([]float32, nframes)}
	out := [][]float32{make([]float32, nframes), make([]float32, nframes)}
	fillRamp(in, 0.001)
	fillRamp(p.AudioBus().In(), 0.002)

	p.Process(in, out, nframes)

	// SendGain=0, DryWet=1: out == in + return, send == 0.
	returns := p.AudioBus().In()
	sends := p.AudioBus().Out()
	for ch := 0; ch < 2; ch++ {
		for n := 0; n < nframes; n++ {
			want := in[ch][n] + returns[ch][n]
			if out[ch][n] != want {
				t.Fatalf("out[%d][%d] = %v, want %v", ch, n, out[ch][n], want)
			}
			if sends[ch][n] != 0 {
				t.Fatalf("send[%d][%d] = %v, want 0", ch, n, sends[ch][n])
			}
		}
	}
}

func TestProcessKernelsAgree(t *testing.T) {
	const nframes = 61 // odd length exercises the scalar tail

	a := [][]float32{make([]float32, nframes)}
	b := [][]float32{make([]float32, nframes)}
	fillRamp(a, 0.01)
	fillRamp(b, 0.01)

	stdProcessSendGain(a, nframes, 1.5)
	blockProcessSendGain(b, nframes, 1.5)
	for n := 0; n < nframes; n++ {
		if a[0][n] != b[0][n] {
			t.Fatalf("send-gain kernels disagree at %d: %v vs %v", n, a[0][n], b[0][n])
		}
	}

	in := [][]float32{make([]float32, nframes)}
	fillRamp(in, 0.02)
	stdProcessDryWet(in, a, nframes, 0.7)
	blockProcessDryWet(in, b, nframes, 0.7)
	for n := 0; n < nframes; n++ {
		if a[0][n] != b[0][n] {
			t.Fatalf("dry-wet kernels disagree at %d", n)
		}
	}
}

func TestParameterClamping(t *testing.T) {
	_, p := newTestRig(t, 1)

	p.SetSendGain(5)
	if g := p.SendGain(); g != SendGainMax {
		t.Errorf("send gain = %v, want clamped %v", g, SendGainMax)
	}
	p.SetDryWet(-1)
	if w := p.DryWet(); w != DryWetMin {
		t.Errorf("dry/wet = %v, want clamped %v", w, DryWetMin)
	}
}

func TestBusNamingUniquified(t *testing.T) {
	e := audio.NewEngine(48000, 64)

	p1 := New(e, "Master Chain")
	if err := p1.SetChannels(2); err != nil {
		t.Fatalf("first: %v", err)
	}
	p2 := New(e, "Master Chain")
	if err := p2.SetChannels(2); err != nil {
		t.Fatalf("second: %v", err)
	}

	n1 := p1.AudioBus().BusName()
	n2 := p2.AudioBus().BusName()
	if n1 != "Master_Chain_Insert" {
		t.Errorf("first bus name = %q", n1)
	}
	if n2 != "Master_Chain_Insert_2" {
		t.Errorf("second bus name = %q", n2)
	}
}

func TestSetChannelsLifecycle(t *testing.T) {
	e, p := newTestRig(t, 2)

	bus := p.AudioBus()
	if e.FindBusEx(bus.BusName()) == nil {
		t.Fatal("bus not registered in the aux registry")
	}

	// Same count: no-op, same bus.
	if err := p.SetChannels(2); err != nil {
		t.Fatalf("no-op: %v", err)
	}
	if p.AudioBus() != bus {
		t.Errorf("unchanged channel count rebuilt the bus")
	}

	// Changed count: old bus is gone, new one registered.
	if err := p.SetChannels(4); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if p.AudioBus() == bus {
		t.Errorf("channel change kept the old bus")
	}
	if e.FindBusEx(bus.BusName()) == p.AudioBus() && p.AudioBus().Channels() != 4 {
		t.Errorf("aux registry stale")
	}

	// Zero tears down.
	if err := p.SetChannels(0); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if p.AudioBus() != nil {
		t.Errorf("bus survives zero channels")
	}
}

func TestConfigureRoundTrip(t *testing.T) {
	_, p := newTestRig(t, 2)

	*p.AudioBus().Inputs() = append(*p.AudioBus().Inputs(), &audio.ConnectItem{
		Index: 0, Client: 12, Port: 3, ClientName: "system", PortName: "capture_1",
	})
	p.FreezeConfigs()

	configs := p.Configs()
	if len(configs) != 1 {
		t.Fatalf("configs = %v", configs)
	}

	// Feed the snapshot into a fresh instance.
	e2 := audio.NewEngine(48000, 64)
	p2 := New(e2, "Other")
	if err := p2.SetChannels(2); err != nil {
		t.Fatalf("setChannels: %v", err)
	}
	for key, value := range configs {
		p2.Configure(key, value)
	}
	ins := *p2.AudioBus().Inputs()
	if len(ins) != 1 {
		t.Fatalf("restored inputs = %d", len(ins))
	}
	if ins[0].ClientName != "system" || ins[0].PortName != "capture_1" ||
		ins[0].Client != 12 || ins[0].Port != 3 {
		t.Errorf("restored item = %+v", ins[0])
	}
}
