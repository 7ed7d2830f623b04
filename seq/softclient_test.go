package seq

import (
	"testing"
	"time"
)

func TestPortNamesUnique(t *testing.T) {
	c := NewSoftClient("test")
	defer c.Close()

	if _, err := c.CreatePort("Master", CapRead|CapSubsRead); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.CreatePort("Master", CapRead|CapSubsRead); err == nil {
		t.Errorf("duplicate port name accepted")
	}
}

func TestVirtualSinkDelivery(t *testing.T) {
	c := NewSoftClient("test")
	defer c.Close()

	port, err := c.CreatePort("Out", CapRead|CapSubsRead)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	addr, sink := c.CreateVirtualSink("synth", "synth in", 16)
	if err := c.Subscribe(port, addr, Output); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.EventOutputDirect(Event{
		Type:    NoteOn,
		Source:  Addr{Client: c.ClientID(), Port: port},
		Channel: 1,
		Param:   60,
		Value:   100,
	})

	select {
	case ev := <-sink:
		if ev.Type != NoteOn || ev.Param != 60 {
			t.Errorf("delivered %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing delivered to the sink")
	}
}

func TestVirtualSourceRouting(t *testing.T) {
	c := NewSoftClient("test")
	defer c.Close()

	port, err := c.CreatePort("In", CapWrite|CapSubsWrite)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.SetPortTimestamping(port, true); err != nil {
		t.Fatalf("timestamping: %v", err)
	}
	addr, feed := c.CreateVirtualSource("keys", "keys out")
	if err := c.Subscribe(port, addr, Input); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	feed(Event{Type: NoteOn, Channel: 0, Param: 64, Value: 90})

	if c.Poll(time.Second) < 1 {
		t.Fatal("poll saw nothing")
	}
	ev, ok := c.EventInput()
	if !ok {
		t.Fatal("no event pending")
	}
	if ev.Dest.Port != port {
		t.Errorf("dest port = %d, want %d", ev.Dest.Port, port)
	}
	if ev.Source != addr {
		t.Errorf("source = %+v, want %+v", ev.Source, addr)
	}
}

func TestQueueSchedulingOrder(t *testing.T) {
	c := NewSoftClient("test")
	defer c.Close()

	port, _ := c.CreatePort("Out", CapRead|CapSubsRead)
	addr, sink := c.CreateVirtualSink("synth", "synth in", 64)
	if err := c.Subscribe(port, addr, Output); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Fast clock so the test finishes quickly: 60000 bpm, 100 ppq.
	c.SetQueueTempo(100, 1000)
	source := Addr{Client: c.ClientID(), Port: port}

	// Out of order on purpose; the queue sorts by tick.
	c.EventOutput(Event{Type: NoteOn, Tick: 30, Param: 3, Source: source})
	c.EventOutput(Event{Type: NoteOn, Tick: 10, Param: 1, Source: source})
	c.EventOutput(Event{Type: NoteOn, Tick: 20, Param: 2, Source: source})
	c.StartQueue()
	c.DrainOutput()

	var got []int
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-sink:
			got = append(got, ev.Param)
		case <-deadline:
			t.Fatalf("only %d events delivered", len(got))
		}
	}
	for i, want := range []int{1, 2, 3} {
		if got[i] != want {
			t.Fatalf("delivery order %v", got)
		}
	}
}

func TestNoteSplitsIntoOnOff(t *testing.T) {
	c := NewSoftClient("test")
	defer c.Close()

	port, _ := c.CreatePort("Out", CapRead|CapSubsRead)
	addr, sink := c.CreateVirtualSink("synth", "synth in", 64)
	if err := c.Subscribe(port, addr, Output); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.SetQueueTempo(100, 1000)
	c.EventOutput(Event{
		Type:     Note,
		Tick:     0,
		Duration: 10,
		Param:    72,
		Value:    100,
		Source:   Addr{Client: c.ClientID(), Port: port},
	})
	c.StartQueue()
	c.DrainOutput()

	var types []EventType
	deadline := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case ev := <-sink:
			types = append(types, ev.Type)
		case <-deadline:
			t.Fatalf("got %v", types)
		}
	}
	if types[0] != NoteOn || types[1] != NoteOff {
		t.Errorf("split = %v, want [noteon noteoff]", types)
	}
}

func TestRemoveOutputPredicate(t *testing.T) {
	c := NewSoftClient("test")
	defer c.Close()

	port, _ := c.CreatePort("Out", CapRead|CapSubsRead)
	source := Addr{Client: c.ClientID(), Port: port}

	c.EventOutput(Event{Type: NoteOn, Tick: 100, Tag: 1, Source: source})
	c.EventOutput(Event{Type: NoteOn, Tick: 200, Tag: 2, Source: source})
	c.DrainOutput()
	c.EventOutput(Event{Type: NoteOn, Tick: 300, Tag: 1, Source: source})

	c.RemoveOutput(func(ev *Event) bool { return ev.Tag == 1 })

	c.queue.mu.Lock()
	heapLen, pendingLen := len(c.queue.heap), len(c.queue.pending)
	c.queue.mu.Unlock()
	if heapLen != 1 || pendingLen != 0 {
		t.Errorf("heap/pending after remove = %d/%d, want 1/0", heapLen, pendingLen)
	}
}

func TestQueueTickTimeAdvances(t *testing.T) {
	c := NewSoftClient("test")
	defer c.Close()

	// 100 ticks per 100 ms.
	c.SetQueueTempo(100, 100000)
	if tick := c.QueueTickTime(); tick != 0 {
		t.Fatalf("stopped queue at tick %d", tick)
	}
	c.StartQueue()
	time.Sleep(150 * time.Millisecond)
	tick := c.QueueTickTime()
	if tick < 100 || tick > 400 {
		t.Errorf("tick after 150 ms = %d, want around 150", tick)
	}

	// Doubling the skew doubles the future rate only.
	c.SetQueueSkew(0x10000, 0x20000)
	base, value := c.QueueSkew()
	if base != 0x10000 || value != 0x20000 {
		t.Errorf("skew = %#x/%#x", base, value)
	}
	before := c.QueueTickTime()
	time.Sleep(100 * time.Millisecond)
	after := c.QueueTickTime()
	if after <= before {
		t.Errorf("tick did not advance after skew change")
	}

	c.StopQueue()
	frozen := c.QueueTickTime()
	time.Sleep(50 * time.Millisecond)
	if c.QueueTickTime() != frozen {
		t.Errorf("tick moved on a stopped queue")
	}
}
