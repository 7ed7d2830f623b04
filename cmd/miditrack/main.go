package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"go-miditrack/audio"
	"go-miditrack/debug"
	"go-miditrack/engine"
	"go-miditrack/event"
	"go-miditrack/seq"
	"go-miditrack/session"
	"go-miditrack/timescale"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "play":
		if err := play(); err != nil {
			fmt.Fprintln(os.Stderr, "play:", err)
			os.Exit(1)
		}
	case "watch":
		watchPorts()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("miditrack - MIDI engine demo")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list    - List sequencer endpoints")
	fmt.Println("  play    - Play a demo pattern with metronome")
	fmt.Println("  watch   - Watch port-graph changes")
}

func listPorts() {
	client := seq.NewSoftClient("miditrack")
	defer client.Close()
	client.ScanHardware()

	fmt.Println("=== Readable endpoints ===")
	for _, ep := range client.Endpoints(seq.CapRead | seq.CapSubsRead) {
		fmt.Printf("  %3d:%d  %s\n", ep.Client, ep.Port, ep.PortName)
	}
	fmt.Println("\n=== Writable endpoints ===")
	for _, ep := range client.Endpoints(seq.CapWrite | seq.CapSubsWrite) {
		fmt.Printf("  %3d:%d  %s\n", ep.Client, ep.Port, ep.PortName)
	}
}

func watchPorts() {
	client := seq.NewSoftClient("miditrack")
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	notifier := seq.NewNotifier(client)
	go notifier.Run(ctx)

	fmt.Println("Watching port-graph changes (ctrl-c to quit)...")
	for pc := range notifier.Events() {
		fmt.Printf("  %v %d:%d %s\n", pc.Kind, pc.Addr.Client, pc.Addr.Port, pc.Name)
	}
}

// play runs the engine against the real audio clock for a few bars of
// a one-track pattern plus metronome.
func play() error {
	debug.Enable()
	defer debug.Disable()

	const sampleRate = 48000
	const ticksPerBeat = 960

	ts := timescale.New(sampleRate, ticksPerBeat, 120.0, 4)
	sess := session.New("miditrack", ts)

	client := seq.NewSoftClient(sess.ClientName())
	defer client.Close()
	client.ScanHardware()

	audioEngine := audio.NewEngine(sampleRate, 1024)

	e := engine.New(sess, client)
	e.SetAudioClock(audioEngine)

	bus := engine.NewMidiBus(e, "Master", engine.Duplex, false)
	e.AddBus(bus)
	e.SetMetronome(true)

	track := session.NewTrack("Demo", 0)
	track.OutputBusName = "Master"
	track.InputBusName = "Master"
	clip := session.NewClip("pattern", 0, 8*sampleRate)
	for i := 0; i < 16; i++ {
		clip.AddEvent(&event.Event{
			Tick:     uint64(i) * ticksPerBeat / 2,
			Type:     event.NoteOn,
			Param:    60 + uint8(i%12),
			Value:    100,
			Duration: ticksPerBeat / 4,
		})
	}
	track.AddClip(clip)
	sess.AddTrack(track)

	if err := e.Init(); err != nil {
		return err
	}
	defer e.Clean()

	if err := e.Activate(); err != nil {
		return err
	}
	defer e.Deactivate()

	// Hook our master bus up to the first hardware output, if any.
	if outs := client.Endpoints(seq.CapWrite | seq.CapSubsWrite); len(outs) > 0 {
		fmt.Println("sending to:", outs[0].PortName)
		list := engine.ConnectList{{
			Client:     outs[0].Client,
			Port:       outs[0].Port,
			ClientName: outs[0].ClientName,
			PortName:   outs[0].PortName,
		}}
		bus.UpdateConnects(engine.Output, &list, true)
	}

	timerClock := false
	if err := audioEngine.Start(); err != nil {
		// No device: fall back to a ticker-driven clock.
		fmt.Println("no audio device, using timer clock:", err)
		timerClock = true
	}
	defer audioEngine.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess.SetPlaying(true)
	if err := e.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if timerClock {
					audioEngine.Advance(sampleRate / 4)
				}
				sess.SetPlayHead(audioEngine.Frame())
				e.Sync()
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		sess.SetPlaying(false)
		e.Stop()
		return nil
	})

	err := g.Wait()
	if err == context.Canceled {
		err = nil
	}
	return err
}
