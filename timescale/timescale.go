// Package timescale maps between audio frames, musical ticks and beats
// across a piecewise-constant tempo/time-signature map.
package timescale

// Node is one tempo/time-signature segment. Frame and Tick are the
// absolute position where the segment starts; both sequences are
// strictly monotonic across the map.
type Node struct {
	Frame        uint64
	Tick         uint64
	Beat         uint32
	Tempo        float32 // beats per minute
	TicksPerBeat uint16
	BeatsPerBar  uint16

	ts *TimeScale
}

// TickFromFrame converts an absolute frame within this segment.
func (n *Node) TickFromFrame(frame uint64) uint64 {
	if frame < n.Frame {
		return n.Tick
	}
	// ticks/sec = tempo * ticksPerBeat / 60
	d := frame - n.Frame
	return n.Tick + uint64(float64(d)*n.tickRate()/float64(n.ts.sampleRate))
}

// FrameFromTick converts an absolute tick within this segment.
func (n *Node) FrameFromTick(tick uint64) uint64 {
	if tick < n.Tick {
		return n.Frame
	}
	d := tick - n.Tick
	return n.Frame + uint64(float64(d)*float64(n.ts.sampleRate)/n.tickRate())
}

// BeatFromTick returns the beat ordinal containing an absolute tick.
func (n *Node) BeatFromTick(tick uint64) uint32 {
	if tick < n.Tick {
		return n.Beat
	}
	return n.Beat + uint32((tick-n.Tick)/uint64(n.TicksPerBeat))
}

// TickFromBeat returns the absolute tick at which a beat starts.
func (n *Node) TickFromBeat(beat uint32) uint64 {
	if beat < n.Beat {
		return n.Tick
	}
	return n.Tick + uint64(beat-n.Beat)*uint64(n.TicksPerBeat)
}

// BeatIsBar tells whether a beat ordinal starts a bar in this segment.
func (n *Node) BeatIsBar(beat uint32) bool {
	if n.BeatsPerBar == 0 {
		return false
	}
	return (beat-n.Beat)%uint32(n.BeatsPerBar) == 0
}

func (n *Node) tickRate() float64 {
	return float64(n.Tempo) * float64(n.TicksPerBeat) / 60.0
}

// TimeScale is an ordered tempo map. The zero node is implicit: callers
// construct with New which seeds the initial segment.
type TimeScale struct {
	sampleRate   uint32
	ticksPerBeat uint16
	nodes        []*Node
}

// New creates a time scale with one initial tempo node at origin.
func New(sampleRate uint32, ticksPerBeat uint16, tempo float32, beatsPerBar uint16) *TimeScale {
	ts := &TimeScale{
		sampleRate:   sampleRate,
		ticksPerBeat: ticksPerBeat,
	}
	ts.nodes = append(ts.nodes, &Node{
		Tempo:        tempo,
		TicksPerBeat: ticksPerBeat,
		BeatsPerBar:  beatsPerBar,
		ts:           ts,
	})
	return ts
}

func (ts *TimeScale) SampleRate() uint32   { return ts.sampleRate }
func (ts *TimeScale) TicksPerBeat() uint16 { return ts.ticksPerBeat }

// AddNode appends a tempo change at the given frame. The node's tick and
// beat anchors are derived from the previous segment. Frames must be
// added in increasing order.
func (ts *TimeScale) AddNode(frame uint64, tempo float32, beatsPerBar uint16) *Node {
	prev := ts.nodes[len(ts.nodes)-1]
	if frame <= prev.Frame {
		prev.Tempo = tempo
		prev.BeatsPerBar = beatsPerBar
		return prev
	}
	tick := prev.TickFromFrame(frame)
	node := &Node{
		Frame:        frame,
		Tick:         tick,
		Beat:         prev.BeatFromTick(tick),
		Tempo:        tempo,
		TicksPerBeat: ts.ticksPerBeat,
		BeatsPerBar:  beatsPerBar,
		ts:           ts,
	}
	ts.nodes = append(ts.nodes, node)
	return node
}

// Nodes returns the ordered node list.
func (ts *TimeScale) Nodes() []*Node { return ts.nodes }

// TickFromFrame converts via a binary search of the node list.
func (ts *TimeScale) TickFromFrame(frame uint64) uint64 {
	return ts.seekFrame(frame).TickFromFrame(frame)
}

// FrameFromTick converts via a binary search of the node list.
func (ts *TimeScale) FrameFromTick(tick uint64) uint64 {
	return ts.seekTick(tick).FrameFromTick(tick)
}

func (ts *TimeScale) seekFrame(frame uint64) *Node {
	// Binary search for the last node with Frame <= frame.
	lo, hi := 0, len(ts.nodes)
	for lo < hi {
		mid := (lo + hi) / 2
		if ts.nodes[mid].Frame <= frame {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return ts.nodes[0]
	}
	return ts.nodes[lo-1]
}

func (ts *TimeScale) seekTick(tick uint64) *Node {
	lo, hi := 0, len(ts.nodes)
	for lo < hi {
		mid := (lo + hi) / 2
		if ts.nodes[mid].Tick <= tick {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return ts.nodes[0]
	}
	return ts.nodes[lo-1]
}
