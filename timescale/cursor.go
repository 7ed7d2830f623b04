package timescale

// Cursor walks a TimeScale remembering its last position, so repeated
// nearby lookups are amortized O(1). Each concurrent reader keeps its
// own cursor; the map itself is not mutated during playback.
type Cursor struct {
	ts    *TimeScale
	index int
}

// NewCursor creates a cursor positioned at the first node.
func NewCursor(ts *TimeScale) *Cursor {
	return &Cursor{ts: ts}
}

// Reset rewinds the cursor to the first node.
func (c *Cursor) Reset() {
	c.index = 0
}

// SeekFrame returns the node whose segment contains the given frame.
func (c *Cursor) SeekFrame(frame uint64) *Node {
	nodes := c.ts.nodes
	// Walk forward from the cached position...
	for c.index+1 < len(nodes) && nodes[c.index+1].Frame <= frame {
		c.index++
	}
	// ...or backward, when the caller rewound.
	for c.index > 0 && nodes[c.index].Frame > frame {
		c.index--
	}
	return nodes[c.index]
}

// SeekTick returns the node whose segment contains the given tick.
func (c *Cursor) SeekTick(tick uint64) *Node {
	nodes := c.ts.nodes
	for c.index+1 < len(nodes) && nodes[c.index+1].Tick <= tick {
		c.index++
	}
	for c.index > 0 && nodes[c.index].Tick > tick {
		c.index--
	}
	return nodes[c.index]
}

// SeekBeat returns the node whose segment contains the given beat.
func (c *Cursor) SeekBeat(beat uint32) *Node {
	nodes := c.ts.nodes
	for c.index+1 < len(nodes) && nodes[c.index+1].Beat <= beat {
		c.index++
	}
	for c.index > 0 && nodes[c.index].Beat > beat {
		c.index--
	}
	return nodes[c.index]
}
