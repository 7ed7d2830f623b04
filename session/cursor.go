package session

import "sync"

// Cursor is an engine-private position on the session timeline. Frame
// is the seekable playback position; FrameTime is the monotonic count
// of frames processed since activation, which never rewinds on loop
// wraps and is what the audio/MIDI sync check compares.
type Cursor struct {
	mu        sync.Mutex
	frame     uint64
	frameTime uint64
}

// NewCursor creates a cursor at origin.
func NewCursor() *Cursor {
	return &Cursor{}
}

// Frame returns the current playback frame.
func (c *Cursor) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// FrameTime returns the monotonic processed-frame count.
func (c *Cursor) FrameTime() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameTime
}

// Seek repositions the playback frame without touching frame time.
func (c *Cursor) Seek(frame uint64) {
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()
}

// Process advances the monotonic frame time by one window.
func (c *Cursor) Process(frames uint64) {
	c.mu.Lock()
	c.frameTime += frames
	c.mu.Unlock()
}

// Reset rewinds both positions (engine activation).
func (c *Cursor) Reset() {
	c.mu.Lock()
	c.frame = 0
	c.frameTime = 0
	c.mu.Unlock()
}
