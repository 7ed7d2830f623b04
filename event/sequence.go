package event

// Sequence is a named, tick-ordered event list with channel and patch
// annotations, as assembled for export or capture takes.
type Sequence struct {
	Name         string
	Channel      uint8
	TicksPerBeat uint16
	Bank         int // <0 when unset
	Program      int // <0 when unset

	events []*Event
}

// NewSequence creates an empty sequence with patch fields unset.
func NewSequence(name string, channel uint8, ticksPerBeat uint16) *Sequence {
	return &Sequence{
		Name:         name,
		Channel:      channel,
		TicksPerBeat: ticksPerBeat,
		Bank:         -1,
		Program:      -1,
	}
}

// Events returns the ordered event list.
func (s *Sequence) Events() []*Event { return s.events }

// Len returns the event count.
func (s *Sequence) Len() int { return len(s.events) }

// AddEvent appends, assuming the caller feeds ticks in order.
func (s *Sequence) AddEvent(e *Event) {
	s.events = append(s.events, e)
}

// InsertEvent places the event keeping tick order; equal ticks keep
// insertion order.
func (s *Sequence) InsertEvent(e *Event) {
	i := len(s.events)
	for i > 0 && s.events[i-1].Tick > e.Tick {
		i--
	}
	s.events = append(s.events, nil)
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = e
}

// Duration returns the tick span up to the last event end.
func (s *Sequence) Duration() uint64 {
	var d uint64
	for _, e := range s.events {
		end := e.Tick + e.Duration
		if end > d {
			d = end
		}
	}
	return d
}
