// Package seq is the sequencer backend: a duplex client with one
// tick-scheduled output queue, named ports with subscription routing,
// and bridging of remote endpoints to real MIDI hardware through
// gitlab.com/gomidi/midi/v2 drivers.
package seq

// EventType enumerates the sequencer event kinds.
type EventType uint8

const (
	Note EventType = iota // note with duration; split on scheduling
	NoteOn
	NoteOff
	KeyPress
	Controller
	PgmChange
	ChanPress
	PitchBend
	SysEx
	Clock
	Start
	Stop
	Continue
	SongPos
	Tempo // queue tempo change, consumed by the queue itself
)

var typeNames = map[EventType]string{
	Note:       "note",
	NoteOn:     "noteon",
	NoteOff:    "noteoff",
	KeyPress:   "keypress",
	Controller: "controller",
	PgmChange:  "pgmchange",
	ChanPress:  "chanpress",
	PitchBend:  "pitchbend",
	SysEx:      "sysex",
	Clock:      "clock",
	Start:      "start",
	Stop:       "stop",
	Continue:   "continue",
	SongPos:    "songpos",
	Tempo:      "tempo",
}

func (t EventType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Addr identifies a client:port endpoint in the sequencer graph.
type Addr struct {
	Client int
	Port   int
}

// Event is the wire unit moved through the sequencer.
//
// Scheduled events carry a queue-relative Tick; Direct events bypass the
// queue and are delivered immediately. Dest is the zero Addr for
// subscriber fan-out, or a concrete endpoint for addressed delivery.
type Event struct {
	Type     EventType
	Tick     uint64
	Direct   bool
	Tag      byte
	Channel  uint8
	Param    int // note number / controller param
	Value    int // velocity / controller value / program / pitchbend
	Duration uint64
	Data     []byte // sysex bytes, F0..F7 inclusive
	Source   Addr
	Dest     Addr
}

// PortCap is the capability bit-mask of a sequencer port.
type PortCap uint

const (
	CapRead PortCap = 1 << iota
	CapWrite
	CapSubsRead
	CapSubsWrite
	CapNoExport
)

// Endpoint describes a remote client:port with its display names.
type Endpoint struct {
	Client     int
	Port       int
	ClientName string
	PortName   string
	Caps       PortCap
}

// Addr returns the endpoint's address.
func (e Endpoint) Addr() Addr { return Addr{Client: e.Client, Port: e.Port} }

// PortChange is surfaced by the announce channel whenever the port
// graph changes (port created/deleted, subscription made/broken,
// hardware endpoint appeared/vanished).
type PortChange struct {
	Kind PortChangeKind
	Addr Addr
	Name string
}

type PortChangeKind int

const (
	PortCreated PortChangeKind = iota
	PortDeleted
	PortSubscribed
	PortUnsubscribed
)
