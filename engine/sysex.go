package engine

import (
	"encoding/hex"
	"strings"
	"sync"

	"go-miditrack/event"
)

// Sysex is one named system-exclusive setup message.
type Sysex struct {
	name string
	data []byte
}

// NewSysex wraps raw bytes, framing included (F0..F7).
func NewSysex(name string, data []byte) *Sysex {
	return &Sysex{name: name, data: append([]byte(nil), data...)}
}

// NewSysexFromText parses the hex text form used by the document
// ("f0 7e 7f 09 01 f7", whitespace optional).
func NewSysexFromText(name, text string) *Sysex {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			return r
		}
		return -1
	}, text)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return &Sysex{name: name}
	}
	return &Sysex{name: name, data: data}
}

func (s *Sysex) Name() string { return s.name }
func (s *Sysex) Data() []byte { return s.data }
func (s *Sysex) Size() int    { return len(s.data) }

// Text renders the document hex form.
func (s *Sysex) Text() string {
	var b strings.Builder
	for i, x := range s.data {
		if i > 0 {
			b.WriteByte(' ')
		}
		const hexdigits = "0123456789abcdef"
		b.WriteByte(hexdigits[x>>4])
		b.WriteByte(hexdigits[x&0x0f])
	}
	return b.String()
}

// SysexList is a bus's ordered SysEx setup list.
type SysexList struct {
	mu    sync.Mutex
	items []*Sysex
}

func NewSysexList() *SysexList {
	return &SysexList{}
}

func (l *SysexList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *SysexList) Items() []*Sysex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Sysex(nil), l.items...)
}

func (l *SysexList) Append(s *Sysex) {
	l.mu.Lock()
	l.items = append(l.items, s)
	l.mu.Unlock()
}

func (l *SysexList) Clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}

// ImportSequence rebuilds the list from the SysEx events of a
// sequence, numbering the entries after its name.
func (l *SysexList) ImportSequence(s *event.Sequence) {
	l.mu.Lock()
	l.items = nil
	n := 0
	for _, e := range s.Events() {
		if e.Type != event.SysEx || len(e.Sysex) == 0 {
			continue
		}
		n++
		l.items = append(l.items, &Sysex{
			name: s.Name + "-" + itoa(n),
			data: append([]byte(nil), e.Sysex...),
		})
	}
	l.mu.Unlock()
}

// ExportSequence appends the list as tick-zero SysEx events.
func (l *SysexList) ExportSequence(s *event.Sequence) {
	l.mu.Lock()
	items := append([]*Sysex(nil), l.items...)
	l.mu.Unlock()
	for _, sx := range items {
		s.AddEvent(&event.Event{
			Type:  event.SysEx,
			Sysex: append([]byte(nil), sx.data...),
		})
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
