package engine

import "go-miditrack/seq"

// MmcCommand is a MIDI Machine Control command code.
type MmcCommand byte

const (
	MmcStop         MmcCommand = 0x01
	MmcPlay         MmcCommand = 0x02
	MmcDeferredPlay MmcCommand = 0x03
	MmcFastForward  MmcCommand = 0x04
	MmcRewind       MmcCommand = 0x05
	MmcRecordStrobe MmcCommand = 0x06
	MmcRecordExit   MmcCommand = 0x07
	MmcRecordPause  MmcCommand = 0x08
	MmcPause        MmcCommand = 0x09
	MmcEject        MmcCommand = 0x0a
	MmcChase        MmcCommand = 0x0b
	MmcReset        MmcCommand = 0x0d
	MmcWrite        MmcCommand = 0x40
	MmcMaskedWrite  MmcCommand = 0x41
	MmcLocate       MmcCommand = 0x44
	MmcShuttle      MmcCommand = 0x47
)

// MmcSubCommand is the information field of WRITE/MASKED_WRITE.
type MmcSubCommand byte

const (
	MmcTrackRecord MmcSubCommand = 0x4f
	MmcTrackMute   MmcSubCommand = 0x62
)

// MmcEvent is a decoded MMC message.
type MmcEvent struct {
	Device byte
	Cmd    MmcCommand
	Data   []byte
}

// Timecode runs at 30 fps on the MMC wire.
const mmcFps = 30

// DecodeMmc parses a universal real-time SysEx into an MMC event.
// Returns false unless bytes 1,3 carry the 0x7F/0x06 command mode.
func DecodeMmc(sysex []byte) (MmcEvent, bool) {
	if len(sysex) < 6 || sysex[0] != 0xf0 || sysex[1] != 0x7f || sysex[3] != 0x06 {
		return MmcEvent{}, false
	}
	ev := MmcEvent{
		Device: sysex[2],
		Cmd:    MmcCommand(sysex[4]),
	}
	// Optional data: length byte then payload, before the F7 trailer.
	rest := sysex[5:]
	if len(rest) > 1 && rest[len(rest)-1] == 0xf7 {
		n := int(rest[0])
		if n > 0 && 1+n <= len(rest)-1 {
			ev.Data = append([]byte(nil), rest[1:1+n]...)
		}
	}
	return ev, true
}

// Locate decodes the LOCATE target payload back to a frame count.
func (ev MmcEvent) Locate() uint64 {
	if ev.Cmd != MmcLocate || len(ev.Data) < 5 {
		return 0
	}
	// Skip the 0x01 "target" sub-id.
	hh, mm, ss, ff := ev.Data[1], ev.Data[2], ev.Data[3], ev.Data[4]
	return ((uint64(hh)*60+uint64(mm))*60+uint64(ss))*mmcFps + uint64(ff)
}

// MaskedWrite decodes the 7-track-group payload.
func (ev MmcEvent) MaskedWrite() (scmd MmcSubCommand, track int, on bool) {
	if ev.Cmd != MmcMaskedWrite || len(ev.Data) < 4 {
		return 0, -1, false
	}
	scmd = MmcSubCommand(ev.Data[0])
	group := int(ev.Data[1])
	mask := ev.Data[2]
	bit := 0
	for mask > 1 {
		mask >>= 1
		bit++
	}
	if group == 0 {
		track = bit - 5
	} else {
		track = 2 + (group-1)*7 + bit
	}
	on = ev.Data[3]&ev.Data[2] != 0
	return scmd, track, on
}

// SendMmcCommand assembles and sends the MMC SysEx on the control
// output bus: F0 7F <device> 06 <cmd> [len <data>] F7.
func (e *Engine) SendMmcCommand(cmd MmcCommand, data []byte) {
	// Do we have MMC output enabled?
	if e.mmcMode&Output == 0 {
		return
	}

	// We surely need a output control bus...
	if e.oControlBus == nil {
		return
	}

	sysex := make([]byte, 0, 6+1+len(data))
	sysex = append(sysex, 0xf0)        // Sysex header.
	sysex = append(sysex, 0x7f)        // Realtime sysex.
	sysex = append(sysex, e.mmcDevice) // MMC device id.
	sysex = append(sysex, 0x06)        // MMC command mode.
	sysex = append(sysex, byte(cmd))   // MMC command code.
	if len(data) > 0 {
		sysex = append(sysex, byte(len(data)))
		sysex = append(sysex, data...)
	}
	sysex = append(sysex, 0xf7) // Sysex trailer.

	e.oControlBus.SendSysex(sysex)
}

// SendMmcLocate addresses a frame as 30 fps timecode with a zero
// trailing sub-frame.
func (e *Engine) SendMmcLocate(frame uint64) {
	var data [6]byte

	data[0] = 0x01
	data[1] = byte(frame / (3600 * mmcFps))
	frame -= 3600 * mmcFps * uint64(data[1])
	data[2] = byte(frame / (60 * mmcFps))
	frame -= 60 * mmcFps * uint64(data[2])
	data[3] = byte(frame / mmcFps)
	frame -= mmcFps * uint64(data[3])
	data[4] = byte(frame)
	data[5] = 0

	e.SendMmcCommand(MmcLocate, data[:])
}

// SendMmcMaskedWrite packs the 7-track-group bit layout: tracks 0 and
// 1 live in group 0 at bits 5 and 6; later tracks pack seven per
// group.
func (e *Engine) SendMmcMaskedWrite(scmd MmcSubCommand, track int, on bool) {
	var data [4]byte
	bit := track + 5
	if track >= 2 {
		bit = (track - 2) % 7
	}
	mask := byte(1 << bit)

	data[0] = byte(scmd)
	if track < 2 {
		data[1] = 0
	} else {
		data[1] = byte(1 + (track-2)/7)
	}
	data[2] = mask
	if on {
		data[3] = mask
	}

	e.SendMmcCommand(MmcMaskedWrite, data[:])
}

// SendSppCommand emits a direct START/STOP/CONTINUE/SONGPOS event on
// the control output bus.
func (e *Engine) SendSppCommand(cmd seq.EventType, songPos uint16) {
	// Do we have SPP output enabled?
	if e.sppMode&Output == 0 {
		return
	}

	bus := e.oControlBus
	if bus == nil || bus.port < 0 {
		return
	}

	e.client.EventOutputDirect(seq.Event{
		Type:   cmd,
		Direct: true,
		Source: seq.Addr{Client: e.client.ClientID(), Port: bus.port},
		Value:  int(songPos),
	})
}
