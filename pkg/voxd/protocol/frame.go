// Package protocol implements the binary framing used on the USB control
// link to a VoxMix console. It is a pure codec: it knows the frame layout
// and the legal command-id space, but nothing about device state or I/O.
//
// All multi-byte integers on the wire are little-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Command ids accepted by the console firmware. These are fixed by the
// hardware and must not be renumbered.
const (
	CmdInitHandshake   uint32 = 0x0001
	CmdGetCapabilities uint32 = 0x0002
	CmdGetStatus       uint32 = 0x0003

	CmdSetRouting      uint32 = 0x0804
	CmdSetFader        uint32 = 0x0805
	CmdSetVolume       uint32 = 0x0806
	CmdSetEffectParam  uint32 = 0x0807
	CmdSetEffectState  uint32 = 0x0808
	CmdSetChannelState uint32 = 0x0809
	CmdSetLighting     uint32 = 0x080A
	CmdSetSamplerSlot  uint32 = 0x080B
)

// HeaderLength is the fixed size of an encoded frame header:
// command id (u32) + sequence (u16) + payload length (u16).
const HeaderLength = 8

// MaxPayloadLength is the largest payload the firmware accepts in a single
// frame. The length field is a u16, but the hardware's transfer buffer caps
// out well below that.
const MaxPayloadLength = 1024

var knownCommands = map[uint32]struct{}{
	CmdInitHandshake:   {},
	CmdGetCapabilities: {},
	CmdGetStatus:       {},
	CmdSetRouting:      {},
	CmdSetFader:        {},
	CmdSetVolume:       {},
	CmdSetEffectParam:  {},
	CmdSetEffectState:  {},
	CmdSetChannelState: {},
	CmdSetLighting:     {},
	CmdSetSamplerSlot:  {},
}

// MalformedFrameError reports a byte sequence that could not be decoded as
// a frame. It is fatal to the single request it belongs to, never to the
// device session.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// Frame is the unit exchanged with the console in both directions.
// A response frame carries the sequence number of the request it answers.
type Frame struct {
	CommandID uint32
	Sequence  uint16
	Payload   []byte
}

// Request is a frame without a sequence number; the device session assigns
// one when the request is issued.
type Request struct {
	CommandID uint32
	Payload   []byte
}

// Encode serializes a frame into its wire representation.
func Encode(f Frame) ([]byte, error) {
	if _, ok := knownCommands[f.CommandID]; !ok {
		return nil, &MalformedFrameError{Reason: fmt.Sprintf("unknown command id 0x%04X", f.CommandID)}
	}
	if len(f.Payload) > MaxPayloadLength {
		return nil, &MalformedFrameError{Reason: fmt.Sprintf("payload length %d exceeds maximum %d", len(f.Payload), MaxPayloadLength)}
	}

	buf := make([]byte, HeaderLength+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], f.CommandID)
	binary.LittleEndian.PutUint16(buf[4:6], f.Sequence)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(f.Payload)))
	copy(buf[HeaderLength:], f.Payload)

	return buf, nil
}

// Decode parses a wire buffer into a frame. The declared payload length
// must match the actual payload exactly; trailing or missing bytes are
// rejected rather than truncated.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderLength {
		return Frame{}, &MalformedFrameError{Reason: fmt.Sprintf("buffer too short for header: %d bytes", len(data))}
	}

	commandID := binary.LittleEndian.Uint32(data[0:4])
	sequence := binary.LittleEndian.Uint16(data[4:6])
	declaredLength := int(binary.LittleEndian.Uint16(data[6:8]))

	if _, ok := knownCommands[commandID]; !ok {
		return Frame{}, &MalformedFrameError{Reason: fmt.Sprintf("unknown command id 0x%04X", commandID)}
	}

	if declaredLength > MaxPayloadLength {
		return Frame{}, &MalformedFrameError{Reason: fmt.Sprintf("declared payload length %d exceeds maximum %d", declaredLength, MaxPayloadLength)}
	}

	if len(data)-HeaderLength != declaredLength {
		return Frame{}, &MalformedFrameError{
			Reason: fmt.Sprintf("declared payload length %d does not match actual %d", declaredLength, len(data)-HeaderLength),
		}
	}

	payload := make([]byte, declaredLength)
	copy(payload, data[HeaderLength:])

	return Frame{CommandID: commandID, Sequence: sequence, Payload: payload}, nil
}

// KnownCommand reports whether id belongs to the console's command space.
func KnownCommand(id uint32) bool {
	_, ok := knownCommands[id]
	return ok
}
