// Package ipc carries the daemon's local client protocol: a framed
// message stream over a unix domain socket, with a JSON hello exchange
// followed by CBOR payloads.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message type constants for the client protocol. Each message on the
// wire is a 5-byte header (1 byte type + 4 byte big-endian payload
// length) followed by the payload.
const (
	// MsgHello must be the first message a client sends. JSON payload.
	MsgHello byte = 0x01

	// MsgHelloAck is the daemon's answer to a hello. JSON payload.
	MsgHelloAck byte = 0x02

	// MsgCommand submits one mixer command for a device. Client→daemon.
	MsgCommand byte = 0x10

	// MsgCommandResult reports the outcome of one submitted command. It
	// always precedes the state delta the command produced on the
	// submitting client's stream.
	MsgCommandResult byte = 0x11

	// MsgListDevices asks for the currently attached devices. Empty payload.
	MsgListDevices byte = 0x12

	// MsgDeviceList answers a list request.
	MsgDeviceList byte = 0x13

	// MsgSubscribe opts the client into state updates for one device. The
	// daemon answers with a full snapshot before any delta.
	MsgSubscribe byte = 0x14

	// MsgUnsubscribe stops state updates for one device.
	MsgUnsubscribe byte = 0x15

	// MsgSnapshot carries a device's full mixer state. Daemon→client,
	// sent once per subscription before the delta stream starts.
	MsgSnapshot byte = 0x20

	// MsgDelta carries the changes of one committed mutation.
	MsgDelta byte = 0x21

	// MsgDeviceRemoved announces that a subscribed device is gone.
	MsgDeviceRemoved byte = 0x22

	// MsgProtocolError is the daemon's last word on a connection that
	// violated the protocol; the connection closes right after.
	MsgProtocolError byte = 0x7F
)

// messageHeaderLength is the fixed size of a message header: 1 byte type
// + 4 bytes payload length.
const messageHeaderLength = 5

// maxPayloadLength bounds a single message. A full snapshot for the
// largest model is a few KB; 1 MB leaves plenty of headroom.
const maxPayloadLength = 1024 * 1024

// Message is a single framed protocol message.
type Message struct {
	Type    byte
	Payload []byte
}

// WriteMessage writes a framed message to w. The frame format is:
// [1 byte type] [4 bytes payload length, big-endian uint32] [payload].
func WriteMessage(w io.Writer, message Message) error {
	var header [messageHeaderLength]byte
	header[0] = message.Type
	binary.BigEndian.PutUint32(header[1:5], uint32(len(message.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write message header: %w", err)
	}
	if len(message.Payload) > 0 {
		if _, err := w.Write(message.Payload); err != nil {
			return fmt.Errorf("write message payload: %w", err)
		}
	}
	return nil
}

// ReadMessage reads a framed message from r. Returns an error if the
// stream is malformed or the payload exceeds maxPayloadLength.
func ReadMessage(r io.Reader) (Message, error) {
	var header [messageHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read message header: %w", err)
	}
	messageType := header[0]
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return Message{}, fmt.Errorf("payload length %d exceeds maximum %d", payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("read message payload: %w", err)
		}
	}
	return Message{Type: messageType, Payload: payload}, nil
}
