package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Frame{
		CommandID: CmdSetVolume,
		Sequence:  0x1234,
		Payload:   []byte{0x01, 0x80},
	}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(data) != HeaderLength+len(original.Payload) {
		t.Fatalf("encoded length = %d, want %d", len(data), HeaderLength+len(original.Payload))
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.CommandID != original.CommandID {
		t.Errorf("command id = 0x%04X, want 0x%04X", decoded.CommandID, original.CommandID)
	}
	if decoded.Sequence != original.Sequence {
		t.Errorf("sequence = %d, want %d", decoded.Sequence, original.Sequence)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("payload = % x, want % x", decoded.Payload, original.Payload)
	}
}

func TestEncodeLittleEndianLayout(t *testing.T) {
	data, err := Encode(Frame{CommandID: CmdSetRouting, Sequence: 7, Payload: []byte{0xAA}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if got := binary.LittleEndian.Uint32(data[0:4]); got != CmdSetRouting {
		t.Errorf("command id bytes = 0x%08X, want 0x%08X", got, CmdSetRouting)
	}
	if got := binary.LittleEndian.Uint16(data[4:6]); got != 7 {
		t.Errorf("sequence bytes = %d, want 7", got)
	}
	if got := binary.LittleEndian.Uint16(data[6:8]); got != 1 {
		t.Errorf("length bytes = %d, want 1", got)
	}
}

func TestEncodeRejectsUnknownCommand(t *testing.T) {
	_, err := Encode(Frame{CommandID: 0xBEEF})

	var malformed *MalformedFrameError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedFrameError, got %v", err)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Frame{CommandID: CmdGetStatus, Payload: make([]byte, MaxPayloadLength+1)})

	var malformed *MalformedFrameError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedFrameError, got %v", err)
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00, 0x00})

	var malformed *MalformedFrameError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedFrameError, got %v", err)
	}
}

func TestDecodeRejectsUnknownCommand(t *testing.T) {
	data := make([]byte, HeaderLength)
	binary.LittleEndian.PutUint32(data[0:4], 0xBEEF)

	_, err := Decode(data)

	var malformed *MalformedFrameError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedFrameError, got %v", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	// header declares 4 payload bytes but carries 2
	data := make([]byte, HeaderLength+2)
	binary.LittleEndian.PutUint32(data[0:4], CmdGetStatus)
	binary.LittleEndian.PutUint16(data[6:8], 4)

	_, err := Decode(data)

	var malformed *MalformedFrameError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedFrameError, got %v", err)
	}

	// and the other direction: trailing bytes beyond the declared length
	data = make([]byte, HeaderLength+4)
	binary.LittleEndian.PutUint32(data[0:4], CmdGetStatus)
	binary.LittleEndian.PutUint16(data[6:8], 2)

	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for trailing bytes, got nil")
	}
}

func TestKnownCommand(t *testing.T) {
	if !KnownCommand(CmdInitHandshake) {
		t.Error("CmdInitHandshake should be known")
	}
	if KnownCommand(0xFFFF) {
		t.Error("0xFFFF should not be known")
	}
}
