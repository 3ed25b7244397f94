package ipc

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	original := Message{Type: MsgDelta, Payload: []byte{0x01, 0x02, 0x03}}
	if err := WriteMessage(&buf, original); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	decoded, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	if decoded.Type != original.Type {
		t.Errorf("type = 0x%02X, want 0x%02X", decoded.Type, original.Type)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("payload = % x, want % x", decoded.Payload, original.Payload)
	}
}

func TestMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteMessage(&buf, Message{Type: MsgListDevices}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	decoded, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if len(decoded.Payload) != 0 {
		t.Errorf("payload length = %d, want 0", len(decoded.Payload))
	}
}

func TestReadMessageRejectsOversizedPayload(t *testing.T) {
	// forged header declaring a payload beyond the limit
	header := []byte{MsgDelta, 0xFF, 0xFF, 0xFF, 0xFF}

	if _, err := ReadMessage(bytes.NewReader(header)); err == nil {
		t.Fatal("expected error for oversized payload, got nil")
	}
}

func TestReadMessageRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Message{Type: MsgDelta, Payload: []byte{1, 2, 3, 4}}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-2]
	if _, err := ReadMessage(bytes.NewReader(truncated)); err == nil {
		t.Fatal("expected error for truncated payload, got nil")
	}
}

func TestCommandEnvelopeRoundTrip(t *testing.T) {
	commands := []mixer.Command{
		mixer.SetVolume{Channel: device.ChannelMusic, Volume: 73},
		mixer.SetMute{Channel: device.ChannelMic, Muted: true},
		mixer.SetFader{Fader: device.FaderC, Channel: device.ChannelGame},
		mixer.SetRouting{Input: device.InputSamples, Output: device.OutputSampler, Enabled: true},
		mixer.SetEffectEnabled{Effect: device.EffectRobot, Enabled: true},
		mixer.SetEffectAmount{Effect: device.EffectPitch, Amount: -45},
		mixer.SetLighting{Zone: device.ZoneAccent, Colour: "00FFAA"},
		mixer.SetSamplerSlot{Bank: device.BankB, Slot: device.SlotBottomRight, Sample: "airhorn"},
		mixer.LoadProfile{Profile: "streaming"},
		mixer.SaveProfile{Profile: "late-night"},
	}

	for _, cmd := range commands {
		envelope, err := EncodeCommand(cmd)
		if err != nil {
			t.Fatalf("EncodeCommand(%s) failed: %v", cmd.Name(), err)
		}

		// through CBOR, like the wire would carry it
		data, err := marshal(envelope)
		if err != nil {
			t.Fatalf("marshal %s envelope failed: %v", cmd.Name(), err)
		}
		var decoded CommandEnvelope
		if err := unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal %s envelope failed: %v", cmd.Name(), err)
		}

		got, err := DecodeCommand(decoded)
		if err != nil {
			t.Fatalf("DecodeCommand(%s) failed: %v", cmd.Name(), err)
		}

		if !reflect.DeepEqual(got, cmd) {
			t.Errorf("%s did not survive the round trip:\ngot  %#v\nwant %#v", cmd.Name(), got, cmd)
		}
	}
}

func TestDecodeCommandRejectsUnknownName(t *testing.T) {
	if _, err := DecodeCommand(CommandEnvelope{Name: "RebootConsole"}); err == nil {
		t.Fatal("expected error for unknown command name, got nil")
	}
}

func TestDecodeCommandRejectsUnknownEntityName(t *testing.T) {
	_, err := DecodeCommand(CommandEnvelope{Name: "SetVolume", Channel: "Subwoofer", Volume: 10})
	if err == nil {
		t.Fatal("expected error for unknown channel name, got nil")
	}
}

func TestSnapshotSurvivesCBOR(t *testing.T) {
	state := mixer.NewState(device.FullCapabilities())
	if _, err := state.Apply(mixer.MutVolume(device.ChannelMic, 81)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := state.Apply(mixer.MutEffectEnabled(device.EffectReverb, true)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	original := state.Snapshot()

	data, err := marshal(SnapshotMessage{Device: "VX1", State: original})
	if err != nil {
		t.Fatalf("marshal snapshot failed: %v", err)
	}

	var decoded SnapshotMessage
	if err := unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot failed: %v", err)
	}

	if !reflect.DeepEqual(decoded.State, original) {
		t.Errorf("snapshot did not survive CBOR:\ngot  %+v\nwant %+v", decoded.State, original)
	}
}

func TestDeltaSurvivesCBORAndReplays(t *testing.T) {
	state := mixer.NewState(device.FullCapabilities())
	initial := state.Snapshot()

	delta, err := state.Apply(mixer.MutVolume(device.ChannelChat, 64))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	data, err := marshal(DeltaMessage{Device: "VX1", Changes: delta})
	if err != nil {
		t.Fatalf("marshal delta failed: %v", err)
	}
	var decoded DeltaMessage
	if err := unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal delta failed: %v", err)
	}

	replayed, err := mixer.Replay(initial, decoded.Changes)
	if err != nil {
		t.Fatalf("Replay of decoded delta failed: %v", err)
	}

	if replayed.Volumes[device.ChannelChat] != 64 {
		t.Errorf("replayed volume = %d, want 64", replayed.Volumes[device.ChannelChat])
	}
}
