package device

import (
	"reflect"
	"testing"
)

func TestParseHandshake(t *testing.T) {
	payload := EncodeHandshake(HandshakeInfo{Model: ModelMini, Serial: "VXMINI01"}, [3]uint8{2, 0, 1})

	info, err := ParseHandshake(payload)
	if err != nil {
		t.Fatalf("ParseHandshake failed: %v", err)
	}

	if info.Model != ModelMini {
		t.Errorf("model = %s, want mini", info.Model)
	}
	if info.Serial != "VXMINI01" {
		t.Errorf("serial = %q, want VXMINI01", info.Serial)
	}
	if info.Firmware != "2.0.1" {
		t.Errorf("firmware = %q, want 2.0.1", info.Firmware)
	}
}

func TestParseHandshakeRejectsBadMagic(t *testing.T) {
	payload := EncodeHandshake(HandshakeInfo{Model: ModelFull, Serial: "X"}, [3]uint8{1, 0, 0})
	payload[0] = 'Z'

	if _, err := ParseHandshake(payload); err == nil {
		t.Fatal("expected magic mismatch error, got nil")
	}
}

func TestParseCapabilitiesRoundTrip(t *testing.T) {
	for _, caps := range []CapabilitySet{FullCapabilities(), MiniCapabilities()} {
		parsed, err := ParseCapabilities(EncodeCapabilities(caps))
		if err != nil {
			t.Fatalf("ParseCapabilities(%s) failed: %v", caps.Model, err)
		}
		if !reflect.DeepEqual(parsed, caps) {
			t.Errorf("%s capability set did not survive the round trip:\ngot  %+v\nwant %+v", caps.Model, parsed, caps)
		}
	}
}

func TestParseCapabilitiesRejectsTruncation(t *testing.T) {
	payload := EncodeCapabilities(FullCapabilities())

	if _, err := ParseCapabilities(payload[:len(payload)-3]); err == nil {
		t.Fatal("expected truncation error, got nil")
	}
}

func TestParseCapabilitiesRejectsTrailingBytes(t *testing.T) {
	payload := append(EncodeCapabilities(MiniCapabilities()), 0x00)

	if _, err := ParseCapabilities(payload); err == nil {
		t.Fatal("expected trailing bytes error, got nil")
	}
}

func TestHasSamplerSlot(t *testing.T) {
	full := FullCapabilities()
	if !full.HasSamplerSlot(BankC, SlotBottomRight) {
		t.Error("full model should expose bank C")
	}
	if full.HasSamplerSlot(SamplerBank(3), SlotTopLeft) {
		t.Error("bank 3 is beyond the full model's bank count")
	}
	if full.HasSamplerSlot(BankA, SamplerSlot(9)) {
		t.Error("slot 9 is not a sampler button")
	}
	if MiniCapabilities().HasSamplerSlot(BankA, SlotTopLeft) {
		t.Error("mini has no sampler")
	}
}

func TestParseCapabilitiesRejectsUnknownChannelID(t *testing.T) {
	payload := EncodeCapabilities(MiniCapabilities())
	// first channel id sits right after model, volume max and bank count
	payload[4] = 0xEE

	if _, err := ParseCapabilities(payload); err == nil {
		t.Fatal("expected unknown id error, got nil")
	}
}
