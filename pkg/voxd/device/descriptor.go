package device

import (
	"bytes"
	"fmt"
)

// handshakeMagic opens every handshake exchange. The firmware echoes it
// back so the daemon can tell a console from some other device squatting on
// the same vendor/product ids.
var handshakeMagic = []byte("VXMX")

// HandshakeInfo is what the console reports about itself during the
// initialization handshake.
type HandshakeInfo struct {
	Model    Model
	Serial   string
	Firmware string
}

// HandshakeRequestPayload builds the payload of the CmdInitHandshake
// request.
func HandshakeRequestPayload() []byte {
	payload := make([]byte, len(handshakeMagic))
	copy(payload, handshakeMagic)
	return payload
}

// ParseHandshake decodes a CmdInitHandshake response payload:
// magic (4 bytes), model (u8), firmware major/minor/patch (3 x u8),
// serial length (u8), serial bytes.
func ParseHandshake(payload []byte) (HandshakeInfo, error) {
	if len(payload) < len(handshakeMagic)+5 {
		return HandshakeInfo{}, fmt.Errorf("handshake payload too short: %d bytes", len(payload))
	}

	if !bytes.Equal(payload[:len(handshakeMagic)], handshakeMagic) {
		return HandshakeInfo{}, fmt.Errorf("handshake magic mismatch: % x", payload[:len(handshakeMagic)])
	}

	rest := payload[len(handshakeMagic):]
	model := Model(rest[0])
	if model != ModelFull && model != ModelMini {
		return HandshakeInfo{}, fmt.Errorf("handshake reports unknown model %d", rest[0])
	}

	firmware := fmt.Sprintf("%d.%d.%d", rest[1], rest[2], rest[3])

	serialLength := int(rest[4])
	if len(rest) != 5+serialLength {
		return HandshakeInfo{}, fmt.Errorf("handshake serial length %d does not match payload", serialLength)
	}

	return HandshakeInfo{
		Model:    model,
		Serial:   string(rest[5 : 5+serialLength]),
		Firmware: firmware,
	}, nil
}

// EncodeHandshake builds a handshake response payload. The daemon never
// sends one; this exists for the simulated console used in tests.
func EncodeHandshake(info HandshakeInfo, firmware [3]uint8) []byte {
	payload := make([]byte, 0, len(handshakeMagic)+5+len(info.Serial))
	payload = append(payload, handshakeMagic...)
	payload = append(payload, byte(info.Model))
	payload = append(payload, firmware[0], firmware[1], firmware[2])
	payload = append(payload, byte(len(info.Serial)))
	payload = append(payload, info.Serial...)
	return payload
}

// ParseCapabilities decodes a CmdGetCapabilities response payload:
// model (u8), volume maximum (u8), sampler bank count (u8), then five
// counted id lists (channels, faders, inputs, outputs, effects, zones),
// each a u8 count followed by that many u8 ids.
func ParseCapabilities(payload []byte) (CapabilitySet, error) {
	if len(payload) < 3 {
		return CapabilitySet{}, fmt.Errorf("capability descriptor too short: %d bytes", len(payload))
	}

	caps := CapabilitySet{
		Model:        Model(payload[0]),
		VolumeMax:    payload[1],
		SamplerBanks: int(payload[2]),
	}

	if caps.Model != ModelFull && caps.Model != ModelMini {
		return CapabilitySet{}, fmt.Errorf("capability descriptor reports unknown model %d", payload[0])
	}

	rest := payload[3:]
	next := func(validate func(uint8) bool, kind string) ([]uint8, error) {
		if len(rest) < 1 {
			return nil, fmt.Errorf("capability descriptor truncated before %s list", kind)
		}
		count := int(rest[0])
		if len(rest) < 1+count {
			return nil, fmt.Errorf("capability descriptor truncated inside %s list", kind)
		}
		ids := rest[1 : 1+count]
		for _, id := range ids {
			if !validate(id) {
				return nil, fmt.Errorf("capability descriptor has unknown %s id %d", kind, id)
			}
		}
		rest = rest[1+count:]
		return ids, nil
	}

	channelIDs, err := next(func(id uint8) bool { _, ok := channelNames[Channel(id)]; return ok }, "channel")
	if err != nil {
		return CapabilitySet{}, err
	}
	for _, id := range channelIDs {
		caps.Channels = append(caps.Channels, Channel(id))
	}

	faderIDs, err := next(func(id uint8) bool { _, ok := faderNames[Fader(id)]; return ok }, "fader")
	if err != nil {
		return CapabilitySet{}, err
	}
	for _, id := range faderIDs {
		caps.Faders = append(caps.Faders, Fader(id))
	}

	inputIDs, err := next(func(id uint8) bool { _, ok := inputNames[Input(id)]; return ok }, "input")
	if err != nil {
		return CapabilitySet{}, err
	}
	for _, id := range inputIDs {
		caps.Inputs = append(caps.Inputs, Input(id))
	}

	outputIDs, err := next(func(id uint8) bool { _, ok := outputNames[Output(id)]; return ok }, "output")
	if err != nil {
		return CapabilitySet{}, err
	}
	for _, id := range outputIDs {
		caps.Outputs = append(caps.Outputs, Output(id))
	}

	effectIDs, err := next(func(id uint8) bool { _, ok := effectNames[EffectKey(id)]; return ok }, "effect")
	if err != nil {
		return CapabilitySet{}, err
	}
	for _, id := range effectIDs {
		caps.Effects = append(caps.Effects, EffectKey(id))
	}

	zoneIDs, err := next(func(id uint8) bool { _, ok := zoneNames[LightingZone(id)]; return ok }, "lighting zone")
	if err != nil {
		return CapabilitySet{}, err
	}
	for _, id := range zoneIDs {
		caps.Zones = append(caps.Zones, LightingZone(id))
	}

	if len(rest) != 0 {
		return CapabilitySet{}, fmt.Errorf("capability descriptor has %d trailing bytes", len(rest))
	}

	return caps, nil
}

// EncodeCapabilities builds a capability descriptor payload, the inverse of
// ParseCapabilities. Used by the simulated console in tests.
func EncodeCapabilities(caps CapabilitySet) []byte {
	payload := []byte{byte(caps.Model), caps.VolumeMax, byte(caps.SamplerBanks)}

	payload = append(payload, byte(len(caps.Channels)))
	for _, ch := range caps.Channels {
		payload = append(payload, byte(ch))
	}
	payload = append(payload, byte(len(caps.Faders)))
	for _, f := range caps.Faders {
		payload = append(payload, byte(f))
	}
	payload = append(payload, byte(len(caps.Inputs)))
	for _, in := range caps.Inputs {
		payload = append(payload, byte(in))
	}
	payload = append(payload, byte(len(caps.Outputs)))
	for _, out := range caps.Outputs {
		payload = append(payload, byte(out))
	}
	payload = append(payload, byte(len(caps.Effects)))
	for _, e := range caps.Effects {
		payload = append(payload, byte(e))
	}
	payload = append(payload, byte(len(caps.Zones)))
	for _, z := range caps.Zones {
		payload = append(payload, byte(z))
	}

	return payload
}
