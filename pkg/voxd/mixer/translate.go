package mixer

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/protocol"
)

// translate maps a validated command onto the ordered request sequence the
// firmware requires. The table is uniform across models; model differences
// are fully expressed by the capability set, which validation has already
// consulted by the time a command reaches this point.
//
// Order matters: a compound sequence is executed front to back and the
// firmware does not tolerate reordering (an effect's parameter can only be
// written while the unit is disabled).
func translate(state *State, cmd Command) ([]protocol.Request, error) {
	switch c := cmd.(type) {
	case SetVolume:
		return []protocol.Request{{
			CommandID: protocol.CmdSetVolume,
			Payload:   []byte{byte(c.Channel), c.Volume},
		}}, nil

	case SetMute:
		return []protocol.Request{{
			CommandID: protocol.CmdSetChannelState,
			Payload:   []byte{byte(c.Channel), boolByte(c.Muted)},
		}}, nil

	case SetFader:
		return []protocol.Request{{
			CommandID: protocol.CmdSetFader,
			Payload:   []byte{byte(c.Fader), byte(c.Channel)},
		}}, nil

	case SetRouting:
		return []protocol.Request{{
			CommandID: protocol.CmdSetRouting,
			Payload:   []byte{byte(c.Input), byte(c.Output), boolByte(c.Enabled)},
		}}, nil

	case SetEffectEnabled:
		return []protocol.Request{{
			CommandID: protocol.CmdSetEffectState,
			Payload:   []byte{byte(c.Effect), boolByte(c.Enabled)},
		}}, nil

	case SetEffectAmount:
		param := protocol.Request{
			CommandID: protocol.CmdSetEffectParam,
			Payload:   effectParamPayload(c.Effect, c.Amount),
		}

		// the firmware rejects parameter writes on a live effect unit, so a
		// running effect is bracketed with a disable/re-enable pair
		if state.EffectEnabled(c.Effect) {
			return []protocol.Request{
				{CommandID: protocol.CmdSetEffectState, Payload: []byte{byte(c.Effect), 0}},
				param,
				{CommandID: protocol.CmdSetEffectState, Payload: []byte{byte(c.Effect), 1}},
			}, nil
		}

		return []protocol.Request{param}, nil

	case SetLighting:
		rgb, err := ParseColour(c.Colour)
		if err != nil {
			return nil, err
		}
		return []protocol.Request{{
			CommandID: protocol.CmdSetLighting,
			Payload:   []byte{byte(c.Zone), rgb[0], rgb[1], rgb[2]},
		}}, nil

	case SetSamplerSlot:
		return []protocol.Request{{
			CommandID: protocol.CmdSetSamplerSlot,
			Payload:   append([]byte{byte(c.Bank), byte(c.Slot)}, c.Sample...),
		}}, nil
	}

	return nil, fmt.Errorf("command %s has no device translation", cmd.Name())
}

func effectParamPayload(effect device.EffectKey, amount int32) []byte {
	payload := make([]byte, 5)
	payload[0] = byte(effect)
	binary.LittleEndian.PutUint32(payload[1:5], uint32(amount))
	return payload
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ParseColour decodes an RRGGBB hex string.
func ParseColour(colour string) ([3]byte, error) {
	var rgb [3]byte

	if len(colour) != 6 {
		return rgb, fmt.Errorf("colour %q is not RRGGBB hex", colour)
	}

	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(colour[i*2:i*2+2], 16, 8)
		if err != nil {
			return rgb, fmt.Errorf("colour %q is not RRGGBB hex", colour)
		}
		rgb[i] = byte(v)
	}

	return rgb, nil
}
