package ipc

import (
	"fmt"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
)

// ProtocolVersion is the hello negotiation version. Mismatched clients
// are refused before any CBOR payload is exchanged.
const ProtocolVersion = 1

// Hello is the first message on every connection, JSON-encoded so a
// version mismatch is still diagnosable without the CBOR stack.
// Encoding picks the body encoding for everything that follows; empty
// means EncodingCBOR.
type Hello struct {
	Version  int    `json:"version"`
	Client   string `json:"client"`
	Encoding string `json:"encoding,omitempty"`
}

// HelloAck accepts a hello and echoes the encoding in effect.
type HelloAck struct {
	Version  int    `json:"version"`
	Server   string `json:"server"`
	Encoding string `json:"encoding"`
}

// DeviceInfo describes one attached device in a device list.
type DeviceInfo struct {
	Serial   string `cbor:"serial" json:"serial"`
	Model    string `cbor:"model" json:"model"`
	Firmware string `cbor:"firmware" json:"firmware"`
	State    string `cbor:"state" json:"state"`
}

// DeviceList answers MsgListDevices.
type DeviceList struct {
	Devices []DeviceInfo `cbor:"devices" json:"devices"`
}

// CommandRequest submits one command for one device. ID correlates the
// eventual CommandResult; the daemon echoes it back verbatim.
type CommandRequest struct {
	ID      string          `cbor:"id" json:"id"`
	Device  string          `cbor:"device" json:"device"`
	Command CommandEnvelope `cbor:"command" json:"command"`
}

// Error kind identifiers carried in CommandResult.
const (
	ErrorKindBusy          = "busy"
	ErrorKindUnavailable   = "unavailable"
	ErrorKindUnsupported   = "unsupported_entity"
	ErrorKindInvalidValue  = "invalid_value"
	ErrorKindCommandFailed = "command_failed"
	ErrorKindUnknownDevice = "unknown_device"
)

// CommandResult reports the outcome of one CommandRequest.
type CommandResult struct {
	ID    string `cbor:"id" json:"id"`
	OK    bool   `cbor:"ok" json:"ok"`
	Kind  string `cbor:"kind,omitempty" json:"kind,omitempty"`
	Error string `cbor:"error,omitempty" json:"error,omitempty"`
}

// SubscribeRequest opts into state updates for one device. The same
// payload shape serves MsgUnsubscribe.
type SubscribeRequest struct {
	Device string `cbor:"device" json:"device"`
}

// SnapshotMessage carries one device's full mixer state.
type SnapshotMessage struct {
	Device string         `cbor:"device" json:"device"`
	State  mixer.Snapshot `cbor:"state" json:"state"`
}

// DeltaMessage carries the changes of one committed mutation.
type DeltaMessage struct {
	Device  string      `cbor:"device" json:"device"`
	Changes mixer.Delta `cbor:"changes" json:"changes"`
}

// DeviceRemovedMessage announces a device's departure to subscribers.
type DeviceRemovedMessage struct {
	Device string `cbor:"device" json:"device"`
}

// ProtocolErrorMessage explains why the daemon is about to close a
// connection.
type ProtocolErrorMessage struct {
	Reason string `cbor:"reason" json:"reason"`
}

// CommandEnvelope is the wire form of a mixer command. Name
// discriminates; only the fields the named command uses are set.
type CommandEnvelope struct {
	Name    string `cbor:"name" json:"name"`
	Channel string `cbor:"channel,omitempty" json:"channel,omitempty"`
	Fader   string `cbor:"fader,omitempty" json:"fader,omitempty"`
	Input   string `cbor:"input,omitempty" json:"input,omitempty"`
	Output  string `cbor:"output,omitempty" json:"output,omitempty"`
	Effect  string `cbor:"effect,omitempty" json:"effect,omitempty"`
	Zone    string `cbor:"zone,omitempty" json:"zone,omitempty"`
	Colour  string `cbor:"colour,omitempty" json:"colour,omitempty"`
	Bank    string `cbor:"bank,omitempty" json:"bank,omitempty"`
	Slot    string `cbor:"slot,omitempty" json:"slot,omitempty"`
	Sample  string `cbor:"sample,omitempty" json:"sample,omitempty"`
	Profile string `cbor:"profile,omitempty" json:"profile,omitempty"`
	Volume  uint8  `cbor:"volume,omitempty" json:"volume,omitempty"`
	Amount  int32  `cbor:"amount,omitempty" json:"amount,omitempty"`
	Enabled bool   `cbor:"enabled,omitempty" json:"enabled,omitempty"`
	Muted   bool   `cbor:"muted,omitempty" json:"muted,omitempty"`
}

// EncodeCommand wraps a mixer command for the wire.
func EncodeCommand(cmd mixer.Command) (CommandEnvelope, error) {
	switch c := cmd.(type) {
	case mixer.SetVolume:
		return CommandEnvelope{Name: c.Name(), Channel: c.Channel.String(), Volume: c.Volume}, nil
	case mixer.SetMute:
		return CommandEnvelope{Name: c.Name(), Channel: c.Channel.String(), Muted: c.Muted}, nil
	case mixer.SetFader:
		return CommandEnvelope{Name: c.Name(), Fader: c.Fader.String(), Channel: c.Channel.String()}, nil
	case mixer.SetRouting:
		return CommandEnvelope{Name: c.Name(), Input: c.Input.String(), Output: c.Output.String(), Enabled: c.Enabled}, nil
	case mixer.SetEffectEnabled:
		return CommandEnvelope{Name: c.Name(), Effect: c.Effect.String(), Enabled: c.Enabled}, nil
	case mixer.SetEffectAmount:
		return CommandEnvelope{Name: c.Name(), Effect: c.Effect.String(), Amount: c.Amount}, nil
	case mixer.SetLighting:
		return CommandEnvelope{Name: c.Name(), Zone: c.Zone.String(), Colour: c.Colour}, nil
	case mixer.SetSamplerSlot:
		return CommandEnvelope{Name: c.Name(), Bank: c.Bank.String(), Slot: c.Slot.String(), Sample: c.Sample}, nil
	case mixer.LoadProfile:
		return CommandEnvelope{Name: c.Name(), Profile: c.Profile}, nil
	case mixer.SaveProfile:
		return CommandEnvelope{Name: c.Name(), Profile: c.Profile}, nil
	}
	return CommandEnvelope{}, fmt.Errorf("command %s has no wire encoding", cmd.Name())
}

// DecodeCommand unwraps a wire envelope into a mixer command. Entity
// names resolve here; whether the attached model supports them is the
// dispatcher's question, not the codec's.
func DecodeCommand(env CommandEnvelope) (mixer.Command, error) {
	switch env.Name {
	case "SetVolume":
		ch, err := device.ChannelFromName(env.Channel)
		if err != nil {
			return nil, err
		}
		return mixer.SetVolume{Channel: ch, Volume: env.Volume}, nil

	case "SetMute":
		ch, err := device.ChannelFromName(env.Channel)
		if err != nil {
			return nil, err
		}
		return mixer.SetMute{Channel: ch, Muted: env.Muted}, nil

	case "SetFader":
		f, err := device.FaderFromName(env.Fader)
		if err != nil {
			return nil, err
		}
		ch, err := device.ChannelFromName(env.Channel)
		if err != nil {
			return nil, err
		}
		return mixer.SetFader{Fader: f, Channel: ch}, nil

	case "SetRouting":
		in, err := device.InputFromName(env.Input)
		if err != nil {
			return nil, err
		}
		out, err := device.OutputFromName(env.Output)
		if err != nil {
			return nil, err
		}
		return mixer.SetRouting{Input: in, Output: out, Enabled: env.Enabled}, nil

	case "SetEffectEnabled":
		e, err := device.EffectFromName(env.Effect)
		if err != nil {
			return nil, err
		}
		return mixer.SetEffectEnabled{Effect: e, Enabled: env.Enabled}, nil

	case "SetEffectAmount":
		e, err := device.EffectFromName(env.Effect)
		if err != nil {
			return nil, err
		}
		return mixer.SetEffectAmount{Effect: e, Amount: env.Amount}, nil

	case "SetLighting":
		z, err := device.ZoneFromName(env.Zone)
		if err != nil {
			return nil, err
		}
		return mixer.SetLighting{Zone: z, Colour: env.Colour}, nil

	case "SetSamplerSlot":
		bank, err := device.BankFromName(env.Bank)
		if err != nil {
			return nil, err
		}
		slot, err := device.SlotFromName(env.Slot)
		if err != nil {
			return nil, err
		}
		return mixer.SetSamplerSlot{Bank: bank, Slot: slot, Sample: env.Sample}, nil

	case "LoadProfile":
		return mixer.LoadProfile{Profile: env.Profile}, nil

	case "SaveProfile":
		return mixer.SaveProfile{Profile: env.Profile}, nil
	}

	return nil, fmt.Errorf("unknown command %q", env.Name)
}
