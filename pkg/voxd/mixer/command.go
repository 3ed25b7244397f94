package mixer

import (
	"fmt"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
)

// Command is a validated intent to change one piece of mixer state. The
// set is closed: the dispatcher and the IPC codec both switch exhaustively
// over it, so adding a command is a compile-time-checked, localized change.
//
// Commands are immutable value objects and never reference live state; the
// dispatcher resolves them against current state at application time.
type Command interface {
	// Name is the command's wire and log identifier.
	Name() string

	isCommand()
}

// SetVolume sets a channel's volume level.
type SetVolume struct {
	Channel device.Channel
	Volume  uint8
}

func (SetVolume) Name() string { return "SetVolume" }
func (SetVolume) isCommand()   {}

// SetMute mutes or unmutes a channel.
type SetMute struct {
	Channel device.Channel
	Muted   bool
}

func (SetMute) Name() string { return "SetMute" }
func (SetMute) isCommand()   {}

// SetFader assigns a channel to a physical fader slot.
type SetFader struct {
	Fader   device.Fader
	Channel device.Channel
}

func (SetFader) Name() string { return "SetFader" }
func (SetFader) isCommand()   {}

// SetRouting enables or disables one routing crosspoint.
type SetRouting struct {
	Input   device.Input
	Output  device.Output
	Enabled bool
}

func (SetRouting) Name() string { return "SetRouting" }
func (SetRouting) isCommand()   {}

// SetEffectEnabled switches an effect unit on or off.
type SetEffectEnabled struct {
	Effect  device.EffectKey
	Enabled bool
}

func (SetEffectEnabled) Name() string { return "SetEffectEnabled" }
func (SetEffectEnabled) isCommand()   {}

// SetEffectAmount sets an effect unit's amount parameter.
type SetEffectAmount struct {
	Effect device.EffectKey
	Amount int32
}

func (SetEffectAmount) Name() string { return "SetEffectAmount" }
func (SetEffectAmount) isCommand()   {}

// SetLighting sets a lighting zone to an RRGGBB hex colour.
type SetLighting struct {
	Zone   device.LightingZone
	Colour string
}

func (SetLighting) Name() string { return "SetLighting" }
func (SetLighting) isCommand()   {}

// MaxSampleNameLength bounds the sample name a slot assignment carries; the
// name travels inline in the device frame payload.
const MaxSampleNameLength = 64

// SetSamplerSlot assigns a sample to one sampler button, or clears it when
// Sample is empty.
type SetSamplerSlot struct {
	Bank   device.SamplerBank
	Slot   device.SamplerSlot
	Sample string
}

func (SetSamplerSlot) Name() string { return "SetSamplerSlot" }
func (SetSamplerSlot) isCommand()   {}

// LoadProfile is a meta-command: the dispatcher expands it into the
// ordered command sequence needed to reach the named document's target
// state.
type LoadProfile struct {
	Profile string
}

func (LoadProfile) Name() string { return "LoadProfile" }
func (LoadProfile) isCommand()   {}

// SaveProfile projects the current mixer state into the named profile
// document.
type SaveProfile struct {
	Profile string
}

func (SaveProfile) Name() string { return "SaveProfile" }
func (SaveProfile) isCommand()   {}

// Describe renders a command for logs.
func Describe(cmd Command) string {
	switch c := cmd.(type) {
	case SetVolume:
		return fmt.Sprintf("SetVolume{%s=%d}", c.Channel, c.Volume)
	case SetMute:
		return fmt.Sprintf("SetMute{%s=%t}", c.Channel, c.Muted)
	case SetFader:
		return fmt.Sprintf("SetFader{%s=%s}", c.Fader, c.Channel)
	case SetRouting:
		return fmt.Sprintf("SetRouting{%s→%s=%t}", c.Input, c.Output, c.Enabled)
	case SetEffectEnabled:
		return fmt.Sprintf("SetEffectEnabled{%s=%t}", c.Effect, c.Enabled)
	case SetEffectAmount:
		return fmt.Sprintf("SetEffectAmount{%s=%d}", c.Effect, c.Amount)
	case SetLighting:
		return fmt.Sprintf("SetLighting{%s=#%s}", c.Zone, c.Colour)
	case SetSamplerSlot:
		return fmt.Sprintf("SetSamplerSlot{%s.%s=%q}", c.Bank, c.Slot, c.Sample)
	case LoadProfile:
		return fmt.Sprintf("LoadProfile{%s}", c.Profile)
	case SaveProfile:
		return fmt.Sprintf("SaveProfile{%s}", c.Profile)
	}

	return cmd.Name()
}
