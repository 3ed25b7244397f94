package device

import (
	"fmt"

	"github.com/thoas/go-funk"
)

// Model identifies the console variant. The capability set of a session is
// fixed by the model reported during the initialization handshake and never
// changes for the session's lifetime.
type Model uint8

const (
	ModelUnknown Model = 0
	ModelFull    Model = 1
	ModelMini    Model = 2
)

func (m Model) String() string {
	switch m {
	case ModelFull:
		return "full"
	case ModelMini:
		return "mini"
	}
	return "unknown"
}

// Channel is a logical mixer channel with a volume level and a mute state.
type Channel uint8

const (
	ChannelMic Channel = iota
	ChannelChat
	ChannelMusic
	ChannelGame
	ChannelConsole
	ChannelLineIn
	ChannelSystem
	ChannelSample
	ChannelHeadphones
	ChannelLineOut
)

var channelNames = map[Channel]string{
	ChannelMic:        "Mic",
	ChannelChat:       "Chat",
	ChannelMusic:      "Music",
	ChannelGame:       "Game",
	ChannelConsole:    "Console",
	ChannelLineIn:     "LineIn",
	ChannelSystem:     "System",
	ChannelSample:     "Sample",
	ChannelHeadphones: "Headphones",
	ChannelLineOut:    "LineOut",
}

// Fader is one of the motorized fader slots on the console face.
type Fader uint8

const (
	FaderA Fader = iota
	FaderB
	FaderC
	FaderD
)

var faderNames = map[Fader]string{
	FaderA: "A",
	FaderB: "B",
	FaderC: "C",
	FaderD: "D",
}

// Input is a routable input source.
type Input uint8

const (
	InputMicrophone Input = iota
	InputChat
	InputMusic
	InputGame
	InputConsole
	InputLineIn
	InputSystem
	InputSamples
)

var inputNames = map[Input]string{
	InputMicrophone: "Microphone",
	InputChat:       "Chat",
	InputMusic:      "Music",
	InputGame:       "Game",
	InputConsole:    "Console",
	InputLineIn:     "LineIn",
	InputSystem:     "System",
	InputSamples:    "Samples",
}

// Output is a routable output destination.
type Output uint8

const (
	OutputHeadphones Output = iota
	OutputBroadcastMix
	OutputLineOut
	OutputChatMic
	OutputSampler
)

var outputNames = map[Output]string{
	OutputHeadphones:   "Headphones",
	OutputBroadcastMix: "BroadcastMix",
	OutputLineOut:      "LineOut",
	OutputChatMic:      "ChatMic",
	OutputSampler:      "Sampler",
}

// EffectKey is a voice effect unit. Each effect has an enabled flag and a
// signed amount parameter.
type EffectKey uint8

const (
	EffectReverb EffectKey = iota
	EffectEcho
	EffectPitch
	EffectGender
	EffectMegaphone
	EffectRobot
	EffectHardTune
)

var effectNames = map[EffectKey]string{
	EffectReverb:    "Reverb",
	EffectEcho:      "Echo",
	EffectPitch:     "Pitch",
	EffectGender:    "Gender",
	EffectMegaphone: "Megaphone",
	EffectRobot:     "Robot",
	EffectHardTune:  "HardTune",
}

// LightingZone is an independently addressable RGB zone.
type LightingZone uint8

const (
	ZoneFaderA LightingZone = iota
	ZoneFaderB
	ZoneFaderC
	ZoneFaderD
	ZoneButtons
	ZoneAccent
	ZoneSampler
)

var zoneNames = map[LightingZone]string{
	ZoneFaderA:  "FaderA",
	ZoneFaderB:  "FaderB",
	ZoneFaderC:  "FaderC",
	ZoneFaderD:  "FaderD",
	ZoneButtons: "Buttons",
	ZoneAccent:  "Accent",
	ZoneSampler: "Sampler",
}

// SamplerBank is one of the sample banks the full-size console pages
// between. How many a model has comes from the capability descriptor.
type SamplerBank uint8

const (
	BankA SamplerBank = iota
	BankB
	BankC
)

var samplerBankNames = map[SamplerBank]string{
	BankA: "A",
	BankB: "B",
	BankC: "C",
}

// SamplerSlot is one of the four physical sample buttons within a bank.
type SamplerSlot uint8

const (
	SlotTopLeft SamplerSlot = iota
	SlotTopRight
	SlotBottomLeft
	SlotBottomRight
)

var samplerSlotNames = map[SamplerSlot]string{
	SlotTopLeft:     "TopLeft",
	SlotTopRight:    "TopRight",
	SlotBottomLeft:  "BottomLeft",
	SlotBottomRight: "BottomRight",
}

// CapabilitySet is the fixed list of entities and value domains a specific
// attached console supports. It is resolved once while the session
// initializes and never changes afterwards.
type CapabilitySet struct {
	Model     Model
	VolumeMax uint8

	Channels []Channel
	Faders   []Fader
	Inputs   []Input
	Outputs  []Output
	Effects  []EffectKey
	Zones    []LightingZone

	SamplerBanks int
}

func (c CapabilitySet) HasChannel(ch Channel) bool {
	return funk.Contains(c.Channels, ch)
}

func (c CapabilitySet) HasFader(f Fader) bool {
	return funk.Contains(c.Faders, f)
}

func (c CapabilitySet) HasRoute(in Input, out Output) bool {
	return funk.Contains(c.Inputs, in) && funk.Contains(c.Outputs, out)
}

func (c CapabilitySet) HasEffect(e EffectKey) bool {
	return funk.Contains(c.Effects, e)
}

func (c CapabilitySet) HasZone(z LightingZone) bool {
	return funk.Contains(c.Zones, z)
}

// HasSamplerSlot reports whether the model exposes the given bank and
// slot. The mini reports zero banks and therefore no slots at all.
func (c CapabilitySet) HasSamplerSlot(b SamplerBank, s SamplerSlot) bool {
	_, known := samplerSlotNames[s]
	return known && int(b) < c.SamplerBanks
}

// FullCapabilities describes the full-size console.
func FullCapabilities() CapabilitySet {
	return CapabilitySet{
		Model:     ModelFull,
		VolumeMax: 100,
		Channels: []Channel{
			ChannelMic, ChannelChat, ChannelMusic, ChannelGame, ChannelConsole,
			ChannelLineIn, ChannelSystem, ChannelSample, ChannelHeadphones, ChannelLineOut,
		},
		Faders: []Fader{FaderA, FaderB, FaderC, FaderD},
		Inputs: []Input{
			InputMicrophone, InputChat, InputMusic, InputGame,
			InputConsole, InputLineIn, InputSystem, InputSamples,
		},
		Outputs: []Output{
			OutputHeadphones, OutputBroadcastMix, OutputLineOut, OutputChatMic, OutputSampler,
		},
		Effects: []EffectKey{
			EffectReverb, EffectEcho, EffectPitch, EffectGender,
			EffectMegaphone, EffectRobot, EffectHardTune,
		},
		Zones: []LightingZone{
			ZoneFaderA, ZoneFaderB, ZoneFaderC, ZoneFaderD,
			ZoneButtons, ZoneAccent, ZoneSampler,
		},
		SamplerBanks: 3,
	}
}

// MiniCapabilities describes the mini variant: no effect units, no sampler,
// fewer lighting zones.
func MiniCapabilities() CapabilitySet {
	return CapabilitySet{
		Model:     ModelMini,
		VolumeMax: 100,
		Channels: []Channel{
			ChannelMic, ChannelChat, ChannelMusic, ChannelGame, ChannelConsole,
			ChannelLineIn, ChannelSystem, ChannelHeadphones, ChannelLineOut,
		},
		Faders: []Fader{FaderA, FaderB, FaderC, FaderD},
		Inputs: []Input{
			InputMicrophone, InputChat, InputMusic, InputGame,
			InputConsole, InputLineIn, InputSystem,
		},
		Outputs: []Output{
			OutputHeadphones, OutputBroadcastMix, OutputLineOut, OutputChatMic,
		},
		Zones: []LightingZone{
			ZoneFaderA, ZoneFaderB, ZoneFaderC, ZoneFaderD, ZoneButtons,
		},
	}
}

// CapabilitiesForModel maps the model byte from the handshake to its
// capability set.
func CapabilitiesForModel(m Model) (CapabilitySet, error) {
	switch m {
	case ModelFull:
		return FullCapabilities(), nil
	case ModelMini:
		return MiniCapabilities(), nil
	}

	return CapabilitySet{}, fmt.Errorf("unknown device model %d", m)
}
