package mixer

import (
	"fmt"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
)

// Mutation is a dispatcher-validated state change, ready to commit. It is
// built from the typed constructors below; raw commands never reach
// State.Apply directly.
type Mutation struct {
	entries []mutationEntry
}

// Merge appends another mutation's entries in order.
func (m *Mutation) Merge(other Mutation) {
	m.entries = append(m.entries, other.entries...)
}

type mutationEntry interface {
	// check verifies the entry targets an entity inside the capability set;
	// called for every entry before anything commits.
	check(s *State) error

	// commit applies the entry and reports the resulting change. Caller
	// holds the state lock.
	commit(s *State) Change
}

type volumeEntry struct {
	channel device.Channel
	volume  uint8
}

func MutVolume(channel device.Channel, volume uint8) Mutation {
	return Mutation{entries: []mutationEntry{volumeEntry{channel, volume}}}
}

func (e volumeEntry) check(s *State) error {
	if !s.caps.HasChannel(e.channel) {
		return fmt.Errorf("channel %s not in capability set", e.channel)
	}
	return nil
}

func (e volumeEntry) commit(s *State) Change {
	old := s.volumes[e.channel]
	s.volumes[e.channel] = e.volume
	return Change{Entity: "volume." + e.channel.String(), Old: old, New: e.volume}
}

type muteEntry struct {
	channel device.Channel
	muted   bool
}

func MutMute(channel device.Channel, muted bool) Mutation {
	return Mutation{entries: []mutationEntry{muteEntry{channel, muted}}}
}

func (e muteEntry) check(s *State) error {
	if !s.caps.HasChannel(e.channel) {
		return fmt.Errorf("channel %s not in capability set", e.channel)
	}
	return nil
}

func (e muteEntry) commit(s *State) Change {
	old := s.mutes[e.channel]
	s.mutes[e.channel] = e.muted
	return Change{Entity: "mute." + e.channel.String(), Old: old, New: e.muted}
}

type faderEntry struct {
	fader   device.Fader
	channel device.Channel
}

func MutFader(fader device.Fader, channel device.Channel) Mutation {
	return Mutation{entries: []mutationEntry{faderEntry{fader, channel}}}
}

func (e faderEntry) check(s *State) error {
	if !s.caps.HasFader(e.fader) {
		return fmt.Errorf("fader %s not in capability set", e.fader)
	}
	if !s.caps.HasChannel(e.channel) {
		return fmt.Errorf("channel %s not in capability set", e.channel)
	}
	return nil
}

func (e faderEntry) commit(s *State) Change {
	old := s.faders[e.fader]
	s.faders[e.fader] = e.channel
	return Change{Entity: "fader." + e.fader.String(), Old: old, New: e.channel}
}

type routeEntry struct {
	input   device.Input
	output  device.Output
	enabled bool
}

func MutRoute(input device.Input, output device.Output, enabled bool) Mutation {
	return Mutation{entries: []mutationEntry{routeEntry{input, output, enabled}}}
}

func (e routeEntry) check(s *State) error {
	if !s.caps.HasRoute(e.input, e.output) {
		return fmt.Errorf("route %s→%s not in capability set", e.input, e.output)
	}
	return nil
}

func (e routeEntry) commit(s *State) Change {
	key := routeKey{e.input, e.output}
	old := s.routes[key]
	s.routes[key] = e.enabled
	return Change{
		Entity: "route." + e.input.String() + "." + e.output.String(),
		Old:    old,
		New:    e.enabled,
	}
}

type effectEnabledEntry struct {
	effect  device.EffectKey
	enabled bool
}

func MutEffectEnabled(effect device.EffectKey, enabled bool) Mutation {
	return Mutation{entries: []mutationEntry{effectEnabledEntry{effect, enabled}}}
}

func (e effectEnabledEntry) check(s *State) error {
	if !s.caps.HasEffect(e.effect) {
		return fmt.Errorf("effect %s not in capability set", e.effect)
	}
	return nil
}

func (e effectEnabledEntry) commit(s *State) Change {
	es := s.effects[e.effect]
	old := es.Enabled
	es.Enabled = e.enabled
	s.effects[e.effect] = es
	return Change{Entity: "effect." + e.effect.String() + ".enabled", Old: old, New: e.enabled}
}

type effectAmountEntry struct {
	effect device.EffectKey
	amount int32
}

func MutEffectAmount(effect device.EffectKey, amount int32) Mutation {
	return Mutation{entries: []mutationEntry{effectAmountEntry{effect, amount}}}
}

func (e effectAmountEntry) check(s *State) error {
	if !s.caps.HasEffect(e.effect) {
		return fmt.Errorf("effect %s not in capability set", e.effect)
	}
	return nil
}

func (e effectAmountEntry) commit(s *State) Change {
	es := s.effects[e.effect]
	old := es.Amount
	es.Amount = e.amount
	s.effects[e.effect] = es
	return Change{Entity: "effect." + e.effect.String() + ".amount", Old: old, New: e.amount}
}

type lightingEntry struct {
	zone   device.LightingZone
	colour string
}

func MutLighting(zone device.LightingZone, colour string) Mutation {
	return Mutation{entries: []mutationEntry{lightingEntry{zone, colour}}}
}

func (e lightingEntry) check(s *State) error {
	if !s.caps.HasZone(e.zone) {
		return fmt.Errorf("lighting zone %s not in capability set", e.zone)
	}
	return nil
}

func (e lightingEntry) commit(s *State) Change {
	old := s.lighting[e.zone]
	s.lighting[e.zone] = e.colour
	return Change{Entity: "light." + e.zone.String(), Old: old, New: e.colour}
}

type samplerEntry struct {
	bank   device.SamplerBank
	slot   device.SamplerSlot
	sample string
}

func MutSamplerSlot(bank device.SamplerBank, slot device.SamplerSlot, sample string) Mutation {
	return Mutation{entries: []mutationEntry{samplerEntry{bank, slot, sample}}}
}

func (e samplerEntry) check(s *State) error {
	if !s.caps.HasSamplerSlot(e.bank, e.slot) {
		return fmt.Errorf("sampler slot %s.%s not in capability set", e.bank, e.slot)
	}
	return nil
}

func (e samplerEntry) commit(s *State) Change {
	key := samplerKey{e.bank, e.slot}
	old := s.sampler[key]
	s.sampler[key] = e.sample
	return Change{
		Entity: "sampler." + e.bank.String() + "." + e.slot.String(),
		Old:    old,
		New:    e.sample,
	}
}
