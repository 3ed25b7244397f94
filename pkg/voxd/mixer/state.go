// Package mixer holds the authoritative in-memory mirror of a console's
// logical mixer and the dispatcher that mutates it through validated
// commands.
package mixer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
)

// Effect amount parameters are signed percentages.
const (
	MinEffectAmount = -100
	MaxEffectAmount = 100
)

// EffectState is one effect unit's current configuration.
type EffectState struct {
	Enabled bool  `json:"enabled" cbor:"enabled"`
	Amount  int32 `json:"amount" cbor:"amount"`
}

// RouteState is one routing crosspoint in a snapshot.
type RouteState struct {
	Input   device.Input  `json:"input" cbor:"input"`
	Output  device.Output `json:"output" cbor:"output"`
	Enabled bool          `json:"enabled" cbor:"enabled"`
}

// SamplerSlotState is one sample button's assignment in a snapshot. An
// empty sample name means the slot is unloaded.
type SamplerSlotState struct {
	Bank   device.SamplerBank `json:"bank" cbor:"bank"`
	Slot   device.SamplerSlot `json:"slot" cbor:"slot"`
	Sample string             `json:"sample" cbor:"sample"`
}

// Snapshot is an immutable copy of the full mixer state, safe to hand
// across the broadcast boundary.
type Snapshot struct {
	Volumes  map[device.Channel]uint8          `json:"volumes" cbor:"volumes"`
	Mutes    map[device.Channel]bool           `json:"mutes" cbor:"mutes"`
	Faders   map[device.Fader]device.Channel   `json:"faders" cbor:"faders"`
	Routing  []RouteState                      `json:"routing" cbor:"routing"`
	Effects  map[device.EffectKey]EffectState  `json:"effects,omitempty" cbor:"effects,omitempty"`
	Lighting map[device.LightingZone]string    `json:"lighting" cbor:"lighting"`
	Sampler  []SamplerSlotState                `json:"sampler,omitempty" cbor:"sampler,omitempty"`
}

// Change is one entity's transition inside a delta. Replaying a change
// whose old value already matches is a no-op, which makes deltas
// idempotent against the snapshot they were derived from.
type Change struct {
	Entity string `json:"entity" cbor:"entity"`
	Old    any    `json:"old" cbor:"old"`
	New    any    `json:"new" cbor:"new"`
}

// Delta is the minimal description of one committed mutation.
type Delta []Change

type routeKey struct {
	input  device.Input
	output device.Output
}

type samplerKey struct {
	bank device.SamplerBank
	slot device.SamplerSlot
}

// State is the authoritative mixer state for one attached console. Every
// entity key it holds corresponds to a capability the device actually
// exposes; the capability set is fixed when the session initializes.
//
// Mutation plus delta derivation is a single atomic step: observers see
// either the pre- or post-mutation snapshot, never a partial one.
type State struct {
	mu   sync.RWMutex
	caps device.CapabilitySet

	volumes  map[device.Channel]uint8
	mutes    map[device.Channel]bool
	faders   map[device.Fader]device.Channel
	routes   map[routeKey]bool
	effects  map[device.EffectKey]EffectState
	lighting map[device.LightingZone]string
	sampler  map[samplerKey]string
}

// NewState builds the initial state for a capability set: channels at half
// volume and unmuted, faders assigned in channel order, no routes, effects
// disabled, lighting dark, sampler slots unloaded.
func NewState(caps device.CapabilitySet) *State {
	s := &State{
		caps:     caps,
		volumes:  make(map[device.Channel]uint8),
		mutes:    make(map[device.Channel]bool),
		faders:   make(map[device.Fader]device.Channel),
		routes:   make(map[routeKey]bool),
		effects:  make(map[device.EffectKey]EffectState),
		lighting: make(map[device.LightingZone]string),
		sampler:  make(map[samplerKey]string),
	}

	for _, ch := range caps.Channels {
		s.volumes[ch] = caps.VolumeMax / 2
		s.mutes[ch] = false
	}

	for i, f := range caps.Faders {
		if i < len(caps.Channels) {
			s.faders[f] = caps.Channels[i]
		}
	}

	for _, in := range caps.Inputs {
		for _, out := range caps.Outputs {
			s.routes[routeKey{in, out}] = false
		}
	}

	for _, e := range caps.Effects {
		s.effects[e] = EffectState{}
	}

	for _, z := range caps.Zones {
		s.lighting[z] = "000000"
	}

	for bank := 0; bank < caps.SamplerBanks; bank++ {
		for slot := device.SlotTopLeft; slot <= device.SlotBottomRight; slot++ {
			s.sampler[samplerKey{device.SamplerBank(bank), slot}] = ""
		}
	}

	return s
}

// Capabilities returns the capability set this state is bound to.
func (s *State) Capabilities() device.CapabilitySet {
	return s.caps
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Volumes:  make(map[device.Channel]uint8, len(s.volumes)),
		Mutes:    make(map[device.Channel]bool, len(s.mutes)),
		Faders:   make(map[device.Fader]device.Channel, len(s.faders)),
		Lighting: make(map[device.LightingZone]string, len(s.lighting)),
	}

	for ch, v := range s.volumes {
		snap.Volumes[ch] = v
	}
	for ch, m := range s.mutes {
		snap.Mutes[ch] = m
	}
	for f, ch := range s.faders {
		snap.Faders[f] = ch
	}
	for z, c := range s.lighting {
		snap.Lighting[z] = c
	}

	if len(s.effects) > 0 {
		snap.Effects = make(map[device.EffectKey]EffectState, len(s.effects))
		for e, es := range s.effects {
			snap.Effects[e] = es
		}
	}

	for key, enabled := range s.routes {
		snap.Routing = append(snap.Routing, RouteState{
			Input:   key.input,
			Output:  key.output,
			Enabled: enabled,
		})
	}
	sort.Slice(snap.Routing, func(i, j int) bool {
		if snap.Routing[i].Input != snap.Routing[j].Input {
			return snap.Routing[i].Input < snap.Routing[j].Input
		}
		return snap.Routing[i].Output < snap.Routing[j].Output
	})

	for key, sample := range s.sampler {
		snap.Sampler = append(snap.Sampler, SamplerSlotState{
			Bank:   key.bank,
			Slot:   key.slot,
			Sample: sample,
		})
	}
	sort.Slice(snap.Sampler, func(i, j int) bool {
		if snap.Sampler[i].Bank != snap.Sampler[j].Bank {
			return snap.Sampler[i].Bank < snap.Sampler[j].Bank
		}
		return snap.Sampler[i].Slot < snap.Sampler[j].Slot
	})

	return snap
}

// EffectEnabled reports whether an effect unit is currently switched on.
func (s *State) EffectEnabled(e device.EffectKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effects[e].Enabled
}

// Apply commits a dispatcher-validated mutation and derives its delta.
// All-or-nothing: if any entry refers to an entity outside the capability
// set, nothing is applied.
func (s *State) Apply(m Mutation) (Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range m.entries {
		if err := entry.check(s); err != nil {
			return nil, err
		}
	}

	delta := make(Delta, 0, len(m.entries))
	for _, entry := range m.entries {
		delta = append(delta, entry.commit(s))
	}

	return delta, nil
}

// Replay applies a delta onto a snapshot, returning the resulting
// snapshot. A client that connects mid-stream and replays every
// subsequent delta onto its initial snapshot reconstructs the same state
// a client connected from the start observes.
//
// Change values tolerate the loosened types a wire decode produces
// (uint64 for small integers, plain strings for enum names), so a delta
// is replayable whether it came straight from Apply or through the IPC
// codec.
func Replay(snap Snapshot, delta Delta) (Snapshot, error) {
	out := snap.clone()

	for _, change := range delta {
		parts := strings.Split(change.Entity, ".")
		if len(parts) < 2 {
			return Snapshot{}, fmt.Errorf("malformed entity key %q", change.Entity)
		}

		switch parts[0] {
		case "volume":
			ch, err := device.ChannelFromName(parts[1])
			if err != nil {
				return Snapshot{}, err
			}
			v, err := asVolume(change)
			if err != nil {
				return Snapshot{}, err
			}
			out.Volumes[ch] = v
		case "mute":
			ch, err := device.ChannelFromName(parts[1])
			if err != nil {
				return Snapshot{}, err
			}
			m, err := asBool(change)
			if err != nil {
				return Snapshot{}, err
			}
			out.Mutes[ch] = m
		case "fader":
			f, err := device.FaderFromName(parts[1])
			if err != nil {
				return Snapshot{}, err
			}
			ch, err := asChannel(change)
			if err != nil {
				return Snapshot{}, err
			}
			out.Faders[f] = ch
		case "route":
			if len(parts) != 3 {
				return Snapshot{}, fmt.Errorf("malformed entity key %q", change.Entity)
			}
			in, err := device.InputFromName(parts[1])
			if err != nil {
				return Snapshot{}, err
			}
			dst, err := device.OutputFromName(parts[2])
			if err != nil {
				return Snapshot{}, err
			}
			enabled, err := asBool(change)
			if err != nil {
				return Snapshot{}, err
			}
			for i := range out.Routing {
				if out.Routing[i].Input == in && out.Routing[i].Output == dst {
					out.Routing[i].Enabled = enabled
				}
			}
		case "effect":
			if len(parts) != 3 {
				return Snapshot{}, fmt.Errorf("malformed entity key %q", change.Entity)
			}
			e, err := device.EffectFromName(parts[1])
			if err != nil {
				return Snapshot{}, err
			}
			es := out.Effects[e]
			switch parts[2] {
			case "enabled":
				enabled, err := asBool(change)
				if err != nil {
					return Snapshot{}, err
				}
				es.Enabled = enabled
			case "amount":
				amount, err := asAmount(change)
				if err != nil {
					return Snapshot{}, err
				}
				es.Amount = amount
			default:
				return Snapshot{}, fmt.Errorf("malformed entity key %q", change.Entity)
			}
			out.Effects[e] = es
		case "sampler":
			if len(parts) != 3 {
				return Snapshot{}, fmt.Errorf("malformed entity key %q", change.Entity)
			}
			bank, err := device.BankFromName(parts[1])
			if err != nil {
				return Snapshot{}, err
			}
			slot, err := device.SlotFromName(parts[2])
			if err != nil {
				return Snapshot{}, err
			}
			sample, err := asString(change)
			if err != nil {
				return Snapshot{}, err
			}
			for i := range out.Sampler {
				if out.Sampler[i].Bank == bank && out.Sampler[i].Slot == slot {
					out.Sampler[i].Sample = sample
				}
			}
		case "light":
			z, err := device.ZoneFromName(parts[1])
			if err != nil {
				return Snapshot{}, err
			}
			colour, err := asString(change)
			if err != nil {
				return Snapshot{}, err
			}
			out.Lighting[z] = colour
		default:
			return Snapshot{}, fmt.Errorf("unknown entity kind in key %q", change.Entity)
		}
	}

	return out, nil
}

func asVolume(c Change) (uint8, error) {
	switch v := c.New.(type) {
	case uint8:
		return v, nil
	case uint64:
		if v > 255 {
			return 0, fmt.Errorf("entity %q: volume %d out of range", c.Entity, v)
		}
		return uint8(v), nil
	case int64:
		if v < 0 || v > 255 {
			return 0, fmt.Errorf("entity %q: volume %d out of range", c.Entity, v)
		}
		return uint8(v), nil
	case float64:
		// JSON-decoded deltas carry numbers as float64
		if v < 0 || v > 255 || v != float64(uint8(v)) {
			return 0, fmt.Errorf("entity %q: volume %v out of range", c.Entity, v)
		}
		return uint8(v), nil
	}
	return 0, fmt.Errorf("entity %q: unexpected value type %T", c.Entity, c.New)
}

func asAmount(c Change) (int32, error) {
	switch v := c.New.(type) {
	case int32:
		if v < MinEffectAmount || v > MaxEffectAmount {
			return 0, fmt.Errorf("entity %q: amount %d out of range", c.Entity, v)
		}
		return v, nil
	case int64:
		if v < MinEffectAmount || v > MaxEffectAmount {
			return 0, fmt.Errorf("entity %q: amount %d out of range", c.Entity, v)
		}
		return int32(v), nil
	case uint64:
		if v > MaxEffectAmount {
			return 0, fmt.Errorf("entity %q: amount %d out of range", c.Entity, v)
		}
		return int32(v), nil
	case float64:
		if v < MinEffectAmount || v > MaxEffectAmount || v != float64(int32(v)) {
			return 0, fmt.Errorf("entity %q: amount %v out of range", c.Entity, v)
		}
		return int32(v), nil
	}
	return 0, fmt.Errorf("entity %q: unexpected value type %T", c.Entity, c.New)
}

func asBool(c Change) (bool, error) {
	if v, ok := c.New.(bool); ok {
		return v, nil
	}
	return false, fmt.Errorf("entity %q: unexpected value type %T", c.Entity, c.New)
}

func asString(c Change) (string, error) {
	if v, ok := c.New.(string); ok {
		return v, nil
	}
	return "", fmt.Errorf("entity %q: unexpected value type %T", c.Entity, c.New)
}

func asChannel(c Change) (device.Channel, error) {
	switch v := c.New.(type) {
	case device.Channel:
		return v, nil
	case string:
		return device.ChannelFromName(v)
	}
	return 0, fmt.Errorf("entity %q: unexpected value type %T", c.Entity, c.New)
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Volumes:  make(map[device.Channel]uint8, len(s.Volumes)),
		Mutes:    make(map[device.Channel]bool, len(s.Mutes)),
		Faders:   make(map[device.Fader]device.Channel, len(s.Faders)),
		Routing:  make([]RouteState, len(s.Routing)),
		Lighting: make(map[device.LightingZone]string, len(s.Lighting)),
	}

	for ch, v := range s.Volumes {
		out.Volumes[ch] = v
	}
	for ch, m := range s.Mutes {
		out.Mutes[ch] = m
	}
	for f, ch := range s.Faders {
		out.Faders[f] = ch
	}
	copy(out.Routing, s.Routing)
	for z, c := range s.Lighting {
		out.Lighting[z] = c
	}

	if s.Effects != nil {
		out.Effects = make(map[device.EffectKey]EffectState, len(s.Effects))
		for e, es := range s.Effects {
			out.Effects[e] = es
		}
	}

	if s.Sampler != nil {
		out.Sampler = make([]SamplerSlotState, len(s.Sampler))
		copy(out.Sampler, s.Sampler)
	}

	return out
}
