package mixer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/profile"
	"github.com/voxmixlabs/voxd/pkg/voxd/protocol"
)

// Executor issues one request against the device link and returns its
// correlated response. Satisfied by *device.Session.
type Executor interface {
	Execute(ctx context.Context, req protocol.Request) (protocol.Frame, error)
}

// ProfileStore is the external preset store the LoadProfile/SaveProfile
// meta-commands go through.
type ProfileStore interface {
	Load(name string) (profile.Document, error)
	Save(name string, doc profile.Document) error
}

// Dispatcher validates commands against the capability set and current
// state, executes their device request sequences in order, and commits the
// matching state mutation only once the whole sequence succeeded.
type Dispatcher struct {
	logger   *zap.SugaredLogger
	caps     device.CapabilitySet
	state    *State
	exec     Executor
	profiles ProfileStore
}

func NewDispatcher(logger *zap.SugaredLogger, state *State, exec Executor, profiles ProfileStore) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		caps:     state.Capabilities(),
		state:    state,
		exec:     exec,
		profiles: profiles,
	}
}

// Submit runs one command through validate → translate → execute → commit.
// Validation failures never reach the device; a partial device failure
// never commits.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (Delta, error) {
	switch c := cmd.(type) {
	case LoadProfile:
		return d.loadProfile(ctx, c.Profile)
	case SaveProfile:
		return nil, d.saveProfile(c.Profile)
	}

	return d.submitSingle(ctx, cmd)
}

func (d *Dispatcher) submitSingle(ctx context.Context, cmd Command) (Delta, error) {
	mutation, err := d.validate(cmd)
	if err != nil {
		d.logger.Debugw("Rejected command", "command", Describe(cmd), "error", err)
		return nil, err
	}

	requests, err := translate(d.state, cmd)
	if err != nil {
		return nil, &CommandFailedError{Command: cmd.Name(), Err: err}
	}

	for i, req := range requests {
		frame, err := d.exec.Execute(ctx, req)
		if err != nil {
			return nil, d.mapExecuteError(cmd, i, len(requests), err)
		}

		if len(frame.Payload) < 1 || frame.Payload[0] != 0 {
			return nil, &CommandFailedError{
				Command: cmd.Name(),
				Err:     fmt.Errorf("device rejected request %d/%d with status %v", i+1, len(requests), frame.Payload),
			}
		}
	}

	delta, err := d.state.Apply(mutation)
	if err != nil {
		// validation should have made this impossible
		return nil, &CommandFailedError{Command: cmd.Name(), Err: err}
	}

	d.logger.Debugw("Committed command", "command", Describe(cmd), "changes", len(delta))

	return delta, nil
}

func (d *Dispatcher) mapExecuteError(cmd Command, index, total int, err error) error {
	switch {
	case errors.Is(err, device.ErrSessionBusy):
		return ErrDeviceBusy
	case errors.Is(err, device.ErrDisconnected), errors.Is(err, device.ErrSessionNotReady):
		return ErrDeviceUnavailable
	}

	return &CommandFailedError{
		Command: cmd.Name(),
		Err:     fmt.Errorf("request %d/%d: %w", index+1, total, err),
	}
}

// validate checks, in order: the target entity exists in the capability
// set, then the value lies within the entity's declared domain. On success
// it returns the mutation to commit after device execution.
func (d *Dispatcher) validate(cmd Command) (Mutation, error) {
	switch c := cmd.(type) {
	case SetVolume:
		if !d.caps.HasChannel(c.Channel) {
			return Mutation{}, &UnsupportedEntityError{Entity: "channel " + c.Channel.String()}
		}
		if c.Volume > d.caps.VolumeMax {
			return Mutation{}, &InvalidValueError{
				Entity: "volume." + c.Channel.String(),
				Reason: fmt.Sprintf("%d outside [0,%d]", c.Volume, d.caps.VolumeMax),
			}
		}
		return MutVolume(c.Channel, c.Volume), nil

	case SetMute:
		if !d.caps.HasChannel(c.Channel) {
			return Mutation{}, &UnsupportedEntityError{Entity: "channel " + c.Channel.String()}
		}
		return MutMute(c.Channel, c.Muted), nil

	case SetFader:
		if !d.caps.HasFader(c.Fader) {
			return Mutation{}, &UnsupportedEntityError{Entity: "fader " + c.Fader.String()}
		}
		if !d.caps.HasChannel(c.Channel) {
			return Mutation{}, &UnsupportedEntityError{Entity: "channel " + c.Channel.String()}
		}
		return MutFader(c.Fader, c.Channel), nil

	case SetRouting:
		if !d.caps.HasRoute(c.Input, c.Output) {
			return Mutation{}, &UnsupportedEntityError{
				Entity: fmt.Sprintf("route %s→%s", c.Input, c.Output),
			}
		}
		return MutRoute(c.Input, c.Output, c.Enabled), nil

	case SetEffectEnabled:
		if !d.caps.HasEffect(c.Effect) {
			return Mutation{}, &UnsupportedEntityError{Entity: "effect " + c.Effect.String()}
		}
		return MutEffectEnabled(c.Effect, c.Enabled), nil

	case SetEffectAmount:
		if !d.caps.HasEffect(c.Effect) {
			return Mutation{}, &UnsupportedEntityError{Entity: "effect " + c.Effect.String()}
		}
		if c.Amount < MinEffectAmount || c.Amount > MaxEffectAmount {
			return Mutation{}, &InvalidValueError{
				Entity: "effect." + c.Effect.String() + ".amount",
				Reason: fmt.Sprintf("%d outside [%d,%d]", c.Amount, MinEffectAmount, MaxEffectAmount),
			}
		}
		return MutEffectAmount(c.Effect, c.Amount), nil

	case SetLighting:
		if !d.caps.HasZone(c.Zone) {
			return Mutation{}, &UnsupportedEntityError{Entity: "zone " + c.Zone.String()}
		}
		if _, err := ParseColour(c.Colour); err != nil {
			return Mutation{}, &InvalidValueError{
				Entity: "light." + c.Zone.String(),
				Reason: err.Error(),
			}
		}
		return MutLighting(c.Zone, c.Colour), nil

	case SetSamplerSlot:
		if !d.caps.HasSamplerSlot(c.Bank, c.Slot) {
			return Mutation{}, &UnsupportedEntityError{
				Entity: fmt.Sprintf("sampler slot %s.%s", c.Bank, c.Slot),
			}
		}
		if len(c.Sample) > MaxSampleNameLength {
			return Mutation{}, &InvalidValueError{
				Entity: "sampler." + c.Bank.String() + "." + c.Slot.String(),
				Reason: fmt.Sprintf("sample name length %d exceeds %d", len(c.Sample), MaxSampleNameLength),
			}
		}
		return MutSamplerSlot(c.Bank, c.Slot, c.Sample), nil
	}

	return Mutation{}, fmt.Errorf("command %s has no validation", cmd.Name())
}

// loadProfile expands a document into the ordered command sequence needed
// to reach its target state and runs each through the normal submit path.
// Each fully-executed command commits and broadcasts individually; a
// failure stops the expansion, keeping the already-committed prefix.
func (d *Dispatcher) loadProfile(ctx context.Context, name string) (Delta, error) {
	if d.profiles == nil {
		return nil, &CommandFailedError{Command: "LoadProfile", Err: fmt.Errorf("no profile store configured")}
	}

	doc, err := d.profiles.Load(name)
	if err != nil {
		return nil, &CommandFailedError{Command: "LoadProfile", Err: err}
	}

	commands, err := d.ExpandProfile(doc)
	if err != nil {
		return nil, &CommandFailedError{Command: "LoadProfile", Err: err}
	}

	d.logger.Infow("Applying profile", "name", name, "commands", len(commands))

	var merged Delta
	for _, cmd := range commands {
		delta, err := d.submitSingle(ctx, cmd)
		if err != nil {
			return merged, fmt.Errorf("apply profile %q at %s: %w", name, Describe(cmd), err)
		}
		merged = append(merged, delta...)
	}

	return merged, nil
}

// ExpandProfile resolves a document's string entity names against the
// capability set and produces the ordered command list that reaches its
// target state: faders, volumes, mutes, routing, effects (amount before
// enable), lighting, sampler slots. Entities the attached model lacks are
// skipped so a
// full-size profile still loads on a mini.
func (d *Dispatcher) ExpandProfile(doc profile.Document) ([]Command, error) {
	var commands []Command

	for faderName, channelName := range doc.Faders {
		f, err := device.FaderFromName(faderName)
		if err != nil {
			return nil, err
		}
		ch, err := device.ChannelFromName(channelName)
		if err != nil {
			return nil, err
		}
		if !d.caps.HasFader(f) || !d.caps.HasChannel(ch) {
			continue
		}
		commands = append(commands, SetFader{Fader: f, Channel: ch})
	}

	for channelName, volume := range doc.Volumes {
		ch, err := device.ChannelFromName(channelName)
		if err != nil {
			return nil, err
		}
		if !d.caps.HasChannel(ch) {
			continue
		}
		commands = append(commands, SetVolume{Channel: ch, Volume: volume})
	}

	for channelName, muted := range doc.Mutes {
		ch, err := device.ChannelFromName(channelName)
		if err != nil {
			return nil, err
		}
		if !d.caps.HasChannel(ch) {
			continue
		}
		commands = append(commands, SetMute{Channel: ch, Muted: muted})
	}

	for _, route := range doc.Routing {
		in, err := device.InputFromName(route.Input)
		if err != nil {
			return nil, err
		}
		out, err := device.OutputFromName(route.Output)
		if err != nil {
			return nil, err
		}
		if !d.caps.HasRoute(in, out) {
			continue
		}
		commands = append(commands, SetRouting{Input: in, Output: out, Enabled: route.Enabled})
	}

	for effectName, entry := range doc.Effects {
		e, err := device.EffectFromName(effectName)
		if err != nil {
			return nil, err
		}
		if !d.caps.HasEffect(e) {
			continue
		}
		commands = append(commands,
			SetEffectAmount{Effect: e, Amount: entry.Amount},
			SetEffectEnabled{Effect: e, Enabled: entry.Enabled})
	}

	for zoneName, colour := range doc.Lighting {
		z, err := device.ZoneFromName(zoneName)
		if err != nil {
			return nil, err
		}
		if !d.caps.HasZone(z) {
			continue
		}
		commands = append(commands, SetLighting{Zone: z, Colour: colour})
	}

	for _, entry := range doc.Sampler {
		bank, err := device.BankFromName(entry.Bank)
		if err != nil {
			return nil, err
		}
		slot, err := device.SlotFromName(entry.Slot)
		if err != nil {
			return nil, err
		}
		if !d.caps.HasSamplerSlot(bank, slot) {
			continue
		}
		commands = append(commands, SetSamplerSlot{Bank: bank, Slot: slot, Sample: entry.Sample})
	}

	return commands, nil
}

// saveProfile projects current state into a document and stores it.
func (d *Dispatcher) saveProfile(name string) error {
	if d.profiles == nil {
		return &CommandFailedError{Command: "SaveProfile", Err: fmt.Errorf("no profile store configured")}
	}

	doc := ProjectSnapshot(d.state.Snapshot())

	if err := d.profiles.Save(name, doc); err != nil {
		return &CommandFailedError{Command: "SaveProfile", Err: err}
	}

	return nil
}

// ProjectSnapshot converts a snapshot into a profile document.
func ProjectSnapshot(snap Snapshot) profile.Document {
	doc := profile.Document{
		Volumes:  make(map[string]uint8, len(snap.Volumes)),
		Mutes:    make(map[string]bool, len(snap.Mutes)),
		Faders:   make(map[string]string, len(snap.Faders)),
		Lighting: make(map[string]string, len(snap.Lighting)),
	}

	for ch, v := range snap.Volumes {
		doc.Volumes[ch.String()] = v
	}
	for ch, m := range snap.Mutes {
		doc.Mutes[ch.String()] = m
	}
	for f, ch := range snap.Faders {
		doc.Faders[f.String()] = ch.String()
	}
	for _, route := range snap.Routing {
		doc.Routing = append(doc.Routing, profile.RouteEntry{
			Input:   route.Input.String(),
			Output:  route.Output.String(),
			Enabled: route.Enabled,
		})
	}
	if len(snap.Effects) > 0 {
		doc.Effects = make(map[string]profile.EffectEntry, len(snap.Effects))
		for e, es := range snap.Effects {
			doc.Effects[e.String()] = profile.EffectEntry{Enabled: es.Enabled, Amount: es.Amount}
		}
	}
	for z, c := range snap.Lighting {
		doc.Lighting[z.String()] = c
	}
	for _, slot := range snap.Sampler {
		if slot.Sample == "" {
			continue
		}
		doc.Sampler = append(doc.Sampler, profile.SamplerEntry{
			Bank:   slot.Bank.String(),
			Slot:   slot.Slot.String(),
			Sample: slot.Sample,
		})
	}

	return doc
}
