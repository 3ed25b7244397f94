package mixer

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/profile"
	"github.com/voxmixlabs/voxd/pkg/voxd/protocol"
)

// fakeExecutor acks every request with a success status unless a test
// scripts otherwise.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []protocol.Request

	// scripted outcome per request, keyed by call index (0-based)
	fail   map[int]error
	reject map[int]bool
}

func (f *fakeExecutor) Execute(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
	f.mu.Lock()
	index := len(f.requests)
	f.requests = append(f.requests, req)
	err := f.fail[index]
	rejected := f.reject[index]
	f.mu.Unlock()

	if err != nil {
		return protocol.Frame{}, err
	}

	status := byte(0)
	if rejected {
		status = 1
	}
	return protocol.Frame{CommandID: req.CommandID, Payload: []byte{status}}, nil
}

func (f *fakeExecutor) recorded() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Request(nil), f.requests...)
}

type fakeProfiles struct {
	docs map[string]profile.Document
}

func (f *fakeProfiles) Load(name string) (profile.Document, error) {
	doc, ok := f.docs[name]
	if !ok {
		return profile.Document{}, errors.New("profile not found")
	}
	return doc, nil
}

func (f *fakeProfiles) Save(name string, doc profile.Document) error {
	if f.docs == nil {
		f.docs = make(map[string]profile.Document)
	}
	f.docs[name] = doc
	return nil
}

func newTestDispatcher(caps device.CapabilitySet) (*Dispatcher, *State, *fakeExecutor, *fakeProfiles) {
	state := NewState(caps)
	exec := &fakeExecutor{}
	profiles := &fakeProfiles{}
	d := NewDispatcher(zap.NewNop().Sugar(), state, exec, profiles)
	return d, state, exec, profiles
}

func TestSubmitSetVolume(t *testing.T) {
	d, state, exec, _ := newTestDispatcher(device.FullCapabilities())

	delta, err := d.Submit(context.Background(), SetVolume{Channel: device.ChannelMic, Volume: 80})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(delta) != 1 || delta[0].Entity != "volume.Mic" {
		t.Fatalf("delta = %+v, want one volume.Mic change", delta)
	}
	if delta[0].Old != uint8(50) || delta[0].New != uint8(80) {
		t.Errorf("change = %v→%v, want 50→80", delta[0].Old, delta[0].New)
	}

	requests := exec.recorded()
	if len(requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests))
	}
	if requests[0].CommandID != protocol.CmdSetVolume {
		t.Errorf("command id = 0x%04X, want CmdSetVolume", requests[0].CommandID)
	}
	want := []byte{byte(device.ChannelMic), 80}
	if !bytes.Equal(requests[0].Payload, want) {
		t.Errorf("payload = % x, want % x", requests[0].Payload, want)
	}

	if got := state.Snapshot().Volumes[device.ChannelMic]; got != 80 {
		t.Errorf("state volume = %d, want 80", got)
	}
}

func TestSubmitRejectsOutOfRangeVolume(t *testing.T) {
	d, state, exec, _ := newTestDispatcher(device.FullCapabilities())

	_, err := d.Submit(context.Background(), SetVolume{Channel: device.ChannelMic, Volume: 150})

	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidValueError, got %v", err)
	}

	// validation failures never reach the device
	if len(exec.recorded()) != 0 {
		t.Errorf("requests = %d, want 0", len(exec.recorded()))
	}
	if got := state.Snapshot().Volumes[device.ChannelMic]; got != 50 {
		t.Errorf("state volume = %d, want unchanged 50", got)
	}
}

func TestSubmitRejectsUnsupportedEntity(t *testing.T) {
	d, _, exec, _ := newTestDispatcher(device.MiniCapabilities())

	_, err := d.Submit(context.Background(), SetEffectEnabled{Effect: device.EffectReverb, Enabled: true})

	var unsupported *UnsupportedEntityError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedEntityError, got %v", err)
	}
	if len(exec.recorded()) != 0 {
		t.Errorf("requests = %d, want 0", len(exec.recorded()))
	}
}

func TestSubmitEffectAmountOnLiveEffect(t *testing.T) {
	d, state, exec, _ := newTestDispatcher(device.FullCapabilities())

	if _, err := d.Submit(context.Background(), SetEffectEnabled{Effect: device.EffectReverb, Enabled: true}); err != nil {
		t.Fatalf("enable failed: %v", err)
	}

	if _, err := d.Submit(context.Background(), SetEffectAmount{Effect: device.EffectReverb, Amount: 30}); err != nil {
		t.Fatalf("amount failed: %v", err)
	}

	requests := exec.recorded()
	// enable, then the bracketed sequence: disable, parameter, re-enable
	if len(requests) != 4 {
		t.Fatalf("requests = %d, want 4", len(requests))
	}

	wantIDs := []uint32{
		protocol.CmdSetEffectState,
		protocol.CmdSetEffectState,
		protocol.CmdSetEffectParam,
		protocol.CmdSetEffectState,
	}
	for i, want := range wantIDs {
		if requests[i].CommandID != want {
			t.Errorf("request %d command id = 0x%04X, want 0x%04X", i, requests[i].CommandID, want)
		}
	}
	if requests[1].Payload[1] != 0 {
		t.Error("bracket open should disable the effect")
	}
	if requests[3].Payload[1] != 1 {
		t.Error("bracket close should re-enable the effect")
	}

	es := state.Snapshot().Effects[device.EffectReverb]
	if !es.Enabled || es.Amount != 30 {
		t.Errorf("effect state = %+v, want enabled at 30", es)
	}
}

func TestSubmitEffectAmountOnIdleEffect(t *testing.T) {
	d, _, exec, _ := newTestDispatcher(device.FullCapabilities())

	if _, err := d.Submit(context.Background(), SetEffectAmount{Effect: device.EffectEcho, Amount: -20}); err != nil {
		t.Fatalf("amount failed: %v", err)
	}

	requests := exec.recorded()
	if len(requests) != 1 || requests[0].CommandID != protocol.CmdSetEffectParam {
		t.Fatalf("requests = %+v, want a single parameter write", requests)
	}
}

func TestSubmitSetSamplerSlot(t *testing.T) {
	d, state, exec, _ := newTestDispatcher(device.FullCapabilities())

	delta, err := d.Submit(context.Background(), SetSamplerSlot{
		Bank: device.BankB, Slot: device.SlotTopRight, Sample: "airhorn",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if len(delta) != 1 || delta[0].Entity != "sampler.B.TopRight" {
		t.Fatalf("delta = %+v, want one sampler.B.TopRight change", delta)
	}
	if delta[0].Old != "" || delta[0].New != "airhorn" {
		t.Errorf("change = %v→%v, want \"\"→airhorn", delta[0].Old, delta[0].New)
	}

	requests := exec.recorded()
	if len(requests) != 1 || requests[0].CommandID != protocol.CmdSetSamplerSlot {
		t.Fatalf("requests = %+v, want a single sampler write", requests)
	}
	want := append([]byte{byte(device.BankB), byte(device.SlotTopRight)}, "airhorn"...)
	if !bytes.Equal(requests[0].Payload, want) {
		t.Errorf("payload = % x, want % x", requests[0].Payload, want)
	}

	for _, slot := range state.Snapshot().Sampler {
		if slot.Bank == device.BankB && slot.Slot == device.SlotTopRight {
			if slot.Sample != "airhorn" {
				t.Errorf("slot sample = %q, want airhorn", slot.Sample)
			}
			return
		}
	}
	t.Error("slot B.TopRight missing from snapshot")
}

func TestSubmitSamplerUnsupportedOnMini(t *testing.T) {
	d, _, exec, _ := newTestDispatcher(device.MiniCapabilities())

	_, err := d.Submit(context.Background(), SetSamplerSlot{
		Bank: device.BankA, Slot: device.SlotTopLeft, Sample: "airhorn",
	})

	var unsupported *UnsupportedEntityError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedEntityError, got %v", err)
	}
	if len(exec.recorded()) != 0 {
		t.Errorf("requests = %d, want 0", len(exec.recorded()))
	}
}

func TestSubmitRejectsOverlongSampleName(t *testing.T) {
	d, _, exec, _ := newTestDispatcher(device.FullCapabilities())

	_, err := d.Submit(context.Background(), SetSamplerSlot{
		Bank: device.BankA, Slot: device.SlotTopLeft,
		Sample: strings.Repeat("x", MaxSampleNameLength+1),
	})

	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidValueError, got %v", err)
	}
	if len(exec.recorded()) != 0 {
		t.Errorf("requests = %d, want 0", len(exec.recorded()))
	}
}

func TestSubmitPartialFailureCommitsNothing(t *testing.T) {
	d, state, exec, _ := newTestDispatcher(device.FullCapabilities())

	if _, err := d.Submit(context.Background(), SetEffectEnabled{Effect: device.EffectReverb, Enabled: true}); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	before := state.Snapshot()

	// request 1 is the parameter write inside the bracket (0-based after
	// the single enable request)
	exec.fail = map[int]error{2: errors.New("transfer aborted")}

	_, err := d.Submit(context.Background(), SetEffectAmount{Effect: device.EffectReverb, Amount: 60})

	var failed *CommandFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected CommandFailedError, got %v", err)
	}

	if got := state.Snapshot(); !reflect.DeepEqual(got, before) {
		t.Error("state changed despite partially failed command")
	}
}

func TestSubmitDeviceRejectionStatus(t *testing.T) {
	d, state, exec, _ := newTestDispatcher(device.FullCapabilities())
	exec.reject = map[int]bool{0: true}

	_, err := d.Submit(context.Background(), SetMute{Channel: device.ChannelMic, Muted: true})

	var failed *CommandFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected CommandFailedError, got %v", err)
	}
	if state.Snapshot().Mutes[device.ChannelMic] {
		t.Error("mute committed despite device rejection")
	}
}

func TestSubmitMapsSessionErrors(t *testing.T) {
	d, _, exec, _ := newTestDispatcher(device.FullCapabilities())

	exec.fail = map[int]error{0: device.ErrSessionBusy}
	if _, err := d.Submit(context.Background(), SetMute{Channel: device.ChannelMic, Muted: true}); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("expected ErrDeviceBusy, got %v", err)
	}

	exec.fail = map[int]error{1: device.ErrDisconnected}
	if _, err := d.Submit(context.Background(), SetMute{Channel: device.ChannelMic, Muted: true}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestSaveAndLoadProfile(t *testing.T) {
	d, state, _, profiles := newTestDispatcher(device.FullCapabilities())

	if _, err := d.Submit(context.Background(), SetVolume{Channel: device.ChannelMusic, Volume: 88}); err != nil {
		t.Fatalf("volume failed: %v", err)
	}
	if _, err := d.Submit(context.Background(), SetRouting{Input: device.InputMusic, Output: device.OutputHeadphones, Enabled: true}); err != nil {
		t.Fatalf("routing failed: %v", err)
	}

	if _, err := d.Submit(context.Background(), SaveProfile{Profile: "streaming"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	doc := profiles.docs["streaming"]
	if doc.Volumes["Music"] != 88 {
		t.Errorf("saved volume = %d, want 88", doc.Volumes["Music"])
	}

	// drift the live state away from the profile, then load it back
	if _, err := d.Submit(context.Background(), SetVolume{Channel: device.ChannelMusic, Volume: 10}); err != nil {
		t.Fatalf("volume failed: %v", err)
	}

	delta, err := d.Submit(context.Background(), LoadProfile{Profile: "streaming"})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(delta) == 0 {
		t.Fatal("expected a non-empty delta from profile load")
	}

	snap := state.Snapshot()
	if snap.Volumes[device.ChannelMusic] != 88 {
		t.Errorf("volume after load = %d, want 88", snap.Volumes[device.ChannelMusic])
	}
}

func TestProfileCarriesSamplerSlots(t *testing.T) {
	d, state, _, profiles := newTestDispatcher(device.FullCapabilities())

	if _, err := d.Submit(context.Background(), SetSamplerSlot{
		Bank: device.BankC, Slot: device.SlotBottomLeft, Sample: "drumroll",
	}); err != nil {
		t.Fatalf("sampler failed: %v", err)
	}

	if _, err := d.Submit(context.Background(), SaveProfile{Profile: "show"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	doc := profiles.docs["show"]
	if len(doc.Sampler) != 1 || doc.Sampler[0].Bank != "C" || doc.Sampler[0].Slot != "BottomLeft" || doc.Sampler[0].Sample != "drumroll" {
		t.Fatalf("saved sampler = %+v, want C.BottomLeft=drumroll", doc.Sampler)
	}

	// clear the slot, then loading the profile restores it
	if _, err := d.Submit(context.Background(), SetSamplerSlot{
		Bank: device.BankC, Slot: device.SlotBottomLeft,
	}); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := d.Submit(context.Background(), LoadProfile{Profile: "show"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	for _, slot := range state.Snapshot().Sampler {
		if slot.Bank == device.BankC && slot.Slot == device.SlotBottomLeft && slot.Sample != "drumroll" {
			t.Errorf("slot sample after load = %q, want drumroll", slot.Sample)
		}
	}
}

func TestLoadProfileSkipsUnsupportedEntities(t *testing.T) {
	d, state, _, profiles := newTestDispatcher(device.MiniCapabilities())

	// a profile written against the full-size console
	profiles.docs = map[string]profile.Document{
		"full": {
			Volumes: map[string]uint8{"Mic": 70, "Sample": 55},
			Effects: map[string]profile.EffectEntry{"Reverb": {Enabled: true, Amount: 40}},
		},
	}

	if _, err := d.Submit(context.Background(), LoadProfile{Profile: "full"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	snap := state.Snapshot()
	if snap.Volumes[device.ChannelMic] != 70 {
		t.Errorf("mic volume = %d, want 70", snap.Volumes[device.ChannelMic])
	}
	if _, ok := snap.Volumes[device.ChannelSample]; ok {
		t.Error("sample channel should not exist on the mini")
	}
	if len(snap.Effects) != 0 {
		t.Error("effects should be skipped on the mini")
	}
}

func TestLoadProfileRejectsUnknownEntityName(t *testing.T) {
	d, _, _, profiles := newTestDispatcher(device.FullCapabilities())

	profiles.docs = map[string]profile.Document{
		"broken": {Volumes: map[string]uint8{"Subwoofer": 30}},
	}

	_, err := d.Submit(context.Background(), LoadProfile{Profile: "broken"})

	var failed *CommandFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected CommandFailedError, got %v", err)
	}
}
