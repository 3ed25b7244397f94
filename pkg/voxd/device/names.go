package device

import "fmt"

// The enums in this package cross the IPC boundary and appear in profile
// documents, so they all serialize as their display names rather than raw
// bytes. Raw bytes only ever appear inside USB frame payloads.

func (c Channel) String() string { return channelNames[c] }

func (c Channel) MarshalText() ([]byte, error) {
	name, ok := channelNames[c]
	if !ok {
		return nil, fmt.Errorf("unknown channel %d", uint8(c))
	}
	return []byte(name), nil
}

func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := ChannelFromName(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func ChannelFromName(name string) (Channel, error) {
	for ch, n := range channelNames {
		if n == name {
			return ch, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

func (f Fader) String() string { return faderNames[f] }

func (f Fader) MarshalText() ([]byte, error) {
	name, ok := faderNames[f]
	if !ok {
		return nil, fmt.Errorf("unknown fader %d", uint8(f))
	}
	return []byte(name), nil
}

func (f *Fader) UnmarshalText(text []byte) error {
	parsed, err := FaderFromName(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func FaderFromName(name string) (Fader, error) {
	for f, n := range faderNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown fader %q", name)
}

func (i Input) String() string { return inputNames[i] }

func (i Input) MarshalText() ([]byte, error) {
	name, ok := inputNames[i]
	if !ok {
		return nil, fmt.Errorf("unknown input %d", uint8(i))
	}
	return []byte(name), nil
}

func (i *Input) UnmarshalText(text []byte) error {
	parsed, err := InputFromName(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

func InputFromName(name string) (Input, error) {
	for i, n := range inputNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown input %q", name)
}

func (o Output) String() string { return outputNames[o] }

func (o Output) MarshalText() ([]byte, error) {
	name, ok := outputNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown output %d", uint8(o))
	}
	return []byte(name), nil
}

func (o *Output) UnmarshalText(text []byte) error {
	parsed, err := OutputFromName(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

func OutputFromName(name string) (Output, error) {
	for o, n := range outputNames {
		if n == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown output %q", name)
}

func (e EffectKey) String() string { return effectNames[e] }

func (e EffectKey) MarshalText() ([]byte, error) {
	name, ok := effectNames[e]
	if !ok {
		return nil, fmt.Errorf("unknown effect %d", uint8(e))
	}
	return []byte(name), nil
}

func (e *EffectKey) UnmarshalText(text []byte) error {
	parsed, err := EffectFromName(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func EffectFromName(name string) (EffectKey, error) {
	for e, n := range effectNames {
		if n == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown effect %q", name)
}

func (z LightingZone) String() string { return zoneNames[z] }

func (z LightingZone) MarshalText() ([]byte, error) {
	name, ok := zoneNames[z]
	if !ok {
		return nil, fmt.Errorf("unknown lighting zone %d", uint8(z))
	}
	return []byte(name), nil
}

func (z *LightingZone) UnmarshalText(text []byte) error {
	parsed, err := ZoneFromName(string(text))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

func ZoneFromName(name string) (LightingZone, error) {
	for z, n := range zoneNames {
		if n == name {
			return z, nil
		}
	}
	return 0, fmt.Errorf("unknown lighting zone %q", name)
}

func (b SamplerBank) String() string { return samplerBankNames[b] }

func (b SamplerBank) MarshalText() ([]byte, error) {
	name, ok := samplerBankNames[b]
	if !ok {
		return nil, fmt.Errorf("unknown sampler bank %d", uint8(b))
	}
	return []byte(name), nil
}

func (b *SamplerBank) UnmarshalText(text []byte) error {
	parsed, err := BankFromName(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func BankFromName(name string) (SamplerBank, error) {
	for b, n := range samplerBankNames {
		if n == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown sampler bank %q", name)
}

func (s SamplerSlot) String() string { return samplerSlotNames[s] }

func (s SamplerSlot) MarshalText() ([]byte, error) {
	name, ok := samplerSlotNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown sampler slot %d", uint8(s))
	}
	return []byte(name), nil
}

func (s *SamplerSlot) UnmarshalText(text []byte) error {
	parsed, err := SlotFromName(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func SlotFromName(name string) (SamplerSlot, error) {
	for s, n := range samplerSlotNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown sampler slot %q", name)
}
