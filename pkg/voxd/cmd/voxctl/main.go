// voxctl is a small command-line client for the voxd control socket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/ipc"
	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
)

const usage = `usage: voxctl [-socket path] <command> [args]

commands:
  list                                      list attached consoles
  status <serial>                           print the full mixer state as JSON
  watch <serial>                            stream state changes as JSON lines
  set-volume <serial> <channel> <0-100>     set a channel volume
  set-mute <serial> <channel> on|off        mute or unmute a channel
  set-fader <serial> <A-D> <channel>        assign a channel to a fader
  set-route <serial> <input> <output> on|off
                                            toggle a routing crosspoint
  set-effect <serial> <effect> on|off       switch an effect unit
  set-amount <serial> <effect> <-100..100>  set an effect amount
  set-light <serial> <zone> <RRGGBB>        colour a lighting zone
  set-sample <serial> <bank> <slot> [name]  assign a sample to a button,
                                            or clear it when name is omitted
  load-profile <serial> <name>              apply a stored profile
  save-profile <serial> <name>              store the current state
`

var socketPath = flag.String("socket", "/tmp/voxd.sock", "path to the voxd control socket")

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client, err := ipc.Dial(*socketPath)
	if err != nil {
		fail("connect: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "list":
		runList(ctx, client)
	case "status":
		runStatus(client, arg(args, 1))
	case "watch":
		runWatch(client, arg(args, 1))
	default:
		runCommand(ctx, client, args)
	}
}

func runList(ctx context.Context, client *ipc.Client) {
	devices, err := client.ListDevices(ctx)
	if err != nil {
		fail("list devices: %v", err)
	}

	if len(devices) == 0 {
		fmt.Println("no consoles attached")
		return
	}

	for _, d := range devices {
		fmt.Printf("%s\t%s\tfirmware %s\t%s\n", d.Serial, d.Model, d.Firmware, d.State)
	}
}

func runStatus(client *ipc.Client, serial string) {
	if err := client.Subscribe(serial); err != nil {
		fail("subscribe: %v", err)
	}

	// the first message of a subscription is always the full snapshot
	for event := range client.Events() {
		if event.Device != serial {
			continue
		}
		if event.Removed {
			fail("console %s is not attached", serial)
		}
		if event.Snapshot != nil {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			_ = encoder.Encode(event.Snapshot)
			return
		}
	}

	fail("connection closed")
}

func runWatch(client *ipc.Client, serial string) {
	if err := client.Subscribe(serial); err != nil {
		fail("subscribe: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)

	for event := range client.Events() {
		if event.Device != serial {
			continue
		}

		switch {
		case event.Snapshot != nil:
			_ = encoder.Encode(map[string]any{"snapshot": event.Snapshot})
		case event.Removed:
			_ = encoder.Encode(map[string]any{"removed": true})
			return
		default:
			_ = encoder.Encode(map[string]any{"delta": event.Delta})
		}
	}

	fail("connection closed")
}

func runCommand(ctx context.Context, client *ipc.Client, args []string) {
	serial := arg(args, 1)

	cmd, err := parseCommand(args)
	if err != nil {
		fail("%v", err)
	}

	result, err := client.Submit(ctx, serial, cmd)
	if err != nil {
		fail("submit: %v", err)
	}

	if !result.OK {
		fail("%s: %s", result.Kind, result.Error)
	}

	fmt.Println("ok")
}

func parseCommand(args []string) (mixer.Command, error) {
	switch args[0] {
	case "set-volume":
		ch, err := device.ChannelFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		volume, err := strconv.ParseUint(arg(args, 3), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("volume %q is not a number in 0-100", arg(args, 3))
		}
		return mixer.SetVolume{Channel: ch, Volume: uint8(volume)}, nil

	case "set-mute":
		ch, err := device.ChannelFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		muted, err := parseOnOff(arg(args, 3))
		if err != nil {
			return nil, err
		}
		return mixer.SetMute{Channel: ch, Muted: muted}, nil

	case "set-fader":
		f, err := device.FaderFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		ch, err := device.ChannelFromName(arg(args, 3))
		if err != nil {
			return nil, err
		}
		return mixer.SetFader{Fader: f, Channel: ch}, nil

	case "set-route":
		in, err := device.InputFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		out, err := device.OutputFromName(arg(args, 3))
		if err != nil {
			return nil, err
		}
		enabled, err := parseOnOff(arg(args, 4))
		if err != nil {
			return nil, err
		}
		return mixer.SetRouting{Input: in, Output: out, Enabled: enabled}, nil

	case "set-effect":
		effect, err := device.EffectFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		enabled, err := parseOnOff(arg(args, 3))
		if err != nil {
			return nil, err
		}
		return mixer.SetEffectEnabled{Effect: effect, Enabled: enabled}, nil

	case "set-amount":
		effect, err := device.EffectFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseInt(arg(args, 3), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("amount %q is not a number in -100..100", arg(args, 3))
		}
		return mixer.SetEffectAmount{Effect: effect, Amount: int32(amount)}, nil

	case "set-light":
		zone, err := device.ZoneFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		return mixer.SetLighting{Zone: zone, Colour: arg(args, 3)}, nil

	case "set-sample":
		bank, err := device.BankFromName(arg(args, 2))
		if err != nil {
			return nil, err
		}
		slot, err := device.SlotFromName(arg(args, 3))
		if err != nil {
			return nil, err
		}
		var sample string
		if len(args) > 4 {
			sample = args[4]
		}
		return mixer.SetSamplerSlot{Bank: bank, Slot: slot, Sample: sample}, nil

	case "load-profile":
		return mixer.LoadProfile{Profile: arg(args, 2)}, nil

	case "save-profile":
		return mixer.SaveProfile{Profile: arg(args, 2)}, nil
	}

	return nil, fmt.Errorf("unknown command %q", args[0])
}

func parseOnOff(value string) (bool, error) {
	switch value {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", value)
}

func arg(args []string, index int) string {
	if index >= len(args) {
		flag.Usage()
		os.Exit(2)
	}
	return args[index]
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
