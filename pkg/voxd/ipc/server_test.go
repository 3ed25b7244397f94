package ipc

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
)

// fakeDirectory mimics the daemon's device registry with one console. Its
// Submit behaves like a worker: the reply callback fires first, then the
// delta is broadcast, which is the ordering contract the server relies on.
type fakeDirectory struct {
	server *Server

	mu    sync.Mutex
	state *mixer.State

	serial string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		state:  mixer.NewState(device.FullCapabilities()),
		serial: "VX1",
	}
}

func (f *fakeDirectory) Devices() []DeviceInfo {
	return []DeviceInfo{{Serial: f.serial, Model: "full-size", Firmware: "1.0.0", State: "ready"}}
}

func (f *fakeDirectory) Snapshot(serial string) (mixer.Snapshot, bool) {
	if serial != f.serial {
		return mixer.Snapshot{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Snapshot(), true
}

func (f *fakeDirectory) Submit(serial string, cmd mixer.Command, reply func(Result)) error {
	if serial != f.serial {
		return &unknownSerialError{}
	}

	go func() {
		f.mu.Lock()
		var delta mixer.Delta
		var err error
		switch c := cmd.(type) {
		case mixer.SetVolume:
			delta, err = f.state.Apply(mixer.MutVolume(c.Channel, c.Volume))
		case mixer.SetMute:
			delta, err = f.state.Apply(mixer.MutMute(c.Channel, c.Muted))
		default:
			err = mixer.ErrDeviceUnavailable
		}
		f.mu.Unlock()

		reply(Result{Delta: delta, Err: err})
		if err == nil && len(delta) > 0 {
			f.server.Broadcast(serial, delta)
		}
	}()

	return nil
}

type unknownSerialError struct{}

func (e *unknownSerialError) Error() string { return "no such device" }

func startTestServer(t *testing.T) (*Server, *fakeDirectory, string) {
	t.Helper()

	directory := newFakeDirectory()
	socketPath := filepath.Join(t.TempDir(), "voxd.sock")

	server := NewServer(zap.NewNop().Sugar(), directory, socketPath)
	directory.server = server

	if err := server.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(server.Stop)

	return server, directory, socketPath
}

func TestClientHelloAndListDevices(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("list devices failed: %v", err)
	}

	if len(devices) != 1 || devices[0].Serial != "VX1" {
		t.Errorf("devices = %+v, want one with serial VX1", devices)
	}
}

func TestServerRequiresHelloFirst(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// skip the hello and go straight to a request
	if err := WriteMessage(conn, Message{Type: MsgListDevices}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != MsgProtocolError {
		t.Fatalf("message type = 0x%02X, want protocol error", msg.Type)
	}

	// the connection must be closed after the violation
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := ReadMessage(conn); err == nil {
		t.Error("expected closed connection after protocol error")
	}
}

func TestServerRejectsVersionMismatch(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(Hello{Version: 99, Client: "test"})
	if err := WriteMessage(conn, Message{Type: MsgHello, Payload: payload}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// the refusal reason must reach the wire before the connection closes
	msg := mustRead(t, conn, MsgProtocolError)
	var perr ProtocolErrorMessage
	if err := unmarshal(msg.Payload, &perr); err != nil {
		t.Fatalf("unmarshal protocol error failed: %v", err)
	}
	if !strings.Contains(perr.Reason, "version") {
		t.Errorf("reason = %q, want it to mention the version", perr.Reason)
	}
}

func TestConnectDeliversSnapshotBeforeDeltas(t *testing.T) {
	server, directory, socketPath := startTestServer(t)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	// no explicit subscribe: a fresh connection starts with the full
	// snapshot of every attached console
	event := nextEvent(t, client)
	if event.Snapshot == nil || event.Device != "VX1" {
		t.Fatalf("first event = %+v, want the VX1 snapshot", event)
	}
	if event.Snapshot.Volumes[device.ChannelMic] != 50 {
		t.Errorf("snapshot mic volume = %d, want 50", event.Snapshot.Volumes[device.ChannelMic])
	}

	delta, err := directory.state.Apply(mixer.MutVolume(device.ChannelMic, 90))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	server.Broadcast("VX1", delta)

	event = nextEvent(t, client)
	if event.Delta == nil {
		t.Fatal("second event should be the delta")
	}
	if len(event.Delta) != 1 || event.Delta[0].Entity != "volume.Mic" {
		t.Errorf("delta = %+v, want one volume.Mic change", event.Delta)
	}
}

func TestSubscribeResendsSnapshot(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if event := nextEvent(t, client); event.Snapshot == nil {
		t.Fatalf("first event = %+v, want the connect snapshot", event)
	}

	// an explicit subscribe re-syncs with a fresh snapshot
	if err := client.Subscribe("VX1"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if event := nextEvent(t, client); event.Snapshot == nil || event.Device != "VX1" {
		t.Fatalf("event = %+v, want another VX1 snapshot", event)
	}
}

func TestCommandResultPrecedesOwnDelta(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	// raw connection so the relative order of result and delta on the
	// stream is observable
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(Hello{Version: ProtocolVersion, Client: "test"})
	mustWrite(t, conn, Message{Type: MsgHello, Payload: hello})
	mustRead(t, conn, MsgHelloAck)
	mustRead(t, conn, MsgSnapshot)

	envelope, err := EncodeCommand(mixer.SetVolume{Channel: device.ChannelMusic, Volume: 77})
	if err != nil {
		t.Fatalf("encode command failed: %v", err)
	}
	request, _ := marshal(CommandRequest{ID: "req-1", Device: "VX1", Command: envelope})
	mustWrite(t, conn, Message{Type: MsgCommand, Payload: request})

	resultMsg := mustRead(t, conn, MsgCommandResult)
	var result CommandResult
	if err := unmarshal(resultMsg.Payload, &result); err != nil {
		t.Fatalf("unmarshal result failed: %v", err)
	}
	if result.ID != "req-1" || !result.OK {
		t.Fatalf("result = %+v, want OK for req-1", result)
	}

	deltaMsg := mustRead(t, conn, MsgDelta)
	var delta DeltaMessage
	if err := unmarshal(deltaMsg.Payload, &delta); err != nil {
		t.Fatalf("unmarshal delta failed: %v", err)
	}
	if len(delta.Changes) != 1 || delta.Changes[0].Entity != "volume.Music" {
		t.Errorf("delta = %+v, want one volume.Music change", delta.Changes)
	}
}

func TestJSONEncodingNegotiation(t *testing.T) {
	server, directory, socketPath := startTestServer(t)

	// a CBOR subscriber alongside, so the fan-out serves both encodings
	// from one broadcast
	cborClient, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer cborClient.Close()
	if event := nextEvent(t, cborClient); event.Snapshot == nil {
		t.Fatal("expected connect snapshot for CBOR client")
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(Hello{Version: ProtocolVersion, Client: "script", Encoding: EncodingJSON})
	mustWrite(t, conn, Message{Type: MsgHello, Payload: hello})
	ackMsg := mustRead(t, conn, MsgHelloAck)

	var ack HelloAck
	if err := json.Unmarshal(ackMsg.Payload, &ack); err != nil {
		t.Fatalf("unmarshal hello ack failed: %v", err)
	}
	if ack.Encoding != EncodingJSON {
		t.Fatalf("negotiated encoding = %q, want json", ack.Encoding)
	}

	snapMsg := mustRead(t, conn, MsgSnapshot)
	var snap SnapshotMessage
	if err := json.Unmarshal(snapMsg.Payload, &snap); err != nil {
		t.Fatalf("unmarshal snapshot failed: %v", err)
	}
	if snap.State.Volumes[device.ChannelMic] != 50 {
		t.Errorf("snapshot mic volume = %d, want 50", snap.State.Volumes[device.ChannelMic])
	}

	delta, err := directory.state.Apply(mixer.MutVolume(device.ChannelMic, 66))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	server.Broadcast("VX1", delta)

	deltaMsg := mustRead(t, conn, MsgDelta)
	var decoded DeltaMessage
	if err := json.Unmarshal(deltaMsg.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal delta failed: %v", err)
	}

	// JSON numbers decode as float64; the replay must cope
	replayed, err := mixer.Replay(snap.State, decoded.Changes)
	if err != nil {
		t.Fatalf("replay of JSON delta failed: %v", err)
	}
	if replayed.Volumes[device.ChannelMic] != 66 {
		t.Errorf("replayed volume = %d, want 66", replayed.Volumes[device.ChannelMic])
	}

	if event := nextEvent(t, cborClient); len(event.Delta) != 1 {
		t.Errorf("CBOR client delta = %+v, want one change", event.Delta)
	}
}

func TestServerRejectsUnknownEncoding(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(Hello{Version: ProtocolVersion, Client: "test", Encoding: "xml"})
	mustWrite(t, conn, Message{Type: MsgHello, Payload: hello})
	mustRead(t, conn, MsgProtocolError)
}

func TestSubmitUnknownDevice(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	result, err := client.Submit(context.Background(), "NOPE", mixer.SetMute{Channel: device.ChannelMic, Muted: true})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if result.OK || result.Kind != ErrorKindUnknownDevice {
		t.Errorf("result = %+v, want unknown_device error", result)
	}
}

func TestSubscribeUnknownDeviceReadsAsRemoved(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	// the connect snapshot for the attached console comes first
	if event := nextEvent(t, client); event.Snapshot == nil || event.Device != "VX1" {
		t.Fatalf("first event = %+v, want the VX1 snapshot", event)
	}

	if err := client.Subscribe("NOPE"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	event := nextEvent(t, client)
	if !event.Removed || event.Device != "NOPE" {
		t.Errorf("event = %+v, want removal notice for NOPE", event)
	}
}

func TestViolatorDoesNotDisturbOtherClients(t *testing.T) {
	_, _, socketPath := startTestServer(t)

	good, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer good.Close()

	bad, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer bad.Close()

	hello, _ := json.Marshal(Hello{Version: ProtocolVersion, Client: "bad"})
	mustWrite(t, bad, Message{Type: MsgHello, Payload: hello})
	mustRead(t, bad, MsgHelloAck)
	mustWrite(t, bad, Message{Type: 0x66})
	// the connect snapshot may land before or after the violation notice
	readUntil(t, bad, MsgProtocolError)

	// the well-behaved client keeps working
	devices, err := good.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("list devices after violation failed: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("devices = %d, want 1", len(devices))
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	directory := newFakeDirectory()
	server := NewServer(zap.NewNop().Sugar(), directory, filepath.Join(t.TempDir(), "voxd.sock"))
	directory.server = server

	// a pipe with no reader: the write loop jams on the first message and
	// the queue behind it fills up
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	sess := newSession(server, serverSide)
	server.sessions[sess] = struct{}{}
	go sess.writeLoop()

	sess.subMu.Lock()
	sess.subs["VX1"] = true
	sess.subMu.Unlock()

	delta := mixer.Delta{{Entity: "volume.Mic", Old: uint8(1), New: uint8(2)}}
	for i := 0; i < sendQueueDepth+2; i++ {
		server.Broadcast("VX1", delta)
	}

	select {
	case <-sess.done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not dropped")
	}
}

func nextEvent(t *testing.T, client *Client) StateEvent {
	t.Helper()

	select {
	case event, ok := <-client.Events():
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StateEvent{}
}

func mustWrite(t *testing.T, conn net.Conn, msg Message) {
	t.Helper()
	if err := WriteMessage(conn, msg); err != nil {
		t.Fatalf("write message 0x%02X failed: %v", msg.Type, err)
	}
}

func readUntil(t *testing.T, conn net.Conn, wantType byte) Message {
	t.Helper()
	for i := 0; i < 8; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			t.Fatalf("read failed waiting for 0x%02X: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
	t.Fatalf("message type 0x%02X never arrived", wantType)
	return Message{}
}

func mustRead(t *testing.T, conn net.Conn, wantType byte) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("read failed waiting for 0x%02X: %v", wantType, err)
	}
	if msg.Type != wantType {
		t.Fatalf("message type = 0x%02X, want 0x%02X", msg.Type, wantType)
	}
	return msg
}
