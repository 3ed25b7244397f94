package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
)

// ErrClosed means the client connection is gone.
var ErrClosed = errors.New("connection closed")

// StateEvent is one daemon-initiated state message: exactly one of
// Snapshot, Delta or Removed is set.
type StateEvent struct {
	Device   string
	Snapshot *mixer.Snapshot
	Delta    mixer.Delta
	Removed  bool
}

// Client is a daemon connection for tooling. One reader goroutine
// demultiplexes inbound messages; command results are correlated back to
// their callers by request ID.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan CommandResult

	listCh chan DeviceList
	events chan StateEvent

	done     chan struct{}
	once     sync.Once
	closeErr error
}

// Dial connects to the daemon socket and completes the hello exchange.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan CommandResult),
		listCh:  make(chan DeviceList, 1),
		events:  make(chan StateEvent, sendQueueDepth),
		done:    make(chan struct{}),
	}

	if err := c.hello(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()

	return c, nil
}

func (c *Client) hello() error {
	payload, err := json.Marshal(Hello{Version: ProtocolVersion, Client: "voxctl", Encoding: EncodingCBOR})
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}
	if err := WriteMessage(c.conn, Message{Type: MsgHello, Payload: payload}); err != nil {
		return err
	}

	msg, err := ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("read hello ack: %w", err)
	}
	if msg.Type == MsgProtocolError {
		var perr ProtocolErrorMessage
		if err := unmarshal(msg.Payload, &perr); err == nil {
			return fmt.Errorf("daemon refused connection: %s", perr.Reason)
		}
		return errors.New("daemon refused connection")
	}
	if msg.Type != MsgHelloAck {
		return fmt.Errorf("expected hello ack, got message type 0x%02X", msg.Type)
	}

	var ack HelloAck
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		return fmt.Errorf("malformed hello ack: %w", err)
	}
	if ack.Version != ProtocolVersion {
		return fmt.Errorf("daemon speaks protocol version %d, want %d", ack.Version, ProtocolVersion)
	}

	return nil
}

// Close tears the connection down; pending submits fail with ErrClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// ListDevices asks the daemon for the attached devices.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	if err := c.write(Message{Type: MsgListDevices}); err != nil {
		return nil, err
	}

	select {
	case list := <-c.listCh:
		return list.Devices, nil
	case <-c.done:
		return nil, c.closeErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit sends one command for a device and waits for its result.
func (c *Client) Submit(ctx context.Context, serial string, cmd mixer.Command) (CommandResult, error) {
	envelope, err := EncodeCommand(cmd)
	if err != nil {
		return CommandResult{}, err
	}

	id := uuid.NewString()
	resultCh := make(chan CommandResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = resultCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	payload, err := marshal(CommandRequest{ID: id, Device: serial, Command: envelope})
	if err != nil {
		return CommandResult{}, fmt.Errorf("encode command request: %w", err)
	}
	if err := c.write(Message{Type: MsgCommand, Payload: payload}); err != nil {
		return CommandResult{}, err
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-c.done:
		return CommandResult{}, c.closeErr
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// Subscribe opts into state updates for a device; the snapshot and all
// following deltas arrive on Events.
func (c *Client) Subscribe(serial string) error {
	payload, err := marshal(SubscribeRequest{Device: serial})
	if err != nil {
		return fmt.Errorf("encode subscribe request: %w", err)
	}
	return c.write(Message{Type: MsgSubscribe, Payload: payload})
}

// Unsubscribe stops state updates for a device.
func (c *Client) Unsubscribe(serial string) error {
	payload, err := marshal(SubscribeRequest{Device: serial})
	if err != nil {
		return fmt.Errorf("encode unsubscribe request: %w", err)
	}
	return c.write(Message{Type: MsgUnsubscribe, Payload: payload})
}

// Events is the stream of snapshots, deltas and removal notices for
// subscribed devices. Closed when the connection dies.
func (c *Client) Events() <-chan StateEvent {
	return c.events
}

func (c *Client) write(msg Message) error {
	select {
	case <-c.done:
		return c.closeErr
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.conn, msg)
}

func (c *Client) readLoop() {
	// only the reader closes events: deliver never races the close
	defer close(c.events)

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		switch msg.Type {
		case MsgCommandResult:
			var result CommandResult
			if err := unmarshal(msg.Payload, &result); err != nil {
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[result.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- result
			}

		case MsgDeviceList:
			var list DeviceList
			if err := unmarshal(msg.Payload, &list); err != nil {
				continue
			}
			select {
			case c.listCh <- list:
			default:
			}

		case MsgSnapshot:
			var snap SnapshotMessage
			if err := unmarshal(msg.Payload, &snap); err != nil {
				continue
			}
			c.deliver(StateEvent{Device: snap.Device, Snapshot: &snap.State})

		case MsgDelta:
			var delta DeltaMessage
			if err := unmarshal(msg.Payload, &delta); err != nil {
				continue
			}
			c.deliver(StateEvent{Device: delta.Device, Delta: delta.Changes})

		case MsgDeviceRemoved:
			var removed DeviceRemovedMessage
			if err := unmarshal(msg.Payload, &removed); err != nil {
				continue
			}
			c.deliver(StateEvent{Device: removed.Device, Removed: true})

		case MsgProtocolError:
			var perr ProtocolErrorMessage
			reason := "protocol error"
			if err := unmarshal(msg.Payload, &perr); err == nil {
				reason = perr.Reason
			}
			c.shutdown(fmt.Errorf("%w: %s", ErrClosed, reason))
			return
		}
	}
}

func (c *Client) deliver(event StateEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		c.closeErr = err
		close(c.done)
		_ = c.conn.Close()
	})
}
