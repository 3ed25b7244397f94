package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
)

// sendQueueDepth bounds each connection's outbound queue. A client that
// cannot drain this many messages is not keeping up and gets dropped
// rather than stalling the broadcast path.
const sendQueueDepth = 64

// Result is the outcome of one submitted command, delivered through the
// reply callback before the delta (if any) is broadcast.
type Result struct {
	Delta mixer.Delta
	Err   error
}

// Directory is the daemon's view of attached devices, as the IPC layer
// needs it. Submit hands the command to the device's worker; the reply
// callback fires from that worker, strictly before the resulting delta
// reaches Broadcast.
type Directory interface {
	Devices() []DeviceInfo
	Snapshot(serial string) (mixer.Snapshot, bool)
	Submit(serial string, cmd mixer.Command, reply func(Result)) error
}

// Server owns the unix socket and all client connections.
type Server struct {
	logger     *zap.SugaredLogger
	directory  Directory
	socketPath string

	listener net.Listener

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// NewServer builds a server; Start binds the socket.
func NewServer(logger *zap.SugaredLogger, directory Directory, socketPath string) *Server {
	return &Server{
		logger:     logger.Named("ipc"),
		directory:  directory,
		socketPath: socketPath,
		sessions:   make(map[*session]struct{}),
	}
}

// Start binds the unix socket and begins accepting connections. A stale
// socket file from an unclean shutdown is removed first; the single
// instance lock has already established no other daemon is alive.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	s.logger.Infow("IPC server listening", "socket", s.socketPath)

	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every live connection.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warnw("Failed to close listener", "error", err)
		}
	}

	for _, sess := range sessions {
		sess.teardown("server shutdown")
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warnw("Failed to remove socket", "error", err)
	}
}

// Broadcast delivers a committed delta to every connection subscribed to
// the device. Encoded once per negotiated encoding, enqueued per
// connection; a connection whose queue is full is dropped, never waited
// on.
func (s *Server) Broadcast(serial string, delta mixer.Delta) {
	if len(delta) == 0 {
		return
	}

	s.fanOut(serial, MsgDelta, DeltaMessage{Device: serial, Changes: delta}, (*session).subscribed)
}

// NotifyRemoved tells subscribers that a device is gone and clears their
// subscriptions to it.
func (s *Server) NotifyRemoved(serial string) {
	s.fanOut(serial, MsgDeviceRemoved, DeviceRemovedMessage{Device: serial}, (*session).dropSubscription)
}

func (s *Server) fanOut(serial string, msgType byte, body any, wants func(*session, string) bool) {
	payloads := make(map[*bodyCodec][]byte, 2)

	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		if !wants(sess, serial) {
			continue
		}

		payload, ok := payloads[sess.enc]
		if !ok {
			var err error
			payload, err = sess.enc.marshal(body)
			if err != nil {
				s.logger.Errorw("Failed to encode state message",
					"device", serial, "encoding", sess.enc.name, "error", err)
				continue
			}
			payloads[sess.enc] = payload
		}

		sess.enqueue(Message{Type: msgType, Payload: payload})
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnw("Accept failed", "error", err)
			continue
		}

		sess := newSession(s, conn)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		go sess.run()
	}
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// session is one client connection. The reader goroutine parses inbound
// messages; all outbound traffic funnels through sendCh so the writer
// goroutine is the only conn writer and per-connection ordering is the
// enqueue order.
type session struct {
	server *Server
	logger *zap.SugaredLogger
	conn   net.Conn

	// negotiated in the handshake, before the session can subscribe or
	// submit anything
	enc *bodyCodec

	sendCh  chan Message
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]bool
}

func newSession(server *Server, conn net.Conn) *session {
	return &session{
		server: server,
		logger: server.logger.With("remote", conn.RemoteAddr().String()),
		conn:   conn,
		enc:    codecCBOR,
		sendCh: make(chan Message, sendQueueDepth),
		done:   make(chan struct{}),
		subs:   make(map[string]bool),
	}
}

func (c *session) run() {
	defer c.teardown("connection closed")

	go c.writeLoop()

	if err := c.handshake(); err != nil {
		c.protocolError(err.Error())
		return
	}

	c.sendInitialSnapshots()

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			return
		}

		if err := c.handle(msg); err != nil {
			c.protocolError(err.Error())
			return
		}
	}
}

// handshake enforces hello-first: any other opening message is a
// protocol violation.
func (c *session) handshake() error {
	msg, err := ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if msg.Type != MsgHello {
		return fmt.Errorf("expected hello, got message type 0x%02X", msg.Type)
	}

	var hello Hello
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return fmt.Errorf("malformed hello: %w", err)
	}
	if hello.Version != ProtocolVersion {
		return fmt.Errorf("protocol version %d not supported", hello.Version)
	}

	enc, err := codecForEncoding(hello.Encoding)
	if err != nil {
		return err
	}
	c.enc = enc

	ack, err := json.Marshal(HelloAck{Version: ProtocolVersion, Server: "voxd", Encoding: enc.name})
	if err != nil {
		return fmt.Errorf("encode hello ack: %w", err)
	}
	c.enqueue(Message{Type: MsgHelloAck, Payload: ack})

	c.logger.Debugw("Client connected", "client", hello.Client, "encoding", enc.name)

	return nil
}

// sendInitialSnapshots subscribes a fresh connection to every attached
// device and enqueues each device's full snapshot, all under the server
// lock so no broadcast can slip in between: the client is in sync from its
// first state read. Subscribe stays available for re-syncing a single
// device later.
func (c *session) sendInitialSnapshots() {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	for _, info := range c.server.directory.Devices() {
		snap, ok := c.server.directory.Snapshot(info.Serial)
		if !ok {
			continue
		}

		encoded, err := c.enc.marshal(SnapshotMessage{Device: info.Serial, State: snap})
		if err != nil {
			c.logger.Errorw("Failed to encode snapshot", "device", info.Serial, "error", err)
			continue
		}

		c.subMu.Lock()
		c.subs[info.Serial] = true
		c.subMu.Unlock()

		c.enqueue(Message{Type: MsgSnapshot, Payload: encoded})
	}
}

func (c *session) handle(msg Message) error {
	switch msg.Type {
	case MsgCommand:
		return c.handleCommand(msg.Payload)
	case MsgListDevices:
		return c.handleListDevices()
	case MsgSubscribe:
		return c.handleSubscribe(msg.Payload)
	case MsgUnsubscribe:
		return c.handleUnsubscribe(msg.Payload)
	}
	return fmt.Errorf("unexpected message type 0x%02X", msg.Type)
}

func (c *session) handleCommand(payload []byte) error {
	var req CommandRequest
	if err := c.enc.unmarshal(payload, &req); err != nil {
		return fmt.Errorf("malformed command request: %w", err)
	}

	cmd, err := DecodeCommand(req.Command)
	if err != nil {
		c.sendResult(CommandResult{ID: req.ID, Kind: ErrorKindInvalidValue, Error: err.Error()})
		return nil
	}

	id := req.ID
	err = c.server.directory.Submit(req.Device, cmd, func(result Result) {
		if result.Err != nil {
			kind, message := classifyCommandError(result.Err)
			c.sendResult(CommandResult{ID: id, Kind: kind, Error: message})
			return
		}
		c.sendResult(CommandResult{ID: id, OK: true})
	})
	if err != nil {
		c.sendResult(CommandResult{ID: id, Kind: ErrorKindUnknownDevice, Error: err.Error()})
	}

	return nil
}

func (c *session) handleListDevices() error {
	payload, err := c.enc.marshal(DeviceList{Devices: c.server.directory.Devices()})
	if err != nil {
		return fmt.Errorf("encode device list: %w", err)
	}
	c.enqueue(Message{Type: MsgDeviceList, Payload: payload})
	return nil
}

// handleSubscribe registers the subscription and enqueues the full
// snapshot under the server lock, so no broadcast can slip in between:
// the snapshot is always the first state message of a subscription.
func (c *session) handleSubscribe(payload []byte) error {
	var req SubscribeRequest
	if err := c.enc.unmarshal(payload, &req); err != nil {
		return fmt.Errorf("malformed subscribe request: %w", err)
	}

	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	snap, ok := c.server.directory.Snapshot(req.Device)
	if !ok {
		// unknown serial reads the same as a departed device
		gone, err := c.enc.marshal(DeviceRemovedMessage{Device: req.Device})
		if err != nil {
			return fmt.Errorf("encode removal notice: %w", err)
		}
		c.enqueue(Message{Type: MsgDeviceRemoved, Payload: gone})
		return nil
	}

	encoded, err := c.enc.marshal(SnapshotMessage{Device: req.Device, State: snap})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	c.subMu.Lock()
	c.subs[req.Device] = true
	c.subMu.Unlock()

	c.enqueue(Message{Type: MsgSnapshot, Payload: encoded})

	return nil
}

func (c *session) handleUnsubscribe(payload []byte) error {
	var req SubscribeRequest
	if err := c.enc.unmarshal(payload, &req); err != nil {
		return fmt.Errorf("malformed unsubscribe request: %w", err)
	}
	c.dropSubscription(req.Device)
	return nil
}

func (c *session) sendResult(result CommandResult) {
	payload, err := c.enc.marshal(result)
	if err != nil {
		c.logger.Errorw("Failed to encode command result", "error", err)
		return
	}
	c.enqueue(Message{Type: MsgCommandResult, Payload: payload})
}

func (c *session) subscribed(serial string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subs[serial]
}

func (c *session) dropSubscription(serial string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	was := c.subs[serial]
	delete(c.subs, serial)
	return was
}

// enqueue adds a message to the outbound queue without ever blocking. A
// full queue means the client has stopped draining; the connection is
// dropped so one slow client cannot hold back the rest.
func (c *session) enqueue(msg Message) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.logger.Warnw("Send queue full, dropping client")
		c.teardown("send queue overflow")
	}
}

// protocolError writes the reason inline rather than enqueueing it:
// teardown closes the connection right after, and the explanation has to
// reach the wire before that.
func (c *session) protocolError(reason string) {
	c.logger.Debugw("Protocol violation", "reason", reason)
	if payload, err := c.enc.marshal(ProtocolErrorMessage{Reason: reason}); err == nil {
		// bound the flush: a client that stopped draining must not pin the
		// reader goroutine on the jammed connection
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.writeMessage(Message{Type: MsgProtocolError, Payload: payload}); err != nil {
			c.logger.Debugw("Failed to deliver protocol error", "error", err)
		}
	}
	c.teardown(reason)
}

func (c *session) writeMessage(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.conn, msg)
}

func (c *session) teardown(reason string) {
	c.once.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debugw("Close failed", "error", err)
		}
		// teardown can fire from enqueue while Broadcast holds the server
		// lock, so the registry removal must not take it inline
		go c.server.removeSession(c)
		c.logger.Debugw("Client disconnected", "reason", reason)
	})
}

func (c *session) writeLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.writeMessage(msg); err != nil {
				c.teardown("write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// classifyCommandError maps dispatcher errors onto wire error kinds.
func classifyCommandError(err error) (kind, message string) {
	var unsupported *mixer.UnsupportedEntityError
	var invalid *mixer.InvalidValueError
	var failed *mixer.CommandFailedError

	switch {
	case errors.Is(err, mixer.ErrDeviceBusy):
		return ErrorKindBusy, err.Error()
	case errors.Is(err, mixer.ErrDeviceUnavailable):
		return ErrorKindUnavailable, err.Error()
	case errors.As(err, &unsupported):
		return ErrorKindUnsupported, err.Error()
	case errors.As(err, &invalid):
		return ErrorKindInvalidValue, err.Error()
	case errors.As(err, &failed):
		return ErrorKindCommandFailed, err.Error()
	}
	return ErrorKindCommandFailed, err.Error()
}
