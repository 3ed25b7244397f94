package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxmixlabs/voxd/pkg/voxd/protocol"
)

// SessionState tracks the session lifecycle:
// Disconnected → Initializing → Ready ⇄ Busy → Disconnected (terminal).
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateInitializing
	StateReady
	StateBusy
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	}
	return "disconnected"
}

var (
	// ErrSessionBusy means another command currently holds the device link.
	// Transient; the caller may retry.
	ErrSessionBusy = errors.New("device session busy")

	// ErrSessionNotReady means the session has not completed initialization.
	ErrSessionNotReady = errors.New("device session not ready")

	// ErrDisconnected means the console has been removed. Terminal: the
	// session never recovers, the device is retried only on replug.
	ErrDisconnected = errors.New("device disconnected")

	// ErrCommandFailed means a request exhausted its retry budget without a
	// valid response. The session stays Ready for subsequent commands.
	ErrCommandFailed = errors.New("device command failed")
)

// Options bound every request the session issues.
type Options struct {
	// CommandTimeout is the per-attempt transfer deadline.
	CommandTimeout time.Duration

	// CommandRetries is how many extra attempts a timed-out request gets
	// before ErrCommandFailed is surfaced.
	CommandRetries int
}

// DefaultOptions matches the firmware's documented worst-case latency.
func DefaultOptions() Options {
	return Options{
		CommandTimeout: 500 * time.Millisecond,
		CommandRetries: 2,
	}
}

// Session owns one physical console. All frame traffic is funneled through
// Execute, which enforces the single-flight transaction discipline the
// hardware requires: at most one outstanding request, ever.
type Session struct {
	logger    *zap.SugaredLogger
	transport Transport
	opts      Options

	mu       sync.Mutex
	state    SessionState
	sequence uint16

	info HandshakeInfo
	caps CapabilitySet

	removed     chan struct{}
	removedOnce sync.Once
}

func NewSession(logger *zap.SugaredLogger, transport Transport, opts Options) *Session {
	logger = logger.Named("session")

	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultOptions().CommandTimeout
	}
	if opts.CommandRetries < 0 {
		opts.CommandRetries = 0
	}

	return &Session{
		logger:    logger,
		transport: transport,
		opts:      opts,
		state:     StateDisconnected,
		removed:   make(chan struct{}),
	}
}

// Initialize runs the handshake, reads the capability descriptor and probes
// device status. Failure is terminal for this attach attempt: the console
// is retried only on re-enumeration (physical replug).
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("initialize called in state %s", s.state)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	s.logger.Debug("Starting initialization handshake")

	handshake, err := s.exchange(ctx, protocol.Request{
		CommandID: protocol.CmdInitHandshake,
		Payload:   HandshakeRequestPayload(),
	})
	if err != nil {
		s.failInit()
		return fmt.Errorf("handshake exchange: %w", err)
	}

	info, err := ParseHandshake(handshake.Payload)
	if err != nil {
		s.failInit()
		return fmt.Errorf("parse handshake: %w", err)
	}

	capsFrame, err := s.exchange(ctx, protocol.Request{CommandID: protocol.CmdGetCapabilities})
	if err != nil {
		s.failInit()
		return fmt.Errorf("capability exchange: %w", err)
	}

	caps, err := ParseCapabilities(capsFrame.Payload)
	if err != nil {
		s.failInit()
		return fmt.Errorf("parse capability descriptor: %w", err)
	}

	if caps.Model != info.Model {
		s.failInit()
		return fmt.Errorf("capability descriptor model %s does not match handshake model %s",
			caps.Model, info.Model)
	}

	// readiness probe; payload intentionally ignored
	if _, err := s.exchange(ctx, protocol.Request{CommandID: protocol.CmdGetStatus}); err != nil {
		s.failInit()
		return fmt.Errorf("status probe: %w", err)
	}

	s.mu.Lock()
	s.info = info
	s.caps = caps
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Infow("Device session ready",
		"serial", info.Serial,
		"model", info.Model.String(),
		"firmware", info.Firmware)

	return nil
}

// Execute issues one request and returns its correlated response. Claims
// exclusive access for the duration; a concurrent caller gets
// ErrSessionBusy instead of queueing behind the hardware.
func (s *Session) Execute(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.state = StateBusy
	case StateBusy:
		s.mu.Unlock()
		return protocol.Frame{}, ErrSessionBusy
	case StateDisconnected:
		s.mu.Unlock()
		return protocol.Frame{}, ErrDisconnected
	default:
		s.mu.Unlock()
		return protocol.Frame{}, ErrSessionNotReady
	}
	s.mu.Unlock()

	frame, err := s.exchange(ctx, req)

	s.mu.Lock()
	if s.state == StateBusy {
		s.state = StateReady
	}
	s.mu.Unlock()

	return frame, err
}

// exchange performs the encode/transfer/decode/correlate cycle with the
// retry budget. The identical encoded request is resent on every attempt;
// requests are self-contained, so the retry is idempotent at the transport
// level.
func (s *Session) exchange(ctx context.Context, req protocol.Request) (protocol.Frame, error) {
	s.mu.Lock()
	s.sequence++
	sequence := s.sequence
	s.mu.Unlock()

	data, err := protocol.Encode(protocol.Frame{
		CommandID: req.CommandID,
		Sequence:  sequence,
		Payload:   req.Payload,
	})
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("encode request: %w", err)
	}

	attempts := 1 + s.opts.CommandRetries
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return protocol.Frame{}, err
		}

		response, err := s.transport.Exchange(data, s.opts.CommandTimeout)
		if err != nil {
			if errors.Is(err, ErrDeviceGone) {
				s.markRemoved()
				return protocol.Frame{}, fmt.Errorf("%w: %s", ErrDisconnected, err)
			}

			lastErr = err
			s.logger.Debugw("Transfer attempt failed",
				"commandID", req.CommandID, "attempt", attempt, "error", err)
			continue
		}

		frame, err := protocol.Decode(response)
		if err != nil {
			// a structurally invalid response is fatal to this request, not
			// to the session, and is not worth retrying
			return protocol.Frame{}, err
		}

		if frame.Sequence != sequence {
			lastErr = fmt.Errorf("response sequence %d does not match request sequence %d",
				frame.Sequence, sequence)
			s.logger.Debugw("Discarding uncorrelated response",
				"commandID", req.CommandID, "attempt", attempt, "error", lastErr)
			continue
		}

		return frame, nil
	}

	return protocol.Frame{}, fmt.Errorf("%w after %d attempts: %v", ErrCommandFailed, attempts, lastErr)
}

func (s *Session) failInit() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	s.closeRemoved()
	_ = s.transport.Close()
}

// markRemoved transitions to the terminal state from wherever the session
// currently is, flushing the in-flight transaction as failed.
func (s *Session) markRemoved() {
	s.mu.Lock()
	wasDisconnected := s.state == StateDisconnected
	s.state = StateDisconnected
	s.mu.Unlock()

	if !wasDisconnected {
		s.logger.Warnw("Device removed", "serial", s.info.Serial)
	}

	s.closeRemoved()
	_ = s.transport.Close()
}

// Close tears the session down, used when the daemon shuts down or the
// watcher loses sight of the device.
func (s *Session) Close() {
	s.markRemoved()
}

func (s *Session) closeRemoved() {
	s.removedOnce.Do(func() { close(s.removed) })
}

// Removed is closed exactly once when the session reaches its terminal
// state.
func (s *Session) Removed() <-chan struct{} {
	return s.removed
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Serial is the hardware serial number reported during the handshake.
func (s *Session) Serial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Serial
}

func (s *Session) Firmware() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Firmware
}

// Capabilities returns the capability set resolved during initialization.
// Fixed for the session's lifetime.
func (s *Session) Capabilities() CapabilitySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}
