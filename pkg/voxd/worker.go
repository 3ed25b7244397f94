package voxd

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/ipc"
	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
)

type commandRequest struct {
	command mixer.Command
	reply   func(ipc.Result)
}

// deviceWorker is the single goroutine that owns one console's state and
// command flow. Commands funnel through submitChannel and execute one at
// a time; the reply callback fires before the delta is broadcast, so a
// client always sees its own CommandResult before the matching Delta.
type deviceWorker struct {
	logger     *zap.SugaredLogger
	serial     string
	productID  uint16
	session    *device.Session
	state      *mixer.State
	dispatcher *mixer.Dispatcher

	// capacity 1: exactly one command may wait while another executes,
	// anything beyond that is refused as busy
	submitChannel chan commandRequest

	stopChannel chan struct{}
	stopOnce    sync.Once

	onDelta   func(serial string, delta mixer.Delta)
	onRemoved func(w *deviceWorker)
}

func newDeviceWorker(
	logger *zap.SugaredLogger,
	session *device.Session,
	state *mixer.State,
	dispatcher *mixer.Dispatcher,
	productID uint16,
	onDelta func(serial string, delta mixer.Delta),
	onRemoved func(w *deviceWorker),
) *deviceWorker {
	return &deviceWorker{
		logger:        logger.Named("worker").With("serial", session.Serial()),
		serial:        session.Serial(),
		productID:     productID,
		session:       session,
		state:         state,
		dispatcher:    dispatcher,
		submitChannel: make(chan commandRequest, 1),
		stopChannel:   make(chan struct{}),
		onDelta:       onDelta,
		onRemoved:     onRemoved,
	}
}

// submit hands a command to the worker without ever blocking the caller.
// A full pending slot answers busy immediately.
func (w *deviceWorker) submit(cmd mixer.Command, reply func(ipc.Result)) {
	select {
	case w.submitChannel <- commandRequest{command: cmd, reply: reply}:
		// the send can win against a worker that is already stopping; the
		// re-check makes sure a request handed to a dead worker is failed
		// rather than stranded in the slot
		select {
		case <-w.stopChannel:
			w.drainPending()
		default:
		}
	case <-w.stopChannel:
		reply(ipc.Result{Err: mixer.ErrDeviceUnavailable})
	default:
		reply(ipc.Result{Err: mixer.ErrDeviceBusy})
	}
}

func (w *deviceWorker) run() {
	w.logger.Debug("Worker loop starting")

	// every exit path closes the stop channel before draining, so a submit
	// racing the shutdown either observes the closed channel or finds its
	// request failed by a drain
	defer func() {
		w.stop()
		w.drainPending()
		w.session.Close()
	}()

	for {
		select {
		case <-w.stopChannel:
			return

		case <-w.session.Removed():
			w.logger.Infow("Console removed")
			w.onRemoved(w)
			return

		case req := <-w.submitChannel:
			delta, err := w.dispatcher.Submit(context.Background(), req.command)
			req.reply(ipc.Result{Delta: delta, Err: err})

			// a profile load can commit a prefix before failing, so the
			// delta is broadcast even alongside an error
			if len(delta) > 0 {
				w.onDelta(w.serial, delta)
			}
		}
	}
}

func (w *deviceWorker) stop() {
	w.stopOnce.Do(func() {
		close(w.stopChannel)
	})
}

// drainPending fails whatever was queued behind the command that was
// executing when the worker went down.
func (w *deviceWorker) drainPending() {
	for {
		select {
		case req := <-w.submitChannel:
			req.reply(ipc.Result{Err: mixer.ErrDeviceUnavailable})
		default:
			return
		}
	}
}

// deviceRegistry tracks the workers of all attached consoles and adapts
// them to the IPC server's directory interface.
type deviceRegistry struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	workers map[string]*deviceWorker
}

func newDeviceRegistry(logger *zap.SugaredLogger) *deviceRegistry {
	return &deviceRegistry{
		logger:  logger.Named("registry"),
		workers: make(map[string]*deviceWorker),
	}
}

func (r *deviceRegistry) add(w *deviceWorker) {
	r.mu.Lock()
	r.workers[w.serial] = w
	r.mu.Unlock()

	r.logger.Infow("Registered console", "serial", w.serial, "model", w.session.Capabilities().Model)
}

func (r *deviceRegistry) remove(w *deviceWorker) {
	r.mu.Lock()
	// guard against a replug having already re-registered this serial
	if r.workers[w.serial] == w {
		delete(r.workers, w.serial)
	}
	r.mu.Unlock()

	r.logger.Infow("Unregistered console", "serial", w.serial)
}

func (r *deviceRegistry) all() []*deviceWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]*deviceWorker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	return workers
}

// Devices lists the attached consoles, sorted by serial for stable output.
func (r *deviceRegistry) Devices() []ipc.DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]ipc.DeviceInfo, 0, len(r.workers))
	for _, w := range r.workers {
		devices = append(devices, ipc.DeviceInfo{
			Serial:   w.serial,
			Model:    w.session.Capabilities().Model.String(),
			Firmware: w.session.Firmware(),
			State:    w.session.State().String(),
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Serial < devices[j].Serial
	})

	return devices
}

func (r *deviceRegistry) Snapshot(serial string) (mixer.Snapshot, bool) {
	r.mu.RLock()
	w, ok := r.workers[serial]
	r.mu.RUnlock()

	if !ok {
		return mixer.Snapshot{}, false
	}
	return w.state.Snapshot(), true
}

func (r *deviceRegistry) Submit(serial string, cmd mixer.Command, reply func(ipc.Result)) error {
	r.mu.RLock()
	w, ok := r.workers[serial]
	r.mu.RUnlock()

	if !ok {
		return &unknownDeviceError{serial: serial}
	}

	w.submit(cmd, reply)
	return nil
}

type unknownDeviceError struct {
	serial string
}

func (e *unknownDeviceError) Error() string {
	return "no attached device with serial " + e.serial
}
