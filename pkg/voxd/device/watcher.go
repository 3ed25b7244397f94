package device

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// AttachEvent is emitted when the watcher opens a console that was not
// attached on the previous poll.
type AttachEvent struct {
	ProductID uint16
	Transport Transport
}

// Watcher polls the USB bus for consoles. Detach is not detected here: the
// session notices removal through transfer errors and the daemon calls
// Release so the next replug is picked up again — a failed initialization
// is retried only on re-enumeration.
type Watcher struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	interval time.Duration
	inUse    map[uint16]bool

	// swapped out by tests to avoid a real USB bus
	open func(productID uint16) (Transport, error)

	events      chan AttachEvent
	stopChannel chan bool
}

var watchedProducts = []uint16{ProductFullSize, ProductMini}

func NewWatcher(logger *zap.SugaredLogger, interval time.Duration) *Watcher {
	logger = logger.Named("watcher")

	if interval <= 0 {
		interval = 2 * time.Second
	}

	w := &Watcher{
		logger:      logger,
		interval:    interval,
		inUse:       make(map[uint16]bool),
		events:      make(chan AttachEvent, 2),
		stopChannel: make(chan bool),
	}

	w.open = func(productID uint16) (Transport, error) {
		return OpenUSB(logger, productID)
	}

	logger.Debug("Created device watcher instance")

	return w
}

// Events returns the channel attach events are delivered on.
func (w *Watcher) Events() <-chan AttachEvent {
	return w.events
}

// Start runs the poll loop until Stop is called.
func (w *Watcher) Start() {
	w.logger.Debugw("Starting to watch for consoles", "interval", w.currentInterval())

	w.poll()

	for {
		select {
		case <-time.After(w.currentInterval()):
			w.poll()
		case <-w.stopChannel:
			w.logger.Debug("Stopping device watcher")
			return
		}
	}
}

func (w *Watcher) Stop() {
	w.stopChannel <- true
}

// SetInterval adjusts the poll cadence; takes effect on the next tick.
func (w *Watcher) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}

	w.mu.Lock()
	w.interval = interval
	w.mu.Unlock()
}

// Release frees a product slot after its session terminated so the watcher
// resumes probing for a replug.
func (w *Watcher) Release(productID uint16) {
	w.mu.Lock()
	w.inUse[productID] = false
	w.mu.Unlock()

	w.logger.Debugw("Released product slot", "productID", productID)
}

func (w *Watcher) currentInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

func (w *Watcher) poll() {
	for _, productID := range watchedProducts {
		w.mu.Lock()
		busy := w.inUse[productID]
		w.mu.Unlock()

		if busy {
			continue
		}

		transport, err := w.open(productID)
		if err != nil {
			// not attached, or claimed by something else; try again next tick
			continue
		}

		w.mu.Lock()
		w.inUse[productID] = true
		w.mu.Unlock()

		w.logger.Infow("Console attached", "productID", productID)

		w.events <- AttachEvent{ProductID: productID, Transport: transport}
	}
}
