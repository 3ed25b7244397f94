package voxd

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/voxmixlabs/voxd/pkg/voxd/device"
	"github.com/voxmixlabs/voxd/pkg/voxd/ipc"
	"github.com/voxmixlabs/voxd/pkg/voxd/mixer"
	"github.com/voxmixlabs/voxd/pkg/voxd/profile"
	"github.com/voxmixlabs/voxd/pkg/voxd/util"
)

// initializeTimeout bounds the handshake and capability exchange of a
// freshly attached console.
const initializeTimeout = 10 * time.Second

// Daemon is the main entity managing all subcomponents
type Daemon struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	configMan *ConfigManager
	registry  *deviceRegistry
	watcher   *device.Watcher

	// created after the first config load
	profiles *profile.Store
	server   *ipc.Server

	runningWithTray bool
	stopChannel     chan bool
	version         string
	verbose         bool
}

func NewDaemon(logger *zap.SugaredLogger, verbose bool) (*Daemon, error) {
	logger = logger.Named("voxd")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	d := &Daemon{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		registry:    newDeviceRegistry(logger),
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	d.watcher = device.NewWatcher(logger, 0)

	logger.Debug("Created daemon instance")

	return d, nil
}

func (d *Daemon) currConf() *Config {
	return &d.configMan.current
}

// Initialize sets up components and starts to run in the background
func (d *Daemon) Initialize() error {
	d.logger.Debug("Initializing")

	// load the config for the first time
	if err := d.configMan.Load(); err != nil {
		d.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	profiles, err := profile.NewStore(d.logger, d.currConf().ProfilesDirectory)
	if err != nil {
		d.logger.Errorw("Failed to create profile store", "error", err)
		return fmt.Errorf("create profile store: %w", err)
	}
	d.profiles = profiles

	d.server = ipc.NewServer(d.logger, d.registry, d.currConf().SocketPath)

	d.applyDeviceParams()
	d.subscribeToConfigChanges()

	d.setupInterruptHandler()

	if d.currConf().DisableTray {
		d.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		d.run()
	} else {
		d.runningWithTray = true
		d.initializeTray(d.run)
	}

	return nil
}

// SetVersion causes voxd to add a version string to its tray menu if called before Initialize
func (d *Daemon) SetVersion(version string) {
	d.version = version
}

// Verbose returns a boolean indicating whether voxd is running in verbose mode
func (d *Daemon) Verbose() bool {
	return d.verbose
}

func (d *Daemon) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		d.logger.Debugw("Interrupted", "signal", signal)
		d.signalStop()
	}()
}

func (d *Daemon) subscribeToConfigChanges() {
	reload := d.configMan.SubscribeToChanges()

	go func() {
		for range reload {
			d.applyDeviceParams()
		}
	}()
}

// applyDeviceParams pushes the current device tuning onto the watcher.
// Sessions pick up new timeouts on the next attach; live sessions keep
// the options they initialized with.
func (d *Daemon) applyDeviceParams() {
	d.watcher.SetInterval(time.Duration(d.currConf().DeviceParams.PollIntervalMs) * time.Millisecond)
}

func (d *Daemon) run() {
	defer d.recoverFromPanic()

	d.logger.Info("Run loop starting")

	go d.configMan.WatchConfigFileChanges()

	if err := d.server.Start(); err != nil {
		d.logger.Errorw("Failed to start IPC server", "error", err)
		d.notifier.Notify("Failed to start voxd!", "Could not bind the control socket. Please check voxd's logs.")
		os.Exit(1)
	}

	go d.watcher.Start()
	go d.attachLoop()

	// wait until gracefully stopped
	<-d.stopChannel
	d.logger.Debug("Stop channel signaled, terminating")

	if err := d.stop(); err != nil {
		d.logger.Warnw("Failed to stop voxd", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (d *Daemon) attachLoop() {
	for event := range d.watcher.Events() {
		go d.handleAttach(event)
	}
}

// handleAttach brings a freshly attached console up to Ready and
// registers its worker. A failed initialization releases the product
// slot so the next replug is probed again.
func (d *Daemon) handleAttach(event device.AttachEvent) {
	defer d.recoverFromPanic()

	opts := device.Options{
		CommandTimeout: time.Duration(d.currConf().DeviceParams.CommandTimeoutMs) * time.Millisecond,
		CommandRetries: d.currConf().DeviceParams.CommandRetries,
	}

	session := device.NewSession(d.logger, event.Transport, opts)

	ctx, cancel := context.WithTimeout(context.Background(), initializeTimeout)
	defer cancel()

	if err := session.Initialize(ctx); err != nil {
		d.logger.Warnw("Failed to initialize console session", "productID", event.ProductID, "error", err)
		session.Close()
		d.watcher.Release(event.ProductID)
		return
	}

	caps := session.Capabilities()
	state := mixer.NewState(caps)
	dispatcher := mixer.NewDispatcher(d.logger, state, session, d.profiles)

	worker := newDeviceWorker(
		d.logger, session, state, dispatcher, event.ProductID,
		d.server.Broadcast, d.handleRemoved)

	d.registry.add(worker)
	go worker.run()

	d.logger.Infow("Console ready",
		"serial", session.Serial(),
		"model", caps.Model,
		"firmware", session.Firmware())
	d.maybeNotify("Console connected", fmt.Sprintf("%s (%s) is ready.", caps.Model, session.Serial()))
}

// handleRemoved runs from the departing console's worker goroutine.
func (d *Daemon) handleRemoved(w *deviceWorker) {
	d.registry.remove(w)
	d.server.NotifyRemoved(w.serial)
	d.watcher.Release(w.productID)

	d.maybeNotify("Console disconnected", fmt.Sprintf("Lost contact with %s.", w.serial))
}

func (d *Daemon) maybeNotify(title string, message string) {
	if d.currConf().Notifications {
		d.notifier.Notify(title, message)
	}
}

func (d *Daemon) signalStop() {
	d.logger.Debug("Signalling stop channel")
	d.stopChannel <- true
}

func (d *Daemon) stop() error {
	d.logger.Info("Stopping")

	d.configMan.StopWatchingConfigFile()
	d.watcher.Stop()

	for _, worker := range d.registry.all() {
		worker.stop()
	}

	d.server.Stop()

	if d.runningWithTray {
		d.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = d.logger.Sync()

	return nil
}
