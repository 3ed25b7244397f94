package voxd

import (
	"fyne.io/systray"

	"github.com/voxmixlabs/voxd/pkg/voxd/util"
)

func (d *Daemon) initializeTray(onDone func()) {
	logger := d.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTitle("voxd")
		systray.SetTooltip("voxd")

		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with a text editor")

		openProfiles := systray.AddMenuItem("Open profiles folder", "Browse the saved mixer profiles")

		if d.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(d.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop voxd and quit")

		go func() {
			for {
				select {
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					d.signalStop()

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					// TODO: make editor configurable
					editor := "notepad.exe"
					if util.Linux() {
						editor = "gedit"
					}

					if err := util.OpenExternal(logger, editor, userConfigFilepath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				case <-openProfiles.ClickedCh:
					logger.Info("Open profiles menu item clicked")

					opener := "explorer.exe"
					if util.Linux() {
						opener = "xdg-open"
					}

					if err := util.OpenExternal(logger, opener, d.currConf().ProfilesDirectory); err != nil {
						logger.Warnw("Failed to open profiles folder", "error", err)
					}
				}
			}
		}()

		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (d *Daemon) stopTray() {
	d.logger.Debug("Quitting tray")
	systray.Quit()
}
