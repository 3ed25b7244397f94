// Package util holds small OS-facing helpers shared across voxd.
package util

import (
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// EnsureDirExists creates the given directory path unless it already exists.
func EnsureDirExists(path string) error {
	return os.MkdirAll(path, os.ModePerm)
}

// Linux returns true when running on a linux host.
func Linux() bool {
	return runtime.GOOS == "linux"
}

// SetupCloseHandler returns a channel that receives termination signals.
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// OpenExternal spawns a detached process with the given command and argument.
func OpenExternal(logger *zap.SugaredLogger, cmd string, arg string) error {
	command := exec.Command(cmd, arg)

	if err := command.Start(); err != nil {
		logger.Warnw("Failed to spawn external process",
			"command", cmd,
			"argument", arg,
			"error", err)

		return err
	}

	return nil
}
