package util

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// CreateMutex guards against a second daemon instance using a pid lock
// file. The lock is considered stale when its recorded process no longer
// exists; the OS releases it implicitly on exit.
func CreateMutex(name string) error {
	lockFile := name + ".lock"
	currentPid := os.Getpid()

	lockContent, err := os.ReadFile(lockFile)
	if err == nil {
		if len(lockContent) > 0 && string(lockContent) != fmt.Sprintf("%d", currentPid) {
			lockProcessId, _ := strconv.Atoi(string(lockContent))
			process, err := os.FindProcess(lockProcessId)
			if err == nil {
				pSignal := process.Signal(syscall.Signal(0))
				if pSignal == nil {
					return fmt.Errorf("another instance of %s is running", name)
				}
			}
		}
	}

	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0664)
	if err != nil {
		return fmt.Errorf("cannot instantiate mutex")
	}
	defer f.Close()

	if _, err := f.Write([]byte(fmt.Sprintf("%d", currentPid))); err != nil {
		return fmt.Errorf("cannot instantiate mutex")
	}

	return nil
}
