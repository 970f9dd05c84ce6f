//go:build !windows

package main

import (
	"os"
	"syscall"
)

// rerunSignals request an immediate probe in watch mode.
var rerunSignals = []os.Signal{syscall.SIGUSR1}
