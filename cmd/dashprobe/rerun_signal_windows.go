//go:build windows

package main

import "os"

var rerunSignals []os.Signal
