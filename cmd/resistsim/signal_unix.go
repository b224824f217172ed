//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals stops a run on SIGINT or SIGTERM.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
