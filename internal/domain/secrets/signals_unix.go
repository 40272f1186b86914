//go:build !windows

package secrets

import (
	"os"
	"os/signal"
	"syscall"
	"time"
)

// forwardedSignals are relayed from the wrapper to the wrapped server.
var forwardedSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
}

// raiseSignal re-delivers sig to this process with the default disposition
// restored, so the parent sees the wrapper die to the same signal the child
// did. Does not return when delivery terminates the process. A var so tests
// can intercept it.
var raiseSignal = func(sig syscall.Signal) {
	signal.Reset(sig)
	_ = syscall.Kill(os.Getpid(), sig)
	// Delivery is asynchronous.
	time.Sleep(time.Second)
}
