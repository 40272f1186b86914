//go:build windows

package secrets

import (
	"os"
	"syscall"
)

// forwardedSignals are relayed from the wrapper to the wrapped server.
// Windows supports only interrupt delivery.
var forwardedSignals = []os.Signal{os.Interrupt}

// raiseSignal is a no-op on Windows: there are no re-deliverable termination
// signals, so the wrapper exits with the 128+signal convention instead.
var raiseSignal = func(sig syscall.Signal) {}
