package cmd

import (
	"os"
	"syscall"
)

// TerminationSignals are those signals which watchdog considers to be
// requesting termination. Both are emulated on Windows (SIGINT on Ctrl-C and
// Ctrl-Break and SIGTERM on console close, logoff, and shutdown events).
var TerminationSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}
