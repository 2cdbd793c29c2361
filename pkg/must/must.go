// Package must provides wrappers for operations whose failures can't be
// meaningfully handled by the caller but should still be logged.
package must

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/logging"
)

// Fprintln prints a line to the specified writer, logging any failure or short
// write as a warning.
func Fprintln(w io.Writer, logger *logging.Logger, a ...interface{}) {
	s := fmt.Sprintln(a...)
	n, err := io.WriteString(w, s)
	if err != nil {
		logger.Warn(errors.Wrap(err, "unable to print output"))
	} else if n < len(s) {
		logger.Warn(errors.Errorf("short output write: %d of %d bytes", n, len(s)))
	}
}

// Close closes the specified closer, logging any failure as a warning.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn(errors.Wrap(err, "unable to close"))
	}
}

// Stop invokes a stop function, logging any failure as a warning.
func Stop(stop func() error, logger *logging.Logger) {
	if err := stop(); err != nil {
		logger.Warn(errors.Wrap(err, "unable to stop"))
	}
}
