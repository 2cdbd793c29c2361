package cmd

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mutagen-io/watchdog/pkg/logging"
)

const (
	// logFileMaximumSize is the size in megabytes at which log files rotate.
	logFileMaximumSize = 10
	// logFileMaximumBackups is the number of rotated log files retained.
	logFileMaximumBackups = 3
)

func init() {
	// Log to standard error by default.
	log.SetOutput(os.Stderr)
}

// ConfigureLogging applies a log level (if non-nil) and directs log output to
// a rotating log file (if a path is specified) or standard error. The returned
// closer releases the log file and restores standard error output.
func ConfigureLogging(level *logging.Level, path string) io.Closer {
	if level != nil {
		logging.SetLevel(*level)
	}
	if path == "" {
		return nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaximumSize,
		MaxBackups: logFileMaximumBackups,
	}
	log.SetOutput(file)
	return &logFile{file}
}

// nopCloser is an io.Closer that does nothing.
type nopCloser struct{}

// Close implements io.Closer.Close.
func (nopCloser) Close() error {
	return nil
}

// logFile wraps a rotating log file to restore standard error output on
// closure.
type logFile struct {
	*lumberjack.Logger
}

// Close implements io.Closer.Close.
func (f *logFile) Close() error {
	log.SetOutput(os.Stderr)
	return f.Logger.Close()
}
