package watchdog

import (
	"os"
)

const (
	// DebugEnvironmentVariable is the environment variable used to enable
	// debug logging.
	DebugEnvironmentVariable = "WATCHDOG_DEBUG"
	// LogLevelEnvironmentVariable is the environment variable used to specify
	// the default log level.
	LogLevelEnvironmentVariable = "WATCHDOG_LOG_LEVEL"
)

// DebugEnabled controls whether or not debugging is enabled. It is set
// automatically based on the WATCHDOG_DEBUG environment variable.
var DebugEnabled bool

// LogLevelName is the log level name requested via the environment, if any.
var LogLevelName string

func init() {
	// Check whether or not debugging should be enabled.
	DebugEnabled = os.Getenv(DebugEnvironmentVariable) == "1"

	// Grab any requested log level.
	LogLevelName = os.Getenv(LogLevelEnvironmentVariable)
}
