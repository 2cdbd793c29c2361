package logging

import (
	"github.com/pkg/errors"
)

// Level is a log level. Levels are ordered by verbosity, so a logger emits a
// message if the message's level is less than or equal to the logger's.
type Level uint

const (
	// LevelDisabled disables logging.
	LevelDisabled Level = iota
	// LevelError logs errors that stop a watch or the observer.
	LevelError
	// LevelWarn additionally logs recoverable failures, such as handler errors
	// and unwatchable directories.
	LevelWarn
	// LevelInfo additionally logs observer lifecycle information.
	LevelInfo
	// LevelDebug additionally logs watch scheduling and rescans.
	LevelDebug
	// LevelTrace additionally logs every emitted event.
	LevelTrace
)

// levelNames are the level names, indexed by level.
var levelNames = [...]string{
	LevelDisabled: "disabled",
	LevelError:    "error",
	LevelWarn:     "warn",
	LevelInfo:     "info",
	LevelDebug:    "debug",
	LevelTrace:    "trace",
}

// LevelNames returns the names of all levels in order of increasing verbosity.
func LevelNames() []string {
	result := make([]string, len(levelNames))
	copy(result, levelNames[:])
	return result
}

// NameToLevel converts a level name to its Level value. It returns false if
// the name is unknown, in which case LevelDisabled is returned.
func NameToLevel(name string) (Level, bool) {
	for level, levelName := range levelNames {
		if name == levelName {
			return Level(level), true
		}
	}
	return LevelDisabled, false
}

// String returns the level name.
func (l Level) String() string {
	if l < Level(len(levelNames)) {
		return levelNames[l]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (l Level) MarshalText() ([]byte, error) {
	if l >= Level(len(levelNames)) {
		return nil, errors.Errorf("unknown log level: %d", l)
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (l *Level) UnmarshalText(textBytes []byte) error {
	text := string(textBytes)
	level, ok := NameToLevel(text)
	if !ok {
		return errors.Errorf("unknown log level specification: %s", text)
	}
	*l = level
	return nil
}
