package watching

import (
	"github.com/pkg/errors"
)

// Mode specifies how a Factory selects a backend.
type Mode uint8

const (
	// ModeDefault uses the platform's native backend.
	ModeDefault Mode = iota
	// ModeNative uses the platform's native backend.
	ModeNative
	// ModeForcePoll always uses the polling backend.
	ModeForcePoll
	// ModeFallbackPoll uses the native backend and falls back to polling only
	// if the native backend can't be created.
	ModeFallbackPoll
	// ModePortable uses the fsnotify-based backend.
	ModePortable
)

// IsDefault indicates whether or not the mode is ModeDefault.
func (m Mode) IsDefault() bool {
	return m == ModeDefault
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (m Mode) MarshalText() ([]byte, error) {
	var result string
	switch m {
	case ModeDefault:
	case ModeNative:
		result = "native"
	case ModeForcePoll:
		result = "force-poll"
	case ModeFallbackPoll:
		result = "fallback-poll"
	case ModePortable:
		result = "portable"
	default:
		result = "unknown"
	}
	return []byte(result), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (m *Mode) UnmarshalText(textBytes []byte) error {
	// Convert the bytes to a string.
	text := string(textBytes)

	// Convert to a watch mode.
	switch text {
	case "", "default":
		*m = ModeDefault
	case "native":
		*m = ModeNative
	case "force-poll":
		*m = ModeForcePoll
	case "fallback-poll":
		*m = ModeFallbackPoll
	case "portable":
		*m = ModePortable
	default:
		return errors.Errorf("unknown watch mode specification: %s", text)
	}

	// Success.
	return nil
}

// Supported indicates whether or not a particular watch mode is a valid,
// non-default value.
func (m Mode) Supported() bool {
	switch m {
	case ModeNative:
		return true
	case ModeForcePoll:
		return true
	case ModeFallbackPoll:
		return true
	case ModePortable:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of a watch mode.
func (m Mode) Description() string {
	switch m {
	case ModeDefault:
		return "Default"
	case ModeNative:
		return "Native"
	case ModeForcePoll:
		return "Force Poll"
	case ModeFallbackPoll:
		return "Fallback Poll"
	case ModePortable:
		return "Portable"
	default:
		return "Unknown"
	}
}

// String provides the textual specification for a watch mode.
func (m Mode) String() string {
	if m == ModeDefault {
		return "default"
	}
	text, _ := m.MarshalText()
	return string(text)
}
