package configuration

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Duration is a time.Duration value that supports unmarshalling from both Go
// duration syntax (e.g. "250ms") and bare numeric representations, which are
// treated as seconds. It can be cast to a time.Duration value.
type Duration time.Duration

// UnmarshalText implements the text unmarshalling interface used when loading
// from YAML and TOML files.
func (d *Duration) UnmarshalText(textBytes []byte) error {
	// Convert the bytes to a string.
	text := string(textBytes)

	// Attempt to parse as a bare number of seconds first.
	if seconds, err := strconv.ParseFloat(text, 64); err == nil {
		if seconds < 0 {
			return errors.Errorf("negative duration: %s", text)
		}
		*d = Duration(seconds * float64(time.Second))
		return nil
	}

	// Otherwise parse using Go syntax.
	value, err := time.ParseDuration(text)
	if err != nil {
		return errors.Wrap(err, "invalid duration")
	} else if value < 0 {
		return errors.Errorf("negative duration: %s", text)
	}
	*d = Duration(value)

	// Success.
	return nil
}

// MarshalText implements the text marshalling interface.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
