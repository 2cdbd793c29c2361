package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/mutagen-io/watchdog/pkg/logging"
	"github.com/mutagen-io/watchdog/pkg/watching"
)

// ColorMode controls colorized output.
type ColorMode uint8

const (
	// ColorModeAuto colorizes output only when writing to a terminal.
	ColorModeAuto ColorMode = iota
	// ColorModeAlways always colorizes output.
	ColorModeAlways
	// ColorModeNever never colorizes output.
	ColorModeNever
)

// String implements pflag.Value.String.
func (m *ColorMode) String() string {
	switch *m {
	case ColorModeAuto:
		return "auto"
	case ColorModeAlways:
		return "always"
	case ColorModeNever:
		return "never"
	default:
		return "unknown"
	}
}

// Set implements pflag.Value.Set.
func (m *ColorMode) Set(value string) error {
	switch value {
	case "auto":
		*m = ColorModeAuto
	case "always":
		*m = ColorModeAlways
	case "never":
		*m = ColorModeNever
	default:
		return errors.Errorf("unknown color mode: %s", value)
	}
	return nil
}

// Type implements pflag.Value.Type.
func (m *ColorMode) Type() string {
	return "mode"
}

// WatchModeFlag adapts a watch mode for use as a flag value.
type WatchModeFlag struct {
	// Mode is the parsed watch mode.
	Mode watching.Mode
}

// String implements pflag.Value.String.
func (f *WatchModeFlag) String() string {
	return f.Mode.String()
}

// Set implements pflag.Value.Set.
func (f *WatchModeFlag) Set(value string) error {
	if err := f.Mode.UnmarshalText([]byte(value)); err != nil {
		return err
	} else if !f.Mode.IsDefault() && !f.Mode.Supported() {
		return errors.Errorf("unsupported watch mode: %s", value)
	}
	return nil
}

// Type implements pflag.Value.Type.
func (f *WatchModeFlag) Type() string {
	return "mode"
}

// LogLevelFlag adapts a log level for use as a flag value.
type LogLevelFlag struct {
	// Level is the parsed log level. It's nil if the flag wasn't specified.
	Level *logging.Level
}

// String implements pflag.Value.String.
func (f *LogLevelFlag) String() string {
	if f.Level == nil {
		return ""
	}
	return f.Level.String()
}

// Set implements pflag.Value.Set.
func (f *LogLevelFlag) Set(value string) error {
	level := new(logging.Level)
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return err
	}
	f.Level = level
	return nil
}

// Type implements pflag.Value.Type.
func (f *LogLevelFlag) Type() string {
	return "level"
}

// Ensure that flag types implement pflag.Value.
var (
	_ pflag.Value = (*ColorMode)(nil)
	_ pflag.Value = (*WatchModeFlag)(nil)
	_ pflag.Value = (*LogLevelFlag)(nil)
)
