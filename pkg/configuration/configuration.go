package configuration

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mutagen-io/watchdog/pkg/encoding"
	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/logging"
	"github.com/mutagen-io/watchdog/pkg/observer"
	"github.com/mutagen-io/watchdog/pkg/watching"
)

// Watch is the configuration for a single watch.
type Watch struct {
	// Path is the directory to watch. It may contain ${VAR} references and a
	// leading tilde.
	Path string `yaml:"path" toml:"path"`
	// Recursive indicates whether or not the full tree should be watched.
	Recursive bool `yaml:"recursive" toml:"recursive"`
	// Patterns are glob patterns that event paths must match.
	Patterns []string `yaml:"patterns" toml:"patterns"`
	// IgnorePatterns are glob patterns that exclude events.
	IgnorePatterns []string `yaml:"ignorePatterns" toml:"ignorePatterns"`
	// Regexes are regular expressions that event paths must match.
	Regexes []string `yaml:"regexes" toml:"regexes"`
	// IgnoreRegexes are regular expressions that exclude events.
	IgnoreRegexes []string `yaml:"ignoreRegexes" toml:"ignoreRegexes"`
	// IgnoreDirectories excludes directory events.
	IgnoreDirectories bool `yaml:"ignoreDirectories" toml:"ignoreDirectories"`
	// CaseSensitive controls whether or not matching is case sensitive.
	CaseSensitive bool `yaml:"caseSensitive" toml:"caseSensitive"`
}

// filtered returns whether or not the watch requires filtering decorators.
func (w *Watch) filtered() bool {
	return len(w.Patterns) > 0 || len(w.IgnorePatterns) > 0 ||
		len(w.Regexes) > 0 || len(w.IgnoreRegexes) > 0 ||
		w.IgnoreDirectories
}

// Handler wraps the specified handler with the pattern and regular expression
// filters described by the watch. If the watch describes no filtering, then
// the handler is returned unmodified.
func (w *Watch) Handler(target events.Handler) (events.Handler, error) {
	if !w.filtered() {
		return target, nil
	}
	handler := target
	if len(w.Regexes) > 0 || len(w.IgnoreRegexes) > 0 {
		regexHandler, err := events.NewRegexMatchingHandler(handler, events.RegexOptions{
			Regexes:           w.Regexes,
			IgnoreRegexes:     w.IgnoreRegexes,
			IgnoreDirectories: w.IgnoreDirectories,
			CaseSensitive:     w.CaseSensitive,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "unable to create regex filter for %s", w.Path)
		}
		handler = regexHandler
	}
	patternHandler, err := events.NewPatternMatchingHandler(handler, events.PatternOptions{
		Patterns:          w.Patterns,
		IgnorePatterns:    w.IgnorePatterns,
		IgnoreDirectories: w.IgnoreDirectories,
		CaseSensitive:     w.CaseSensitive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create pattern filter for %s", w.Path)
	}
	return patternHandler, nil
}

// Configuration is the watchdog configuration object type.
type Configuration struct {
	// Timeout bounds each backend read. A zero value indicates the default.
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	// Mode is the watch mode.
	Mode watching.Mode `yaml:"mode" toml:"mode"`
	// LogLevel is the log level. If nil, the environment determines the level.
	LogLevel *logging.Level `yaml:"logLevel" toml:"logLevel"`
	// RenamePairingDelay is the time that an unpaired rename source is held
	// while waiting for its destination. A zero value indicates the default.
	RenamePairingDelay Duration `yaml:"renamePairingDelay" toml:"renamePairingDelay"`
	// BaselineInterval is the minimum age at which rescan baselines are
	// refreshed. A zero value indicates the default.
	BaselineInterval Duration `yaml:"baselineInterval" toml:"baselineInterval"`
	// MaximumWatches is the maximum number of live native watches. A zero
	// value indicates no limit.
	MaximumWatches int `yaml:"maximumWatches" toml:"maximumWatches"`
	// Watches are the watches to schedule.
	Watches []Watch `yaml:"watches" toml:"watches"`
}

// LoadConfiguration attempts to load a YAML or TOML configuration file from
// the specified path, with the format determined by the file extension. If
// environmentPath is non-empty, then the dotenv file at that path supplies
// variables for expansion in watch paths, taking precedence over the process
// environment. Watch paths are normalized to absolute paths. Non-existence
// errors for the configuration file are passed through unwrapped.
func LoadConfiguration(path, environmentPath string) (*Configuration, error) {
	// Create the target configuration object.
	result := &Configuration{}

	// Attempt to load. We pass-through os.IsNotExist errors.
	if err := encoding.LoadAndUnmarshalByExtension(path, result); err != nil {
		return nil, err
	}

	// Load the environment used for expansion.
	var environment map[string]string
	if environmentPath != "" {
		var err error
		if environment, err = godotenv.Read(environmentPath); err != nil {
			return nil, errors.Wrap(err, "unable to load environment file")
		}
	}

	// Expand and normalize watch paths.
	for i := range result.Watches {
		if err := result.Watches[i].resolve(environment); err != nil {
			return nil, errors.Wrapf(err, "invalid watch at index %d", i)
		}
	}

	// Validate settings.
	if err := result.EnsureValid(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	// Success.
	return result, nil
}

// ExpandPath expands ${VAR} and $VAR references in a path, preferring the
// specified environment and falling back to the process environment.
func ExpandPath(path string, environment map[string]string) string {
	return os.Expand(path, func(name string) string {
		if value, ok := environment[name]; ok {
			return value
		}
		return os.Getenv(name)
	})
}

// resolve expands and normalizes the watch path.
func (w *Watch) resolve(environment map[string]string) error {
	expanded := ExpandPath(w.Path, environment)
	if expanded == "" {
		return errors.New("empty watch path")
	}
	normalized, err := filesystem.Normalize(expanded)
	if err != nil {
		return errors.Wrap(err, "unable to normalize watch path")
	}
	w.Path = normalized
	return nil
}

// EnsureValid ensures that the configuration is valid.
func (c *Configuration) EnsureValid() error {
	if !c.Mode.IsDefault() && !c.Mode.Supported() {
		return errors.Errorf("unsupported watch mode: %s", c.Mode)
	} else if c.MaximumWatches < 0 {
		return errors.New("negative maximum watch count")
	}
	for _, watch := range c.Watches {
		if watch.Path == "" {
			return errors.New("empty watch path")
		}
	}
	return nil
}

// Factory creates a backend factory for the configuration.
func (c *Configuration) Factory(logger *logging.Logger) *watching.Factory {
	return &watching.Factory{
		MaximumWatches:     c.MaximumWatches,
		RenamePairingDelay: time.Duration(c.RenamePairingDelay),
		Logger:             logger,
	}
}

// ObserverOptions creates observer options for the configuration.
func (c *Configuration) ObserverOptions(logger *logging.Logger, registerer prometheus.Registerer) *observer.Options {
	return &observer.Options{
		Timeout:          time.Duration(c.Timeout),
		Mode:             c.Mode,
		Factory:          c.Factory(logger.Sublogger("watching")),
		BaselineInterval: time.Duration(c.BaselineInterval),
		Logger:           logger,
		Registerer:       registerer,
	}
}
