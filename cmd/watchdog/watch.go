package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mutagen-io/watchdog/cmd"
	"github.com/mutagen-io/watchdog/cmd/profile"
	"github.com/mutagen-io/watchdog/pkg/configuration"
	"github.com/mutagen-io/watchdog/pkg/logging"
	"github.com/mutagen-io/watchdog/pkg/must"
	"github.com/mutagen-io/watchdog/pkg/observer"
)

// loadWatchConfiguration computes the effective configuration for the watch
// command by loading any configuration file and applying command line flags
// and positional paths on top of it.
func loadWatchConfiguration(command *cobra.Command, arguments []string) (*configuration.Configuration, error) {
	// Load the configuration file, if any.
	result := &configuration.Configuration{}
	if watchConfiguration.configuration != "" {
		loaded, err := configuration.LoadConfiguration(watchConfiguration.configuration, watchConfiguration.environmentFile)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load configuration")
		}
		result = loaded
	}

	// Load the environment used for positional path expansion.
	var environment map[string]string
	if watchConfiguration.environmentFile != "" {
		var err error
		if environment, err = godotenv.Read(watchConfiguration.environmentFile); err != nil {
			return nil, errors.Wrap(err, "unable to load environment file")
		}
	}

	// Apply flags that override configuration file settings.
	flags := command.Flags()
	if flags.Changed("timeout") {
		result.Timeout = configuration.Duration(watchConfiguration.timeout)
	}
	if flags.Changed("mode") {
		result.Mode = watchConfiguration.mode.Mode
	}
	if watchConfiguration.logLevel.Level != nil {
		result.LogLevel = watchConfiguration.logLevel.Level
	}

	// Add watches for positional paths. If neither paths nor a configuration
	// file were provided, then watch the working directory.
	if len(arguments) == 0 && watchConfiguration.configuration == "" {
		arguments = []string{"."}
	}
	for _, path := range arguments {
		watch := configuration.Watch{
			Path:              configuration.ExpandPath(path, environment),
			Recursive:         watchConfiguration.recursive,
			Patterns:          watchConfiguration.patterns,
			IgnorePatterns:    watchConfiguration.ignorePatterns,
			Regexes:           watchConfiguration.regexes,
			IgnoreRegexes:     watchConfiguration.ignoreRegexes,
			IgnoreDirectories: watchConfiguration.ignoreDirectories,
			CaseSensitive:     watchConfiguration.caseSensitive,
		}
		result.Watches = append(result.Watches, watch)
	}
	if len(result.Watches) == 0 {
		return nil, errors.New("no watches specified")
	}

	// Validate the result.
	if err := result.EnsureValid(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	// Success.
	return result, nil
}

// watchMain is the entry point for the watch command.
func watchMain(command *cobra.Command, arguments []string) error {
	// Compute the effective configuration.
	c, err := loadWatchConfiguration(command, arguments)
	if err != nil {
		return err
	}

	// Configure output.
	cmd.ConfigureColor(watchConfiguration.color)
	logger := logging.RootLogger.Sublogger("watch")
	defer must.Close(cmd.ConfigureLogging(c.LogLevel, watchConfiguration.logFile), logger)

	// Start profiling if requested.
	if watchConfiguration.profile != "" {
		p, err := profile.New(watchConfiguration.profile)
		if err != nil {
			return errors.Wrap(err, "unable to start profiling")
		}
		defer must.Stop(p.Finalize, logger)
	}

	// Set up signal handling. We do this before scheduling watches so that
	// termination during setup still stops the observer cleanly.
	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)
	defer signal.Stop(signalTermination)

	// Create the observer and defer its shutdown.
	o, err := observer.New(c.ObserverOptions(logging.RootLogger.Sublogger("observer"), nil))
	if err != nil {
		return errors.Wrap(err, "unable to create observer")
	}
	defer o.Stop()

	// Schedule watches.
	printer := &eventPrinter{
		timestamps: watchConfiguration.timestamps,
		logger:     logger,
	}
	for _, watch := range c.Watches {
		handler, err := watch.Handler(printer)
		if err != nil {
			return err
		}
		if _, err := o.Schedule(handler, watch.Path, watch.Recursive); err != nil {
			return errors.Wrapf(err, "unable to watch %s", watch.Path)
		}
		logger.Infof("Watching %s (recursive: %t)", watch.Path, watch.Recursive)
	}

	// Start dispatching.
	if err := o.Start(); err != nil {
		return errors.Wrap(err, "unable to start observer")
	}

	// Wait for termination.
	sig := <-signalTermination
	logger.Debugf("Terminating due to signal: %s", sig)

	// Success.
	return nil
}

// watchCommand is the watch command.
var watchCommand = &cobra.Command{
	Use:          "watch [<path>...]",
	Short:        "Print filesystem changes until interrupted",
	Run:          cmd.Mainify(watchMain),
	SilenceUsage: true,
}

// watchConfiguration stores configuration for the watch command.
var watchConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// recursive indicates whether or not positional paths are watched
	// recursively.
	recursive bool
	// patterns are the glob patterns that event paths must match.
	patterns []string
	// ignorePatterns are glob patterns that exclude events.
	ignorePatterns []string
	// regexes are regular expressions that event paths must match.
	regexes []string
	// ignoreRegexes are regular expressions that exclude events.
	ignoreRegexes []string
	// ignoreDirectories indicates whether or not directory events are dropped.
	ignoreDirectories bool
	// caseSensitive indicates whether or not matching is case sensitive.
	caseSensitive bool
	// timeout is the backend read timeout and polling interval.
	timeout time.Duration
	// mode is the watch mode.
	mode cmd.WatchModeFlag
	// configuration is the path to a configuration file.
	configuration string
	// environmentFile is the path to a dotenv file used for path expansion.
	environmentFile string
	// logLevel is the log level.
	logLevel cmd.LogLevelFlag
	// logFile is the path to a rotating log file.
	logFile string
	// color is the output colorization mode.
	color cmd.ColorMode
	// timestamps indicates whether or not to prefix events with their delivery
	// time.
	timestamps bool
	// profile is the name of the profile to record, if any.
	profile string
}

func init() {
	// Set up flags.
	cmd.InitializeFlags(watchCommand, &watchConfiguration.help)
	flags := watchCommand.Flags()

	// Wire up watch flags.
	flags.BoolVarP(&watchConfiguration.recursive, "recursive", "r", false, "Watch directories recursively")
	flags.StringSliceVar(&watchConfiguration.patterns, "patterns", nil, "Only report paths matching these glob patterns")
	flags.StringSliceVar(&watchConfiguration.ignorePatterns, "ignore-patterns", nil, "Ignore paths matching these glob patterns")
	flags.StringSliceVar(&watchConfiguration.regexes, "regexes", nil, "Only report paths matching these regular expressions")
	flags.StringSliceVar(&watchConfiguration.ignoreRegexes, "ignore-regexes", nil, "Ignore paths matching these regular expressions")
	flags.BoolVar(&watchConfiguration.ignoreDirectories, "ignore-directories", false, "Ignore directory events")
	flags.BoolVar(&watchConfiguration.caseSensitive, "case-sensitive", false, "Match patterns and expressions case sensitively")

	// Wire up observer flags.
	flags.DurationVar(&watchConfiguration.timeout, "timeout", observer.DefaultTimeout, "Specify the read timeout and polling interval")
	flags.Var(&watchConfiguration.mode, "mode", "Specify watch mode (native|portable|force-poll|fallback-poll)")
	flags.StringVarP(&watchConfiguration.configuration, "config", "c", "", "Load watches and settings from a YAML or TOML file")
	flags.StringVar(&watchConfiguration.environmentFile, "env-file", "", "Load variables for path expansion from a dotenv file")

	// Wire up output flags.
	flags.Var(&watchConfiguration.logLevel, "log-level", "Set the log level ("+strings.Join(logging.LevelNames(), "|")+")")
	flags.StringVar(&watchConfiguration.logFile, "log-file", "", "Write logs to a rotating log file")
	flags.Var(&watchConfiguration.color, "color", "Specify output colorization (auto|always|never)")
	flags.BoolVarP(&watchConfiguration.timestamps, "timestamps", "t", false, "Prefix events with their delivery time")
	flags.StringVar(&watchConfiguration.profile, "profile", "", "Record CPU and heap profiles with the specified name")
	flags.MarkHidden("profile")
}
