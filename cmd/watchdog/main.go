package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mutagen-io/watchdog/cmd"
	"github.com/mutagen-io/watchdog/pkg/watchdog"
)

// rootMain is the entry point for the root command.
func rootMain(command *cobra.Command, _ []string) error {
	// If no commands were given, then print help information and bail.
	// Arguments can't reach this point since they're treated as subcommands.
	command.Help()

	// Success.
	return nil
}

// rootCommand is the root command.
var rootCommand = &cobra.Command{
	Use:          "watchdog",
	Version:      watchdog.Version,
	Short:        "Monitor directory trees for filesystem changes",
	RunE:         rootMain,
	SilenceUsage: true,
}

// rootConfiguration stores configuration for the root command.
var rootConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
}

func init() {
	// Disable Cobra's command sorting behavior. By default, it sorts commands
	// alphabetically in the help output.
	cobra.EnableCommandSorting = false

	// Disable Cobra's use of mousetrap.
	cobra.MousetrapHelpText = ""

	// Set the template used by the version flag.
	rootCommand.SetVersionTemplate("watchdog version {{ .Version }}\n")

	// Set up flags.
	cmd.InitializeFlags(rootCommand, &rootConfiguration.help)

	// Register commands. We do this here (rather than in individual init
	// functions) so that we can control the order.
	rootCommand.AddCommand(
		watchCommand,
		snapshotCommand,
		versionCommand,
	)
}

func main() {
	// Execute the root command.
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
