package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mutagen-io/watchdog/cmd"
	"github.com/mutagen-io/watchdog/pkg/watchdog"
)

// versionMain is the entry point for the version command.
func versionMain(_ *cobra.Command, _ []string) error {
	// Print version information.
	fmt.Println(watchdog.Version)

	// Success.
	return nil
}

// versionCommand is the version command.
var versionCommand = &cobra.Command{
	Use:          "version",
	Short:        "Show version information",
	Args:         cobra.NoArgs,
	Run:          cmd.Mainify(versionMain),
	SilenceUsage: true,
}

// versionConfiguration stores configuration for the version command.
var versionConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
}

func init() {
	cmd.InitializeFlags(versionCommand, &versionConfiguration.help)
}
