package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mutagen-io/watchdog/cmd"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
)

// snapshotMain is the entry point for the snapshot command.
func snapshotMain(_ *cobra.Command, arguments []string) error {
	// Configure output.
	cmd.ConfigureColor(snapshotConfiguration.color)

	// Normalize the path.
	path, err := filesystem.Normalize(arguments[0])
	if err != nil {
		return errors.Wrap(err, "unable to normalize path")
	}
	recursive := !snapshotConfiguration.nonRecursive

	// Take the initial snapshot.
	start := time.Now()
	reference, err := snapshot.Take(path, recursive, nil)
	if err != nil {
		return errors.Wrap(err, "unable to take snapshot")
	}
	fmt.Fprintf(color.Output, "%s: %s (scanned in %s)\n",
		path, formatStatistics(reference.Statistics()), time.Since(start).Round(time.Millisecond),
	)

	// If no difference was requested, then we're done.
	if snapshotConfiguration.diffAfter <= 0 {
		return nil
	}

	// Wait for the requested interval, allowing for interruption.
	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)
	defer signal.Stop(signalTermination)
	timer := time.NewTimer(snapshotConfiguration.diffAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case sig := <-signalTermination:
		return errors.Errorf("terminated by signal: %s", sig)
	}

	// Take the second snapshot and print the difference.
	current, err := snapshot.Take(path, recursive, nil)
	if err != nil {
		return errors.Wrap(err, "unable to take second snapshot")
	}
	diff := snapshot.Compute(reference, current, &snapshot.DiffOptions{
		IgnoreDevice: snapshotConfiguration.ignoreDevice,
	})
	fmt.Fprintln(color.Output, formatDiff(diff))

	// Success.
	return nil
}

// snapshotCommand is the snapshot command.
var snapshotCommand = &cobra.Command{
	Use:          "snapshot <path>",
	Short:        "Capture a directory tree and summarize or diff it",
	Args:         cobra.ExactArgs(1),
	Run:          cmd.Mainify(snapshotMain),
	SilenceUsage: true,
}

// snapshotConfiguration stores configuration for the snapshot command.
var snapshotConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// nonRecursive restricts the snapshot to the path's immediate children.
	nonRecursive bool
	// diffAfter is the interval after which a second snapshot is taken and
	// compared. A non-positive value disables the comparison.
	diffAfter time.Duration
	// ignoreDevice excludes device identifiers when detecting moves.
	ignoreDevice bool
	// color is the output colorization mode.
	color cmd.ColorMode
}

func init() {
	// Set up flags.
	cmd.InitializeFlags(snapshotCommand, &snapshotConfiguration.help)
	flags := snapshotCommand.Flags()

	// Wire up snapshot flags.
	flags.BoolVar(&snapshotConfiguration.nonRecursive, "non-recursive", false, "Only capture the immediate children of the path")
	flags.DurationVar(&snapshotConfiguration.diffAfter, "diff-after", 0, "Take a second snapshot after this interval and print the difference")
	flags.BoolVar(&snapshotConfiguration.ignoreDevice, "ignore-device", false, "Ignore device identifiers when detecting moves")
	flags.Var(&snapshotConfiguration.color, "color", "Specify output colorization (auto|always|never)")
}
