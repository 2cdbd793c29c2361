package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/mutagen-io/watchdog/cmd"
	"github.com/mutagen-io/watchdog/cmd/profile"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
	"github.com/mutagen-io/watchdog/pkg/must"
)

const usage = `scan_bench [-h|--help] [-p|--profile] [-n|--iterations=<count>]
           [--non-recursive] <path>
`

func main() {
	// Parse command line arguments.
	flagSet := pflag.NewFlagSet("scan_bench", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	var enableProfile, nonRecursive bool
	var iterations int
	flagSet.BoolVarP(&enableProfile, "profile", "p", false, "enable profiling")
	flagSet.IntVarP(&iterations, "iterations", "n", 5, "specify the number of rescans")
	flagSet.BoolVar(&nonRecursive, "non-recursive", false, "only scan immediate children")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			fmt.Fprint(os.Stdout, usage)
			return
		}
		cmd.Fatal(errors.Wrap(err, "unable to parse command line"))
	}
	arguments := flagSet.Args()
	if len(arguments) != 1 {
		cmd.Fatal(errors.New("invalid number of paths specified"))
	} else if iterations < 1 {
		cmd.Fatal(errors.New("iteration count must be positive"))
	}
	path, err := filesystem.Normalize(arguments[0])
	if err != nil {
		cmd.Fatal(errors.Wrap(err, "unable to normalize path"))
	}
	recursive := !nonRecursive

	// Start profiling if requested.
	var p *profile.Profile
	if enableProfile {
		if p, err = profile.New("scan_bench"); err != nil {
			cmd.Fatal(errors.Wrap(err, "unable to start profiling"))
		}
	}

	// Perform an initial cold scan.
	start := time.Now()
	baseline, err := snapshot.Take(path, recursive, nil)
	if err != nil {
		cmd.Fatal(errors.Wrap(err, "unable to perform cold scan"))
	}
	stop := time.Now()
	statistics := baseline.Statistics()
	fmt.Fprintln(os.Stdout, "Cold scan took", stop.Sub(start))
	fmt.Fprintf(os.Stdout, "Root contained %s directories and %s files (%s)\n",
		humanize.Comma(int64(statistics.Directories)),
		humanize.Comma(int64(statistics.Files)),
		humanize.Bytes(statistics.TotalSize),
	)

	// Perform warm scans, diffing each against the baseline.
	var scanning, diffing time.Duration
	var changes int
	for i := 0; i < iterations; i++ {
		start = time.Now()
		current, err := snapshot.Take(path, recursive, nil)
		if err != nil {
			cmd.Fatal(errors.Wrap(err, "unable to perform warm scan"))
		}
		scanning += time.Since(start)
		start = time.Now()
		diff := snapshot.Compute(baseline, current, nil)
		diffing += time.Since(start)
		changes += len(diff.Events())
		baseline = current
	}
	fmt.Fprintln(os.Stdout, "Average warm scan took", scanning/time.Duration(iterations))
	fmt.Fprintln(os.Stdout, "Average diff took", diffing/time.Duration(iterations))
	if changes > 0 {
		fmt.Fprintln(os.Stdout, "Detected", humanize.Comma(int64(changes)), "changes during warm scans")
	}

	// Finalize profiling.
	if p != nil {
		must.Stop(p.Finalize, nil)
	}
}
