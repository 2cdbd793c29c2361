package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/mutagen-io/watchdog/cmd"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/logging"
	"github.com/mutagen-io/watchdog/pkg/observer"
	"github.com/mutagen-io/watchdog/pkg/watching"
)

func main() {
	// Parse arguments.
	var modeFlag cmd.WatchModeFlag
	var recursive bool
	pflag.Var(&modeFlag, "mode", "specify watch mode")
	pflag.BoolVarP(&recursive, "recursive", "r", true, "watch recursively")
	pflag.Parse()
	if pflag.NArg() != 1 {
		cmd.Fatal(errors.New("invalid number of arguments"))
	}
	watchRoot, err := filesystem.Normalize(pflag.Arg(0))
	if err != nil {
		cmd.Fatal(errors.Wrap(err, "unable to normalize watch root"))
	}

	// Track termination signals.
	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)

	// Create the backend.
	factory := &watching.Factory{Logger: logging.RootLogger.Sublogger("watching")}
	backend, err := factory.New(watchRoot, recursive, modeFlag.Mode)
	if err != nil {
		cmd.Fatal(errors.Wrap(err, "unable to establish watch"))
	}
	fmt.Printf("Watching %s (mode: %s)\n", watchRoot, modeFlag.Mode)

	// Read raw events in a separate Goroutine until the backend fails or is
	// closed.
	failures := make(chan error, 1)
	go func() {
		for {
			batch, err := backend.ReadEvents(observer.DefaultTimeout)
			if err != nil {
				failures <- err
				return
			}
			for _, event := range batch {
				fmt.Println(event)
			}
		}
	}()

	// Wait for termination or failure.
	select {
	case <-signalTermination:
		fmt.Println("Received termination signal, terminating watching...")
		backend.Close()
		<-failures
	case err := <-failures:
		backend.Close()
		if err != watching.ErrBackendClosed {
			cmd.Fatal(errors.Wrap(err, "watching failed"))
		}
	}
}
