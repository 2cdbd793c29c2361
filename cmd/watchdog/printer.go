package main

import (
	"time"

	"github.com/fatih/color"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/logging"
	"github.com/mutagen-io/watchdog/pkg/must"
)

// eventPrinter is an event handler that prints one line per event. It's only
// invoked from the observer's dispatcher and thus needs no locking.
type eventPrinter struct {
	// timestamps indicates whether or not lines are prefixed with the time of
	// delivery.
	timestamps bool
	// logger is the printer logger.
	logger *logging.Logger
}

// OnAnyEvent implements events.Handler.OnAnyEvent.
func (p *eventPrinter) OnAnyEvent(event events.Event) error {
	line := formatEvent(event)
	if p.timestamps {
		line = color.New(color.Faint).Sprint(time.Now().Format("15:04:05.000")) + " " + line
	}
	must.Fprintln(color.Output, p.logger, line)
	return nil
}
