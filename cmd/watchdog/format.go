package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
)

// typeColors maps event types to their display colors.
var typeColors = map[events.Type]*color.Color{
	events.Created:  color.New(color.FgGreen),
	events.Deleted:  color.New(color.FgRed),
	events.Modified: color.New(color.FgYellow),
	events.Moved:    color.New(color.FgCyan),
}

// formatEvent formats an event for display as a single line.
func formatEvent(event events.Event) string {
	// Format the event type, padded so that paths align.
	label := fmt.Sprintf("%-8s", event.Type)
	if c, ok := typeColors[event.Type]; ok {
		label = c.Sprint(label)
	}

	// Format the path(s).
	path := event.Path
	if event.IsDirectory {
		path += "/"
	}
	if event.Type == events.Moved {
		destination := event.DestinationPath
		if event.IsDirectory {
			destination += "/"
		}
		path = fmt.Sprintf("%s -> %s", path, destination)
	}

	// Mark synthetic events.
	if event.IsSynthetic {
		path += color.New(color.Faint).Sprint(" (implied)")
	}

	// Done.
	return label + " " + path
}

// formatStatistics formats snapshot statistics for display.
func formatStatistics(statistics snapshot.Statistics) string {
	return fmt.Sprintf("%s %s, %s %s, %s",
		humanize.Comma(int64(statistics.Directories)), plural(statistics.Directories, "directory", "directories"),
		humanize.Comma(int64(statistics.Files)), plural(statistics.Files, "file", "files"),
		humanize.Bytes(statistics.TotalSize),
	)
}

// plural selects the singular or plural form of a noun.
func plural(count uint64, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

// formatDiff formats a snapshot difference for display, one event per line.
func formatDiff(diff *snapshot.Diff) string {
	if diff.Empty() {
		return "No changes"
	}
	var builder strings.Builder
	for i, event := range diff.Events() {
		if i > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(formatEvent(event))
	}
	return builder.String()
}
