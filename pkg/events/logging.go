package events

import (
	"github.com/mutagen-io/watchdog/pkg/logging"
)

// LoggingHandler logs every event it receives at the info level.
type LoggingHandler struct {
	// logger is the underlying logger.
	logger *logging.Logger
}

// NewLoggingHandler creates a new logging handler.
func NewLoggingHandler(logger *logging.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// OnAnyEvent implements AnyEventHandler.OnAnyEvent.
func (h *LoggingHandler) OnAnyEvent(event Event) error {
	if event.Type == Moved {
		h.logger.Infof("Moved %s: from %s to %s", kindName(event), event.Path, event.DestinationPath)
	} else {
		h.logger.Infof("%s %s: %s", verbName(event.Type), kindName(event), event.Path)
	}
	return nil
}

// kindName returns the kind of entry affected by an event.
func kindName(event Event) string {
	if event.IsDirectory {
		return "directory"
	}
	return "file"
}

// verbName returns the capitalized past-tense verb for an event type.
func verbName(t Type) string {
	switch t {
	case Created:
		return "Created"
	case Deleted:
		return "Deleted"
	case Modified:
		return "Modified"
	default:
		return "Changed"
	}
}
