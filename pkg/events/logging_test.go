package events

import (
	"bytes"
	"log"
	"testing"

	"github.com/mutagen-io/watchdog/pkg/logging"
)

// TestLoggingHandler tests the lines logged for each event type.
func TestLoggingHandler(t *testing.T) {
	// Capture standard logger output.
	buffer := &bytes.Buffer{}
	previousOutput, previousFlags := log.Writer(), log.Flags()
	previousLevel := logging.CurrentLevel()
	log.SetOutput(buffer)
	log.SetFlags(0)
	logging.SetLevel(logging.LevelInfo)
	defer func() {
		log.SetOutput(previousOutput)
		log.SetFlags(previousFlags)
		logging.SetLevel(previousLevel)
	}()

	testCases := []struct {
		event    Event
		expected string
	}{
		{New(Created, "/a/file", false), "[events] Created file: /a/file\n"},
		{New(Deleted, "/a/directory", true), "[events] Deleted directory: /a/directory\n"},
		{New(Modified, "/a/file", false), "[events] Modified file: /a/file\n"},
		{NewMoved("/a/old", "/a/new", true), "[events] Moved directory: from /a/old to /a/new\n"},
	}

	handler := NewLoggingHandler(logging.RootLogger.Sublogger("events"))
	for _, testCase := range testCases {
		buffer.Reset()
		if err := Dispatch(handler, testCase.event); err != nil {
			t.Fatal("unable to dispatch event:", err)
		}
		if output := buffer.String(); output != testCase.expected {
			t.Errorf("unexpected output for %s: %q", testCase.event, output)
		}
	}
}

// TestLoggingHandlerNilLogger tests that a nil logger disables output.
func TestLoggingHandlerNilLogger(t *testing.T) {
	if err := NewLoggingHandler(nil).OnAnyEvent(New(Created, "/a", false)); err != nil {
		t.Error("nil logger handler failed:", err)
	}
}
